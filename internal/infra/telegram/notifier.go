package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"subscription-fulfillment/internal/domain"
	"subscription-fulfillment/internal/domain/ports/adapter"
	"subscription-fulfillment/internal/infra/metrics"
)

var (
	_ adapter.Notifier = (*Notifier)(nil)
	_ adapter.Notifier = (*LogNotifier)(nil)
)

// sender is the part of *tgbotapi.BotAPI the notifier uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier delivers messages as Telegram chat messages. Recipient ids are chat ids.
type Notifier struct {
	bot sender
	log *zerolog.Logger
}

func NewNotifier(token string, logger *zerolog.Logger) (*Notifier, error) {
	if token == "" {
		return nil, errors.New("bot token is empty")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return newNotifier(bot, logger), nil
}

func newNotifier(bot sender, logger *zerolog.Logger) *Notifier {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "telegram").Logger()
	return &Notifier{bot: bot, log: &l}
}

func (n *Notifier) Notify(ctx context.Context, recipientID, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(recipientID), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: recipient %q is not a chat id", domain.ErrInvalidArgument, recipientID)
	}
	msg := tgbotapi.NewMessage(chatID, message)
	msg.DisableWebPagePreview = true

	_, err = n.bot.Send(msg)
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) && tgErr.RetryAfter > 0 {
		wait := time.Duration(tgErr.RetryAfter) * time.Second
		n.log.Warn().Int64("chat_id", chatID).Dur("retry_after", wait).Msg("telegram rate limited")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		_, err = n.bot.Send(msg)
	}
	if err != nil {
		metrics.IncNotification("error")
		return fmt.Errorf("telegram send to %d: %w", chatID, err)
	}
	metrics.IncNotification("sent")
	return nil
}

// LogNotifier writes messages to the log; used when no bot token is configured.
type LogNotifier struct {
	log *zerolog.Logger
}

func NewLogNotifier(logger *zerolog.Logger) *LogNotifier {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "notifier").Logger()
	return &LogNotifier{log: &l}
}

func (n *LogNotifier) Notify(_ context.Context, recipientID, message string) error {
	n.log.Info().Str("recipient", recipientID).Int("len", len(message)).Msg("notification")
	metrics.IncNotification("logged")
	return nil
}
