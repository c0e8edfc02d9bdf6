//go:build !integration

package telegram

import (
	"context"
	"errors"
	"io"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"subscription-fulfillment/internal/domain"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

type mockSender struct {
	SendFunc func(c tgbotapi.Chattable) (tgbotapi.Message, error)
	sent     []tgbotapi.MessageConfig
}

func (m *mockSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if mc, ok := c.(tgbotapi.MessageConfig); ok {
		m.sent = append(m.sent, mc)
	}
	if m.SendFunc != nil {
		return m.SendFunc(c)
	}
	return tgbotapi.Message{}, nil
}

func TestNotifier_Notify(t *testing.T) {
	ctx := context.Background()

	t.Run("should send to the parsed chat id", func(t *testing.T) {
		// --- Arrange ---
		bot := &mockSender{}
		n := newNotifier(bot, newTestLogger())

		// --- Act ---
		err := n.Notify(ctx, " 12345 ", "hello")

		// --- Assert ---
		if err != nil {
			t.Fatalf("Notify: %v", err)
		}
		if len(bot.sent) != 1 || bot.sent[0].ChatID != 12345 || bot.sent[0].Text != "hello" {
			t.Errorf("unexpected sends %+v", bot.sent)
		}
	})

	t.Run("should reject a non numeric recipient", func(t *testing.T) {
		// --- Arrange ---
		bot := &mockSender{}
		n := newNotifier(bot, newTestLogger())

		// --- Act ---
		err := n.Notify(ctx, "ana", "hello")

		// --- Assert ---
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
		if len(bot.sent) != 0 {
			t.Error("expected nothing sent")
		}
	})

	t.Run("should surface a send failure", func(t *testing.T) {
		// --- Arrange ---
		boom := errors.New("blocked by user")
		bot := &mockSender{SendFunc: func(tgbotapi.Chattable) (tgbotapi.Message, error) { return tgbotapi.Message{}, boom }}
		n := newNotifier(bot, newTestLogger())

		// --- Act ---
		err := n.Notify(ctx, "1", "hello")

		// --- Assert ---
		if !errors.Is(err, boom) {
			t.Errorf("expected wrapped send error, got %v", err)
		}
	})

	t.Run("should stop waiting on rate limit when the context ends", func(t *testing.T) {
		// --- Arrange ---
		cctx, cancel := context.WithCancel(ctx)
		bot := &mockSender{SendFunc: func(tgbotapi.Chattable) (tgbotapi.Message, error) {
			cancel()
			return tgbotapi.Message{}, &tgbotapi.Error{Code: 429, Message: "Too Many Requests",
				ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 30}}
		}}
		n := newNotifier(bot, newTestLogger())

		// --- Act ---
		err := n.Notify(cctx, "1", "hello")

		// --- Assert ---
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if len(bot.sent) != 1 {
			t.Errorf("expected a single attempt, got %d", len(bot.sent))
		}
	})
}
