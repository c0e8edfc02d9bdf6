package usecase

import (
	"context"

	"github.com/rs/zerolog"

	"subscription-fulfillment/internal/domain/ports/adapter"
)

// Alerter sends operational messages to every configured admin chat.
type Alerter struct {
	notifier adapter.Notifier
	admins   []string
	log      *zerolog.Logger
}

func NewAlerter(notifier adapter.Notifier, adminIDs []string, logger *zerolog.Logger) *Alerter {
	return &Alerter{notifier: notifier, admins: adminIDs, log: componentLogger(logger, "alerter")}
}

// Admins sends msg to all admins; delivery failures are logged only.
func (a *Alerter) Admins(ctx context.Context, msg string) {
	if a == nil || a.notifier == nil {
		return
	}
	for _, id := range a.admins {
		if err := a.notifier.Notify(ctx, id, msg); err != nil {
			a.log.Warn().Err(err).Str("admin_id", id).Msg("admin alert not delivered")
		}
	}
}

// Customer sends msg to one customer and reports the failure to the caller.
func (a *Alerter) Customer(ctx context.Context, customerID, msg string) error {
	if a == nil || a.notifier == nil {
		return nil
	}
	return a.notifier.Notify(ctx, customerID, msg)
}
