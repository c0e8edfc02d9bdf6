package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"subscription-fulfillment/internal/domain/ports/adapter"
	"subscription-fulfillment/internal/infra/metrics"
)

var _ adapter.Notifier = (*AsyncNotifier)(nil)

// AsyncNotifier hands each message to the pool and returns at once, so a slow
// chat API never holds up a payment transition.
type AsyncNotifier struct {
	next    adapter.Notifier
	pool    *Pool
	timeout time.Duration
	log     *zerolog.Logger
}

func NewAsyncNotifier(next adapter.Notifier, pool *Pool, timeout time.Duration, logger *zerolog.Logger) *AsyncNotifier {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "async_notifier").Logger()
	return &AsyncNotifier{next: next, pool: pool, timeout: timeout, log: &l}
}

// Notify never returns the delivery error; failures are logged by the pool.
func (n *AsyncNotifier) Notify(_ context.Context, recipientID, message string) error {
	err := n.pool.Submit(func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, n.timeout)
		defer cancel()
		return n.next.Notify(ctx, recipientID, message)
	})
	if err != nil {
		metrics.IncNotification("dropped")
		n.log.Warn().Err(err).Str("recipient", recipientID).Msg("notification dropped")
	}
	return nil
}
