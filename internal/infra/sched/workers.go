package sched

import (
	"time"

	"github.com/rs/zerolog"

	"subscription-fulfillment/internal/domain/ports/usecase"
)

// NewGovernorWorker drives SalesGovernor.Tick. Every replica ticks; the
// shared sales state is compare-and-swap so duplicate ticks are harmless.
func NewGovernorWorker(t usecase.Ticker, interval time.Duration, logger *zerolog.Logger) *Worker {
	return NewWorker("sales_governor", interval, t.Tick, logger, RunImmediately())
}

// NewExpiryWorker drives ExpiryWatcher.Tick. Plan notification is a per-plan
// CAS, so it needs no lock either.
func NewExpiryWorker(t usecase.Ticker, interval time.Duration, logger *zerolog.Logger) *Worker {
	return NewWorker("expiry_watcher", interval, t.Tick, logger)
}

// NewSweepWorker drives the reconcile sweep. locker may be nil in single-process
// deployments.
func NewSweepWorker(s usecase.Sweeper, interval time.Duration, locker Locker, lockTTL time.Duration, logger *zerolog.Logger) *Worker {
	opts := []Option{RunImmediately()}
	if locker != nil {
		opts = append(opts, WithLock(locker, lockTTL))
	}
	return NewWorker("reconcile_sweep", interval, s.Sweep, logger, opts...)
}
