package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"subscription-fulfillment/internal/infra/metrics"
)

// Locker gives one replica the right to run a step. Implemented by redis.RedisLocker.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

// Step is one unit of periodic work.
type Step func(ctx context.Context) error

// Worker runs a Step on a ticker until its context ends. When a Locker is set,
// the step only runs on the replica that wins the lock for that interval.
type Worker struct {
	name     string
	interval time.Duration
	step     Step
	locker   Locker
	lockTTL  time.Duration
	runFirst bool
	log      *zerolog.Logger
}

type Option func(*Worker)

// WithLock guards each run with locker under "sched:<name>".
func WithLock(locker Locker, ttl time.Duration) Option {
	return func(w *Worker) {
		w.locker = locker
		w.lockTTL = ttl
	}
}

// RunImmediately performs one run before the first tick.
func RunImmediately() Option {
	return func(w *Worker) { w.runFirst = true }
}

func NewWorker(name string, interval time.Duration, step Step, logger *zerolog.Logger, opts ...Option) *Worker {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "sched").Str("worker", name).Logger()
	w := &Worker{name: name, interval: interval, step: step, log: &l}
	for _, o := range opts {
		o(w)
	}
	if w.lockTTL <= 0 {
		w.lockTTL = interval
	}
	return w
}

func (w *Worker) Name() string { return w.name }

// Run blocks until ctx is cancelled and then returns nil.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("worker started")
	if w.runFirst {
		w.runOnce(ctx)
	}
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("worker stopped")
			return nil
		case <-t.C:
			w.runOnce(ctx)
		}
	}
}

func (w *Worker) runOnce(ctx context.Context) {
	if w.locker != nil {
		key := "sched:" + w.name
		token, err := w.locker.TryLock(ctx, key, w.lockTTL)
		if err != nil {
			w.log.Debug().Err(err).Msg("lock not acquired; skipping run")
			metrics.IncWorkerRun(w.name, "skipped")
			return
		}
		defer func() {
			// the run may have outlived ctx; release with a fresh deadline
			uctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := w.locker.Unlock(uctx, key, token); err != nil {
				w.log.Warn().Err(err).Msg("unlock failed")
			}
		}()
	}

	start := time.Now()
	err := w.step(ctx)
	metrics.ObserveWorkerRun(w.name, time.Since(start).Seconds())
	switch {
	case err == nil:
		metrics.IncWorkerRun(w.name, "ok")
	case errors.Is(err, context.Canceled):
		metrics.IncWorkerRun(w.name, "cancelled")
	default:
		metrics.IncWorkerRun(w.name, "error")
		w.log.Error().Err(err).Msg("worker run failed")
	}
}
