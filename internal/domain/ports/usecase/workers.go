package usecase

import "context"

// Ticker is one periodic step driven by a background worker.
type Ticker interface {
	Tick(ctx context.Context) error
}

// Sweeper runs the broader reconcile pass (poll, expire, retry delivery).
type Sweeper interface {
	Sweep(ctx context.Context) error
}
