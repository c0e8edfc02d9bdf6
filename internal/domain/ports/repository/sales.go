package repository

import (
	"context"

	"subscription-fulfillment/internal/domain/model"
)

// SalesControlRepository stores the process-wide sales switch. It is shared by
// every replica, so writes are compare-and-swap on the previous state.
type SalesControlRepository interface {
	Load(ctx context.Context) (model.SalesControl, error)
	// Swap stores next only while the stored state still equals expected.
	Swap(ctx context.Context, expected model.SalesState, next model.SalesControl) (bool, error)
}
