package repository

import (
	"context"

	"subscription-fulfillment/internal/domain/model"
)

// InventoryRepository holds one FIFO credential queue per tier.
type InventoryRepository interface {
	Enqueue(ctx context.Context, tx Tx, c *model.Credential) error
	// Requeue puts a dequeued credential back at the head of its queue.
	Requeue(ctx context.Context, tx Tx, c *model.Credential) error
	// TryDequeue removes the oldest credential of tier or returns ErrOutOfStock.
	TryDequeue(ctx context.Context, tx Tx, tier string) (*model.Credential, error)
	Count(ctx context.Context, tx Tx, tier string) (int, error)
	// Counts returns queue length per tier; tiers with no credentials may be absent.
	Counts(ctx context.Context, tx Tx) (map[string]int, error)
}
