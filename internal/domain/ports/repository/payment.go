package repository

import (
	"context"
	"time"

	"subscription-fulfillment/internal/domain/model"
)

// -----------------------------
// Payments
// -----------------------------

type PaymentRepository interface {
	// Save inserts a new payment; ErrAlreadyExists on duplicate id.
	Save(ctx context.Context, tx Tx, p *model.Payment) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Payment, error)
	FindByGatewayRef(ctx context.Context, tx Tx, ref string) (*model.Payment, error)
	// FindActiveByCustomer returns the non-terminal payment of a customer or ErrNotFound.
	FindActiveByCustomer(ctx context.Context, tx Tx, customerID string) (*model.Payment, error)

	// UpdateIfStatus applies patch only while the current status is one of expected
	// (any status when expected is empty) and stamps updated_at. It reports false
	// when the payment is missing or the status no longer matches.
	UpdateIfStatus(ctx context.Context, tx Tx, id string, expected []model.PaymentStatus, patch model.PaymentPatch, now time.Time) (bool, error)

	// LockCustomer serializes payment creation per customer for the rest of tx.
	LockCustomer(ctx context.Context, tx Tx, customerID string) error

	ListByStatus(ctx context.Context, tx Tx, status model.PaymentStatus, limit int) ([]*model.Payment, error)
	// ListPendingStartedBefore returns pending payments whose window started before cutoff.
	ListPendingStartedBefore(ctx context.Context, tx Tx, cutoff time.Time, limit int) ([]*model.Payment, error)
	// ListUndelivered returns approved payments and completed payments with no credential.
	ListUndelivered(ctx context.Context, tx Tx, limit int) ([]*model.Payment, error)
}
