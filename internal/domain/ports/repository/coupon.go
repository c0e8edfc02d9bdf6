package repository

import (
	"context"
	"time"

	"subscription-fulfillment/internal/domain/model"
)

type CouponRepository interface {
	Create(ctx context.Context, tx Tx, c *model.Coupon) error
	FindByCode(ctx context.Context, tx Tx, code string) (*model.Coupon, error)
	Delete(ctx context.Context, tx Tx, code string) error
	List(ctx context.Context, tx Tx) ([]*model.Coupon, error)

	// Redeem records one use of code by customerID for paymentID. A second call for the
	// same paymentID is a no-op. It reports false instead of exceeding either limit.
	Redeem(ctx context.Context, tx Tx, code, customerID, paymentID string, now time.Time) (bool, error)
}

type SeasonalDiscountRepository interface {
	Create(ctx context.Context, tx Tx, d *model.SeasonalDiscount) error
	Delete(ctx context.Context, tx Tx, id string) error
	ListActive(ctx context.Context, tx Tx, now time.Time) ([]*model.SeasonalDiscount, error)
}
