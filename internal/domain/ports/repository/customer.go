package repository

import (
	"context"
	"time"

	"subscription-fulfillment/internal/domain/model"
)

type CustomerRepository interface {
	// Create inserts a new customer; ErrAlreadyExists on duplicate id.
	Create(ctx context.Context, tx Tx, c *model.Customer) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Customer, error)
	// Save overwrites an existing customer; ErrNotFound when missing.
	Save(ctx context.Context, tx Tx, c *model.Customer) error
	// IncrementReferrals bumps SuccessfulReferralCount and returns the new value.
	IncrementReferrals(ctx context.Context, tx Tx, id string) (int, error)

	// ListExpiringPlans returns plans with now < expiresAt <= before that were not notified.
	ListExpiringPlans(ctx context.Context, tx Tx, now, before time.Time) ([]model.ExpiringPlan, error)
	// SetPlanNotified sets ExpiryNotified for the plan granted by sourcePaymentID.
	// It reports false when the flag already had that value or the plan is gone.
	SetPlanNotified(ctx context.Context, tx Tx, customerID, sourcePaymentID string, notified bool) (bool, error)
}
