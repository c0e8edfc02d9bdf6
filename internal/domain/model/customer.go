package model

import (
	"strings"
	"time"

	"subscription-fulfillment/internal/domain"
)

// ActivePlan is one delivered subscription instance. A customer may hold several.
type ActivePlan struct {
	Tier            string
	ExpiresAt       time.Time
	CredentialRef   string
	SourcePaymentID string
	ExpiryNotified  bool
}

// Customer is the buyer as seen by the fulfillment engine.
type Customer struct {
	ID                      string
	FirstPurchase           bool
	ActivePlans             []ActivePlan
	ReferredBy              string
	SuccessfulReferralCount int
	ReferralCredited        bool // our first fulfillment was already counted for ReferredBy
	ReferralDiscountUsed    bool
	CreatedAt               time.Time
}

// NewCustomer registers a first-time buyer. referredBy may be empty.
func NewCustomer(id, referredBy string, now time.Time) (*Customer, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domain.ErrInvalidArgument
	}
	referredBy = strings.TrimSpace(referredBy)
	if referredBy == id {
		referredBy = ""
	}
	return &Customer{
		ID:            id,
		FirstPurchase: true,
		ReferredBy:    referredBy,
		CreatedAt:     now,
	}, nil
}

// Clone returns a deep copy safe to hand across goroutines.
func (c *Customer) Clone() *Customer {
	cp := *c
	cp.ActivePlans = append([]ActivePlan(nil), c.ActivePlans...)
	return &cp
}

// HasPlanFrom reports whether a plan was already granted for paymentID.
func (c *Customer) HasPlanFrom(paymentID string) bool {
	for _, p := range c.ActivePlans {
		if p.SourcePaymentID == paymentID {
			return true
		}
	}
	return false
}

// ExpiringPlan pairs a plan with its owner for expiry sweeps.
type ExpiringPlan struct {
	CustomerID string
	Plan       ActivePlan
}
