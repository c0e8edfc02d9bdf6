package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"subscription-fulfillment/internal/domain"
)

type DiscountType string

const (
	DiscountPercent DiscountType = "percent"
	DiscountFixed   DiscountType = "fixed"
)

// MinimumCharge is the smallest amount a discounted purchase may cost.
var MinimumCharge = decimal.New(1, -2)

// Coupon is an admin-issued discount code.
type Coupon struct {
	Code               string
	DiscountType       DiscountType
	DiscountValue      decimal.Decimal
	ExpiresAt          *time.Time
	MaxTotalUses       int
	MaxUsesPerCustomer int
	MinPurchase        decimal.Decimal
	ApplicablePlans    []string // empty means every tier
	TotalUses          int
	UsageHistory       map[string]int // customerID -> uses
	CreatedAt          time.Time
}

// NewCoupon validates admin input.
func NewCoupon(code string, typ DiscountType, value decimal.Decimal, expiresAt *time.Time, maxTotal, maxPerCustomer int, minPurchase decimal.Decimal, plans []string, now time.Time) (*Coupon, error) {
	code = NormalizeCouponCode(code)
	if code == "" || maxTotal <= 0 || maxPerCustomer <= 0 || !value.IsPositive() || minPurchase.IsNegative() {
		return nil, domain.ErrInvalidArgument
	}
	switch typ {
	case DiscountPercent:
		if value.GreaterThan(decimal.NewFromInt(100)) {
			return nil, domain.ErrInvalidArgument
		}
	case DiscountFixed:
	default:
		return nil, domain.ErrInvalidArgument
	}
	return &Coupon{
		Code:               code,
		DiscountType:       typ,
		DiscountValue:      value,
		ExpiresAt:          expiresAt,
		MaxTotalUses:       maxTotal,
		MaxUsesPerCustomer: maxPerCustomer,
		MinPurchase:        minPurchase,
		ApplicablePlans:    plans,
		UsageHistory:       map[string]int{},
		CreatedAt:          now,
	}, nil
}

func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Clone deep-copies the usage map.
func (c *Coupon) Clone() *Coupon {
	cp := *c
	cp.ApplicablePlans = append([]string(nil), c.ApplicablePlans...)
	cp.UsageHistory = make(map[string]int, len(c.UsageHistory))
	for k, v := range c.UsageHistory {
		cp.UsageHistory[k] = v
	}
	return &cp
}

// AppliesTo reports whether tier is covered.
func (c *Coupon) AppliesTo(tier string) bool {
	return appliesTo(c.ApplicablePlans, tier)
}

// Discount computes the reduction for amount, keeping the final amount at or above MinimumCharge.
func (c *Coupon) Discount(amount decimal.Decimal) decimal.Decimal {
	var d decimal.Decimal
	if c.DiscountType == DiscountPercent {
		d = amount.Mul(c.DiscountValue).Div(decimal.NewFromInt(100))
	} else {
		d = c.DiscountValue
	}
	d = d.Round(2)
	if ceiling := amount.Sub(MinimumCharge); d.GreaterThan(ceiling) {
		d = ceiling
	}
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// CanCommit reports whether one more use by customerID stays within both limits.
func (c *Coupon) CanCommit(customerID string) bool {
	return c.TotalUses < c.MaxTotalUses && c.UsageHistory[customerID] < c.MaxUsesPerCustomer
}

// SeasonalDiscount is a time-boxed percentage off for every customer.
type SeasonalDiscount struct {
	ID              string
	Percent         int
	ExpiresAt       time.Time
	ApplicablePlans []string
	CreatedAt       time.Time
}

func (d *SeasonalDiscount) ActiveAt(now time.Time, tier string) bool {
	return now.Before(d.ExpiresAt) && appliesTo(d.ApplicablePlans, tier)
}

func appliesTo(plans []string, tier string) bool {
	if len(plans) == 0 {
		return true
	}
	for _, p := range plans {
		if p == tier {
			return true
		}
	}
	return false
}
