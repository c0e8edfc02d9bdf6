package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"subscription-fulfillment/internal/domain"
	"subscription-fulfillment/internal/domain/model"
	"subscription-fulfillment/internal/domain/ports/repository"
)

// Quote is the catalog price for one customer and tier before coupon or referral.
type Quote struct {
	Tier            string
	BaseAmount      decimal.Decimal // first-buy or regular price
	Amount          decimal.Decimal // after the seasonal discount
	FirstBuy        bool
	SeasonalPercent int
	SeasonalID      string
}

// CouponQuote is a valid coupon applied to an amount.
type CouponQuote struct {
	Code        string
	Discount    decimal.Decimal
	FinalAmount decimal.Decimal
}

type CouponInput struct {
	Code               string
	DiscountType       model.DiscountType
	DiscountValue      decimal.Decimal
	ExpiresAt          *time.Time
	MaxTotalUses       int
	MaxUsesPerCustomer int
	MinPurchase        decimal.Decimal
	ApplicablePlans    []string
}

// Compile-time check
var _ PricingUseCase = (*PricingEngine)(nil)

type PricingUseCase interface {
	// Price returns the catalog price; a nil customer is priced as a first purchase.
	Price(ctx context.Context, customer *model.Customer, tier string) (*Quote, error)
	// ApplyReferral applies the one-time referred-customer percent when eligible.
	ApplyReferral(customer *model.Customer, amount decimal.Decimal) (decimal.Decimal, bool)
	ValidateCoupon(ctx context.Context, code, customerID, tier string, amount decimal.Decimal) (*CouponQuote, error)
	// CommitCouponUse records the use for paymentID inside tx; false means a limit was reached.
	CommitCouponUse(ctx context.Context, tx repository.Tx, code, customerID, paymentID string) (bool, error)

	AddCoupon(ctx context.Context, in CouponInput) (*model.Coupon, error)
	DeleteCoupon(ctx context.Context, code string) error
	ListCoupons(ctx context.Context) ([]*model.Coupon, error)
	AddSeasonalDiscount(ctx context.Context, percent, days int, plans []string) (*model.SeasonalDiscount, error)
	RemoveSeasonalDiscount(ctx context.Context, id string) error
	ActiveSeasonalDiscounts(ctx context.Context) ([]*model.SeasonalDiscount, error)
}

// PricingEngine computes prices and owns coupon and seasonal discount state.
type PricingEngine struct {
	catalog         *model.Catalog
	coupons         repository.CouponRepository
	discounts       repository.SeasonalDiscountRepository
	customers       repository.CustomerRepository
	referralPercent decimal.Decimal
	clock           Clock
	log             *zerolog.Logger
}

func NewPricingEngine(
	catalog *model.Catalog,
	coupons repository.CouponRepository,
	discounts repository.SeasonalDiscountRepository,
	customers repository.CustomerRepository,
	referralPercent int,
	clock Clock,
	logger *zerolog.Logger,
) *PricingEngine {
	return &PricingEngine{
		catalog:         catalog,
		coupons:         coupons,
		discounts:       discounts,
		customers:       customers,
		referralPercent: decimal.NewFromInt(int64(referralPercent)),
		clock:           orSystem(clock),
		log:             componentLogger(logger, "pricing"),
	}
}

var hundred = decimal.NewFromInt(100)

func percentOff(amount decimal.Decimal, percent decimal.Decimal) decimal.Decimal {
	return amount.Mul(hundred.Sub(percent)).Div(hundred).Round(2)
}

func (e *PricingEngine) Price(ctx context.Context, customer *model.Customer, tierID string) (*Quote, error) {
	tier, err := e.catalog.Get(tierID)
	if err != nil {
		return nil, err
	}
	firstBuy := tier.FirstBuyDiscount && (customer == nil || customer.FirstPurchase)
	q := &Quote{Tier: tier.ID, BaseAmount: tier.RegularPrice, FirstBuy: firstBuy}
	if firstBuy {
		q.BaseAmount = tier.FirstBuyPrice
	}
	q.Amount = q.BaseAmount

	active, err := e.discounts.ListActive(ctx, repository.NoTX, e.clock.Now())
	if err != nil {
		return nil, err
	}
	now := e.clock.Now()
	applicable := lo.Filter(active, func(d *model.SeasonalDiscount, _ int) bool { return d.ActiveAt(now, tier.ID) })
	if len(applicable) > 0 {
		best := lo.MaxBy(applicable, func(a, b *model.SeasonalDiscount) bool { return a.Percent > b.Percent })
		q.SeasonalPercent = best.Percent
		q.SeasonalID = best.ID
		q.Amount = percentOff(q.BaseAmount, decimal.NewFromInt(int64(best.Percent)))
		if q.Amount.LessThan(model.MinimumCharge) {
			q.Amount = model.MinimumCharge
		}
	}
	return q, nil
}

func (e *PricingEngine) ApplyReferral(customer *model.Customer, amount decimal.Decimal) (decimal.Decimal, bool) {
	if customer == nil || customer.ReferredBy == "" || customer.FirstPurchase || customer.ReferralDiscountUsed {
		return amount, false
	}
	if !e.referralPercent.IsPositive() {
		return amount, false
	}
	out := percentOff(amount, e.referralPercent)
	if out.LessThan(model.MinimumCharge) {
		out = model.MinimumCharge
	}
	return out, true
}

// ValidateCoupon never mutates state; the same inputs and clock give the same answer.
func (e *PricingEngine) ValidateCoupon(ctx context.Context, code, customerID, tier string, amount decimal.Decimal) (*CouponQuote, error) {
	code = model.NormalizeCouponCode(code)
	c, err := e.coupons.FindByCode(ctx, repository.NoTX, code)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.RejectCoupon(code, domain.CouponNotFound)
	}
	if err != nil {
		return nil, err
	}

	firstPurchase := true
	cust, err := e.customers.FindByID(ctx, repository.NoTX, customerID)
	switch {
	case err == nil:
		firstPurchase = cust.FirstPurchase
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	switch {
	case c.ExpiresAt != nil && e.clock.Now().After(*c.ExpiresAt):
		return nil, domain.RejectCoupon(code, domain.CouponExpired)
	case c.TotalUses >= c.MaxTotalUses:
		return nil, domain.RejectCoupon(code, domain.CouponTotalUsesExhausted)
	case c.UsageHistory[customerID] >= c.MaxUsesPerCustomer:
		return nil, domain.RejectCoupon(code, domain.CouponPerCustomerUsesExhausted)
	case amount.LessThan(c.MinPurchase):
		return nil, domain.RejectCoupon(code, domain.CouponBelowMinimumPurchase)
	case !c.AppliesTo(tier):
		return nil, domain.RejectCoupon(code, domain.CouponPlanNotApplicable)
	case firstPurchase:
		return nil, domain.RejectCoupon(code, domain.CouponFirstPurchaseNotEligible)
	}

	d := c.Discount(amount)
	return &CouponQuote{Code: c.Code, Discount: d, FinalAmount: amount.Sub(d)}, nil
}

func (e *PricingEngine) CommitCouponUse(ctx context.Context, tx repository.Tx, code, customerID, paymentID string) (bool, error) {
	ok, err := e.coupons.Redeem(ctx, tx, model.NormalizeCouponCode(code), customerID, paymentID, e.clock.Now())
	if errors.Is(err, domain.ErrNotFound) {
		e.log.Warn().Str("coupon", code).Str("payment_id", paymentID).Msg("coupon deleted before use was committed")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !ok {
		e.log.Warn().Str("coupon", code).Str("payment_id", paymentID).Msg("coupon limit reached, use not recorded")
	}
	return ok, nil
}

func (e *PricingEngine) AddCoupon(ctx context.Context, in CouponInput) (*model.Coupon, error) {
	for _, p := range in.ApplicablePlans {
		if _, err := e.catalog.Get(p); err != nil {
			return nil, err
		}
	}
	c, err := model.NewCoupon(in.Code, in.DiscountType, in.DiscountValue, in.ExpiresAt, in.MaxTotalUses,
		in.MaxUsesPerCustomer, in.MinPurchase, in.ApplicablePlans, e.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := e.coupons.Create(ctx, repository.NoTX, c); err != nil {
		return nil, err
	}
	e.log.Info().Str("coupon", c.Code).Msg("coupon created")
	return c, nil
}

func (e *PricingEngine) DeleteCoupon(ctx context.Context, code string) error {
	return e.coupons.Delete(ctx, repository.NoTX, model.NormalizeCouponCode(code))
}

func (e *PricingEngine) ListCoupons(ctx context.Context) ([]*model.Coupon, error) {
	return e.coupons.List(ctx, repository.NoTX)
}

// AddSeasonalDiscount clamps percent to 1..100 like the admin panel always did.
func (e *PricingEngine) AddSeasonalDiscount(ctx context.Context, percent, days int, plans []string) (*model.SeasonalDiscount, error) {
	if days <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	for _, p := range plans {
		if _, err := e.catalog.Get(p); err != nil {
			return nil, err
		}
	}
	now := e.clock.Now()
	d := &model.SeasonalDiscount{
		ID:              uuid.NewString(),
		Percent:         lo.Clamp(percent, 1, 100),
		ExpiresAt:       now.Add(time.Duration(days) * 24 * time.Hour),
		ApplicablePlans: plans,
		CreatedAt:       now,
	}
	if err := e.discounts.Create(ctx, repository.NoTX, d); err != nil {
		return nil, err
	}
	e.log.Info().Str("discount_id", d.ID).Int("percent", d.Percent).Int("days", days).Msg("seasonal discount created")
	return d, nil
}

func (e *PricingEngine) RemoveSeasonalDiscount(ctx context.Context, id string) error {
	return e.discounts.Delete(ctx, repository.NoTX, id)
}

func (e *PricingEngine) ActiveSeasonalDiscounts(ctx context.Context) ([]*model.SeasonalDiscount, error) {
	return e.discounts.ListActive(ctx, repository.NoTX, e.clock.Now())
}
