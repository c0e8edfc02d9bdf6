package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"subscription-fulfillment/internal/domain"
	"subscription-fulfillment/internal/domain/model"
	"subscription-fulfillment/internal/domain/ports/repository"
)

// PriceBreakdown is shown to the customer before they commit to a purchase.
type PriceBreakdown struct {
	Quote
	CouponCode       string
	CouponDiscount   decimal.Decimal
	ReferralDiscount bool
	Final            decimal.Decimal
}

// Compile-time check
var _ CheckoutUseCase = (*Checkout)(nil)

type CheckoutUseCase interface {
	RegisterCustomer(ctx context.Context, customerID, referredBy string) (*model.Customer, error)
	GetCustomer(ctx context.Context, customerID string) (*model.Customer, error)
	Preview(ctx context.Context, customerID, tier, couponCode string) (*PriceBreakdown, error)
	StartPurchase(ctx context.Context, customerID, tier, couponCode string) (*model.Payment, *PriceBreakdown, error)
	PayWithGateway(ctx context.Context, customerID, paymentID, payerName string) (*ChargeResult, error)
	SubmitManualTransfer(ctx context.Context, customerID, paymentID, payerName string) (*model.Payment, error)
	Cancel(ctx context.Context, customerID, paymentID string) error
	PaymentStatus(ctx context.Context, customerID, paymentID string) (*model.Payment, error)
	ActivePayment(ctx context.Context, customerID string) (*model.Payment, error)
	Tiers() []model.Tier
}

// Checkout is the customer-facing purchase flow.
type Checkout struct {
	customers  repository.CustomerRepository
	pricing    PricingUseCase
	ledger     *PaymentLedger
	reconciler ReconcilerUseCase
	governor   GovernorUseCase
	catalog    *model.Catalog
	clock      Clock
	log        *zerolog.Logger
}

func NewCheckout(
	customers repository.CustomerRepository,
	pricing PricingUseCase,
	ledger *PaymentLedger,
	reconciler ReconcilerUseCase,
	governor GovernorUseCase,
	catalog *model.Catalog,
	clock Clock,
	logger *zerolog.Logger,
) *Checkout {
	return &Checkout{
		customers:  customers,
		pricing:    pricing,
		ledger:     ledger,
		reconciler: reconciler,
		governor:   governor,
		catalog:    catalog,
		clock:      orSystem(clock),
		log:        componentLogger(logger, "checkout"),
	}
}

// RegisterCustomer returns the existing customer or creates one. referredBy is
// only honoured on creation and only when the referrer exists.
func (c *Checkout) RegisterCustomer(ctx context.Context, customerID, referredBy string) (*model.Customer, error) {
	existing, err := c.customers.FindByID(ctx, repository.NoTX, customerID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	referredBy = strings.TrimSpace(referredBy)
	if referredBy != "" {
		if _, err := c.customers.FindByID(ctx, repository.NoTX, referredBy); err != nil {
			c.log.Debug().Str("customer_id", customerID).Str("referrer_id", referredBy).Msg("unknown referrer ignored")
			referredBy = ""
		}
	}
	cust, err := model.NewCustomer(customerID, referredBy, c.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := c.customers.Create(ctx, repository.NoTX, cust); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return c.customers.FindByID(ctx, repository.NoTX, customerID)
		}
		return nil, err
	}
	c.log.Info().Str("customer_id", cust.ID).Bool("referred", cust.ReferredBy != "").Msg("customer registered")
	return cust, nil
}

func (c *Checkout) GetCustomer(ctx context.Context, customerID string) (*model.Customer, error) {
	return c.customers.FindByID(ctx, repository.NoTX, customerID)
}

func (c *Checkout) Preview(ctx context.Context, customerID, tier, couponCode string) (*PriceBreakdown, error) {
	cust, err := c.customers.FindByID(ctx, repository.NoTX, customerID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	return c.price(ctx, cust, customerID, tier, couponCode)
}

func (c *Checkout) price(ctx context.Context, cust *model.Customer, customerID, tier, couponCode string) (*PriceBreakdown, error) {
	q, err := c.pricing.Price(ctx, cust, tier)
	if err != nil {
		return nil, err
	}
	out := &PriceBreakdown{Quote: *q, Final: q.Amount}
	if code := model.NormalizeCouponCode(couponCode); code != "" {
		cq, err := c.pricing.ValidateCoupon(ctx, code, customerID, tier, q.Amount)
		if err != nil {
			return nil, err
		}
		out.CouponCode, out.CouponDiscount, out.Final = cq.Code, cq.Discount, cq.FinalAmount
		return out, nil
	}
	// referral never stacks with a coupon
	out.Final, out.ReferralDiscount = c.pricing.ApplyReferral(cust, q.Amount)
	return out, nil
}

func (c *Checkout) StartPurchase(ctx context.Context, customerID, tier, couponCode string) (*model.Payment, *PriceBreakdown, error) {
	open, err := c.governor.SalesOpen(ctx)
	if err != nil {
		return nil, nil, err
	}
	if !open {
		return nil, nil, domain.ErrSalesSuspended
	}
	cust, err := c.RegisterCustomer(ctx, customerID, "")
	if err != nil {
		return nil, nil, err
	}
	br, err := c.price(ctx, cust, customerID, tier, couponCode)
	if err != nil {
		return nil, nil, err
	}
	p, err := c.ledger.Create(ctx, CreatePaymentInput{
		CustomerID:       cust.ID,
		Tier:             tier,
		Amount:           br.Final,
		OriginalAmount:   br.BaseAmount,
		CouponCode:       br.CouponCode,
		ReferralDiscount: br.ReferralDiscount,
	})
	if err != nil {
		return nil, nil, err
	}
	return p, br, nil
}

func (c *Checkout) PayWithGateway(ctx context.Context, customerID, paymentID, payerName string) (*ChargeResult, error) {
	if _, err := c.ledger.owned(ctx, paymentID, customerID); err != nil {
		return nil, err
	}
	res, err := c.reconciler.CreateCharge(ctx, paymentID, payerName)
	if err != nil {
		return nil, fmt.Errorf("create charge: %w", err)
	}
	return res, nil
}

func (c *Checkout) SubmitManualTransfer(ctx context.Context, customerID, paymentID, payerName string) (*model.Payment, error) {
	return c.ledger.SubmitManualTransfer(ctx, paymentID, customerID, payerName)
}

func (c *Checkout) Cancel(ctx context.Context, customerID, paymentID string) error {
	return c.ledger.CancelByCustomer(ctx, paymentID, customerID)
}

func (c *Checkout) PaymentStatus(ctx context.Context, customerID, paymentID string) (*model.Payment, error) {
	return c.ledger.owned(ctx, paymentID, customerID)
}

func (c *Checkout) ActivePayment(ctx context.Context, customerID string) (*model.Payment, error) {
	return c.ledger.FindActiveForCustomer(ctx, customerID)
}

func (c *Checkout) Tiers() []model.Tier {
	ids := c.catalog.IDs()
	out := make([]model.Tier, 0, len(ids))
	for _, id := range ids {
		t, _ := c.catalog.Get(id)
		out = append(out, t)
	}
	return out
}
