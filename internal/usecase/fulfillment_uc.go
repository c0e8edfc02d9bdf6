package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"subscription-fulfillment/internal/domain"
	"subscription-fulfillment/internal/domain/model"
	"subscription-fulfillment/internal/domain/ports/repository"
	"subscription-fulfillment/internal/infra/metrics"
)

// Delivery is the outcome of one successful fulfillment.
type Delivery struct {
	Payment    *model.Payment
	Credential *model.Credential
	Plan       model.ActivePlan
	// ReferrerID and ReferralCount are set when this fulfillment counted as a referral.
	ReferrerID    string
	ReferralCount int
}

// Compile-time check
var _ FulfillmentUseCase = (*FulfillmentCoordinator)(nil)

type FulfillmentUseCase interface {
	// AssignCredential moves one credential from inventory to the payment's customer, atomically.
	AssignCredential(ctx context.Context, paymentID string) (*Delivery, error)
	// Fulfill assigns and then notifies the customer (and admins on referral milestones).
	Fulfill(ctx context.Context, paymentID string) (*Delivery, error)
	RetryUndelivered(ctx context.Context) (int, error)
	RetryTier(ctx context.Context, tier string) (int, error)
}

type FulfillmentCoordinator struct {
	tm        repository.TransactionManager
	inventory repository.InventoryRepository
	payments  repository.PaymentRepository
	customers repository.CustomerRepository
	pricing   PricingUseCase
	catalog   *model.Catalog
	alerts    *Alerter
	clock     Clock
	log       *zerolog.Logger

	rewardEvery int

	mu      sync.Mutex
	waiting map[string]bool // payment ids already reported as waiting for stock
}

func NewFulfillmentCoordinator(
	tm repository.TransactionManager,
	inventory repository.InventoryRepository,
	payments repository.PaymentRepository,
	customers repository.CustomerRepository,
	pricing PricingUseCase,
	catalog *model.Catalog,
	alerts *Alerter,
	rewardEvery int,
	clock Clock,
	logger *zerolog.Logger,
) *FulfillmentCoordinator {
	return &FulfillmentCoordinator{
		tm:          tm,
		inventory:   inventory,
		payments:    payments,
		customers:   customers,
		pricing:     pricing,
		catalog:     catalog,
		alerts:      alerts,
		rewardEvery: rewardEvery,
		clock:       orSystem(clock),
		log:         componentLogger(logger, "fulfillment"),
		waiting:     make(map[string]bool),
	}
}

func (f *FulfillmentCoordinator) AssignCredential(ctx context.Context, paymentID string) (*Delivery, error) {
	snap, err := f.payments.FindByID(ctx, repository.NoTX, paymentID)
	if err != nil {
		return nil, err
	}
	if !snap.AwaitingDelivery() {
		return nil, fmt.Errorf("%w: payment %s is %s", domain.ErrInvalidState, snap.ID, snap.Status)
	}
	tier, err := f.catalog.Get(snap.Tier)
	if err != nil {
		return nil, fmt.Errorf("%w: payment %s has tier %q", domain.ErrDataCorruption, snap.ID, snap.Tier)
	}

	var out *Delivery
	// Lock order: Inventory -> Payment -> Customer -> Coupon.
	err = f.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		cred, err := f.inventory.TryDequeue(ctx, tx, tier.ID)
		if err != nil {
			return err
		}

		p, err := f.payments.FindByID(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if !p.AwaitingDelivery() {
			return fmt.Errorf("%w: payment %s is %s", domain.ErrInvalidState, p.ID, p.Status)
		}
		now := f.clock.Now()
		completed, delivered, ref := model.PaymentStatusCompleted, true, cred.ID
		ok, err := f.payments.UpdateIfStatus(ctx, tx, p.ID, []model.PaymentStatus{p.Status},
			model.PaymentPatch{Status: &completed, CredentialDelivered: &delivered, CredentialRef: &ref}, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: payment %s changed concurrently", domain.ErrInvalidState, p.ID)
		}
		p.Status, p.CredentialDelivered, p.CredentialRef, p.UpdatedAt = completed, true, ref, now

		cust, err := f.loadOrCreateCustomer(ctx, tx, p.CustomerID, now)
		if err != nil {
			return err
		}
		if cust.HasPlanFrom(p.ID) {
			return fmt.Errorf("%w: payment %s already granted a plan", domain.ErrInvalidState, p.ID)
		}
		plan := model.ActivePlan{
			Tier:            tier.ID,
			ExpiresAt:       now.Add(tier.Duration()),
			CredentialRef:   cred.ID,
			SourcePaymentID: p.ID,
		}
		cust.ActivePlans = append(cust.ActivePlans, plan)
		cust.FirstPurchase = false
		if p.ReferralDiscount {
			cust.ReferralDiscountUsed = true
		}
		creditReferrer := cust.ReferredBy != "" && !cust.ReferralCredited
		if creditReferrer {
			cust.ReferralCredited = true
		}
		if err := f.customers.Save(ctx, tx, cust); err != nil {
			return err
		}

		d := &Delivery{Payment: p, Credential: cred, Plan: plan}
		if creditReferrer {
			n, err := f.customers.IncrementReferrals(ctx, tx, cust.ReferredBy)
			switch {
			case errors.Is(err, domain.ErrNotFound):
				f.log.Warn().Str("customer_id", cust.ID).Str("referrer_id", cust.ReferredBy).Msg("referrer unknown, referral not counted")
			case err != nil:
				return err
			default:
				d.ReferrerID, d.ReferralCount = cust.ReferredBy, n
			}
		}

		if p.CouponCode != "" {
			if _, err := f.pricing.CommitCouponUse(ctx, tx, p.CouponCode, p.CustomerID, p.ID); err != nil {
				return err
			}
		}
		out = d
		return nil
	})

	switch {
	case err == nil:
		metrics.IncFulfillment(tier.ID, "delivered")
		metrics.AddPaymentRevenue(tier.ID, out.Payment.Amount.InexactFloat64())
		metrics.IncPaymentTransition(string(model.PaymentStatusCompleted))
		f.forgetWaiting(paymentID)
		f.log.Info().Str("payment_id", paymentID).Str("customer_id", out.Payment.CustomerID).
			Str("credential_id", out.Credential.ID).Msg("credential assigned")
		return out, nil
	case errors.Is(err, domain.ErrOutOfStock):
		metrics.IncFulfillment(tier.ID, "out_of_stock")
	case errors.Is(err, domain.ErrInvalidState):
		metrics.IncFulfillment(tier.ID, "invalid_state")
	default:
		metrics.IncFulfillment(tier.ID, "error")
	}
	return nil, fmt.Errorf("assign credential: %w", err)
}

func (f *FulfillmentCoordinator) loadOrCreateCustomer(ctx context.Context, tx repository.Tx, id string, now time.Time) (*model.Customer, error) {
	cust, err := f.customers.FindByID(ctx, tx, id)
	if err == nil {
		return cust, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	cust, err = model.NewCustomer(id, "", now)
	if err != nil {
		return nil, err
	}
	if err := f.customers.Create(ctx, tx, cust); err != nil {
		return nil, err
	}
	return cust, nil
}

func (f *FulfillmentCoordinator) Fulfill(ctx context.Context, paymentID string) (*Delivery, error) {
	d, err := f.AssignCredential(ctx, paymentID)
	if errors.Is(err, domain.ErrOutOfStock) {
		f.reportWaiting(ctx, paymentID)
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	if err := f.alerts.Customer(ctx, d.Payment.CustomerID, deliveryMessage(f.catalog, d)); err != nil {
		// state is already committed; the customer can still read it from their plans
		f.log.Error().Err(err).Str("payment_id", paymentID).Msg("delivery message not sent")
	}
	if d.ReferrerID != "" && f.rewardEvery > 0 && d.ReferralCount%f.rewardEvery == 0 {
		f.alerts.Admins(ctx, fmt.Sprintf("Referral milestone: customer %s reached %d successful referrals", d.ReferrerID, d.ReferralCount))
		if err := f.alerts.Customer(ctx, d.ReferrerID, fmt.Sprintf("You reached %d successful referrals. Your reward will be applied by our team.", d.ReferralCount)); err != nil {
			f.log.Warn().Err(err).Str("referrer_id", d.ReferrerID).Msg("referral reward message not sent")
		}
	}
	return d, nil
}

func deliveryMessage(catalog *model.Catalog, d *Delivery) string {
	name := d.Plan.Tier
	if t, err := catalog.Get(d.Plan.Tier); err == nil {
		name = t.Name
	}
	return fmt.Sprintf("Payment confirmed. Your %s access:\n\n%s\n\nValid until %s.",
		name, d.Credential.SecretPayload, d.Plan.ExpiresAt.Format("2006-01-02"))
}

func (f *FulfillmentCoordinator) reportWaiting(ctx context.Context, paymentID string) {
	f.mu.Lock()
	seen := f.waiting[paymentID]
	f.waiting[paymentID] = true
	f.mu.Unlock()
	if seen {
		return
	}
	p, err := f.payments.FindByID(ctx, repository.NoTX, paymentID)
	if err != nil {
		return
	}
	f.log.Warn().Str("payment_id", p.ID).Str("tier", p.Tier).Msg("paid customer waiting for stock")
	f.alerts.Admins(ctx, fmt.Sprintf("Out of stock: customer %s paid %s for %s and is waiting for a credential (payment %s)",
		p.CustomerID, p.Amount.StringFixed(2), p.Tier, p.ID))
	if err := f.alerts.Customer(ctx, p.CustomerID, "Payment confirmed. Your access will be delivered as soon as new stock arrives."); err != nil {
		f.log.Warn().Err(err).Str("payment_id", p.ID).Msg("waiting message not sent")
	}
}

func (f *FulfillmentCoordinator) forgetWaiting(paymentID string) {
	f.mu.Lock()
	delete(f.waiting, paymentID)
	f.mu.Unlock()
}

// RetryUndelivered retries every paid-but-undelivered payment, skipping a tier
// for the rest of the pass once it runs out of stock.
func (f *FulfillmentCoordinator) RetryUndelivered(ctx context.Context) (int, error) {
	pending, err := f.payments.ListUndelivered(ctx, repository.NoTX, 200)
	if err != nil {
		return 0, err
	}
	return f.retry(ctx, pending), nil
}

func (f *FulfillmentCoordinator) RetryTier(ctx context.Context, tier string) (int, error) {
	pending, err := f.payments.ListUndelivered(ctx, repository.NoTX, 200)
	if err != nil {
		return 0, err
	}
	return f.retry(ctx, lo.Filter(pending, func(p *model.Payment, _ int) bool { return p.Tier == tier })), nil
}

func (f *FulfillmentCoordinator) retry(ctx context.Context, pending []*model.Payment) int {
	empty := map[string]bool{}
	delivered := 0
	for _, p := range pending {
		if ctx.Err() != nil {
			break
		}
		if empty[p.Tier] {
			continue
		}
		_, err := f.Fulfill(ctx, p.ID)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, domain.ErrOutOfStock):
			empty[p.Tier] = true
		case errors.Is(err, domain.ErrInvalidState):
			// raced with another path; nothing to do
		default:
			f.log.Error().Err(err).Str("payment_id", p.ID).Msg("retry fulfillment failed")
		}
	}
	if delivered > 0 {
		f.log.Info().Int("delivered", delivered).Msg("undelivered payments fulfilled")
	}
	return delivered
}
