package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"subscription-fulfillment/internal/domain"
	"subscription-fulfillment/internal/domain/model"
)

// Compile-time check
var _ AdminUseCase = (*Admin)(nil)

type AdminUseCase interface {
	ToggleSales(ctx context.Context) (model.SalesState, error)
	SalesState(ctx context.Context) (model.SalesControl, error)
	AddCredential(ctx context.Context, tier, payload string) (*model.Credential, error)
	AddCredentials(ctx context.Context, tier string, payloads []string) (int, error)
	InventoryCounts(ctx context.Context) (map[string]int, error)

	PendingApprovals(ctx context.Context) ([]*model.Payment, error)
	// ApprovePayment accepts a manual transfer and fulfills it. An OutOfStock
	// error still leaves the payment approved and queued for delivery.
	ApprovePayment(ctx context.Context, id string) (*Delivery, error)
	RejectPayment(ctx context.Context, id string) error
	GetPayment(ctx context.Context, id string) (*model.Payment, error)

	Pricing() PricingUseCase
}

// Admin is the operator control surface; it routes through the same
// transition functions as the customer flow.
type Admin struct {
	governor    GovernorUseCase
	inventory   InventoryUseCase
	ledger      *PaymentLedger
	fulfillment FulfillmentUseCase
	pricing     PricingUseCase
	alerts      *Alerter
	log         *zerolog.Logger
}

func NewAdmin(
	governor GovernorUseCase,
	inventory InventoryUseCase,
	ledger *PaymentLedger,
	fulfillment FulfillmentUseCase,
	pricing PricingUseCase,
	alerts *Alerter,
	logger *zerolog.Logger,
) *Admin {
	return &Admin{
		governor:    governor,
		inventory:   inventory,
		ledger:      ledger,
		fulfillment: fulfillment,
		pricing:     pricing,
		alerts:      alerts,
		log:         componentLogger(logger, "admin"),
	}
}

func (a *Admin) ToggleSales(ctx context.Context) (model.SalesState, error) {
	return a.governor.Toggle(ctx)
}

func (a *Admin) SalesState(ctx context.Context) (model.SalesControl, error) {
	return a.governor.State(ctx)
}

func (a *Admin) AddCredential(ctx context.Context, tier, payload string) (*model.Credential, error) {
	return a.inventory.Enqueue(ctx, tier, payload)
}

func (a *Admin) AddCredentials(ctx context.Context, tier string, payloads []string) (int, error) {
	return a.inventory.EnqueueBatch(ctx, tier, payloads)
}

func (a *Admin) InventoryCounts(ctx context.Context) (map[string]int, error) {
	return a.inventory.Counts(ctx)
}

func (a *Admin) PendingApprovals(ctx context.Context) ([]*model.Payment, error) {
	return a.ledger.PendingApprovals(ctx)
}

func (a *Admin) GetPayment(ctx context.Context, id string) (*model.Payment, error) {
	return a.ledger.Get(ctx, id)
}

func (a *Admin) ApprovePayment(ctx context.Context, id string) (*Delivery, error) {
	p, err := a.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case p.Status == model.PaymentStatusPendingApproval:
		ok, err := a.ledger.Transition(ctx, id, model.PaymentStatusPendingApproval, model.PaymentStatusApproved)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, domain.ErrInvalidState
		}
		a.log.Info().Str("payment_id", id).Msg("manual transfer approved")
	case p.AwaitingDelivery():
		// approved earlier but never delivered; retry below
	default:
		return nil, fmt.Errorf("%w: payment %s is %s", domain.ErrInvalidState, id, p.Status)
	}

	d, err := a.fulfillment.Fulfill(ctx, id)
	if errors.Is(err, domain.ErrOutOfStock) {
		a.log.Warn().Str("payment_id", id).Msg("approved payment waiting for stock")
	}
	return d, err
}

func (a *Admin) RejectPayment(ctx context.Context, id string) error {
	p, err := a.ledger.Get(ctx, id)
	if err != nil {
		return err
	}
	ok, err := a.ledger.Transition(ctx, id, model.PaymentStatusPendingApproval, model.PaymentStatusRejected)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: payment %s is %s", domain.ErrInvalidState, id, p.Status)
	}
	a.log.Info().Str("payment_id", id).Msg("manual transfer rejected")
	if err := a.alerts.Customer(ctx, p.CustomerID, "Your bank transfer could not be confirmed and the payment was rejected. Contact support if this is a mistake."); err != nil {
		a.log.Warn().Err(err).Str("payment_id", id).Msg("rejection notice not delivered")
	}
	return nil
}

func (a *Admin) Pricing() PricingUseCase { return a.pricing }
