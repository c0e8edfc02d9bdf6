package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"subscription-fulfillment/internal/domain"
	"subscription-fulfillment/internal/domain/model"
	"subscription-fulfillment/internal/domain/ports/adapter"
	"subscription-fulfillment/internal/domain/ports/repository"
	"subscription-fulfillment/internal/infra/metrics"
)

// WebhookEvent is the gateway notification after transport decoding. Only the
// type and the resource id are trusted; status is always re-fetched.
type WebhookEvent struct {
	Type       string
	ResourceID string
}

// ChargeResult is what the customer needs to pay a pending payment.
type ChargeResult struct {
	PaymentID      string
	GatewayRef     string
	DisplayPayload string
	QRImageBase64  string
	ExpiresAt      time.Time
}

// Compile-time check
var _ ReconcilerUseCase = (*GatewayReconciler)(nil)

type ReconcilerUseCase interface {
	CreateCharge(ctx context.Context, paymentID, payerName string) (*ChargeResult, error)
	PollStatus(ctx context.Context, ref string) (adapter.GatewayStatus, error)
	Cancel(ctx context.Context, ref string)
	HandleWebhook(ctx context.Context, ev WebhookEvent) error
	ApplyGatewayStatus(ctx context.Context, p *model.Payment, status adapter.GatewayStatus) error
	ExpireStale(ctx context.Context) (int, error)
	PollPending(ctx context.Context) (int, error)
}

type ReconcilerConfig struct {
	NotificationURL string
	Description     string
	PayerEmail      string
}

// GatewayReconciler keeps local payments in step with the gateway. No method
// calls the gateway while a store transaction is open.
type GatewayReconciler struct {
	ledger      *PaymentLedger
	fulfillment FulfillmentUseCase
	gateway     adapter.PaymentGateway
	alerts      *Alerter
	cfg         ReconcilerConfig
	clock       Clock
	log         *zerolog.Logger
}

func NewGatewayReconciler(
	ledger *PaymentLedger,
	fulfillment FulfillmentUseCase,
	gateway adapter.PaymentGateway,
	alerts *Alerter,
	cfg ReconcilerConfig,
	clock Clock,
	logger *zerolog.Logger,
) *GatewayReconciler {
	return &GatewayReconciler{
		ledger:      ledger,
		fulfillment: fulfillment,
		gateway:     gateway,
		alerts:      alerts,
		cfg:         cfg,
		clock:       orSystem(clock),
		log:         componentLogger(logger, "reconciler"),
	}
}

func (r *GatewayReconciler) CreateCharge(ctx context.Context, paymentID, payerName string) (*ChargeResult, error) {
	p, err := r.ledger.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status != model.PaymentStatusPending {
		return nil, fmt.Errorf("%w: payment %s is %s", domain.ErrInvalidState, p.ID, p.Status)
	}
	if p.GatewayRef != "" {
		r.Cancel(ctx, p.GatewayRef)
	}

	now := r.clock.Now()
	expires := now.Add(model.GatewayWindow)
	desc := r.cfg.Description
	if desc == "" {
		desc = "Subscription"
	}
	charge, err := r.gateway.CreateCharge(ctx, adapter.ChargeRequest{
		IdempotencyKey:  uuid.NewString(),
		PaymentID:       p.ID,
		Amount:          p.Amount,
		Description:     fmt.Sprintf("%s %s", desc, p.Tier),
		PayerName:       strings.TrimSpace(payerName),
		PayerEmail:      r.cfg.PayerEmail,
		ExpiresAt:       expires,
		NotificationURL: r.cfg.NotificationURL,
	})
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(payerName)
	patch := model.PaymentPatch{GatewayRef: &charge.Ref, ChargeCreatedAt: &now, DisplayPayload: &charge.DisplayPayload}
	if name != "" {
		patch.PayerName = &name
	}
	ok, err := r.ledger.payments.UpdateIfStatus(ctx, repository.NoTX, p.ID, []model.PaymentStatus{model.PaymentStatusPending}, patch, now)
	if err != nil || !ok {
		// the payment moved on while we were talking to the gateway
		r.Cancel(ctx, charge.Ref)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: payment %s left pending during charge creation", domain.ErrInvalidState, p.ID)
	}

	r.log.Info().Str("payment_id", p.ID).Str("gateway_ref", charge.Ref).Msg("charge created")
	return &ChargeResult{
		PaymentID:      p.ID,
		GatewayRef:     charge.Ref,
		DisplayPayload: charge.DisplayPayload,
		QRImageBase64:  charge.QRImageBase64,
		ExpiresAt:      expires,
	}, nil
}

func (r *GatewayReconciler) PollStatus(ctx context.Context, ref string) (adapter.GatewayStatus, error) {
	return r.gateway.GetStatus(ctx, ref)
}

// Cancel is best-effort: only a charge still pending remotely is cancelled.
func (r *GatewayReconciler) Cancel(ctx context.Context, ref string) {
	cancelCharge(ctx, r.gateway, ref, r.log)
}

func (r *GatewayReconciler) HandleWebhook(ctx context.Context, ev WebhookEvent) error {
	if ev.Type != "payment" || ev.ResourceID == "" {
		metrics.IncWebhookEvent("ignored")
		return nil
	}
	p, err := r.ledger.FindByGatewayRef(ctx, ev.ResourceID)
	if errors.Is(err, domain.ErrNotFound) {
		// a superseded charge or another integration on the same account
		r.log.Debug().Str("gateway_ref", ev.ResourceID).Msg("webhook for unknown charge")
		metrics.IncWebhookEvent("ignored")
		return nil
	}
	if err != nil {
		metrics.IncWebhookEvent("error")
		return err
	}
	st, err := r.gateway.GetStatus(ctx, ev.ResourceID)
	if err != nil {
		metrics.IncWebhookEvent("error")
		return err
	}
	if err := r.ApplyGatewayStatus(ctx, p, st); err != nil {
		metrics.IncWebhookEvent("error")
		return err
	}
	metrics.IncWebhookEvent("applied")
	return nil
}

// ApplyGatewayStatus is the one place a remote status changes a local payment.
// Repeated calls with the same status are no-ops.
func (r *GatewayReconciler) ApplyGatewayStatus(ctx context.Context, p *model.Payment, status adapter.GatewayStatus) error {
	log := r.log.With().Str("payment_id", p.ID).Str("gateway_status", string(status)).Logger()

	switch status {
	case adapter.GatewayApproved:
		switch {
		case p.Status == model.PaymentStatusPending, p.Status == model.PaymentStatusPendingApproval:
			// a paid charge also settles a manual transfer still under review
			ok, err := r.ledger.Transition(ctx, p.ID, p.Status, model.PaymentStatusApproved)
			if err != nil {
				return err
			}
			if !ok {
				cur, err := r.ledger.Get(ctx, p.ID)
				if err != nil {
					return err
				}
				if cur.Status != model.PaymentStatusApproved {
					return r.ApplyGatewayStatus(ctx, cur, status)
				}
			}
			log.Info().Msg("payment approved by gateway")
			return r.fulfill(ctx, p.ID)
		case p.AwaitingDelivery():
			return r.fulfill(ctx, p.ID)
		case p.Status == model.PaymentStatusCompleted:
			return nil
		case p.Status == model.PaymentStatusExpired || p.Status == model.PaymentStatusCancelled:
			metrics.IncLateApproval()
			log.Warn().Str("status", string(p.Status)).Str("customer_id", p.CustomerID).Msg("gateway approved a closed payment")
			r.alerts.Admins(ctx, fmt.Sprintf("Gateway approved payment %s (customer %s, %s) after it was %s locally; refund or grant manually.",
				p.ID, p.CustomerID, p.Amount.StringFixed(2), p.Status))
			return nil
		}
		return nil

	case adapter.GatewayRejected, adapter.GatewayCancelled:
		if p.Status != model.PaymentStatusPending {
			return nil
		}
		ok, err := r.ledger.Transition(ctx, p.ID, model.PaymentStatusPending, model.PaymentStatusCancelled)
		if err != nil {
			return err
		}
		if ok {
			log.Info().Msg("payment cancelled by gateway")
			_ = r.alerts.Customer(ctx, p.CustomerID, "Your payment was not completed and has been cancelled.")
		}
		return nil
	}
	return nil
}

func (r *GatewayReconciler) fulfill(ctx context.Context, paymentID string) error {
	_, err := r.fulfillment.Fulfill(ctx, paymentID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrOutOfStock):
		// money is confirmed; the restock hook and sweep will deliver later
		return nil
	case errors.Is(err, domain.ErrInvalidState):
		// another path delivered first
		return nil
	}
	return err
}

// ExpireStale closes pending payments older than the gateway window. An
// approval discovered on the way is applied instead.
func (r *GatewayReconciler) ExpireStale(ctx context.Context) (int, error) {
	stale, err := r.ledger.StalePending(ctx, model.GatewayWindow)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, p := range stale {
		if ctx.Err() != nil {
			break
		}
		ok, remote, err := r.ledger.ExpireIfStale(ctx, p)
		if err != nil {
			r.log.Error().Err(err).Str("payment_id", p.ID).Msg("expire failed")
			continue
		}
		if ok {
			expired++
			_ = r.alerts.Customer(ctx, p.CustomerID, "Your payment window has closed. Start a new purchase whenever you are ready.")
			continue
		}
		if remote == adapter.GatewayApproved {
			if err := r.ApplyGatewayStatus(ctx, p, remote); err != nil {
				r.log.Error().Err(err).Str("payment_id", p.ID).Msg("apply approval during expiry failed")
			}
		}
	}
	return expired, nil
}

// PollPending pulls the status of every pending charge, covering lost webhooks.
func (r *GatewayReconciler) PollPending(ctx context.Context) (int, error) {
	pending, err := r.ledger.payments.ListByStatus(ctx, repository.NoTX, model.PaymentStatusPending, r.ledger.listLim)
	if err != nil {
		return 0, err
	}
	applied := 0
	for _, p := range pending {
		if ctx.Err() != nil {
			break
		}
		if p.GatewayRef == "" {
			continue
		}
		st, err := r.gateway.GetStatus(ctx, p.GatewayRef)
		if err != nil {
			r.log.Warn().Err(err).Str("payment_id", p.ID).Msg("poll failed")
			continue
		}
		if st == adapter.GatewayPending {
			continue
		}
		if err := r.ApplyGatewayStatus(ctx, p, st); err != nil {
			r.log.Error().Err(err).Str("payment_id", p.ID).Msg("apply polled status failed")
			continue
		}
		applied++
	}
	return applied, nil
}
