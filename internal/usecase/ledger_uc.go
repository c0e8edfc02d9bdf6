package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"subscription-fulfillment/internal/domain"
	"subscription-fulfillment/internal/domain/model"
	"subscription-fulfillment/internal/domain/ports/adapter"
	"subscription-fulfillment/internal/domain/ports/repository"
	"subscription-fulfillment/internal/infra/metrics"
)

type CreatePaymentInput struct {
	CustomerID       string
	Tier             string
	Amount           decimal.Decimal
	OriginalAmount   decimal.Decimal
	CouponCode       string
	ReferralDiscount bool
}

// Compile-time check
var _ LedgerUseCase = (*PaymentLedger)(nil)

type LedgerUseCase interface {
	Create(ctx context.Context, in CreatePaymentInput) (*model.Payment, error)
	Get(ctx context.Context, id string) (*model.Payment, error)
	FindByGatewayRef(ctx context.Context, ref string) (*model.Payment, error)
	// Update applies patch and reports false for an unknown id. A status in patch must be an allowed edge.
	Update(ctx context.Context, id string, patch model.PaymentPatch) (bool, error)
	// Transition is the compare-and-swap every status change goes through.
	Transition(ctx context.Context, id string, from, to model.PaymentStatus) (bool, error)
	FindActiveForCustomer(ctx context.Context, customerID string) (*model.Payment, error)

	PendingApprovals(ctx context.Context) ([]*model.Payment, error)
	UndeliveredPaid(ctx context.Context) ([]*model.Payment, error)
	StalePending(ctx context.Context, olderThan time.Duration) ([]*model.Payment, error)
	SubmitManualTransfer(ctx context.Context, id, customerID, payerName string) (*model.Payment, error)
	CancelByCustomer(ctx context.Context, id, customerID string) error
}

// PaymentLedger owns the payment lifecycle. The gateway is only used for
// best-effort cancellation of abandoned charges, never inside a transaction.
type PaymentLedger struct {
	payments repository.PaymentRepository
	tm       repository.TransactionManager
	catalog  *model.Catalog
	gateway  adapter.PaymentGateway
	alerts   *Alerter
	clock    Clock
	log      *zerolog.Logger
	listLim  int
}

func NewPaymentLedger(
	payments repository.PaymentRepository,
	tm repository.TransactionManager,
	catalog *model.Catalog,
	gateway adapter.PaymentGateway,
	alerts *Alerter,
	clock Clock,
	logger *zerolog.Logger,
) *PaymentLedger {
	return &PaymentLedger{
		payments: payments,
		tm:       tm,
		catalog:  catalog,
		gateway:  gateway,
		alerts:   alerts,
		clock:    orSystem(clock),
		log:      componentLogger(logger, "ledger"),
		listLim:  200,
	}
}

func (l *PaymentLedger) Create(ctx context.Context, in CreatePaymentInput) (*model.Payment, error) {
	if strings.TrimSpace(in.CustomerID) == "" || !in.Amount.IsPositive() {
		return nil, domain.ErrInvalidArgument
	}
	if _, err := l.catalog.Get(in.Tier); err != nil {
		return nil, err
	}
	if in.OriginalAmount.IsZero() {
		in.OriginalAmount = in.Amount
	}

	now := l.clock.Now()
	p := &model.Payment{
		ID:               uuid.NewString(),
		CustomerID:       in.CustomerID,
		Tier:             in.Tier,
		Amount:           in.Amount.Round(2),
		OriginalAmount:   in.OriginalAmount.Round(2),
		CouponCode:       model.NormalizeCouponCode(in.CouponCode),
		Status:           model.PaymentStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
		ReferralDiscount: in.ReferralDiscount,
	}

	var replaced *model.Payment
	err := l.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := l.payments.LockCustomer(ctx, tx, in.CustomerID); err != nil {
			return err
		}
		active, err := l.payments.FindActiveByCustomer(ctx, tx, in.CustomerID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
		case err != nil:
			return err
		case active.Status != model.PaymentStatusPending:
			// PendingApproval and Approved have no edge to Cancelled.
			return domain.ErrActivePaymentExists
		default:
			cancelled := model.PaymentStatusCancelled
			ok, err := l.payments.UpdateIfStatus(ctx, tx, active.ID, []model.PaymentStatus{model.PaymentStatusPending},
				model.PaymentPatch{Status: &cancelled}, now)
			if err != nil {
				return err
			}
			if !ok {
				return domain.ErrActivePaymentExists
			}
			replaced = active
		}
		return l.payments.Save(ctx, tx, p)
	})
	if err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}

	metrics.IncPaymentTransition(string(model.PaymentStatusPending))
	if replaced != nil {
		metrics.IncPaymentTransition(string(model.PaymentStatusCancelled))
		l.log.Info().Str("payment_id", replaced.ID).Str("replaced_by", p.ID).Msg("pending payment replaced")
		cancelCharge(ctx, l.gateway, replaced.GatewayRef, l.log)
	}
	l.log.Info().Str("payment_id", p.ID).Str("customer_id", p.CustomerID).Str("tier", p.Tier).
		Str("amount", p.Amount.StringFixed(2)).Msg("payment created")
	return p, nil
}

func (l *PaymentLedger) Get(ctx context.Context, id string) (*model.Payment, error) {
	return l.payments.FindByID(ctx, repository.NoTX, id)
}

func (l *PaymentLedger) FindByGatewayRef(ctx context.Context, ref string) (*model.Payment, error) {
	return l.payments.FindByGatewayRef(ctx, repository.NoTX, ref)
}

func (l *PaymentLedger) Update(ctx context.Context, id string, patch model.PaymentPatch) (bool, error) {
	cur, err := l.payments.FindByID(ctx, repository.NoTX, id)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	moved := patch.Status != nil && *patch.Status != cur.Status
	if moved && !model.CanTransition(cur.Status, *patch.Status) {
		return false, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidState, cur.Status, *patch.Status)
	}
	// a terminal payment only takes a gateway ref annotation
	if cur.Status.IsTerminal() && !patch.OnlyGatewayRef() {
		return false, fmt.Errorf("%w: payment %s is %s", domain.ErrInvalidState, id, cur.Status)
	}
	ok, err := l.payments.UpdateIfStatus(ctx, repository.NoTX, id, []model.PaymentStatus{cur.Status}, patch, l.clock.Now())
	if err != nil {
		return false, err
	}
	if ok && moved {
		metrics.IncPaymentTransition(string(*patch.Status))
	}
	return ok, nil
}

func (l *PaymentLedger) Transition(ctx context.Context, id string, from, to model.PaymentStatus) (bool, error) {
	return l.transition(ctx, repository.NoTX, id, from, to, model.PaymentPatch{})
}

func (l *PaymentLedger) transition(ctx context.Context, tx repository.Tx, id string, from, to model.PaymentStatus, patch model.PaymentPatch) (bool, error) {
	if !model.CanTransition(from, to) {
		return false, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidState, from, to)
	}
	patch.Status = &to
	ok, err := l.payments.UpdateIfStatus(ctx, tx, id, []model.PaymentStatus{from}, patch, l.clock.Now())
	if err != nil {
		return false, err
	}
	if ok {
		metrics.IncPaymentTransition(string(to))
		l.log.Debug().Str("payment_id", id).Str("from", string(from)).Str("to", string(to)).Msg("payment transitioned")
	}
	return ok, nil
}

// FindActiveForCustomer returns ErrNotFound when the customer has nothing in flight.
// A pending payment past the gateway window is expired on the way, unless the
// gateway already approved it; that one is left for the reconciler.
func (l *PaymentLedger) FindActiveForCustomer(ctx context.Context, customerID string) (*model.Payment, error) {
	p, err := l.payments.FindActiveByCustomer(ctx, repository.NoTX, customerID)
	if err != nil {
		return nil, err
	}
	if !p.StaleAt(l.clock.Now()) {
		return p, nil
	}
	expired, _, err := l.ExpireIfStale(ctx, p)
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, domain.ErrNotFound
	}
	return l.payments.FindByID(ctx, repository.NoTX, p.ID)
}

// ExpireIfStale polls the gateway for p's charge, cancels it while still pending
// and moves p Pending -> Expired. It returns the remote status it saw; an
// approved charge is never expired.
func (l *PaymentLedger) ExpireIfStale(ctx context.Context, p *model.Payment) (bool, adapter.GatewayStatus, error) {
	if !p.StaleAt(l.clock.Now()) {
		return false, "", nil
	}
	var remote adapter.GatewayStatus
	if p.GatewayRef != "" && l.gateway != nil {
		st, err := l.gateway.GetStatus(ctx, p.GatewayRef)
		if err != nil {
			// retried on the next sweep; expiring blind could drop a late approval
			l.log.Warn().Err(err).Str("payment_id", p.ID).Msg("status poll before expiry failed")
			return false, "", nil
		}
		remote = st
		if st == adapter.GatewayApproved {
			return false, st, nil
		}
		if st == adapter.GatewayPending {
			if err := l.gateway.Cancel(ctx, p.GatewayRef); err != nil {
				l.log.Warn().Err(err).Str("payment_id", p.ID).Str("gateway_ref", p.GatewayRef).Msg("charge cancel failed")
			}
		}
	}
	ok, err := l.transition(ctx, repository.NoTX, p.ID, model.PaymentStatusPending, model.PaymentStatusExpired, model.PaymentPatch{})
	if err != nil {
		return false, remote, err
	}
	if ok {
		l.log.Info().Str("payment_id", p.ID).Str("customer_id", p.CustomerID).Msg("payment expired")
	}
	return ok, remote, nil
}

func (l *PaymentLedger) PendingApprovals(ctx context.Context) ([]*model.Payment, error) {
	return l.payments.ListByStatus(ctx, repository.NoTX, model.PaymentStatusPendingApproval, l.listLim)
}

func (l *PaymentLedger) UndeliveredPaid(ctx context.Context) ([]*model.Payment, error) {
	return l.payments.ListUndelivered(ctx, repository.NoTX, l.listLim)
}

func (l *PaymentLedger) StalePending(ctx context.Context, olderThan time.Duration) ([]*model.Payment, error) {
	return l.payments.ListPendingStartedBefore(ctx, repository.NoTX, l.clock.Now().Add(-olderThan), l.listLim)
}

func (l *PaymentLedger) SubmitManualTransfer(ctx context.Context, id, customerID, payerName string) (*model.Payment, error) {
	payerName = strings.TrimSpace(payerName)
	if payerName == "" {
		return nil, domain.ErrInvalidArgument
	}
	p, err := l.owned(ctx, id, customerID)
	if err != nil {
		return nil, err
	}
	ok, err := l.transition(ctx, repository.NoTX, id, model.PaymentStatusPending, model.PaymentStatusPendingApproval,
		model.PaymentPatch{PayerName: &payerName})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrInvalidState
	}
	cancelCharge(ctx, l.gateway, p.GatewayRef, l.log)

	l.alerts.Admins(ctx, fmt.Sprintf("Manual transfer awaiting approval\npayment: %s\ncustomer: %s\ntier: %s\namount: %s\npayer: %s",
		p.ID, p.CustomerID, p.Tier, p.Amount.StringFixed(2), payerName))
	return l.payments.FindByID(ctx, repository.NoTX, id)
}

func (l *PaymentLedger) CancelByCustomer(ctx context.Context, id, customerID string) error {
	p, err := l.owned(ctx, id, customerID)
	if err != nil {
		return err
	}
	ok, err := l.transition(ctx, repository.NoTX, id, model.PaymentStatusPending, model.PaymentStatusCancelled, model.PaymentPatch{})
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrInvalidState
	}
	cancelCharge(ctx, l.gateway, p.GatewayRef, l.log)
	return nil
}

func (l *PaymentLedger) owned(ctx context.Context, id, customerID string) (*model.Payment, error) {
	p, err := l.payments.FindByID(ctx, repository.NoTX, id)
	if err != nil {
		return nil, err
	}
	if p.CustomerID != customerID {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

// cancelCharge cancels ref at the gateway only while it is still pending there.
func cancelCharge(ctx context.Context, gw adapter.PaymentGateway, ref string, log *zerolog.Logger) {
	if gw == nil || ref == "" {
		return
	}
	st, err := gw.GetStatus(ctx, ref)
	if err != nil {
		log.Warn().Err(err).Str("gateway_ref", ref).Msg("status check before cancel failed")
		return
	}
	if st != adapter.GatewayPending {
		return
	}
	if err := gw.Cancel(ctx, ref); err != nil {
		log.Warn().Err(err).Str("gateway_ref", ref).Msg("charge cancel failed")
		return
	}
	log.Info().Str("gateway_ref", ref).Msg("charge cancelled")
}
