package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"subscription-fulfillment/internal/domain"
	"subscription-fulfillment/internal/domain/model"
	"subscription-fulfillment/internal/domain/ports/repository"
)

var _ repository.PaymentRepository = (*paymentRepo)(nil)

type paymentRepo struct {
	pool *pgxpool.Pool
	log  *zerolog.Logger
}

func NewPaymentRepo(pool *pgxpool.Pool, logger *zerolog.Logger) *paymentRepo {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &paymentRepo{pool: pool, log: logger}
}

const paymentColumns = `id, customer_id, tier, amount_cents, original_amount_cents, coupon_code, status, payer_name,
  gateway_ref, charge_created_at, display_payload, credential_delivered, credential_ref, referral_discount,
  created_at, updated_at`

var activeStatuses = []string{
	string(model.PaymentStatusPending),
	string(model.PaymentStatusPendingApproval),
	string(model.PaymentStatusApproved),
}

func (r *paymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	const q = `
INSERT INTO payments (` + paymentColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16);`
	_, err := execSQL(ctx, r.pool, tx, q,
		p.ID, p.CustomerID, p.Tier, toCents(p.Amount), toCents(p.OriginalAmount), p.CouponCode, string(p.Status),
		p.PayerName, p.GatewayRef, p.ChargeCreatedAt, p.DisplayPayload, p.CredentialDelivered, p.CredentialRef,
		p.ReferralDiscount, p.CreatedAt, p.UpdatedAt)
	return mapErr(err)
}

// scanPayment validates the row; a row that does not decode into a valid
// payment is quarantined so sweeps stop tripping over it.
func (r *paymentRepo) scanPayment(ctx context.Context, row pgx.Row) (*model.Payment, error) {
	var (
		p              model.Payment
		status         string
		amount, origin int64
	)
	if err := row.Scan(&p.ID, &p.CustomerID, &p.Tier, &amount, &origin, &p.CouponCode, &status, &p.PayerName,
		&p.GatewayRef, &p.ChargeCreatedAt, &p.DisplayPayload, &p.CredentialDelivered, &p.CredentialRef,
		&p.ReferralDiscount, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if err = mapErr(err); err == domain.ErrNotFound {
			return nil, err
		}
		return nil, domain.ErrReadDatabaseRow
	}
	st, ok := model.ParsePaymentStatus(status)
	if !ok || amount <= 0 {
		r.quarantine(ctx, p.ID, fmt.Sprintf("status=%q amount_cents=%d", status, amount))
		return nil, fmt.Errorf("%w: payment %s", domain.ErrDataCorruption, p.ID)
	}
	p.Status = st
	p.Amount, p.OriginalAmount = fromCents(amount), fromCents(origin)
	return &p, nil
}

func (r *paymentRepo) quarantine(ctx context.Context, id, reason string) {
	// outside the caller's tx so the flag survives its rollback
	if _, err := r.pool.Exec(ctx, `UPDATE payments SET quarantined=TRUE WHERE id=$1;`, id); err != nil {
		r.log.Error().Err(err).Str("payment_id", id).Msg("quarantine payment")
		return
	}
	r.log.Error().Str("payment_id", id).Str("reason", reason).Msg("payment row quarantined")
}

func (r *paymentRepo) findOne(ctx context.Context, tx repository.Tx, where string, args ...interface{}) (*model.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE NOT quarantined AND ` + where + ` LIMIT 1`
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q+";", args...)
	if err != nil {
		return nil, err
	}
	return r.scanPayment(ctx, row)
}

func (r *paymentRepo) list(ctx context.Context, tx repository.Tx, where string, limit int, args ...interface{}) ([]*model.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	q := fmt.Sprintf(`SELECT %s FROM payments WHERE NOT quarantined AND %s ORDER BY created_at ASC, id ASC LIMIT $%d;`,
		paymentColumns, where, len(args))
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []*model.Payment
	for rows.Next() {
		p, err := r.scanPayment(ctx, rows)
		if err != nil {
			// skip corrupt rows; scanPayment already flagged them
			continue
		}
		out = append(out, p)
	}
	return out, mapErr(rows.Err())
}

func (r *paymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	return r.findOne(ctx, tx, "id=$1", id)
}

func (r *paymentRepo) FindByGatewayRef(ctx context.Context, tx repository.Tx, ref string) (*model.Payment, error) {
	if ref == "" {
		return nil, domain.ErrNotFound
	}
	return r.findOne(ctx, tx, "gateway_ref=$1", ref)
}

func (r *paymentRepo) FindActiveByCustomer(ctx context.Context, tx repository.Tx, customerID string) (*model.Payment, error) {
	return r.findOne(ctx, tx, "customer_id=$1 AND status = ANY($2)", customerID, activeStatuses)
}

// UpdateIfStatus builds one UPDATE … WHERE status = ANY(expected), so the
// status check and the write are a single statement.
func (r *paymentRepo) UpdateIfStatus(ctx context.Context, tx repository.Tx, id string, expected []model.PaymentStatus, patch model.PaymentPatch, now time.Time) (bool, error) {
	sets := []string{"updated_at=$2"}
	args := []interface{}{id, now}
	add := func(col string, v interface{}) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	if patch.PayerName != nil {
		add("payer_name", *patch.PayerName)
	}
	if patch.GatewayRef != nil {
		add("gateway_ref", *patch.GatewayRef)
	}
	if patch.ChargeCreatedAt != nil {
		add("charge_created_at", *patch.ChargeCreatedAt)
	}
	if patch.DisplayPayload != nil {
		add("display_payload", *patch.DisplayPayload)
	}
	if patch.CredentialDelivered != nil {
		add("credential_delivered", *patch.CredentialDelivered)
	}
	if patch.CredentialRef != nil {
		add("credential_ref", *patch.CredentialRef)
	}

	q := `UPDATE payments SET ` + strings.Join(sets, ", ") + ` WHERE id=$1 AND NOT quarantined`
	if len(expected) > 0 {
		statuses := make([]string, len(expected))
		for i, s := range expected {
			statuses[i] = string(s)
		}
		args = append(args, statuses)
		q += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}
	cmd, err := execSQL(ctx, r.pool, tx, q+";", args...)
	if err != nil {
		return false, mapErr(err)
	}
	return cmd.RowsAffected() == 1, nil
}

// LockCustomer takes a transaction-scoped advisory lock keyed by customer id.
func (r *paymentRepo) LockCustomer(ctx context.Context, tx repository.Tx, customerID string) error {
	if !inTx(tx) {
		return domain.ErrInvalidExecContext
	}
	_, err := execSQL(ctx, r.pool, tx, `SELECT pg_advisory_xact_lock($1);`, hashToInt64("customer:"+customerID))
	return mapErr(err)
}

func (r *paymentRepo) ListByStatus(ctx context.Context, tx repository.Tx, status model.PaymentStatus, limit int) ([]*model.Payment, error) {
	return r.list(ctx, tx, "status=$1", limit, string(status))
}

func (r *paymentRepo) ListPendingStartedBefore(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.Payment, error) {
	return r.list(ctx, tx, "status='pending' AND COALESCE(charge_created_at, created_at) < $1", limit, cutoff)
}

func (r *paymentRepo) ListUndelivered(ctx context.Context, tx repository.Tx, limit int) ([]*model.Payment, error) {
	return r.list(ctx, tx, "status IN ('approved','completed') AND NOT credential_delivered", limit)
}
