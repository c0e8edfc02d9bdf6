package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"subscription-fulfillment/internal/domain"
	"subscription-fulfillment/internal/domain/model"
	"subscription-fulfillment/internal/domain/ports/repository"
)

var _ repository.CustomerRepository = (*customerRepo)(nil)

type customerRepo struct {
	pool *pgxpool.Pool
	log  *zerolog.Logger
}

func NewCustomerRepo(pool *pgxpool.Pool, logger *zerolog.Logger) *customerRepo {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &customerRepo{pool: pool, log: logger}
}

// planJSON is the persisted shape of one element of customers.active_plans.
type planJSON struct {
	Tier            string    `json:"tier"`
	ExpiresAt       time.Time `json:"expires_at"`
	CredentialRef   string    `json:"credential_ref"`
	SourcePaymentID string    `json:"source_payment_id"`
	ExpiryNotified  bool      `json:"expiry_notified"`
}

func encodePlans(plans []model.ActivePlan) ([]byte, error) {
	rows := make([]planJSON, len(plans))
	for i, p := range plans {
		rows[i] = planJSON{
			Tier:            p.Tier,
			ExpiresAt:       p.ExpiresAt.UTC(),
			CredentialRef:   p.CredentialRef,
			SourcePaymentID: p.SourcePaymentID,
			ExpiryNotified:  p.ExpiryNotified,
		}
	}
	return json.Marshal(rows)
}

func decodePlans(raw []byte) ([]model.ActivePlan, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var rows []planJSON
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	out := make([]model.ActivePlan, 0, len(rows))
	for _, p := range rows {
		if p.Tier == "" || p.SourcePaymentID == "" {
			return nil, fmt.Errorf("plan without tier or source payment")
		}
		out = append(out, model.ActivePlan{
			Tier:            p.Tier,
			ExpiresAt:       p.ExpiresAt,
			CredentialRef:   p.CredentialRef,
			SourcePaymentID: p.SourcePaymentID,
			ExpiryNotified:  p.ExpiryNotified,
		})
	}
	return out, nil
}

const customerColumns = `id, first_purchase, active_plans, referred_by, successful_referral_count,
  referral_credited, referral_discount_used, created_at`

func (r *customerRepo) scanCustomer(ctx context.Context, row pgx.Row) (*model.Customer, error) {
	var (
		c   model.Customer
		raw []byte
	)
	if err := row.Scan(&c.ID, &c.FirstPurchase, &raw, &c.ReferredBy, &c.SuccessfulReferralCount,
		&c.ReferralCredited, &c.ReferralDiscountUsed, &c.CreatedAt); err != nil {
		if err = mapErr(err); err == domain.ErrNotFound {
			return nil, err
		}
		return nil, domain.ErrReadDatabaseRow
	}
	plans, err := decodePlans(raw)
	if err != nil {
		r.quarantine(ctx, c.ID, err)
		return nil, fmt.Errorf("%w: customer %s", domain.ErrDataCorruption, c.ID)
	}
	c.ActivePlans = plans
	return &c, nil
}

func (r *customerRepo) quarantine(ctx context.Context, id string, cause error) {
	if _, err := r.pool.Exec(ctx, `UPDATE customers SET quarantined=TRUE WHERE id=$1;`, id); err != nil {
		r.log.Error().Err(err).Str("customer_id", id).Msg("quarantine customer")
		return
	}
	r.log.Error().Err(cause).Str("customer_id", id).Msg("customer row quarantined")
}

func (r *customerRepo) Create(ctx context.Context, tx repository.Tx, c *model.Customer) error {
	if c == nil || c.ID == "" {
		return domain.ErrInvalidArgument
	}
	plans, err := encodePlans(c.ActivePlans)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	const q = `
INSERT INTO customers (` + customerColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8);`
	_, err = execSQL(ctx, r.pool, tx, q, c.ID, c.FirstPurchase, plans, c.ReferredBy, c.SuccessfulReferralCount,
		c.ReferralCredited, c.ReferralDiscountUsed, c.CreatedAt)
	return mapErr(err)
}

func (r *customerRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Customer, error) {
	q := `SELECT ` + customerColumns + ` FROM customers WHERE id=$1 AND NOT quarantined`
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q+";", id)
	if err != nil {
		return nil, err
	}
	return r.scanCustomer(ctx, row)
}

func (r *customerRepo) Save(ctx context.Context, tx repository.Tx, c *model.Customer) error {
	if c == nil {
		return domain.ErrInvalidArgument
	}
	plans, err := encodePlans(c.ActivePlans)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	const q = `
UPDATE customers
   SET first_purchase=$2, active_plans=$3, referred_by=$4, successful_referral_count=$5,
       referral_credited=$6, referral_discount_used=$7
 WHERE id=$1 AND NOT quarantined;`
	cmd, err := execSQL(ctx, r.pool, tx, q, c.ID, c.FirstPurchase, plans, c.ReferredBy, c.SuccessfulReferralCount,
		c.ReferralCredited, c.ReferralDiscountUsed)
	if err != nil {
		return mapErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *customerRepo) IncrementReferrals(ctx context.Context, tx repository.Tx, id string) (int, error) {
	const q = `
UPDATE customers SET successful_referral_count = successful_referral_count + 1
 WHERE id=$1 AND NOT quarantined
RETURNING successful_referral_count;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, mapErr(err)
	}
	return n, nil
}

// ListExpiringPlans filters inside Postgres on the JSONB elements, then decodes
// matching customers in Go.
func (r *customerRepo) ListExpiringPlans(ctx context.Context, tx repository.Tx, now, before time.Time) ([]model.ExpiringPlan, error) {
	const q = `
SELECT ` + customerColumns + `
  FROM customers c
 WHERE NOT c.quarantined
   AND EXISTS (
     SELECT 1 FROM jsonb_array_elements(c.active_plans) p
      WHERE NOT COALESCE((p->>'expiry_notified')::boolean, FALSE)
        AND (p->>'expires_at')::timestamptz > $1
        AND (p->>'expires_at')::timestamptz <= $2);`
	rows, err := queryRows(ctx, r.pool, tx, q, now, before)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []model.ExpiringPlan
	for rows.Next() {
		c, err := r.scanCustomer(ctx, rows)
		if err != nil {
			continue
		}
		for _, p := range c.ActivePlans {
			if p.ExpiryNotified || !p.ExpiresAt.After(now) || p.ExpiresAt.After(before) {
				continue
			}
			out = append(out, model.ExpiringPlan{CustomerID: c.ID, Plan: p})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Plan.ExpiresAt.Before(out[j].Plan.ExpiresAt) })
	return out, nil
}

// SetPlanNotified rewrites the one matching array element; the WHERE clause
// makes a repeated call with the same value match nothing.
func (r *customerRepo) SetPlanNotified(ctx context.Context, tx repository.Tx, customerID, sourcePaymentID string, notified bool) (bool, error) {
	const q = `
UPDATE customers c
   SET active_plans = (
     SELECT jsonb_agg(
              CASE WHEN p->>'source_payment_id' = $2
                   THEN jsonb_set(p, '{expiry_notified}', to_jsonb($3::boolean))
                   ELSE p END
              ORDER BY ord)
       FROM jsonb_array_elements(c.active_plans) WITH ORDINALITY AS t(p, ord))
 WHERE c.id = $1 AND NOT c.quarantined
   AND EXISTS (
     SELECT 1 FROM jsonb_array_elements(c.active_plans) p
      WHERE p->>'source_payment_id' = $2
        AND COALESCE((p->>'expiry_notified')::boolean, FALSE) <> $3);`
	cmd, err := execSQL(ctx, r.pool, tx, q, customerID, sourcePaymentID, notified)
	if err != nil {
		return false, mapErr(err)
	}
	return cmd.RowsAffected() == 1, nil
}
