package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"subscription-fulfillment/internal/domain"
	"subscription-fulfillment/internal/domain/model"
	"subscription-fulfillment/internal/domain/ports/repository"
)

var (
	_ repository.CouponRepository           = (*couponRepo)(nil)
	_ repository.SeasonalDiscountRepository = (*discountRepo)(nil)
)

type couponRepo struct{ pool *pgxpool.Pool }

func NewCouponRepo(pool *pgxpool.Pool) *couponRepo {
	return &couponRepo{pool: pool}
}

const couponColumns = `code, discount_type, discount_value, expires_at, max_total_uses, max_uses_per_customer,
  min_purchase_cents, applicable_plans, total_uses, created_at`

const selectCoupon = `SELECT code, discount_type, discount_value::text, expires_at, max_total_uses, max_uses_per_customer,
  min_purchase_cents, applicable_plans, total_uses, created_at FROM coupons`

func (r *couponRepo) Create(ctx context.Context, tx repository.Tx, c *model.Coupon) error {
	if c == nil || c.Code == "" {
		return domain.ErrInvalidArgument
	}
	plans := c.ApplicablePlans
	if plans == nil {
		plans = []string{}
	}
	const q = `INSERT INTO coupons (` + couponColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10);`
	_, err := execSQL(ctx, r.pool, tx, q, c.Code, string(c.DiscountType), c.DiscountValue.StringFixed(2), c.ExpiresAt,
		c.MaxTotalUses, c.MaxUsesPerCustomer, toCents(c.MinPurchase), plans, c.TotalUses, c.CreatedAt)
	return mapErr(err)
}

func scanCoupon(row pgx.Row) (*model.Coupon, error) {
	var (
		c     model.Coupon
		typ   string
		value string
		minCents int64
	)
	if err := row.Scan(&c.Code, &typ, &value, &c.ExpiresAt, &c.MaxTotalUses, &c.MaxUsesPerCustomer,
		&minCents, &c.ApplicablePlans, &c.TotalUses, &c.CreatedAt); err != nil {
		if err = mapErr(err); errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, domain.ErrReadDatabaseRow
	}
	v, err := decimal.NewFromString(value)
	if err != nil {
		return nil, domain.ErrDataCorruption
	}
	c.DiscountType = model.DiscountType(typ)
	c.DiscountValue = v
	c.MinPurchase = fromCents(minCents)
	c.UsageHistory = map[string]int{}
	return &c, nil
}

// loadUsage fills UsageHistory from the redemption log.
func (r *couponRepo) loadUsage(ctx context.Context, tx repository.Tx, c *model.Coupon) error {
	rows, err := queryRows(ctx, r.pool, tx,
		`SELECT customer_id, COUNT(*) FROM coupon_redemptions WHERE code=$1 GROUP BY customer_id;`, c.Code)
	if err != nil {
		return mapErr(err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			customer string
			n        int
		)
		if err := rows.Scan(&customer, &n); err != nil {
			return domain.ErrReadDatabaseRow
		}
		c.UsageHistory[customer] = n
	}
	return mapErr(rows.Err())
}

func (r *couponRepo) FindByCode(ctx context.Context, tx repository.Tx, code string) (*model.Coupon, error) {
	q := selectCoupon + ` WHERE code=$1`
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q+";", code)
	if err != nil {
		return nil, err
	}
	c, err := scanCoupon(row)
	if err != nil {
		return nil, err
	}
	if err := r.loadUsage(ctx, tx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *couponRepo) Delete(ctx context.Context, tx repository.Tx, code string) error {
	cmd, err := execSQL(ctx, r.pool, tx, `DELETE FROM coupons WHERE code=$1;`, code)
	if err != nil {
		return mapErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *couponRepo) List(ctx context.Context, tx repository.Tx) ([]*model.Coupon, error) {
	rows, err := queryRows(ctx, r.pool, tx, selectCoupon+` ORDER BY code;`)
	if err != nil {
		return nil, mapErr(err)
	}
	var out []*model.Coupon
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	// rows must be closed before the per-coupon usage queries reuse the connection
	for _, c := range out {
		if err := r.loadUsage(ctx, tx, c); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Redeem locks the coupon row, so concurrent redemptions of one code serialize
// on it and the limit checks see every committed use.
func (r *couponRepo) Redeem(ctx context.Context, tx repository.Tx, code, customerID, paymentID string, now time.Time) (bool, error) {
	if !inTx(tx) {
		var ok bool
		err := NewTxManager(r.pool).WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			var err error
			ok, err = r.Redeem(ctx, tx, code, customerID, paymentID, now)
			return err
		})
		return ok, err
	}

	row, err := pickRow(ctx, r.pool, tx,
		`SELECT max_total_uses, max_uses_per_customer, total_uses FROM coupons WHERE code=$1 FOR UPDATE;`, code)
	if err != nil {
		return false, err
	}
	var maxTotal, maxPer, total int
	if err := row.Scan(&maxTotal, &maxPer, &total); err != nil {
		return false, mapErr(err)
	}

	row, err = pickRow(ctx, r.pool, tx, `SELECT EXISTS (SELECT 1 FROM coupon_redemptions WHERE payment_id=$1);`, paymentID)
	if err != nil {
		return false, err
	}
	var done bool
	if err := row.Scan(&done); err != nil {
		return false, mapErr(err)
	}
	if done {
		return true, nil
	}

	row, err = pickRow(ctx, r.pool, tx,
		`SELECT COUNT(*) FROM coupon_redemptions WHERE code=$1 AND customer_id=$2;`, code, customerID)
	if err != nil {
		return false, err
	}
	var mine int
	if err := row.Scan(&mine); err != nil {
		return false, mapErr(err)
	}
	if total >= maxTotal || mine >= maxPer {
		return false, nil
	}

	if _, err := execSQL(ctx, r.pool, tx,
		`INSERT INTO coupon_redemptions (payment_id, code, customer_id, redeemed_at) VALUES ($1,$2,$3,$4);`,
		paymentID, code, customerID, now); err != nil {
		return false, mapErr(err)
	}
	if _, err := execSQL(ctx, r.pool, tx, `UPDATE coupons SET total_uses = total_uses + 1 WHERE code=$1;`, code); err != nil {
		return false, mapErr(err)
	}
	return true, nil
}

type discountRepo struct{ pool *pgxpool.Pool }

func NewSeasonalDiscountRepo(pool *pgxpool.Pool) *discountRepo {
	return &discountRepo{pool: pool}
}

func (r *discountRepo) Create(ctx context.Context, tx repository.Tx, d *model.SeasonalDiscount) error {
	if d == nil || d.ID == "" {
		return domain.ErrInvalidArgument
	}
	plans := d.ApplicablePlans
	if plans == nil {
		plans = []string{}
	}
	_, err := execSQL(ctx, r.pool, tx,
		`INSERT INTO seasonal_discounts (id, percent, expires_at, applicable_plans, created_at) VALUES ($1,$2,$3,$4,$5);`,
		d.ID, d.Percent, d.ExpiresAt, plans, d.CreatedAt)
	return mapErr(err)
}

func (r *discountRepo) Delete(ctx context.Context, tx repository.Tx, id string) error {
	cmd, err := execSQL(ctx, r.pool, tx, `DELETE FROM seasonal_discounts WHERE id=$1;`, id)
	if err != nil {
		return mapErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *discountRepo) ListActive(ctx context.Context, tx repository.Tx, now time.Time) ([]*model.SeasonalDiscount, error) {
	rows, err := queryRows(ctx, r.pool, tx, `
SELECT id, percent, expires_at, applicable_plans, created_at
  FROM seasonal_discounts
 WHERE expires_at > $1
 ORDER BY created_at;`, now)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []*model.SeasonalDiscount
	for rows.Next() {
		d := &model.SeasonalDiscount{}
		if err := rows.Scan(&d.ID, &d.Percent, &d.ExpiresAt, &d.ApplicablePlans, &d.CreatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, d)
	}
	return out, mapErr(rows.Err())
}
