package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"subscription-fulfillment/internal/domain"
	"subscription-fulfillment/internal/domain/model"
	"subscription-fulfillment/internal/domain/ports/repository"
)

var _ repository.InventoryRepository = (*inventoryRepo)(nil)

// Sealer encrypts secret payloads at rest; security.EncryptionService implements it.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(stored string) (string, error)
}

type inventoryRepo struct {
	pool   *pgxpool.Pool
	sealer Sealer
}

type InventoryOption func(*inventoryRepo)

func WithSealer(s Sealer) InventoryOption {
	return func(r *inventoryRepo) { r.sealer = s }
}

func NewInventoryRepo(pool *pgxpool.Pool, opts ...InventoryOption) *inventoryRepo {
	r := &inventoryRepo{pool: pool}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *inventoryRepo) seal(payload string) (string, error) {
	if r.sealer == nil {
		return payload, nil
	}
	out, err := r.sealer.Seal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: seal credential: %v", domain.ErrOperationFailed, err)
	}
	return out, nil
}

func (r *inventoryRepo) open(stored string) (string, error) {
	if r.sealer == nil {
		return stored, nil
	}
	out, err := r.sealer.Open(stored)
	if err != nil {
		return "", fmt.Errorf("%w: credential payload: %v", domain.ErrDataCorruption, err)
	}
	return out, nil
}

const insertCredential = `INSERT INTO credentials (id, tier, secret_payload, added_at) VALUES ($1,$2,$3,$4);`

func (r *inventoryRepo) insert(ctx context.Context, tx repository.Tx, c *model.Credential) error {
	payload, err := r.seal(c.SecretPayload)
	if err != nil {
		return err
	}
	_, err = execSQL(ctx, r.pool, tx, insertCredential, c.ID, c.Tier, payload, c.AddedAt)
	return mapErr(err)
}

func (r *inventoryRepo) Enqueue(ctx context.Context, tx repository.Tx, c *model.Credential) error {
	return r.insert(ctx, tx, c)
}

// Requeue re-inserts with the original ULID, which sorts ahead of anything added since.
func (r *inventoryRepo) Requeue(ctx context.Context, tx repository.Tx, c *model.Credential) error {
	return r.insert(ctx, tx, c)
}

// TryDequeue claims the oldest unlocked row; concurrent transactions skip each
// other's claims instead of waiting on them.
func (r *inventoryRepo) TryDequeue(ctx context.Context, tx repository.Tx, tier string) (*model.Credential, error) {
	const q = `
DELETE FROM credentials
 WHERE id = (
   SELECT id FROM credentials
    WHERE tier = $1
    ORDER BY id
    FOR UPDATE SKIP LOCKED
    LIMIT 1)
RETURNING id, tier, secret_payload, added_at;`
	row, err := pickRow(ctx, r.pool, tx, q, tier)
	if err != nil {
		return nil, err
	}
	c := &model.Credential{}
	if err := row.Scan(&c.ID, &c.Tier, &c.SecretPayload, &c.AddedAt); err != nil {
		if err = mapErr(err); errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrOutOfStock
		}
		return nil, err
	}
	if c.SecretPayload, err = r.open(c.SecretPayload); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *inventoryRepo) Count(ctx context.Context, tx repository.Tx, tier string) (int, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT COUNT(*) FROM credentials WHERE tier=$1;`, tier)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return n, nil
}

func (r *inventoryRepo) Counts(ctx context.Context, tx repository.Tx) (map[string]int, error) {
	rows, err := queryRows(ctx, r.pool, tx, `SELECT tier, COUNT(*) FROM credentials GROUP BY tier;`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var (
			tier string
			n    int
		)
		if err := rows.Scan(&tier, &n); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out[tier] = n
	}
	return out, mapErr(rows.Err())
}
