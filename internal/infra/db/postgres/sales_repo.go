package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"subscription-fulfillment/internal/domain"
	"subscription-fulfillment/internal/domain/model"
	"subscription-fulfillment/internal/domain/ports/repository"
)

var _ repository.SalesControlRepository = (*salesControlRepo)(nil)

// salesControlRepo keeps the switch in the single sales_control row.
type salesControlRepo struct{ pool *pgxpool.Pool }

func NewSalesControlRepo(pool *pgxpool.Pool) *salesControlRepo {
	return &salesControlRepo{pool: pool}
}

func (r *salesControlRepo) Load(ctx context.Context) (model.SalesControl, error) {
	var (
		sc    model.SalesControl
		state string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT state, suspended_since, hard_deadline, updated_at FROM sales_control WHERE id=1;`).
		Scan(&state, &sc.SuspendedSince, &sc.HardDeadline, &sc.UpdatedAt)
	if err != nil {
		if err = mapErr(err); err == domain.ErrNotFound {
			return model.DefaultSalesControl(), nil
		}
		return model.SalesControl{}, err
	}
	switch s := model.SalesState(state); s {
	case model.SalesEnabled, model.SalesSuspended, model.SalesSuspendedHard:
		sc.State = s
	default:
		return model.SalesControl{}, domain.ErrDataCorruption
	}
	return sc, nil
}

func (r *salesControlRepo) Swap(ctx context.Context, expected model.SalesState, next model.SalesControl) (bool, error) {
	const q = `
INSERT INTO sales_control (id, state, suspended_since, hard_deadline, updated_at)
VALUES (1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE
   SET state=EXCLUDED.state, suspended_since=EXCLUDED.suspended_since,
       hard_deadline=EXCLUDED.hard_deadline, updated_at=EXCLUDED.updated_at
 WHERE sales_control.state = $1;`
	cmd, err := r.pool.Exec(ctx, q, string(expected), string(next.State), next.SuspendedSince, next.HardDeadline, next.UpdatedAt)
	if err != nil {
		return false, mapErr(err)
	}
	return cmd.RowsAffected() == 1, nil
}
