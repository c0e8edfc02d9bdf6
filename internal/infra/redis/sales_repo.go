package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"subscription-fulfillment/internal/domain"
	"subscription-fulfillment/internal/domain/model"
	"subscription-fulfillment/internal/domain/ports/repository"
)

var _ repository.SalesControlRepository = (*SalesControlRepo)(nil)

const salesKey = "sales_control"

// SalesControlRepo shares the sales switch between replicas as one hash.
type SalesControlRepo struct {
	cli *redis.Client
	key string
}

func NewSalesControlRepo(c *Client) *SalesControlRepo {
	return &SalesControlRepo{cli: c.cli, key: salesKey}
}

func (r *SalesControlRepo) Load(ctx context.Context) (model.SalesControl, error) {
	return r.load(ctx, r.cli)
}

type hashGetter interface {
	HGetAll(ctx context.Context, key string) *redis.StringStringMapCmd
}

func (r *SalesControlRepo) load(ctx context.Context, c hashGetter) (model.SalesControl, error) {
	m, err := c.HGetAll(ctx, r.key).Result()
	if err != nil {
		return model.SalesControl{}, err
	}
	if len(m) == 0 {
		return model.DefaultSalesControl(), nil
	}
	sc := model.SalesControl{State: model.SalesState(m["state"])}
	switch sc.State {
	case model.SalesEnabled, model.SalesSuspended, model.SalesSuspendedHard:
	default:
		return model.SalesControl{}, domain.ErrDataCorruption
	}
	sc.SuspendedSince = parseNanos(m["suspended_since"])
	sc.HardDeadline = parseNanos(m["hard_deadline"])
	if t := parseNanos(m["updated_at"]); t != nil {
		sc.UpdatedAt = *t
	}
	return sc, nil
}

// Swap is an optimistic WATCH/MULTI cycle; a concurrent writer makes it report false.
func (r *SalesControlRepo) Swap(ctx context.Context, expected model.SalesState, next model.SalesControl) (bool, error) {
	swapped := false
	err := r.cli.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := r.load(ctx, tx)
		if err != nil {
			return err
		}
		if cur.State != expected {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, r.key)
			p.HSet(ctx, r.key,
				"state", string(next.State),
				"suspended_since", formatNanos(next.SuspendedSince),
				"hard_deadline", formatNanos(next.HardDeadline),
				"updated_at", formatNanos(&next.UpdatedAt),
			)
			return nil
		})
		if err != nil {
			return err
		}
		swapped = true
		return nil
	}, r.key)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return swapped, nil
}

func formatNanos(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return strconv.FormatInt(t.UnixNano(), 10)
}

func parseNanos(s string) *time.Time {
	if s == "" {
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	t := time.Unix(0, n).UTC()
	return &t
}
