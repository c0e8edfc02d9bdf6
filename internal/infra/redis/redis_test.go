//go:build integration

package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"

	"subscription-fulfillment/internal/domain/model"
)

// newTestClient connects to REDIS_ADDR or skips.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	c := FromRedis(redis.NewClient(&redis.Options{Addr: addr, DB: 15}))
	if err := c.cli.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRedisLocker(t *testing.T) {
	ctx := context.Background()
	l := NewLocker(newTestClient(t))

	// --- Act ---
	token, err := l.TryLock(ctx, "sweep", time.Minute)
	_, second := l.TryLock(ctx, "sweep", time.Minute)
	wrongUnlock := l.Unlock(ctx, "sweep", "not-mine")
	_, stillHeld := l.TryLock(ctx, "sweep", time.Minute)
	_ = l.Unlock(ctx, "sweep", token)
	_, free := l.TryLock(ctx, "sweep", time.Minute)

	// --- Assert ---
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	if !errors.Is(second, ErrLockHeld) || !errors.Is(stillHeld, ErrLockHeld) {
		t.Errorf("expected ErrLockHeld, got %v / %v", second, stillHeld)
	}
	if wrongUnlock != nil {
		t.Errorf("foreign unlock should be a no-op, got %v", wrongUnlock)
	}
	if free != nil {
		t.Errorf("expected lock to be free after unlock, got %v", free)
	}
}

func TestSalesControlRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewSalesControlRepo(newTestClient(t))

	// --- Arrange ---
	now := time.Now().UTC()
	deadline := now.Add(model.SalesGracePeriod)

	// --- Act ---
	initial, _ := repo.Load(ctx)
	ok, err := repo.Swap(ctx, model.SalesEnabled, model.SalesControl{State: model.SalesSuspended, SuspendedSince: &now, HardDeadline: &deadline, UpdatedAt: now})
	stale, _ := repo.Swap(ctx, model.SalesEnabled, model.SalesControl{State: model.SalesSuspendedHard, UpdatedAt: now})
	got, _ := repo.Load(ctx)

	// --- Assert ---
	if initial.State != model.SalesEnabled {
		t.Errorf("expected default enabled, got %s", initial.State)
	}
	if err != nil || !ok || stale {
		t.Fatalf("unexpected swap results ok=%v stale=%v err=%v", ok, stale, err)
	}
	if got.State != model.SalesSuspended || got.HardDeadline == nil || !got.HardDeadline.Equal(deadline) {
		t.Errorf("unexpected state %+v", got)
	}
}

func TestRateLimiter(t *testing.T) {
	ctx := context.Background()
	rl := NewRateLimiter(newTestClient(t))

	// --- Act ---
	var allowed int
	for i := 0; i < 5; i++ {
		if ok, _ := rl.Allow(ctx, PurchaseKey("c1"), 3, time.Minute); ok {
			allowed++
		}
	}

	// --- Assert ---
	if allowed != 3 {
		t.Errorf("expected 3 allowed, got %d", allowed)
	}
}
