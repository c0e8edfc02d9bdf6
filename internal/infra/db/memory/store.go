package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v4"

	"subscription-fulfillment/internal/domain"
	"subscription-fulfillment/internal/domain/model"
	"subscription-fulfillment/internal/domain/ports/repository"
)

// rank orders collection locks. A transaction may only acquire a lock of
// higher rank than any it already holds.
type rank int

const (
	rankInventory rank = iota + 1
	rankPayment
	rankCustomer
	rankCoupon
	rankDiscount
	numRanks
)

func (r rank) String() string {
	switch r {
	case rankInventory:
		return "inventory"
	case rankPayment:
		return "payment"
	case rankCustomer:
		return "customer"
	case rankCoupon:
		return "coupon"
	case rankDiscount:
		return "discount"
	}
	return fmt.Sprintf("rank(%d)", int(r))
}

var _ repository.TransactionManager = (*Store)(nil)

// Store is the single-process backend. Every collection has its own mutex;
// repositories built on the same Store share them.
type Store struct {
	locks [numRanks]sync.Mutex

	queues      map[string][]*model.Credential // tier -> FIFO, head first
	payments    map[string]*model.Payment
	customers   map[string]*model.Customer
	coupons     map[string]*model.Coupon
	redemptions map[string]string // paymentID -> coupon code
	discounts   map[string]*model.SeasonalDiscount
}

func New() *Store {
	return &Store{
		queues:      make(map[string][]*model.Credential),
		payments:    make(map[string]*model.Payment),
		customers:   make(map[string]*model.Customer),
		coupons:     make(map[string]*model.Coupon),
		redemptions: make(map[string]string),
		discounts:   make(map[string]*model.SeasonalDiscount),
	}
}

// WithTx runs fn holding every lock it touches until fn returns. On error (or
// panic) the undo log is replayed in reverse before the locks are released.
// Isolation options are ignored; the memory store is always serializable per collection.
func (s *Store) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{s: s}
	defer func() {
		if r := recover(); r != nil {
			tx.rollback()
			panic(r)
		}
		if err != nil {
			tx.rollback()
			return
		}
		tx.commit()
	}()
	return fn(ctx, tx)
}

// with runs fn under the lock of collection r. Inside a transaction the lock is
// kept and fn's undo entries are recorded; outside, the lock is released on return.
func (s *Store) with(tx repository.Tx, r rank, fn func(undo func(func())) error) error {
	switch t := tx.(type) {
	case nil:
		s.locks[r].Lock()
		defer s.locks[r].Unlock()
		return fn(func(func()) {})
	case *memTx:
		if t.s != s {
			return domain.ErrInvalidExecContext
		}
		if err := t.acquire(r); err != nil {
			return err
		}
		return fn(t.record)
	default:
		return domain.ErrInvalidExecContext
	}
}

type memTx struct {
	s    *Store
	held []rank // ascending
	undo []func()
	done bool
}

func (t *memTx) top() rank {
	if len(t.held) == 0 {
		return 0
	}
	return t.held[len(t.held)-1]
}

func (t *memTx) acquire(r rank) error {
	if t.done {
		return domain.ErrInvalidExecContext
	}
	switch top := t.top(); {
	case r == top:
		return nil
	case r < top:
		for _, h := range t.held {
			if h == r {
				return nil
			}
		}
		return fmt.Errorf("%w: %s after %s", domain.ErrLockOrder, r, top)
	}
	t.s.locks[r].Lock()
	t.held = append(t.held, r)
	return nil
}

func (t *memTx) record(fn func()) {
	t.undo = append(t.undo, fn)
}

func (t *memTx) rollback() {
	if t.done {
		return
	}
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.release()
}

func (t *memTx) commit() {
	if t.done {
		return
	}
	t.release()
}

func (t *memTx) release() {
	for i := len(t.held) - 1; i >= 0; i-- {
		t.s.locks[t.held[i]].Unlock()
	}
	t.held = nil
	t.undo = nil
	t.done = true
}
