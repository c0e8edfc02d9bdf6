package memory

import (
	"context"
	"sort"
	"time"

	"subscription-fulfillment/internal/domain"
	"subscription-fulfillment/internal/domain/model"
	"subscription-fulfillment/internal/domain/ports/repository"
)

var _ repository.PaymentRepository = (*paymentRepo)(nil)

type paymentRepo struct{ s *Store }

func NewPaymentRepo(s *Store) *paymentRepo {
	return &paymentRepo{s: s}
}

func clonePayment(p *model.Payment) *model.Payment {
	cp := *p
	if p.ChargeCreatedAt != nil {
		t := *p.ChargeCreatedAt
		cp.ChargeCreatedAt = &t
	}
	return &cp
}

func (r *paymentRepo) Save(_ context.Context, tx repository.Tx, p *model.Payment) error {
	if p == nil || p.ID == "" {
		return domain.ErrInvalidArgument
	}
	cp := clonePayment(p)
	return r.s.with(tx, rankPayment, func(undo func(func())) error {
		if _, ok := r.s.payments[cp.ID]; ok {
			return domain.ErrAlreadyExists
		}
		if !cp.Status.IsTerminal() {
			for _, other := range r.s.payments {
				if other.CustomerID == cp.CustomerID && !other.Status.IsTerminal() {
					return domain.ErrActivePaymentExists
				}
			}
		}
		r.s.payments[cp.ID] = cp
		undo(func() { delete(r.s.payments, cp.ID) })
		return nil
	})
}

func (r *paymentRepo) FindByID(_ context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	return r.findOne(tx, func(p *model.Payment) bool { return p.ID == id })
}

func (r *paymentRepo) FindByGatewayRef(_ context.Context, tx repository.Tx, ref string) (*model.Payment, error) {
	if ref == "" {
		return nil, domain.ErrNotFound
	}
	return r.findOne(tx, func(p *model.Payment) bool { return p.GatewayRef == ref })
}

func (r *paymentRepo) FindActiveByCustomer(_ context.Context, tx repository.Tx, customerID string) (*model.Payment, error) {
	return r.findOne(tx, func(p *model.Payment) bool {
		return p.CustomerID == customerID && !p.Status.IsTerminal()
	})
}

func (r *paymentRepo) findOne(tx repository.Tx, match func(*model.Payment) bool) (*model.Payment, error) {
	var out *model.Payment
	err := r.s.with(tx, rankPayment, func(func(func())) error {
		for _, p := range r.s.payments {
			if match(p) {
				out = clonePayment(p)
				return nil
			}
		}
		return domain.ErrNotFound
	})
	return out, err
}

func (r *paymentRepo) UpdateIfStatus(_ context.Context, tx repository.Tx, id string, expected []model.PaymentStatus, patch model.PaymentPatch, now time.Time) (bool, error) {
	var ok bool
	err := r.s.with(tx, rankPayment, func(undo func(func())) error {
		p, found := r.s.payments[id]
		if !found || !statusIn(p.Status, expected) {
			return nil
		}
		before := clonePayment(p)
		patch.Apply(p)
		p.UpdatedAt = now
		undo(func() { r.s.payments[id] = before })
		ok = true
		return nil
	})
	return ok, err
}

// LockCustomer holds the payment collection lock; creation is already serialized by it.
func (r *paymentRepo) LockCustomer(_ context.Context, tx repository.Tx, _ string) error {
	return r.s.with(tx, rankPayment, func(func(func())) error { return nil })
}

func (r *paymentRepo) ListByStatus(_ context.Context, tx repository.Tx, status model.PaymentStatus, limit int) ([]*model.Payment, error) {
	return r.list(tx, limit, func(p *model.Payment) bool { return p.Status == status })
}

func (r *paymentRepo) ListPendingStartedBefore(_ context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.Payment, error) {
	return r.list(tx, limit, func(p *model.Payment) bool {
		return p.Status == model.PaymentStatusPending && p.WindowStart().Before(cutoff)
	})
}

func (r *paymentRepo) ListUndelivered(_ context.Context, tx repository.Tx, limit int) ([]*model.Payment, error) {
	return r.list(tx, limit, func(p *model.Payment) bool { return p.AwaitingDelivery() })
}

func (r *paymentRepo) list(tx repository.Tx, limit int, match func(*model.Payment) bool) ([]*model.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []*model.Payment
	err := r.s.with(tx, rankPayment, func(func(func())) error {
		for _, p := range r.s.payments {
			if match(p) {
				out = append(out, clonePayment(p))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func statusIn(s model.PaymentStatus, expected []model.PaymentStatus) bool {
	if len(expected) == 0 {
		return true
	}
	for _, e := range expected {
		if s == e {
			return true
		}
	}
	return false
}
