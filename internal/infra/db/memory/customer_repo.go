package memory

import (
	"context"
	"sort"
	"time"

	"subscription-fulfillment/internal/domain"
	"subscription-fulfillment/internal/domain/model"
	"subscription-fulfillment/internal/domain/ports/repository"
)

var _ repository.CustomerRepository = (*customerRepo)(nil)

type customerRepo struct{ s *Store }

func NewCustomerRepo(s *Store) *customerRepo {
	return &customerRepo{s: s}
}

func (r *customerRepo) Create(_ context.Context, tx repository.Tx, c *model.Customer) error {
	if c == nil || c.ID == "" {
		return domain.ErrInvalidArgument
	}
	cp := c.Clone()
	return r.s.with(tx, rankCustomer, func(undo func(func())) error {
		if _, ok := r.s.customers[cp.ID]; ok {
			return domain.ErrAlreadyExists
		}
		r.s.customers[cp.ID] = cp
		undo(func() { delete(r.s.customers, cp.ID) })
		return nil
	})
}

func (r *customerRepo) FindByID(_ context.Context, tx repository.Tx, id string) (*model.Customer, error) {
	var out *model.Customer
	err := r.s.with(tx, rankCustomer, func(func(func())) error {
		c, ok := r.s.customers[id]
		if !ok {
			return domain.ErrNotFound
		}
		out = c.Clone()
		return nil
	})
	return out, err
}

func (r *customerRepo) Save(_ context.Context, tx repository.Tx, c *model.Customer) error {
	if c == nil {
		return domain.ErrInvalidArgument
	}
	cp := c.Clone()
	return r.s.with(tx, rankCustomer, func(undo func(func())) error {
		before, ok := r.s.customers[cp.ID]
		if !ok {
			return domain.ErrNotFound
		}
		r.s.customers[cp.ID] = cp
		undo(func() { r.s.customers[cp.ID] = before })
		return nil
	})
}

func (r *customerRepo) IncrementReferrals(_ context.Context, tx repository.Tx, id string) (int, error) {
	var n int
	err := r.s.with(tx, rankCustomer, func(undo func(func())) error {
		c, ok := r.s.customers[id]
		if !ok {
			return domain.ErrNotFound
		}
		c.SuccessfulReferralCount++
		n = c.SuccessfulReferralCount
		undo(func() { c.SuccessfulReferralCount-- })
		return nil
	})
	return n, err
}

func (r *customerRepo) ListExpiringPlans(_ context.Context, tx repository.Tx, now, before time.Time) ([]model.ExpiringPlan, error) {
	var out []model.ExpiringPlan
	err := r.s.with(tx, rankCustomer, func(func(func())) error {
		for _, c := range r.s.customers {
			for _, p := range c.ActivePlans {
				if p.ExpiryNotified || !p.ExpiresAt.After(now) || p.ExpiresAt.After(before) {
					continue
				}
				out = append(out, model.ExpiringPlan{CustomerID: c.ID, Plan: p})
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Plan.ExpiresAt.Before(out[j].Plan.ExpiresAt) })
	return out, err
}

func (r *customerRepo) SetPlanNotified(_ context.Context, tx repository.Tx, customerID, sourcePaymentID string, notified bool) (bool, error) {
	var ok bool
	err := r.s.with(tx, rankCustomer, func(undo func(func())) error {
		c, found := r.s.customers[customerID]
		if !found {
			return nil
		}
		for i := range c.ActivePlans {
			p := &c.ActivePlans[i]
			if p.SourcePaymentID != sourcePaymentID || p.ExpiryNotified == notified {
				continue
			}
			p.ExpiryNotified = notified
			idx := i
			undo(func() { c.ActivePlans[idx].ExpiryNotified = !notified })
			ok = true
			return nil
		}
		return nil
	})
	return ok, err
}
