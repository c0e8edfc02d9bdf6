package memory

import (
	"context"
	"sort"
	"time"

	"subscription-fulfillment/internal/domain"
	"subscription-fulfillment/internal/domain/model"
	"subscription-fulfillment/internal/domain/ports/repository"
)

var (
	_ repository.CouponRepository           = (*couponRepo)(nil)
	_ repository.SeasonalDiscountRepository = (*discountRepo)(nil)
)

type couponRepo struct{ s *Store }

func NewCouponRepo(s *Store) *couponRepo {
	return &couponRepo{s: s}
}

func (r *couponRepo) Create(_ context.Context, tx repository.Tx, c *model.Coupon) error {
	if c == nil || c.Code == "" {
		return domain.ErrInvalidArgument
	}
	cp := c.Clone()
	return r.s.with(tx, rankCoupon, func(undo func(func())) error {
		if _, ok := r.s.coupons[cp.Code]; ok {
			return domain.ErrAlreadyExists
		}
		r.s.coupons[cp.Code] = cp
		undo(func() { delete(r.s.coupons, cp.Code) })
		return nil
	})
}

func (r *couponRepo) FindByCode(_ context.Context, tx repository.Tx, code string) (*model.Coupon, error) {
	var out *model.Coupon
	err := r.s.with(tx, rankCoupon, func(func(func())) error {
		c, ok := r.s.coupons[code]
		if !ok {
			return domain.ErrNotFound
		}
		out = c.Clone()
		return nil
	})
	return out, err
}

func (r *couponRepo) Delete(_ context.Context, tx repository.Tx, code string) error {
	return r.s.with(tx, rankCoupon, func(undo func(func())) error {
		c, ok := r.s.coupons[code]
		if !ok {
			return domain.ErrNotFound
		}
		delete(r.s.coupons, code)
		undo(func() { r.s.coupons[code] = c })
		return nil
	})
}

func (r *couponRepo) List(_ context.Context, tx repository.Tx) ([]*model.Coupon, error) {
	var out []*model.Coupon
	err := r.s.with(tx, rankCoupon, func(func(func())) error {
		for _, c := range r.s.coupons {
			out = append(out, c.Clone())
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, err
}

func (r *couponRepo) Redeem(_ context.Context, tx repository.Tx, code, customerID, paymentID string, _ time.Time) (bool, error) {
	var ok bool
	err := r.s.with(tx, rankCoupon, func(undo func(func())) error {
		if _, done := r.s.redemptions[paymentID]; done {
			ok = true
			return nil
		}
		c, found := r.s.coupons[code]
		if !found {
			return domain.ErrNotFound
		}
		if !c.CanCommit(customerID) {
			return nil
		}
		c.TotalUses++
		c.UsageHistory[customerID]++
		r.s.redemptions[paymentID] = code
		undo(func() {
			c.TotalUses--
			c.UsageHistory[customerID]--
			delete(r.s.redemptions, paymentID)
		})
		ok = true
		return nil
	})
	return ok, err
}

type discountRepo struct{ s *Store }

func NewSeasonalDiscountRepo(s *Store) *discountRepo {
	return &discountRepo{s: s}
}

func (r *discountRepo) Create(_ context.Context, tx repository.Tx, d *model.SeasonalDiscount) error {
	if d == nil || d.ID == "" {
		return domain.ErrInvalidArgument
	}
	cp := *d
	cp.ApplicablePlans = append([]string(nil), d.ApplicablePlans...)
	return r.s.with(tx, rankDiscount, func(undo func(func())) error {
		if _, ok := r.s.discounts[cp.ID]; ok {
			return domain.ErrAlreadyExists
		}
		r.s.discounts[cp.ID] = &cp
		undo(func() { delete(r.s.discounts, cp.ID) })
		return nil
	})
}

func (r *discountRepo) Delete(_ context.Context, tx repository.Tx, id string) error {
	return r.s.with(tx, rankDiscount, func(undo func(func())) error {
		d, ok := r.s.discounts[id]
		if !ok {
			return domain.ErrNotFound
		}
		delete(r.s.discounts, id)
		undo(func() { r.s.discounts[id] = d })
		return nil
	})
}

func (r *discountRepo) ListActive(_ context.Context, tx repository.Tx, now time.Time) ([]*model.SeasonalDiscount, error) {
	var out []*model.SeasonalDiscount
	err := r.s.with(tx, rankDiscount, func(func(func())) error {
		for _, d := range r.s.discounts {
			if now.Before(d.ExpiresAt) {
				cp := *d
				out = append(out, &cp)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}
