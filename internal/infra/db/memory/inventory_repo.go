package memory

import (
	"context"

	"subscription-fulfillment/internal/domain"
	"subscription-fulfillment/internal/domain/model"
	"subscription-fulfillment/internal/domain/ports/repository"
)

var _ repository.InventoryRepository = (*inventoryRepo)(nil)

type inventoryRepo struct{ s *Store }

func NewInventoryRepo(s *Store) *inventoryRepo {
	return &inventoryRepo{s: s}
}

func (r *inventoryRepo) Enqueue(_ context.Context, tx repository.Tx, c *model.Credential) error {
	if c == nil || c.Tier == "" {
		return domain.ErrInvalidArgument
	}
	cp := *c
	return r.s.with(tx, rankInventory, func(undo func(func())) error {
		r.s.queues[cp.Tier] = append(r.s.queues[cp.Tier], &cp)
		undo(func() { r.s.queues[cp.Tier] = removeByID(r.s.queues[cp.Tier], cp.ID) })
		return nil
	})
}

func (r *inventoryRepo) Requeue(_ context.Context, tx repository.Tx, c *model.Credential) error {
	if c == nil || c.Tier == "" {
		return domain.ErrInvalidArgument
	}
	cp := *c
	return r.s.with(tx, rankInventory, func(undo func(func())) error {
		q := r.s.queues[cp.Tier]
		r.s.queues[cp.Tier] = append([]*model.Credential{&cp}, q...)
		undo(func() { r.s.queues[cp.Tier] = removeByID(r.s.queues[cp.Tier], cp.ID) })
		return nil
	})
}

func (r *inventoryRepo) TryDequeue(_ context.Context, tx repository.Tx, tier string) (*model.Credential, error) {
	var out *model.Credential
	err := r.s.with(tx, rankInventory, func(undo func(func())) error {
		q := r.s.queues[tier]
		if len(q) == 0 {
			return domain.ErrOutOfStock
		}
		head := q[0]
		r.s.queues[tier] = q[1:]
		undo(func() {
			r.s.queues[tier] = append([]*model.Credential{head}, r.s.queues[tier]...)
		})
		cp := *head
		out = &cp
		return nil
	})
	return out, err
}

func (r *inventoryRepo) Count(_ context.Context, tx repository.Tx, tier string) (int, error) {
	var n int
	err := r.s.with(tx, rankInventory, func(func(func())) error {
		n = len(r.s.queues[tier])
		return nil
	})
	return n, err
}

func (r *inventoryRepo) Counts(_ context.Context, tx repository.Tx) (map[string]int, error) {
	out := make(map[string]int)
	err := r.s.with(tx, rankInventory, func(func(func())) error {
		for tier, q := range r.s.queues {
			if len(q) > 0 {
				out[tier] = len(q)
			}
		}
		return nil
	})
	return out, err
}

func removeByID(q []*model.Credential, id string) []*model.Credential {
	for i, c := range q {
		if c.ID == id {
			return append(q[:i:i], q[i+1:]...)
		}
	}
	return q
}
