package memory

import (
	"context"
	"sync"

	"subscription-fulfillment/internal/domain/model"
	"subscription-fulfillment/internal/domain/ports/repository"
)

var _ repository.SalesControlRepository = (*SalesControlRepo)(nil)

// SalesControlRepo keeps the sales switch for a single process. It is outside
// the ranked collections because no transaction touches it.
type SalesControlRepo struct {
	mu    sync.Mutex
	state model.SalesControl
}

func NewSalesControlRepo() *SalesControlRepo {
	return &SalesControlRepo{state: model.DefaultSalesControl()}
}

func (r *SalesControlRepo) Load(context.Context) (model.SalesControl, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, nil
}

func (r *SalesControlRepo) Swap(_ context.Context, expected model.SalesState, next model.SalesControl) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.State != expected {
		return false, nil
	}
	r.state = next
	return true, nil
}
