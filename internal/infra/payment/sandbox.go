package payment

import (
	"context"
	"fmt"
	"sync"

	"subscription-fulfillment/internal/domain"
	"subscription-fulfillment/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*SandboxGateway)(nil)

// SandboxGateway keeps charges in memory. Operators settle them through Settle,
// which the admin surface exposes when this gateway is configured.
type SandboxGateway struct {
	mu      sync.Mutex
	seq     int64
	charges map[string]adapter.GatewayStatus
	keys    map[string]string // idempotency key -> ref
}

func NewSandboxGateway() *SandboxGateway {
	return &SandboxGateway{
		charges: make(map[string]adapter.GatewayStatus),
		keys:    make(map[string]string),
	}
}

func (g *SandboxGateway) Name() string { return "sandbox" }

func (g *SandboxGateway) CreateCharge(_ context.Context, req adapter.ChargeRequest) (*adapter.Charge, error) {
	if req.IdempotencyKey == "" || !req.Amount.IsPositive() {
		return nil, domain.ErrInvalidArgument
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	ref, ok := g.keys[req.IdempotencyKey]
	if !ok {
		g.seq++
		ref = fmt.Sprintf("sbx-%d", g.seq)
		g.keys[req.IdempotencyKey] = ref
		g.charges[ref] = adapter.GatewayPending
	}
	return &adapter.Charge{
		Ref:            ref,
		DisplayPayload: fmt.Sprintf("SANDBOX|%s|%s", ref, req.Amount.StringFixed(2)),
		Status:         g.charges[ref],
	}, nil
}

func (g *SandboxGateway) GetStatus(_ context.Context, ref string) (adapter.GatewayStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.charges[ref]
	if !ok {
		return "", domain.ErrNotFound
	}
	return st, nil
}

func (g *SandboxGateway) Cancel(_ context.Context, ref string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.charges[ref]
	if !ok {
		return domain.ErrNotFound
	}
	if st == adapter.GatewayPending {
		g.charges[ref] = adapter.GatewayCancelled
	}
	return nil
}

// Settle moves a pending charge to st.
func (g *SandboxGateway) Settle(ref string, st adapter.GatewayStatus) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	cur, ok := g.charges[ref]
	if !ok {
		return domain.ErrNotFound
	}
	if cur != adapter.GatewayPending {
		return domain.ErrInvalidState
	}
	g.charges[ref] = st
	return nil
}
