//go:build !integration

package web

import (
	"context"
	"io"

	"github.com/rs/zerolog"

	"subscription-fulfillment/internal/domain/model"
	"subscription-fulfillment/internal/domain/ports/adapter"
	"subscription-fulfillment/internal/usecase"
)

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// --- Mock use cases ---

type mockAdmin struct {
	usecase.AdminUseCase // unset methods panic

	ToggleFunc     func(ctx context.Context) (model.SalesState, error)
	SalesStateFunc func(ctx context.Context) (model.SalesControl, error)
	AddCredFunc    func(ctx context.Context, tier, payload string) (*model.Credential, error)
	AddCredsFunc   func(ctx context.Context, tier string, payloads []string) (int, error)
	CountsFunc     func(ctx context.Context) (map[string]int, error)
	PendingFunc    func(ctx context.Context) ([]*model.Payment, error)
	ApproveFunc    func(ctx context.Context, id string) (*usecase.Delivery, error)
	RejectFunc     func(ctx context.Context, id string) error
	GetPaymentFunc func(ctx context.Context, id string) (*model.Payment, error)
	PricingUC      *mockPricing
}

func (m *mockAdmin) ToggleSales(ctx context.Context) (model.SalesState, error) { return m.ToggleFunc(ctx) }
func (m *mockAdmin) SalesState(ctx context.Context) (model.SalesControl, error) {
	return m.SalesStateFunc(ctx)
}
func (m *mockAdmin) AddCredential(ctx context.Context, tier, payload string) (*model.Credential, error) {
	return m.AddCredFunc(ctx, tier, payload)
}
func (m *mockAdmin) AddCredentials(ctx context.Context, tier string, payloads []string) (int, error) {
	return m.AddCredsFunc(ctx, tier, payloads)
}
func (m *mockAdmin) InventoryCounts(ctx context.Context) (map[string]int, error) {
	return m.CountsFunc(ctx)
}
func (m *mockAdmin) PendingApprovals(ctx context.Context) ([]*model.Payment, error) {
	return m.PendingFunc(ctx)
}
func (m *mockAdmin) ApprovePayment(ctx context.Context, id string) (*usecase.Delivery, error) {
	return m.ApproveFunc(ctx, id)
}
func (m *mockAdmin) RejectPayment(ctx context.Context, id string) error { return m.RejectFunc(ctx, id) }
func (m *mockAdmin) GetPayment(ctx context.Context, id string) (*model.Payment, error) {
	return m.GetPaymentFunc(ctx, id)
}
func (m *mockAdmin) Pricing() usecase.PricingUseCase { return m.PricingUC }

type mockPricing struct {
	usecase.PricingUseCase

	AddCouponFunc   func(ctx context.Context, in usecase.CouponInput) (*model.Coupon, error)
	ListCouponsFunc func(ctx context.Context) ([]*model.Coupon, error)
	DeleteFunc      func(ctx context.Context, code string) error
	AddSeasonalFunc func(ctx context.Context, percent, days int, plans []string) (*model.SeasonalDiscount, error)
}

func (m *mockPricing) AddCoupon(ctx context.Context, in usecase.CouponInput) (*model.Coupon, error) {
	return m.AddCouponFunc(ctx, in)
}
func (m *mockPricing) ListCoupons(ctx context.Context) ([]*model.Coupon, error) {
	return m.ListCouponsFunc(ctx)
}
func (m *mockPricing) DeleteCoupon(ctx context.Context, code string) error {
	return m.DeleteFunc(ctx, code)
}
func (m *mockPricing) AddSeasonalDiscount(ctx context.Context, percent, days int, plans []string) (*model.SeasonalDiscount, error) {
	return m.AddSeasonalFunc(ctx, percent, days, plans)
}

type mockSettler struct {
	settled map[string]adapter.GatewayStatus
	err     error
}

func (m *mockSettler) Settle(ref string, st adapter.GatewayStatus) error {
	if m.err != nil {
		return m.err
	}
	if m.settled == nil {
		m.settled = map[string]adapter.GatewayStatus{}
	}
	m.settled[ref] = st
	return nil
}

type mockWebhooks struct {
	events []usecase.WebhookEvent
}

func (m *mockWebhooks) HandleWebhook(_ context.Context, ev usecase.WebhookEvent) error {
	m.events = append(m.events, ev)
	return nil
}
