//go:build !integration

package api_test

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog"

	"subscription-fulfillment/internal/domain/model"
	"subscription-fulfillment/internal/usecase"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

type mockCheckout struct {
	RegisterFunc      func(ctx context.Context, customerID, referredBy string) (*model.Customer, error)
	GetCustomerFunc   func(ctx context.Context, customerID string) (*model.Customer, error)
	PreviewFunc       func(ctx context.Context, customerID, tier, couponCode string) (*usecase.PriceBreakdown, error)
	StartFunc         func(ctx context.Context, customerID, tier, couponCode string) (*model.Payment, *usecase.PriceBreakdown, error)
	PayFunc           func(ctx context.Context, customerID, paymentID, payerName string) (*usecase.ChargeResult, error)
	ManualFunc        func(ctx context.Context, customerID, paymentID, payerName string) (*model.Payment, error)
	CancelFunc        func(ctx context.Context, customerID, paymentID string) error
	StatusFunc        func(ctx context.Context, customerID, paymentID string) (*model.Payment, error)
	ActivePaymentFunc func(ctx context.Context, customerID string) (*model.Payment, error)
	TiersFunc         func() []model.Tier
}

func (m *mockCheckout) RegisterCustomer(ctx context.Context, customerID, referredBy string) (*model.Customer, error) {
	return m.RegisterFunc(ctx, customerID, referredBy)
}

func (m *mockCheckout) GetCustomer(ctx context.Context, customerID string) (*model.Customer, error) {
	return m.GetCustomerFunc(ctx, customerID)
}

func (m *mockCheckout) Preview(ctx context.Context, customerID, tier, couponCode string) (*usecase.PriceBreakdown, error) {
	return m.PreviewFunc(ctx, customerID, tier, couponCode)
}

func (m *mockCheckout) StartPurchase(ctx context.Context, customerID, tier, couponCode string) (*model.Payment, *usecase.PriceBreakdown, error) {
	return m.StartFunc(ctx, customerID, tier, couponCode)
}

func (m *mockCheckout) PayWithGateway(ctx context.Context, customerID, paymentID, payerName string) (*usecase.ChargeResult, error) {
	return m.PayFunc(ctx, customerID, paymentID, payerName)
}

func (m *mockCheckout) SubmitManualTransfer(ctx context.Context, customerID, paymentID, payerName string) (*model.Payment, error) {
	return m.ManualFunc(ctx, customerID, paymentID, payerName)
}

func (m *mockCheckout) Cancel(ctx context.Context, customerID, paymentID string) error {
	return m.CancelFunc(ctx, customerID, paymentID)
}

func (m *mockCheckout) PaymentStatus(ctx context.Context, customerID, paymentID string) (*model.Payment, error) {
	return m.StatusFunc(ctx, customerID, paymentID)
}

func (m *mockCheckout) ActivePayment(ctx context.Context, customerID string) (*model.Payment, error) {
	return m.ActivePaymentFunc(ctx, customerID)
}

func (m *mockCheckout) Tiers() []model.Tier {
	if m.TiersFunc == nil {
		return nil
	}
	return m.TiersFunc()
}

type mockWebhooks struct {
	events []usecase.WebhookEvent
	err    error
}

func (m *mockWebhooks) HandleWebhook(_ context.Context, ev usecase.WebhookEvent) error {
	m.events = append(m.events, ev)
	return m.err
}

type mockLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (m *mockLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	m.keys = append(m.keys, key)
	return m.allow, m.err
}
