//go:build !integration

package usecase_test

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"subscription-fulfillment/internal/domain/model"
	"subscription-fulfillment/internal/domain/ports/adapter"
	"subscription-fulfillment/internal/domain/ports/repository"
	"subscription-fulfillment/internal/infra/db/memory"
	"subscription-fulfillment/internal/usecase"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

// --- Clock ---

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// --- Gateway ---

type mockGateway struct {
	mu       sync.Mutex
	seq      int
	statuses map[string]adapter.GatewayStatus
	created  []adapter.ChargeRequest
	cancels  []string
	polls    []string

	CreateChargeFunc func(ctx context.Context, req adapter.ChargeRequest) (*adapter.Charge, error)
	GetStatusErr     error
}

func newMockGateway() *mockGateway {
	return &mockGateway{statuses: map[string]adapter.GatewayStatus{}}
}

func (g *mockGateway) Name() string { return "mock" }

func (g *mockGateway) CreateCharge(ctx context.Context, req adapter.ChargeRequest) (*adapter.Charge, error) {
	if g.CreateChargeFunc != nil {
		return g.CreateChargeFunc(ctx, req)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	ref := fmt.Sprintf("mp-%d", g.seq)
	g.statuses[ref] = adapter.GatewayPending
	g.created = append(g.created, req)
	return &adapter.Charge{Ref: ref, DisplayPayload: "qr-" + ref, Status: adapter.GatewayPending}, nil
}

func (g *mockGateway) GetStatus(_ context.Context, ref string) (adapter.GatewayStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.polls = append(g.polls, ref)
	if g.GetStatusErr != nil {
		return "", g.GetStatusErr
	}
	st, ok := g.statuses[ref]
	if !ok {
		return "", fmt.Errorf("unknown ref %s", ref)
	}
	return st, nil
}

func (g *mockGateway) Cancel(_ context.Context, ref string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancels = append(g.cancels, ref)
	g.statuses[ref] = adapter.GatewayCancelled
	return nil
}

func (g *mockGateway) set(ref string, st adapter.GatewayStatus) {
	g.mu.Lock()
	g.statuses[ref] = st
	g.mu.Unlock()
}

func (g *mockGateway) cancelled() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.cancels...)
}

// --- Notifier ---

type sentMessage struct {
	To   string
	Text string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error // returned instead of recording while set
}

func (n *recordingNotifier) Notify(_ context.Context, to, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentMessage{To: to, Text: text})
	return nil
}

func (n *recordingNotifier) failWith(err error) {
	n.mu.Lock()
	n.err = err
	n.mu.Unlock()
}

func (n *recordingNotifier) to(id string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, m := range n.sent {
		if m.To == id {
			out = append(out, m.Text)
		}
	}
	return out
}

func (n *recordingNotifier) containing(id, substr string) int {
	c := 0
	for _, t := range n.to(id) {
		if strings.Contains(t, substr) {
			c++
		}
	}
	return c
}

// --- Wiring ---

const adminID = "admin-1"

type env struct {
	clock    *fakeClock
	gateway  *mockGateway
	notifier *recordingNotifier
	store    *memory.Store
	catalog  *model.Catalog

	payments  repository.PaymentRepository
	customers repository.CustomerRepository
	coupons   repository.CouponRepository
	discounts repository.SeasonalDiscountRepository
	invRepo   repository.InventoryRepository

	inventory   *usecase.InventoryStore
	pricing     *usecase.PricingEngine
	ledger      *usecase.PaymentLedger
	fulfillment *usecase.FulfillmentCoordinator
	reconciler  *usecase.GatewayReconciler
	governor    *usecase.SalesGovernor
	expiry      *usecase.ExpiryWatcher
	checkout    *usecase.Checkout
	admin       *usecase.Admin
}

func testCatalog(t *testing.T) *model.Catalog {
	t.Helper()
	mk := func(id, name string, days int, first, regular string, eligible bool) model.Tier {
		tier, err := model.NewTier(id, name, days, decimal.RequireFromString(first), decimal.RequireFromString(regular), eligible)
		if err != nil {
			t.Fatalf("NewTier(%s): %v", id, err)
		}
		return tier
	}
	return model.NewCatalog(
		mk("30d", "Monthly", 30, "9.00", "20.00", true),
		mk("6m", "Semiannual", 180, "40.00", "50.00", true),
		mk("1y", "Yearly", 365, "0", "110.00", false),
	)
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log := newTestLogger()
	e := &env{
		clock:    newFakeClock(),
		gateway:  newMockGateway(),
		notifier: &recordingNotifier{},
		store:    memory.New(),
		catalog:  testCatalog(t),
	}
	e.payments = memory.NewPaymentRepo(e.store)
	e.customers = memory.NewCustomerRepo(e.store)
	e.coupons = memory.NewCouponRepo(e.store)
	e.discounts = memory.NewSeasonalDiscountRepo(e.store)
	e.invRepo = memory.NewInventoryRepo(e.store)

	alerts := usecase.NewAlerter(e.notifier, []string{adminID}, log)
	e.inventory = usecase.NewInventoryStore(e.invRepo, e.store, e.catalog, e.clock, log)
	e.pricing = usecase.NewPricingEngine(e.catalog, e.coupons, e.discounts, e.customers, 5, e.clock, log)
	e.ledger = usecase.NewPaymentLedger(e.payments, e.store, e.catalog, e.gateway, alerts, e.clock, log)
	e.fulfillment = usecase.NewFulfillmentCoordinator(e.store, e.invRepo, e.payments, e.customers, e.pricing, e.catalog, alerts, 3, e.clock, log)
	e.reconciler = usecase.NewGatewayReconciler(e.ledger, e.fulfillment, e.gateway, alerts, usecase.ReconcilerConfig{}, e.clock, log)
	e.governor = usecase.NewSalesGovernor(memory.NewSalesControlRepo(), e.inventory, alerts, e.clock, log)
	e.expiry = usecase.NewExpiryWatcher(e.customers, e.catalog, e.reconciler, e.fulfillment, alerts, 72*time.Hour, e.clock, log)
	e.checkout = usecase.NewCheckout(e.customers, e.pricing, e.ledger, e.reconciler, e.governor, e.catalog, e.clock, log)
	e.admin = usecase.NewAdmin(e.governor, e.inventory, e.ledger, e.fulfillment, e.pricing, alerts, log)

	e.inventory.AfterEnqueue(e.governor.OnRestock)
	e.inventory.AfterEnqueue(func(ctx context.Context, tier string) { _, _ = e.fulfillment.RetryTier(ctx, tier) })
	return e
}

func (e *env) stock(t *testing.T, tier string, n int) {
	t.Helper()
	payloads := make([]string, n)
	for i := range payloads {
		payloads[i] = fmt.Sprintf("%s-user%d:secret", tier, i)
	}
	if _, err := e.inventory.EnqueueBatch(context.Background(), tier, payloads); err != nil {
		t.Fatalf("EnqueueBatch: %v", err)
	}
}

// approvedPayment creates a customer and an approved payment for tier.
func (e *env) approvedPayment(t *testing.T, customerID, tier string) *model.Payment {
	t.Helper()
	ctx := context.Background()
	p, _, err := e.checkout.StartPurchase(ctx, customerID, tier, "")
	if err != nil {
		t.Fatalf("StartPurchase: %v", err)
	}
	ok, err := e.ledger.Transition(ctx, p.ID, model.PaymentStatusPending, model.PaymentStatusApproved)
	if err != nil || !ok {
		t.Fatalf("Transition to approved: ok=%v err=%v", ok, err)
	}
	return p
}

func (e *env) mustPayment(t *testing.T, id string) *model.Payment {
	t.Helper()
	p, err := e.ledger.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get payment %s: %v", id, err)
	}
	return p
}

func (e *env) mustCustomer(t *testing.T, id string) *model.Customer {
	t.Helper()
	c, err := e.customers.FindByID(context.Background(), repository.NoTX, id)
	if err != nil {
		t.Fatalf("FindByID customer %s: %v", id, err)
	}
	return c
}

// returningCustomer stores a customer that already bought once.
func (e *env) returningCustomer(t *testing.T, id, referredBy string) *model.Customer {
	t.Helper()
	c, err := model.NewCustomer(id, referredBy, e.clock.Now())
	if err != nil {
		t.Fatalf("NewCustomer: %v", err)
	}
	c.FirstPurchase = false
	if err := e.customers.Create(context.Background(), repository.NoTX, c); err != nil {
		t.Fatalf("Create customer: %v", err)
	}
	return c
}

func (e *env) coupon(t *testing.T, in usecase.CouponInput) *model.Coupon {
	t.Helper()
	if in.DiscountType == "" {
		in.DiscountType = model.DiscountPercent
	}
	if in.MaxTotalUses == 0 {
		in.MaxTotalUses = 100
	}
	if in.MaxUsesPerCustomer == 0 {
		in.MaxUsesPerCustomer = 1
	}
	c, err := e.pricing.AddCoupon(context.Background(), in)
	if err != nil {
		t.Fatalf("AddCoupon: %v", err)
	}
	return c
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }
