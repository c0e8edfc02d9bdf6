package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"subscription-fulfillment/internal/config"
	"subscription-fulfillment/internal/domain/ports/adapter"
	"subscription-fulfillment/internal/infra/api"
	pg "subscription-fulfillment/internal/infra/db/postgres"
	"subscription-fulfillment/internal/infra/logging"
	"subscription-fulfillment/internal/infra/metrics"
	"subscription-fulfillment/internal/infra/payment"
	red "subscription-fulfillment/internal/infra/redis"
	"subscription-fulfillment/internal/infra/sched"
	"subscription-fulfillment/internal/infra/telegram"
	"subscription-fulfillment/internal/infra/web"
	"subscription-fulfillment/internal/infra/worker"
	"subscription-fulfillment/internal/usecase"
)

// set with -ldflags "-X main.version=… -X main.commit=…"
var (
	version = "dev"
	commit  = "none"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Info().Msg("[DEV MODE] enabled")
	}
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("exit")
		os.Exit(1)
	}
	logger.Info().Msg("stopped")
}

// run owns every resource with a deferred release; main only exits after it returns.
func run(cfg *config.Config, logger *zerolog.Logger) error {
	catalog, err := cfg.Catalog()
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- Stores ----
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open stores: %w", err)
	}
	defer st.Close()

	// ---- Gateway ----
	var gateway adapter.PaymentGateway
	var sandbox *payment.SandboxGateway
	switch cfg.Gateway.Kind {
	case "mercadopago":
		gateway = payment.NewMercadoPagoGateway(payment.MercadoPagoConfig{
			BaseURL:     cfg.Gateway.BaseURL,
			AccessToken: cfg.Gateway.AccessToken,
			Timeout:     cfg.Gateway.Timeout,
			RetryMax:    cfg.Gateway.RetryMax,
		}, logger)
	default:
		sandbox = payment.NewSandboxGateway()
		gateway = sandbox
		logger.Warn().Msg("sandbox gateway: charges settle only through /admin/sandbox")
	}

	// ---- Notifier ----
	var notifier adapter.Notifier
	if cfg.Bot.Token != "" {
		tn, err := telegram.NewNotifier(cfg.Bot.Token, logger)
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		notifier = tn
	} else {
		notifier = telegram.NewLogNotifier(logger)
	}
	notifyPool := worker.NewPool(cfg.Sched.NotifyWorkers, 256, logger)
	notifyPool.Start(context.Background())
	defer notifyPool.Stop()
	notifier = worker.NewAsyncNotifier(notifier, notifyPool, 15*time.Second, logger)

	// ---- Use cases ----
	clock := usecase.SystemClock()
	alerts := usecase.NewAlerter(notifier, cfg.Admin.ChatIDs, logger)
	inventory := usecase.NewInventoryStore(st.inventory, st.tm, catalog, clock, logger)
	pricing := usecase.NewPricingEngine(catalog, st.coupons, st.discounts, st.customers, cfg.Referral.ReferredDiscountPercent, clock, logger)
	ledger := usecase.NewPaymentLedger(st.payments, st.tm, catalog, gateway, alerts, clock, logger)
	fulfillment := usecase.NewFulfillmentCoordinator(st.tm, st.inventory, st.payments, st.customers, pricing, catalog, alerts, cfg.Referral.RewardEvery, clock, logger)
	reconciler := usecase.NewGatewayReconciler(ledger, fulfillment, gateway, alerts, usecase.ReconcilerConfig{
		NotificationURL: webhookURL(cfg.HTTP.PublicBaseURL),
		Description:     cfg.Gateway.Description,
		PayerEmail:      cfg.Gateway.PayerEmail,
	}, clock, logger)
	governor := usecase.NewSalesGovernor(st.sales, inventory, alerts, clock, logger)
	expiry := usecase.NewExpiryWatcher(st.customers, catalog, reconciler, fulfillment, alerts, cfg.Expiry.Threshold, clock, logger)
	checkout := usecase.NewCheckout(st.customers, pricing, ledger, reconciler, governor, catalog, clock, logger)
	admin := usecase.NewAdmin(governor, inventory, ledger, fulfillment, pricing, alerts, logger)

	inventory.AfterEnqueue(governor.OnRestock)
	inventory.AfterEnqueue(func(ctx context.Context, tier string) {
		if n, err := fulfillment.RetryTier(ctx, tier); err != nil {
			logger.Error().Err(err).Str("tier", tier).Msg("retry deliveries after restock")
		} else if n > 0 {
			logger.Info().Str("tier", tier).Int("delivered", n).Msg("queued deliveries completed")
		}
	})

	// ---- Workers ----
	var locker sched.Locker
	apiOpts := api.Options{
		APIToken:       cfg.HTTP.APIToken,
		WebhookSecret:  cfg.Gateway.WebhookSecret,
		RequestTimeout: cfg.HTTP.WriteTimeout,
	}
	if st.redis != nil {
		locker = red.NewLocker(st.redis)
		apiOpts.Limiter = red.NewRateLimiter(st.redis)
	}
	workers := []*sched.Worker{
		sched.NewGovernorWorker(governor, cfg.Sched.TickInterval, logger),
		sched.NewExpiryWorker(expiry, cfg.Sched.TickInterval, logger),
		sched.NewSweepWorker(expiry, cfg.Sched.SweepInterval, locker, cfg.Sched.LockTTL, logger),
	}

	// ---- HTTP ----
	publicSrv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      api.NewServer(checkout, reconciler, apiOpts, logger).Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	adminAPI := web.NewServer(admin, web.NewAuthManager(cfg.Admin.JWTSecret, cfg.Admin.APIKey, !cfg.Runtime.Dev, cfg.Admin.TokenTTL), logger)
	if sandbox != nil {
		adminAPI.WithSandbox(sandbox, reconciler)
	}
	adminSrv := &http.Server{
		Addr:         cfg.Admin.Addr,
		Handler:      adminAPI.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	var wg conc.WaitGroup
	for _, w := range workers {
		wg.Go(func() { _ = w.Run(ctx) })
	}
	if st.pool != nil {
		wg.Go(func() { pg.ReportPoolStats(ctx, st.pool, 15*time.Second) })
	}
	wg.Go(func() { serve(ctx, publicSrv, "public", logger) })
	wg.Go(func() { serve(ctx, adminSrv, "admin", logger) })

	logger.Info().
		Str("version", version).
		Str("database", cfg.Database.Driver).
		Str("gateway", gateway.Name()).
		Bool("redis", st.redis != nil).
		Strs("tiers", catalog.IDs()).
		Msg("started")

	<-ctx.Done()
	logger.Info().Msg("shutdown requested")
	if rec := wg.WaitAndRecover(); rec != nil {
		return fmt.Errorf("background goroutine panicked: %s", rec.String())
	}
	return nil
}

// serve runs srv until ctx ends, then drains in-flight requests.
func serve(ctx context.Context, srv *http.Server, name string, logger *zerolog.Logger) {
	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("server", name).Str("addr", srv.Addr).Msg("http listening")
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("server", name).Msg("http server failed")
		}
		return
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Str("server", name).Msg("http shutdown")
	}
}

func webhookURL(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return ""
	}
	return base + "/webhooks/gateway"
}
