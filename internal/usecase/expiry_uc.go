package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"subscription-fulfillment/internal/domain/model"
	"subscription-fulfillment/internal/domain/ports/repository"
	ucport "subscription-fulfillment/internal/domain/ports/usecase"
)

var (
	_ ucport.Ticker  = (*ExpiryWatcher)(nil)
	_ ucport.Sweeper = (*ExpiryWatcher)(nil)
)

// ExpiryWatcher warns customers about plans close to expiry and drives the
// periodic reconcile sweep.
type ExpiryWatcher struct {
	customers   repository.CustomerRepository
	catalog     *model.Catalog
	reconciler  ReconcilerUseCase
	fulfillment FulfillmentUseCase
	alerts      *Alerter
	threshold   time.Duration
	clock       Clock
	log         *zerolog.Logger
}

func NewExpiryWatcher(
	customers repository.CustomerRepository,
	catalog *model.Catalog,
	reconciler ReconcilerUseCase,
	fulfillment FulfillmentUseCase,
	alerts *Alerter,
	threshold time.Duration,
	clock Clock,
	logger *zerolog.Logger,
) *ExpiryWatcher {
	if threshold <= 0 {
		threshold = 72 * time.Hour
	}
	return &ExpiryWatcher{
		customers:   customers,
		catalog:     catalog,
		reconciler:  reconciler,
		fulfillment: fulfillment,
		alerts:      alerts,
		threshold:   threshold,
		clock:       orSystem(clock),
		log:         componentLogger(logger, "expiry"),
	}
}

// Tick marks each expiring plan notified before messaging, so a plan is
// announced at most once even with several replicas. A failed send clears the
// mark and the plan is retried on the next tick.
func (w *ExpiryWatcher) Tick(ctx context.Context) error {
	now := w.clock.Now()
	plans, err := w.customers.ListExpiringPlans(ctx, repository.NoTX, now, now.Add(w.threshold))
	if err != nil {
		return err
	}
	sent := 0
	for _, ep := range plans {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ok, err := w.customers.SetPlanNotified(ctx, repository.NoTX, ep.CustomerID, ep.Plan.SourcePaymentID, true)
		if err != nil {
			w.log.Error().Err(err).Str("customer_id", ep.CustomerID).Msg("mark plan notified")
			continue
		}
		if !ok {
			continue
		}
		if err := w.alerts.Customer(ctx, ep.CustomerID, w.expiryMessage(ep.Plan, now)); err != nil {
			w.log.Warn().Err(err).Str("customer_id", ep.CustomerID).Msg("expiry notice not delivered")
			if _, err := w.customers.SetPlanNotified(ctx, repository.NoTX, ep.CustomerID, ep.Plan.SourcePaymentID, false); err != nil {
				w.log.Error().Err(err).Str("customer_id", ep.CustomerID).Msg("clear plan notified")
			}
			continue
		}
		sent++
	}
	if sent > 0 {
		w.log.Info().Int("sent", sent).Msg("expiry notices sent")
	}
	return nil
}

func (w *ExpiryWatcher) expiryMessage(p model.ActivePlan, now time.Time) string {
	name := p.Tier
	if t, err := w.catalog.Get(p.Tier); err == nil {
		name = t.Name
	}
	days := int(math.Ceil(p.ExpiresAt.Sub(now).Hours() / 24))
	return fmt.Sprintf("Your %s plan expires in %d day(s), on %s. Renew to keep your access.",
		name, days, p.ExpiresAt.Format("2006-01-02"))
}

// Sweep runs poll, expire and delivery retry; one step failing does not stop the rest.
func (w *ExpiryWatcher) Sweep(ctx context.Context) error {
	var errs []error
	if n, err := w.reconciler.PollPending(ctx); err != nil {
		w.log.Error().Err(err).Msg("sweep: poll pending")
		errs = append(errs, err)
	} else if n > 0 {
		w.log.Info().Int("applied", n).Msg("sweep: polled statuses applied")
	}
	if n, err := w.reconciler.ExpireStale(ctx); err != nil {
		w.log.Error().Err(err).Msg("sweep: expire stale")
		errs = append(errs, err)
	} else if n > 0 {
		w.log.Info().Int("expired", n).Msg("sweep: stale payments expired")
	}
	if _, err := w.fulfillment.RetryUndelivered(ctx); err != nil {
		w.log.Error().Err(err).Msg("sweep: retry undelivered")
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
