package usecase

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"subscription-fulfillment/internal/domain/model"
	"subscription-fulfillment/internal/domain/ports/repository"
	"subscription-fulfillment/internal/infra/metrics"
)

// Compile-time check
var _ GovernorUseCase = (*SalesGovernor)(nil)

type GovernorUseCase interface {
	Tick(ctx context.Context) error
	OnRestock(ctx context.Context, tier string)
	// Toggle flips between Enabled and SuspendedHard and returns the new state.
	Toggle(ctx context.Context) (model.SalesState, error)
	SalesOpen(ctx context.Context) (bool, error)
	State(ctx context.Context) (model.SalesControl, error)
}

// SalesGovernor suspends sales when stock runs out and resumes them on restock.
type SalesGovernor struct {
	state     repository.SalesControlRepository
	inventory InventoryUseCase
	alerts    *Alerter
	clock     Clock
	log       *zerolog.Logger
}

func NewSalesGovernor(state repository.SalesControlRepository, inventory InventoryUseCase, alerts *Alerter, clock Clock, logger *zerolog.Logger) *SalesGovernor {
	return &SalesGovernor{
		state:     state,
		inventory: inventory,
		alerts:    alerts,
		clock:     orSystem(clock),
		log:       componentLogger(logger, "governor"),
	}
}

var allSalesStates = []string{string(model.SalesEnabled), string(model.SalesSuspended), string(model.SalesSuspendedHard)}

// Tick applies the stock-driven edges:
//
//	Enabled, no stock              -> Suspended (grace period starts, one alert)
//	Suspended, no stock, past grace -> SuspendedHard (alert)
//	Suspended, stock again          -> Enabled
func (g *SalesGovernor) Tick(ctx context.Context) error {
	cur, err := g.state.Load(ctx)
	if err != nil {
		return err
	}
	total, err := g.inventory.CountAll(ctx)
	if err != nil {
		return err
	}
	now := g.clock.Now()
	metrics.SetSalesState(string(cur.State), allSalesStates...)

	switch {
	case cur.State == model.SalesEnabled && total == 0:
		deadline := now.Add(model.SalesGracePeriod)
		next := model.SalesControl{State: model.SalesSuspended, SuspendedSince: &now, HardDeadline: &deadline, UpdatedAt: now}
		if ok, err := g.swap(ctx, cur.State, next); err != nil || !ok {
			return err
		}
		g.log.Warn().Time("hard_deadline", deadline).Msg("inventory empty, sales suspended")
		g.alerts.Admins(ctx, fmt.Sprintf("Inventory is empty. New sales stop at %s unless credentials are added.", deadline.Format("15:04 MST")))

	case cur.State == model.SalesSuspended && total == 0 && cur.HardDeadline != nil && !now.Before(*cur.HardDeadline):
		next := model.SalesControl{State: model.SalesSuspendedHard, SuspendedSince: cur.SuspendedSince, UpdatedAt: now}
		if ok, err := g.swap(ctx, cur.State, next); err != nil || !ok {
			return err
		}
		g.log.Warn().Msg("grace period over, sales hard-suspended")
		g.alerts.Admins(ctx, "Sales are now suspended: inventory stayed empty through the grace period.")

	case cur.State == model.SalesSuspended && total > 0:
		if ok, err := g.swap(ctx, cur.State, model.SalesControl{State: model.SalesEnabled, UpdatedAt: now}); err != nil || !ok {
			return err
		}
		g.log.Info().Int("stock", total).Msg("stock back, sales enabled")
	}
	return nil
}

// OnRestock is bound to the inventory's AfterEnqueue hook; any restock reopens sales.
func (g *SalesGovernor) OnRestock(ctx context.Context, tier string) {
	cur, err := g.state.Load(ctx)
	if err != nil {
		g.log.Error().Err(err).Msg("load sales state on restock")
		return
	}
	if cur.State == model.SalesEnabled {
		return
	}
	ok, err := g.swap(ctx, cur.State, model.SalesControl{State: model.SalesEnabled, UpdatedAt: g.clock.Now()})
	if err != nil {
		g.log.Error().Err(err).Msg("resume sales on restock")
		return
	}
	if ok {
		g.log.Info().Str("tier", tier).Str("previous", string(cur.State)).Msg("sales resumed after restock")
		g.alerts.Admins(ctx, fmt.Sprintf("Credentials added for %s. Sales resumed.", tier))
	}
}

func (g *SalesGovernor) Toggle(ctx context.Context) (model.SalesState, error) {
	cur, err := g.state.Load(ctx)
	if err != nil {
		return "", err
	}
	next := model.SalesControl{State: model.SalesEnabled, UpdatedAt: g.clock.Now()}
	if cur.State == model.SalesEnabled {
		now := g.clock.Now()
		next = model.SalesControl{State: model.SalesSuspendedHard, SuspendedSince: &now, UpdatedAt: now}
	}
	ok, err := g.swap(ctx, cur.State, next)
	if err != nil {
		return "", err
	}
	if !ok {
		// lost a race with a tick or another admin; report what is stored now
		latest, err := g.state.Load(ctx)
		if err != nil {
			return "", err
		}
		return latest.State, nil
	}
	g.log.Info().Str("from", string(cur.State)).Str("to", string(next.State)).Msg("sales toggled by admin")
	return next.State, nil
}

func (g *SalesGovernor) SalesOpen(ctx context.Context) (bool, error) {
	cur, err := g.state.Load(ctx)
	if err != nil {
		return false, err
	}
	return cur.Enabled(), nil
}

func (g *SalesGovernor) State(ctx context.Context) (model.SalesControl, error) {
	return g.state.Load(ctx)
}

func (g *SalesGovernor) swap(ctx context.Context, expected model.SalesState, next model.SalesControl) (bool, error) {
	ok, err := g.state.Swap(ctx, expected, next)
	if err != nil {
		return false, err
	}
	if ok {
		metrics.SetSalesState(string(next.State), allSalesStates...)
	}
	return ok, nil
}
