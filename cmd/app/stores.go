package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"subscription-fulfillment/internal/config"
	"subscription-fulfillment/internal/domain/ports/repository"
	"subscription-fulfillment/internal/infra/db/memory"
	pg "subscription-fulfillment/internal/infra/db/postgres"
	red "subscription-fulfillment/internal/infra/redis"
	"subscription-fulfillment/internal/infra/security"
)

type stores struct {
	tm        repository.TransactionManager
	payments  repository.PaymentRepository
	customers repository.CustomerRepository
	coupons   repository.CouponRepository
	discounts repository.SeasonalDiscountRepository
	inventory repository.InventoryRepository
	sales     repository.SalesControlRepository

	pool  *pgxpool.Pool // nil for the memory driver
	redis *red.Client   // nil when redis.url is empty
}

func (s *stores) Close() {
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

func openStores(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*stores, error) {
	s := &stores{}
	switch cfg.Database.Driver {
	case "postgres":
		pool, err := pg.Connect(ctx, cfg.Database.URL, pg.Options{MaxConns: cfg.Database.MaxConns}, logger)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		s.pool = pool
		s.tm = pg.NewTxManager(pool)
		s.payments = pg.NewPaymentRepo(pool, logger)
		s.customers = pg.NewCustomerRepo(pool, logger)
		s.coupons = pg.NewCouponRepo(pool)
		s.discounts = pg.NewSeasonalDiscountRepo(pool)
		var invOpts []pg.InventoryOption
		if key := cfg.Security.EncryptionKey; key != "" {
			sealer, err := security.NewEncryptionService(key)
			if err != nil {
				pool.Close()
				return nil, fmt.Errorf("encryption: %w", err)
			}
			invOpts = append(invOpts, pg.WithSealer(sealer))
		}
		s.inventory = pg.NewInventoryRepo(pool, invOpts...)
		s.sales = pg.NewSalesControlRepo(pool)
	default:
		logger.Warn().Msg("using the in-memory store; state is lost on restart")
		st := memory.New()
		s.tm = st
		s.payments = memory.NewPaymentRepo(st)
		s.customers = memory.NewCustomerRepo(st)
		s.coupons = memory.NewCouponRepo(st)
		s.discounts = memory.NewSeasonalDiscountRepo(st)
		s.inventory = memory.NewInventoryRepo(st)
		s.sales = memory.NewSalesControlRepo()
	}

	if cfg.Redis.URL != "" {
		rc, err := red.NewClient(ctx, cfg.Redis, logger)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		s.redis = rc
		// replicas share one sales switch
		s.sales = red.NewSalesControlRepo(rc)
	}
	return s, nil
}
