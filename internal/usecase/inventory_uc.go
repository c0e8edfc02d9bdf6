package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"subscription-fulfillment/internal/domain"
	"subscription-fulfillment/internal/domain/model"
	"subscription-fulfillment/internal/domain/ports/repository"
	"subscription-fulfillment/internal/infra/metrics"
)

// Compile-time check
var _ InventoryUseCase = (*InventoryStore)(nil)

type InventoryUseCase interface {
	Enqueue(ctx context.Context, tier, payload string) (*model.Credential, error)
	// EnqueueBatch loads every payload or none of them.
	EnqueueBatch(ctx context.Context, tier string, payloads []string) (int, error)
	TryDequeue(ctx context.Context, tier string) (*model.Credential, error)
	Count(ctx context.Context, tier string) (int, error)
	CountAll(ctx context.Context) (int, error)
	Counts(ctx context.Context) (map[string]int, error)
}

// RestockHook runs after a successful enqueue commit, outside any transaction.
type RestockHook func(ctx context.Context, tier string)

// InventoryStore is the per-tier FIFO credential pool.
type InventoryStore struct {
	repo    repository.InventoryRepository
	tm      repository.TransactionManager
	catalog *model.Catalog
	clock   Clock
	log     *zerolog.Logger

	mu    sync.RWMutex
	hooks []RestockHook
}

func NewInventoryStore(repo repository.InventoryRepository, tm repository.TransactionManager, catalog *model.Catalog, clock Clock, logger *zerolog.Logger) *InventoryStore {
	return &InventoryStore{
		repo:    repo,
		tm:      tm,
		catalog: catalog,
		clock:   orSystem(clock),
		log:     componentLogger(logger, "inventory"),
	}
}

// AfterEnqueue registers a hook fired on every restock.
func (s *InventoryStore) AfterEnqueue(h RestockHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, h)
}

func (s *InventoryStore) Enqueue(ctx context.Context, tier, payload string) (*model.Credential, error) {
	if _, err := s.catalog.Get(tier); err != nil {
		return nil, err
	}
	c, err := model.NewCredential(tier, payload, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := s.repo.Enqueue(ctx, repository.NoTX, c); err != nil {
		return nil, fmt.Errorf("enqueue credential: %w", err)
	}
	s.log.Info().Str("tier", tier).Str("credential_id", c.ID).Msg("credential added")
	s.restocked(ctx, tier)
	return c, nil
}

func (s *InventoryStore) EnqueueBatch(ctx context.Context, tier string, payloads []string) (int, error) {
	if _, err := s.catalog.Get(tier); err != nil {
		return 0, err
	}
	payloads = lo.Uniq(lo.Filter(lo.Map(payloads, func(p string, _ int) string { return strings.TrimSpace(p) }),
		func(p string, _ int) bool { return p != "" }))
	if len(payloads) == 0 {
		return 0, domain.ErrInvalidArgument
	}

	now := s.clock.Now()
	creds := make([]*model.Credential, 0, len(payloads))
	for _, p := range payloads {
		c, err := model.NewCredential(tier, p, now)
		if err != nil {
			return 0, err
		}
		creds = append(creds, c)
	}

	err := s.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		for _, c := range creds {
			if err := s.repo.Enqueue(ctx, tx, c); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("enqueue batch: %w", err)
	}
	s.log.Info().Str("tier", tier).Int("count", len(creds)).Msg("credentials bulk loaded")
	s.restocked(ctx, tier)
	return len(creds), nil
}

func (s *InventoryStore) TryDequeue(ctx context.Context, tier string) (*model.Credential, error) {
	return s.repo.TryDequeue(ctx, repository.NoTX, tier)
}

func (s *InventoryStore) Count(ctx context.Context, tier string) (int, error) {
	return s.repo.Count(ctx, repository.NoTX, tier)
}

func (s *InventoryStore) CountAll(ctx context.Context) (int, error) {
	counts, err := s.repo.Counts(ctx, repository.NoTX)
	if err != nil {
		return 0, err
	}
	return lo.Sum(lo.Values(counts)), nil
}

// Counts reports every catalog tier, including empty ones.
func (s *InventoryStore) Counts(ctx context.Context) (map[string]int, error) {
	counts, err := s.repo.Counts(ctx, repository.NoTX)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(counts))
	for _, id := range s.catalog.IDs() {
		out[id] = counts[id]
		metrics.SetInventoryLevel(id, counts[id])
	}
	return out, nil
}

func (s *InventoryStore) restocked(ctx context.Context, tier string) {
	if n, err := s.repo.Count(ctx, repository.NoTX, tier); err == nil {
		metrics.SetInventoryLevel(tier, n)
	}
	s.mu.RLock()
	hooks := append([]RestockHook(nil), s.hooks...)
	s.mu.RUnlock()
	for _, h := range hooks {
		h(ctx, tier)
	}
}
