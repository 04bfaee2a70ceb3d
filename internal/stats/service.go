package stats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/expense-ledger/internal/ledger"
)

// EntryReader is the part of the store the service reads from.
type EntryReader interface {
	EntriesBetween(ctx context.Context, ownerID string, from, to ledger.Date) ([]ledger.Entry, error)
}

// Service serves monthly summaries through a read-through cache and builds
// period reports. It is also the engine's post-commit invalidation hook.
type Service struct {
	reader            EntryReader
	cache             Cache
	invalidateOnWrite bool
	now               func() time.Time
	logger            *slog.Logger

	mu sync.Mutex
	// generations counts invalidations per account. A read-through fill
	// that straddles an invalidation is evicted again.
	generations map[string]uint64
}

var _ ledger.Invalidator = (*Service)(nil)

// Config controls the cache policy.
type Config struct {
	// InvalidateOnWrite evicts summaries after every committed write. When
	// false a cached summary is served until it expires or is evicted.
	InvalidateOnWrite bool
	Now               func() time.Time
	Logger            *slog.Logger
}

// NewService creates a service. A nil cache disables caching.
func NewService(reader EntryReader, cache Cache, cfg Config) *Service {
	s := &Service{
		reader:            reader,
		cache:             cache,
		invalidateOnWrite: cfg.InvalidateOnWrite,
		now:               cfg.Now,
		logger:            cfg.Logger,
		generations:       make(map[string]uint64),
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Monthly returns the trailing monthly summary for accountID.
func (s *Service) Monthly(ctx context.Context, accountID string) (MonthlySummary, error) {
	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx, accountID)
		if err != nil {
			s.logger.Warn("stats cache read failed", "account_id", accountID, "error", err)
		} else if ok {
			return cached, nil
		}
	}

	gen := s.generation(accountID)
	now := s.now()
	entries, err := s.reader.EntriesBetween(ctx, accountID, WindowStart(now), ledger.Date{})
	if err != nil {
		return MonthlySummary{}, fmt.Errorf("failed to load entries: %w", err)
	}
	summary := Monthly(entries, now)

	if s.cache != nil {
		if err := s.cache.Set(ctx, accountID, summary); err != nil {
			s.logger.Warn("stats cache write failed", "account_id", accountID, "error", err)
		} else if s.generation(accountID) != gen {
			// A write committed while entries were loading.
			if err := s.cache.Invalidate(ctx, accountID); err != nil {
				s.logger.Warn("stats cache invalidate failed", "account_id", accountID, "error", err)
			}
		}
	}
	return summary, nil
}

func (s *Service) generation(accountID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generations[accountID]
}

// Report builds a summary of accountID's activity for the period.
func (s *Service) Report(ctx context.Context, accountID string, p Period, from, to ledger.Date) (Report, error) {
	from, to, err := ResolvePeriod(p, from, to, s.now())
	if err != nil {
		return Report{}, err
	}
	entries, err := s.reader.EntriesBetween(ctx, accountID, from, to)
	if err != nil {
		return Report{}, fmt.Errorf("failed to load entries: %w", err)
	}
	return BuildReport(p, from, to, entries), nil
}

// Invalidate evicts cached summaries. It does nothing unless the service was
// configured to invalidate on write. Writes committed by another process
// sharing a RedisCache are only seen through their own Invalidate, so a fill
// racing such a write can stay stale until the TTL expires.
func (s *Service) Invalidate(ctx context.Context, accountIDs ...string) error {
	if s.cache == nil || !s.invalidateOnWrite {
		return nil
	}
	s.mu.Lock()
	for _, id := range accountIDs {
		s.generations[id]++
	}
	s.mu.Unlock()
	return s.cache.Invalidate(ctx, accountIDs...)
}
