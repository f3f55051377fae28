package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/trminhdn/signalflow/internal/core/domain"
)

// MemoryStorage backs the repositories and snapshot cache when no
// database or Redis is configured. Everything is lost on restart.
type MemoryStorage struct {
	runs      []*domain.RunReport
	signals   []domain.TradingSignal
	quotes    map[string]domain.MarketSnapshot
	latest    []domain.TradingSignal
	sentiment *domain.MarketSentiment
	mu        sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		quotes: make(map[string]domain.MarketSnapshot),
	}
}

// -----------------------------------------------------------------------------
// Run Repository
// -----------------------------------------------------------------------------

type RunRepo struct {
	store *MemoryStorage
}

func NewRunRepo(store *MemoryStorage) *RunRepo {
	return &RunRepo{store: store}
}

func (r *RunRepo) SaveRun(ctx context.Context, run *domain.RunReport) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	saved := *run
	saved.Signals = nil // per-symbol payloads live in the signal repository
	r.store.runs = append(r.store.runs, &saved)
	return nil
}

func (r *RunRepo) RecentRuns(ctx context.Context, limit int) ([]*domain.RunReport, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	runs := make([]*domain.RunReport, len(r.store.runs))
	copy(runs, r.store.runs)
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (r *RunRepo) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	kept := r.store.runs[:0]
	var deleted int64
	for _, run := range r.store.runs {
		if run.StartedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, run)
	}
	r.store.runs = kept
	return deleted, nil
}

// -----------------------------------------------------------------------------
// Signal Repository
// -----------------------------------------------------------------------------

type SignalRepo struct {
	store *MemoryStorage
}

func NewSignalRepo(store *MemoryStorage) *SignalRepo {
	return &SignalRepo{store: store}
}

func (r *SignalRepo) SaveBatch(ctx context.Context, signals []domain.TradingSignal) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.signals = append(r.store.signals, signals...)
	return nil
}

func (r *SignalRepo) LatestBySymbol(ctx context.Context, symbol string, limit int) ([]domain.TradingSignal, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []domain.TradingSignal
	for _, s := range r.store.signals {
		if s.Symbol == symbol {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].GeneratedAt.After(out[j].GeneratedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *SignalRepo) DeleteSignalsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	kept := r.store.signals[:0]
	var deleted int64
	for _, s := range r.store.signals {
		if s.GeneratedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, s)
	}
	r.store.signals = kept
	return deleted, nil
}

// -----------------------------------------------------------------------------
// Snapshot Store
// -----------------------------------------------------------------------------

type SnapshotStore struct {
	store *MemoryStorage
}

func NewSnapshotStore(store *MemoryStorage) *SnapshotStore {
	return &SnapshotStore{store: store}
}

func (s *SnapshotStore) SetQuotes(ctx context.Context, quotes map[string]domain.MarketSnapshot) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	for symbol, snap := range quotes {
		s.store.quotes[symbol] = snap
	}
	return nil
}

func (s *SnapshotStore) Quotes(ctx context.Context, symbols []string) (map[string]domain.MarketSnapshot, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	out := make(map[string]domain.MarketSnapshot, len(symbols))
	for _, symbol := range symbols {
		if snap, ok := s.store.quotes[symbol]; ok {
			out[symbol] = snap
		}
	}
	return out, nil
}

func (s *SnapshotStore) SetSignals(ctx context.Context, signals []domain.TradingSignal) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	s.store.latest = make([]domain.TradingSignal, len(signals))
	copy(s.store.latest, signals)
	return nil
}

func (s *SnapshotStore) Signals(ctx context.Context) ([]domain.TradingSignal, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	if s.store.latest == nil {
		return nil, nil
	}
	out := make([]domain.TradingSignal, len(s.store.latest))
	copy(out, s.store.latest)
	return out, nil
}

func (s *SnapshotStore) SetSentiment(ctx context.Context, sentiment *domain.MarketSentiment) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	if sentiment == nil {
		s.store.sentiment = nil
		return nil
	}
	saved := *sentiment
	s.store.sentiment = &saved
	return nil
}

func (s *SnapshotStore) Sentiment(ctx context.Context) (*domain.MarketSentiment, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	if s.store.sentiment == nil {
		return nil, nil
	}
	out := *s.store.sentiment
	return &out, nil
}
