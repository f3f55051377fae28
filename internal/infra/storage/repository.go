package storage

import (
	"context"
	"time"

	"github.com/trminhdn/signalflow/internal/core/domain"
)

// RunRepository handles refresh run history.
type RunRepository interface {
	// SaveRun persists a completed run report.
	SaveRun(ctx context.Context, run *domain.RunReport) error

	// RecentRuns retrieves the most recent runs, newest first. The
	// per-symbol signal payloads live in the signal repository and are
	// not loaded here.
	RecentRuns(ctx context.Context, limit int) ([]*domain.RunReport, error)

	// DeleteRunsBefore removes runs started before the cutoff and
	// returns how many were deleted.
	DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SignalRepository handles generated signal history.
type SignalRepository interface {
	// SaveBatch persists the signals produced by one run.
	SaveBatch(ctx context.Context, signals []domain.TradingSignal) error

	// LatestBySymbol retrieves a symbol's most recent signals, newest first.
	LatestBySymbol(ctx context.Context, symbol string, limit int) ([]domain.TradingSignal, error)

	// DeleteSignalsBefore removes signals generated before the cutoff
	// and returns how many were deleted.
	DeleteSignalsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SnapshotStore caches the latest dashboard state: quotes, signals and
// sentiment. Absent entries come back empty, never as errors.
type SnapshotStore interface {
	SetQuotes(ctx context.Context, quotes map[string]domain.MarketSnapshot) error
	Quotes(ctx context.Context, symbols []string) (map[string]domain.MarketSnapshot, error)
	SetSignals(ctx context.Context, signals []domain.TradingSignal) error
	Signals(ctx context.Context) ([]domain.TradingSignal, error)
	SetSentiment(ctx context.Context, sentiment *domain.MarketSentiment) error
	Sentiment(ctx context.Context) (*domain.MarketSentiment, error)
}
