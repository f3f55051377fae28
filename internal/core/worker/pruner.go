package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/trminhdn/signalflow/internal/infra/storage"
)

// Pruner deletes old run and signal history based on retention policy.
type Pruner struct {
	retention time.Duration
	runs      storage.RunRepository
	signals   storage.SignalRepository
	logger    *slog.Logger
}

// NewPruner creates a new Pruner worker. A nil logger uses slog.Default.
func NewPruner(
	retention time.Duration,
	runs storage.RunRepository,
	signals storage.SignalRepository,
	logger *slog.Logger,
) *Pruner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{
		retention: retention,
		runs:      runs,
		signals:   signals,
		logger:    logger,
	}
}

// Start runs the pruner loop until the context is cancelled.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return // Retention disabled
	}

	// Check interval: 10% of the retention period, clamped to [1m, 1h]
	interval := min(p.retention/10, time.Hour)
	interval = max(interval, time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial prune
	p.Prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Prune(ctx)
		}
	}
}

// Prune deletes everything older than the retention cutoff once.
func (p *Pruner) Prune(ctx context.Context) {
	cutoff := time.Now().Add(-p.retention)

	runs, err := p.runs.DeleteRunsBefore(ctx, cutoff)
	if err != nil {
		p.logger.Error("failed to prune runs", "error", err)
	}

	signals, err := p.signals.DeleteSignalsBefore(ctx, cutoff)
	if err != nil {
		p.logger.Error("failed to prune signals", "error", err)
	}

	if runs > 0 || signals > 0 {
		p.logger.Info("pruned history", "runs", runs, "signals", signals, "cutoff", cutoff)
	}
}
