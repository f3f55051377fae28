package signals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trminhdn/signalflow/internal/core/domain"
	"github.com/trminhdn/signalflow/internal/infra/storage"
	"github.com/trminhdn/signalflow/internal/metrics"
	"github.com/trminhdn/signalflow/internal/ratelimit"
)

// QuoteSource fetches the latest market snapshots.
type QuoteSource interface {
	Quotes(ctx context.Context, symbols []string) (map[string]domain.MarketSnapshot, error)
}

// Refresher runs one orchestrated refresh.
type Refresher interface {
	Refresh(ctx context.Context, symbols []string, market map[string]domain.MarketSnapshot, portfolio *domain.PortfolioContext) (*domain.RunReport, error)
}

// RunnerConfig wires the poll loop's collaborators.
type RunnerConfig struct {
	Symbols      []string
	Portfolio    *domain.PortfolioContext
	PollInterval time.Duration

	Quotes    QuoteSource
	Refresher Refresher
	Queue     *ratelimit.Queue
	Budget    *ratelimit.Budget // optional
	Runs      storage.RunRepository
	Signals   storage.SignalRepository
	Cache     storage.SnapshotStore
	Logger    *slog.Logger
}

// Runner polls quotes and triggers refresh runs on a fixed interval.
// The orchestrator owns the pacing contract, so ticks inside the
// refresh window come back as skipped runs and cost nothing upstream.
type Runner struct {
	cfg RunnerConfig

	running  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	sleep    ratelimit.SleepFunc
}

// NewRunner creates a runner. A zero poll interval defaults to 30
// seconds; a nil logger uses slog.Default.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{
		cfg:   cfg,
		stop:  make(chan struct{}),
		sleep: ratelimit.DefaultSleep,
	}
}

// Start runs the poll loop until the context is cancelled or Stop is
// called. An initial cycle runs immediately so the dashboard has data
// without waiting out the first tick.
func (r *Runner) Start(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return fmt.Errorf("runner already running")
	}
	defer r.running.Store(false)

	r.cfg.Logger.Info("runner started",
		"symbols", r.cfg.Symbols,
		"poll_interval", r.cfg.PollInterval)

	r.cycle(ctx)

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.stop:
			return nil
		case <-ticker.C:
			r.cycle(ctx)
		}
	}
}

// Stop ends the poll loop.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// Running reports whether the poll loop is active.
func (r *Runner) Running() bool {
	return r.running.Load()
}

// cycle executes one poll iteration: budget check, quote fetch, then
// an orchestrated refresh, persisting whatever the run produced.
func (r *Runner) cycle(ctx context.Context) {
	if r.cfg.Budget != nil {
		if !r.cfg.Budget.CanMakeCall() {
			r.cfg.Logger.Warn("api budget exhausted, skipping cycle",
				"reset_in", r.cfg.Budget.ThrottleDelay().Round(time.Second))
			r.updateBudgetGauge()
			return
		}
		if delay := r.cfg.Budget.ThrottleDelay(); delay > 0 {
			r.cfg.Logger.Debug("budget pacing", "delay", delay)
			if err := r.sleep(ctx, delay); err != nil {
				return
			}
		}
	}

	market := r.fetchQuotes(ctx)

	report, err := r.cfg.Refresher.Refresh(ctx, r.cfg.Symbols, market, r.cfg.Portfolio)
	r.observeRun(report, err)

	if errors.Is(err, ratelimit.ErrSuperseded) {
		r.cfg.Logger.Debug("refresh superseded mid-cycle")
		return
	}
	if report.Skipped {
		return
	}

	r.persistRun(ctx, report)
	r.publishRun(ctx, report)
	r.updateBudgetGauge()
}

// fetchQuotes loads the watchlist's snapshots through the shared queue
// and caches them. A failed fetch degrades to an empty market map so
// the refresh itself still runs.
func (r *Runner) fetchQuotes(ctx context.Context) map[string]domain.MarketSnapshot {
	out, err := r.cfg.Queue.Do(ctx, "quotes", func(ctx context.Context) (any, error) {
		return r.cfg.Quotes.Quotes(ctx, r.cfg.Symbols)
	})
	if err != nil {
		if !errors.Is(err, ratelimit.ErrSuperseded) {
			r.cfg.Logger.Warn("quote fetch failed", "error", err)
		}
		return nil
	}

	market := out.(map[string]domain.MarketSnapshot)
	if len(market) > 0 && r.cfg.Cache != nil {
		if err := r.cfg.Cache.SetQuotes(ctx, market); err != nil {
			metrics.SnapshotCacheErrorsTotal.Inc()
			r.cfg.Logger.Warn("failed to cache quotes", "error", err)
		}
	}
	return market
}

func (r *Runner) persistRun(ctx context.Context, report *domain.RunReport) {
	if r.cfg.Runs != nil {
		if err := r.cfg.Runs.SaveRun(ctx, report); err != nil {
			r.cfg.Logger.Error("failed to persist run", "run_id", report.ID, "error", err)
		}
	}
	if r.cfg.Signals != nil && len(report.Signals) > 0 {
		if err := r.cfg.Signals.SaveBatch(ctx, report.Signals); err != nil {
			r.cfg.Logger.Error("failed to persist signals", "run_id", report.ID, "error", err)
		}
	}
}

func (r *Runner) publishRun(ctx context.Context, report *domain.RunReport) {
	if r.cfg.Cache == nil {
		return
	}
	if len(report.Signals) > 0 {
		if err := r.cfg.Cache.SetSignals(ctx, report.Signals); err != nil {
			metrics.SnapshotCacheErrorsTotal.Inc()
			r.cfg.Logger.Warn("failed to cache signals", "error", err)
		}
	}
	if report.Sentiment != nil {
		if err := r.cfg.Cache.SetSentiment(ctx, report.Sentiment); err != nil {
			metrics.SnapshotCacheErrorsTotal.Inc()
			r.cfg.Logger.Warn("failed to cache sentiment", "error", err)
		}
	}
}

func (r *Runner) observeRun(report *domain.RunReport, err error) {
	result := "success"
	switch {
	case errors.Is(err, ratelimit.ErrSuperseded):
		result = "superseded"
	case err != nil:
		result = "error"
		var cerr *ratelimit.ClassifiedError
		if errors.As(err, &cerr) && cerr.Kind == ratelimit.KindRateLimit {
			result = "rate_limited"
		}
	case report.Skipped:
		result = "skipped"
	}

	metrics.RunsTotal.WithLabelValues(result).Inc()
	if !report.Skipped && result != "superseded" {
		metrics.RunDurationSeconds.Observe(report.Duration().Seconds())
		metrics.RunStepsCompleted.Observe(float64(report.StepsDone))
	}
}

func (r *Runner) updateBudgetGauge() {
	if r.cfg.Budget == nil {
		return
	}
	usage := r.cfg.Budget.Usage()
	if usage.DailyQuota > 0 {
		metrics.BudgetRemainingCalls.Set(float64(usage.RemainingCalls))
	}
}
