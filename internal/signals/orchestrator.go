// Package signals drives the multi-step market refresh: per-symbol
// trading signals, aggregate sentiment, then portfolio advice when a
// portfolio is configured. All upstream traffic flows through the
// rate-limited request queue.
package signals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trminhdn/signalflow/internal/core/domain"
	"github.com/trminhdn/signalflow/internal/metrics"
	"github.com/trminhdn/signalflow/internal/ratelimit"
)

// Analyzer is the slice of the upstream client the orchestrator calls.
type Analyzer interface {
	GenerateSignal(ctx context.Context, symbol string, snapshot *domain.MarketSnapshot) (*domain.TradingSignal, error)
	MarketSentiment(ctx context.Context, symbols []string, market map[string]domain.MarketSnapshot) (*domain.MarketSentiment, error)
	PortfolioRecommendation(ctx context.Context, portfolio *domain.PortfolioContext, signals []domain.TradingSignal) (*domain.PortfolioRecommendation, error)
	PortfolioRisk(ctx context.Context, portfolio *domain.PortfolioContext, market map[string]domain.MarketSnapshot) (*domain.RiskAnalysis, error)
}

// Timings paces refresh runs. Zero fields take the defaults.
type Timings struct {
	// MinRefreshInterval is how long after a successful run the next
	// one is skipped.
	MinRefreshInterval time.Duration

	// InterStepDelay is the fixed pause between consecutive steps,
	// independent of the per-request gate.
	InterStepDelay time.Duration

	// RateLimitCooldown is how long refreshes stay suspended after the
	// upstream rate limits a step.
	RateLimitCooldown time.Duration
}

// DefaultTimings matches the pacing the dashboard was tuned for.
func DefaultTimings() Timings {
	return Timings{
		MinRefreshInterval: 2 * time.Minute,
		InterStepDelay:     time.Second,
		RateLimitCooldown:  3 * time.Minute,
	}
}

// Orchestrator runs the refresh sequence. At most one run executes at
// a time; a second concurrent Refresh is reported as skipped.
type Orchestrator struct {
	api     Analyzer
	queue   *ratelimit.Queue
	timings Timings
	logger  *slog.Logger

	mu            sync.Mutex
	refreshing    bool
	lastRefresh   time.Time
	cooldownUntil time.Time
	lastRun       *domain.RunReport

	now   func() time.Time
	sleep ratelimit.SleepFunc
}

// NewOrchestrator creates an orchestrator. Zero timing fields fall
// back to DefaultTimings; a nil logger uses slog.Default.
func NewOrchestrator(api Analyzer, queue *ratelimit.Queue, timings Timings, logger *slog.Logger) *Orchestrator {
	defaults := DefaultTimings()
	if timings.MinRefreshInterval <= 0 {
		timings.MinRefreshInterval = defaults.MinRefreshInterval
	}
	if timings.InterStepDelay <= 0 {
		timings.InterStepDelay = defaults.InterStepDelay
	}
	if timings.RateLimitCooldown <= 0 {
		timings.RateLimitCooldown = defaults.RateLimitCooldown
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		api:     api,
		queue:   queue,
		timings: timings,
		logger:  logger,
		now:     time.Now,
		sleep:   ratelimit.DefaultSleep,
	}
}

// Refresh runs the full sequence: signals per symbol, market
// sentiment, then recommendation and risk when a portfolio is
// configured. Runs inside the min-refresh window, during a rate limit
// cooldown, or while another run is active are skipped without any
// upstream calls. A rate limited step aborts the run and suspends
// refreshes for the cooldown period. A superseded step aborts quietly;
// the newer run owns the refresh from there.
func (o *Orchestrator) Refresh(ctx context.Context, symbols []string, market map[string]domain.MarketSnapshot, portfolio *domain.PortfolioContext) (*domain.RunReport, error) {
	start := o.now()

	report := &domain.RunReport{
		ID:        uuid.NewString(),
		Symbols:   symbols,
		StartedAt: start,
	}

	if reason := o.begin(start); reason != "" {
		report.Skipped = true
		report.SkipReason = reason
		report.FinishedAt = start
		o.logger.Debug("refresh skipped", "reason", reason)
		return report, nil
	}
	defer o.finish(report)

	o.logger.Info("refresh run started", "run_id", report.ID, "symbols", len(symbols))

	err := o.runSteps(ctx, report, symbols, market, portfolio)
	report.FinishedAt = o.now()

	if err != nil {
		if errors.Is(err, ratelimit.ErrSuperseded) {
			o.logger.Debug("refresh superseded", "run_id", report.ID, "steps_done", report.StepsDone.String())
			return report, err
		}

		report.Err = err.Error()

		var cerr *ratelimit.ClassifiedError
		if errors.As(err, &cerr) && cerr.Kind == ratelimit.KindRateLimit {
			until := o.enterCooldown()
			o.logger.Warn("refresh rate limited, cooling down",
				"run_id", report.ID,
				"steps_done", report.StepsDone.String(),
				"cooldown_until", until)
		} else {
			o.logger.Error("refresh run failed",
				"run_id", report.ID,
				"steps_done", report.StepsDone.String(),
				"error", err)
		}
		return report, err
	}

	o.mu.Lock()
	o.lastRefresh = report.FinishedAt
	o.mu.Unlock()

	o.logger.Info("refresh run completed",
		"run_id", report.ID,
		"signals", len(report.Signals),
		"steps_done", report.StepsDone.String(),
		"duration", report.Duration())
	return report, nil
}

func (o *Orchestrator) runSteps(ctx context.Context, report *domain.RunReport, symbols []string, market map[string]domain.MarketSnapshot, portfolio *domain.PortfolioContext) error {
	// Step 1: per-symbol trading signals. The gate spaces the calls,
	// so no extra pause between symbols.
	for _, symbol := range symbols {
		signal, err := o.generateSignal(ctx, symbol, market)
		if err != nil {
			return fmt.Errorf("signal for %s: %w", symbol, err)
		}
		report.Signals = append(report.Signals, *signal)
	}
	report.StepsDone = domain.StepSignals

	if err := o.pause(ctx); err != nil {
		return err
	}

	// Step 2: aggregate market sentiment.
	out, err := o.queue.Do(ctx, "sentiment", func(ctx context.Context) (any, error) {
		return o.api.MarketSentiment(ctx, symbols, market)
	})
	if err != nil {
		return fmt.Errorf("market sentiment: %w", err)
	}
	report.Sentiment = out.(*domain.MarketSentiment)
	report.StepsDone = domain.StepSentiment

	if portfolio == nil {
		return nil
	}

	if err := o.pause(ctx); err != nil {
		return err
	}

	// Step 3: portfolio recommendation.
	out, err = o.queue.Do(ctx, "portfolio:recommendation", func(ctx context.Context) (any, error) {
		return o.api.PortfolioRecommendation(ctx, portfolio, report.Signals)
	})
	if err != nil {
		return fmt.Errorf("portfolio recommendation: %w", err)
	}
	report.Recommendation = out.(*domain.PortfolioRecommendation)
	report.StepsDone = domain.StepRecommendation

	if err := o.pause(ctx); err != nil {
		return err
	}

	// Step 4: portfolio risk.
	out, err = o.queue.Do(ctx, "portfolio:risk", func(ctx context.Context) (any, error) {
		return o.api.PortfolioRisk(ctx, portfolio, market)
	})
	if err != nil {
		return fmt.Errorf("portfolio risk: %w", err)
	}
	report.Risk = out.(*domain.RiskAnalysis)
	report.StepsDone = domain.StepRisk

	return nil
}

func (o *Orchestrator) generateSignal(ctx context.Context, symbol string, market map[string]domain.MarketSnapshot) (*domain.TradingSignal, error) {
	var snapshot *domain.MarketSnapshot
	if snap, ok := market[symbol]; ok {
		snapshot = &snap
	}

	out, err := o.queue.Do(ctx, "signals:"+symbol, func(ctx context.Context) (any, error) {
		return o.api.GenerateSignal(ctx, symbol, snapshot)
	})
	if err != nil {
		return nil, err
	}
	return out.(*domain.TradingSignal), nil
}

// pause waits the inter-step delay, honoring cancellation.
func (o *Orchestrator) pause(ctx context.Context) error {
	return o.sleep(ctx, o.timings.InterStepDelay)
}

// begin decides whether a run may start. It returns the skip reason,
// or an empty string after marking the orchestrator as refreshing.
func (o *Orchestrator) begin(now time.Time) string {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.refreshing {
		return "refresh already running"
	}
	if now.Before(o.cooldownUntil) {
		return fmt.Sprintf("cooling down after rate limit, %s remaining", o.cooldownUntil.Sub(now).Round(time.Second))
	}
	if !o.lastRefresh.IsZero() {
		if age := now.Sub(o.lastRefresh); age < o.timings.MinRefreshInterval {
			return fmt.Sprintf("refreshed %s ago", age.Round(time.Second))
		}
	}

	o.refreshing = true
	return ""
}

func (o *Orchestrator) finish(report *domain.RunReport) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.refreshing = false
	o.lastRun = report
}

func (o *Orchestrator) enterCooldown() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cooldownUntil = o.now().Add(o.timings.RateLimitCooldown)
	metrics.CooldownsTotal.Inc()
	return o.cooldownUntil
}

// Status reports refresh pacing for the monitoring console.
func (o *Orchestrator) Status() domain.OrchestratorStatus {
	o.mu.Lock()
	defer o.mu.Unlock()

	status := domain.OrchestratorStatus{
		Refreshing:    o.refreshing,
		LastRefreshAt: o.lastRefresh,
		LastRun:       o.lastRun,
	}
	if now := o.now(); o.cooldownUntil.After(now) {
		status.CooldownUntil = o.cooldownUntil
		status.CooldownRemaining = o.cooldownUntil.Sub(now)
	}
	return status
}

// CooldownRemaining returns how much rate limit cooldown is left at
// the given instant, zero when none.
func (o *Orchestrator) CooldownRemaining(now time.Time) time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	if remaining := o.cooldownUntil.Sub(now); remaining > 0 {
		return remaining
	}
	return 0
}
