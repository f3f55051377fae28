package signals

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/trminhdn/signalflow/internal/core/domain"
	"github.com/trminhdn/signalflow/internal/infra/storage/memory"
	"github.com/trminhdn/signalflow/internal/ratelimit"
)

type fakeQuotes struct {
	mu     sync.Mutex
	calls  int
	quotes map[string]domain.MarketSnapshot
	err    error
}

func (f *fakeQuotes) Quotes(ctx context.Context, symbols []string) (map[string]domain.MarketSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.quotes, nil
}

type fakeRefresher struct {
	mu      sync.Mutex
	calls   int
	reports []*domain.RunReport
	err     error

	gotMarket map[string]domain.MarketSnapshot
}

func (f *fakeRefresher) Refresh(ctx context.Context, symbols []string, market map[string]domain.MarketSnapshot, portfolio *domain.PortfolioContext) (*domain.RunReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotMarket = market
	report := f.reports[f.calls%len(f.reports)]
	f.calls++
	return report, f.err
}

func newTestRunner(quotes *fakeQuotes, refresher *fakeRefresher, budget *ratelimit.Budget) (*Runner, *memory.MemoryStorage) {
	store := memory.NewMemoryStorage()
	r := NewRunner(RunnerConfig{
		Symbols:      []string{"AAPL"},
		PollInterval: time.Hour, // ticks don't fire in tests; cycles run directly
		Quotes:       quotes,
		Refresher:    refresher,
		Queue:        ratelimit.NewQueue(ratelimit.NewRequester(ratelimit.NewGate(0), ratelimit.Policy{})),
		Budget:       budget,
		Runs:         memory.NewRunRepo(store),
		Signals:      memory.NewSignalRepo(store),
		Cache:        memory.NewSnapshotStore(store),
		Logger:       discardLogger(),
	})
	return r, store
}

func successReport() *domain.RunReport {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &domain.RunReport{
		ID:         "run-1",
		Symbols:    []string{"AAPL"},
		StartedAt:  now,
		FinishedAt: now.Add(4 * time.Second),
		StepsDone:  domain.StepSentiment,
		Signals: []domain.TradingSignal{
			{ID: "sig-1", Symbol: "AAPL", Action: domain.SignalActionBuy, GeneratedAt: now},
		},
		Sentiment: &domain.MarketSentiment{Score: 0.3, Label: domain.SentimentBullish},
	}
}

func TestRunner_CyclePersistsAndPublishes(t *testing.T) {
	quotes := &fakeQuotes{quotes: map[string]domain.MarketSnapshot{
		"AAPL": {Symbol: "AAPL", Price: 191.5},
	}}
	refresher := &fakeRefresher{reports: []*domain.RunReport{successReport()}}
	r, store := newTestRunner(quotes, refresher, nil)
	ctx := context.Background()

	r.cycle(ctx)

	if quotes.calls != 1 {
		t.Errorf("Expected 1 quote fetch, got %d", quotes.calls)
	}
	if refresher.calls != 1 {
		t.Errorf("Expected 1 refresh, got %d", refresher.calls)
	}
	if refresher.gotMarket["AAPL"].Price != 191.5 {
		t.Error("Expected the fetched market to reach the refresher")
	}

	runs, err := memory.NewRunRepo(store).RecentRuns(ctx, 10)
	if err != nil {
		t.Fatalf("RecentRuns failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("Expected 1 persisted run, got %d", len(runs))
	}

	signals, err := memory.NewSignalRepo(store).LatestBySymbol(ctx, "AAPL", 10)
	if err != nil {
		t.Fatalf("LatestBySymbol failed: %v", err)
	}
	if len(signals) != 1 {
		t.Errorf("Expected 1 persisted signal, got %d", len(signals))
	}

	cache := memory.NewSnapshotStore(store)
	cached, err := cache.Quotes(ctx, []string{"AAPL"})
	if err != nil {
		t.Fatalf("Quotes failed: %v", err)
	}
	if cached["AAPL"].Price != 191.5 {
		t.Error("Expected quotes in the snapshot cache")
	}

	latest, err := cache.Signals(ctx)
	if err != nil {
		t.Fatalf("Signals failed: %v", err)
	}
	if len(latest) != 1 {
		t.Errorf("Expected 1 cached signal, got %d", len(latest))
	}

	sentiment, err := cache.Sentiment(ctx)
	if err != nil {
		t.Fatalf("Sentiment failed: %v", err)
	}
	if sentiment == nil || sentiment.Label != domain.SentimentBullish {
		t.Errorf("Expected cached bullish sentiment, got %+v", sentiment)
	}
}

func TestRunner_SkippedRunNotPersisted(t *testing.T) {
	quotes := &fakeQuotes{}
	skipped := &domain.RunReport{ID: "run-skip", Skipped: true, SkipReason: "refreshed 10s ago"}
	refresher := &fakeRefresher{reports: []*domain.RunReport{skipped}}
	r, store := newTestRunner(quotes, refresher, nil)
	ctx := context.Background()

	r.cycle(ctx)

	runs, err := memory.NewRunRepo(store).RecentRuns(ctx, 10)
	if err != nil {
		t.Fatalf("RecentRuns failed: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("Expected skipped run not to be persisted, got %d", len(runs))
	}
}

func TestRunner_SupersededRunNotPersisted(t *testing.T) {
	quotes := &fakeQuotes{}
	refresher := &fakeRefresher{
		reports: []*domain.RunReport{successReport()},
		err:     ratelimit.ErrSuperseded,
	}
	r, store := newTestRunner(quotes, refresher, nil)
	ctx := context.Background()

	r.cycle(ctx)

	runs, err := memory.NewRunRepo(store).RecentRuns(ctx, 10)
	if err != nil {
		t.Fatalf("RecentRuns failed: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("Expected superseded run not to be persisted, got %d", len(runs))
	}
}

func TestRunner_BudgetExhaustedSkipsCycle(t *testing.T) {
	budget := ratelimit.NewBudget(1)
	budget.RecordCall("signal")

	quotes := &fakeQuotes{}
	refresher := &fakeRefresher{reports: []*domain.RunReport{successReport()}}
	r, _ := newTestRunner(quotes, refresher, budget)

	r.cycle(context.Background())

	if quotes.calls != 0 {
		t.Errorf("Expected no quote fetch with an exhausted budget, got %d", quotes.calls)
	}
	if refresher.calls != 0 {
		t.Errorf("Expected no refresh with an exhausted budget, got %d", refresher.calls)
	}
}

func TestRunner_QuoteFailureStillRefreshes(t *testing.T) {
	quotes := &fakeQuotes{err: ratelimit.FromStatus(502, "bad gateway", 0)}
	refresher := &fakeRefresher{reports: []*domain.RunReport{successReport()}}
	r, _ := newTestRunner(quotes, refresher, nil)

	r.cycle(context.Background())

	if refresher.calls != 1 {
		t.Fatalf("Expected the refresh to run despite quote failure, got %d calls", refresher.calls)
	}
	if refresher.gotMarket != nil {
		t.Errorf("Expected an empty market after quote failure, got %v", refresher.gotMarket)
	}
}

func TestRunner_StartStop(t *testing.T) {
	quotes := &fakeQuotes{}
	refresher := &fakeRefresher{reports: []*domain.RunReport{successReport()}}
	r, _ := newTestRunner(quotes, refresher, nil)

	done := make(chan error, 1)
	go func() { done <- r.Start(context.Background()) }()

	// The initial cycle runs immediately.
	deadline := time.After(2 * time.Second)
	for {
		refresher.mu.Lock()
		calls := refresher.calls
		refresher.mu.Unlock()
		if calls >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the initial cycle")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if !r.Running() {
		t.Error("Expected the runner to report running")
	}

	r.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Start to return")
	}

	if r.Running() {
		t.Error("Expected the runner to report stopped")
	}

	// Stop is safe to call twice.
	r.Stop()
}
