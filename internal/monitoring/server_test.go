package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/trminhdn/signalflow/internal/core/domain"
	"github.com/trminhdn/signalflow/internal/infra/storage/memory"
	"github.com/trminhdn/signalflow/internal/ratelimit"
)

func newTestServer(t *testing.T, store *memory.MemoryStorage, trigger func(context.Context) (*domain.RunReport, error)) *httptest.Server {
	t.Helper()

	s := NewServer(ServerConfig{
		Port:           0,
		Monitor:        newTestMonitor(reachable(), reachable(), nil),
		Cache:          memory.NewSnapshotStore(store),
		Runs:           memory.NewRunRepo(store),
		Signals:        memory.NewSignalRepo(store),
		Symbols:        []string{"AAPL", "MSFT"},
		TriggerRefresh: trigger,
	})

	ts := httptest.NewServer(s.server.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t, memory.NewMemoryStorage(), nil)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	var body map[string]string
	decodeBody(t, resp, &body)
	if body["status"] != "healthy" {
		t.Errorf("expected healthy, got %s", body["status"])
	}
}

func TestServer_HealthCriticalReturns503(t *testing.T) {
	s := NewServer(ServerConfig{
		Monitor: newTestMonitor(unreachable("db down"), reachable(), nil),
	})
	ts := httptest.NewServer(s.server.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", resp.StatusCode)
	}
}

func TestServer_LatestSignalsFromCache(t *testing.T) {
	store := memory.NewMemoryStorage()
	cache := memory.NewSnapshotStore(store)
	_ = cache.SetSignals(context.Background(), []domain.TradingSignal{
		{ID: "sig-1", Symbol: "AAPL", Action: domain.SignalActionBuy},
	})

	ts := newTestServer(t, store, nil)

	resp, err := http.Get(ts.URL + "/api/v1/signals/latest")
	if err != nil {
		t.Fatalf("GET signals failed: %v", err)
	}

	var body struct {
		Signals []domain.TradingSignal `json:"signals"`
	}
	decodeBody(t, resp, &body)
	if len(body.Signals) != 1 || body.Signals[0].Symbol != "AAPL" {
		t.Errorf("unexpected signals payload: %+v", body.Signals)
	}
}

func TestServer_SignalHistoryBySymbol(t *testing.T) {
	store := memory.NewMemoryStorage()
	repo := memory.NewSignalRepo(store)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	_ = repo.SaveBatch(context.Background(), []domain.TradingSignal{
		{ID: "1", Symbol: "AAPL", GeneratedAt: base},
		{ID: "2", Symbol: "AAPL", GeneratedAt: base.Add(time.Minute)},
		{ID: "3", Symbol: "MSFT", GeneratedAt: base},
	})

	ts := newTestServer(t, store, nil)

	resp, err := http.Get(ts.URL + "/api/v1/signals/latest?symbol=AAPL&limit=1")
	if err != nil {
		t.Fatalf("GET signal history failed: %v", err)
	}

	var body struct {
		Signals []domain.TradingSignal `json:"signals"`
	}
	decodeBody(t, resp, &body)
	if len(body.Signals) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(body.Signals))
	}
	if body.Signals[0].ID != "2" {
		t.Errorf("expected newest AAPL signal, got %s", body.Signals[0].ID)
	}
}

func TestServer_EmptySignalsComeBackAsArray(t *testing.T) {
	ts := newTestServer(t, memory.NewMemoryStorage(), nil)

	resp, err := http.Get(ts.URL + "/api/v1/signals/latest")
	if err != nil {
		t.Fatalf("GET signals failed: %v", err)
	}
	defer resp.Body.Close()

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if string(raw["signals"]) != "[]" {
		t.Errorf("expected empty array, got %s", raw["signals"])
	}
}

func TestServer_RecentRuns(t *testing.T) {
	store := memory.NewMemoryStorage()
	repo := memory.NewRunRepo(store)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := range 3 {
		_ = repo.SaveRun(context.Background(), &domain.RunReport{
			ID:        string(rune('a' + i)),
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	ts := newTestServer(t, store, nil)

	resp, err := http.Get(ts.URL + "/api/v1/runs/recent?limit=2")
	if err != nil {
		t.Fatalf("GET runs failed: %v", err)
	}

	var body struct {
		Runs []domain.RunReport `json:"runs"`
	}
	decodeBody(t, resp, &body)
	if len(body.Runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(body.Runs))
	}
	if body.Runs[0].ID != "c" {
		t.Errorf("expected newest run first, got %s", body.Runs[0].ID)
	}
}

func TestServer_RefreshSkipped(t *testing.T) {
	trigger := func(ctx context.Context) (*domain.RunReport, error) {
		return &domain.RunReport{Skipped: true, SkipReason: "refreshed 30s ago"}, nil
	}
	ts := newTestServer(t, memory.NewMemoryStorage(), trigger)

	resp, err := http.Post(ts.URL+"/api/v1/refresh", "application/json", nil)
	if err != nil {
		t.Fatalf("POST refresh failed: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("expected 202, got %d", resp.StatusCode)
	}

	var body map[string]any
	decodeBody(t, resp, &body)
	if body["skipped"] != true {
		t.Errorf("expected skipped flag, got %+v", body)
	}
	if !strings.Contains(body["reason"].(string), "refreshed") {
		t.Errorf("expected a skip reason, got %+v", body["reason"])
	}
}

func TestServer_RefreshExecuted(t *testing.T) {
	trigger := func(ctx context.Context) (*domain.RunReport, error) {
		return &domain.RunReport{ID: "run-7", StepsDone: domain.StepSentiment}, nil
	}
	ts := newTestServer(t, memory.NewMemoryStorage(), trigger)

	resp, err := http.Post(ts.URL+"/api/v1/refresh", "application/json", nil)
	if err != nil {
		t.Fatalf("POST refresh failed: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("expected 202, got %d", resp.StatusCode)
	}

	var body struct {
		Run *domain.RunReport `json:"run"`
	}
	decodeBody(t, resp, &body)
	if body.Run == nil || body.Run.ID != "run-7" {
		t.Errorf("expected the run report, got %+v", body.Run)
	}
}

func TestServer_RefreshRateLimited(t *testing.T) {
	trigger := func(ctx context.Context) (*domain.RunReport, error) {
		return &domain.RunReport{}, ratelimit.FromStatus(429, "rate limit exceeded", 0)
	}
	ts := newTestServer(t, memory.NewMemoryStorage(), trigger)

	resp, err := http.Post(ts.URL+"/api/v1/refresh", "application/json", nil)
	if err != nil {
		t.Fatalf("POST refresh failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", resp.StatusCode)
	}
}

func TestServer_RefreshRequiresPost(t *testing.T) {
	ts := newTestServer(t, memory.NewMemoryStorage(), nil)

	resp, err := http.Get(ts.URL + "/api/v1/refresh")
	if err != nil {
		t.Fatalf("GET refresh failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", resp.StatusCode)
	}
}

func TestServer_Quotes(t *testing.T) {
	store := memory.NewMemoryStorage()
	cache := memory.NewSnapshotStore(store)
	_ = cache.SetQuotes(context.Background(), map[string]domain.MarketSnapshot{
		"AAPL": {Symbol: "AAPL", Price: 191.5},
	})

	ts := newTestServer(t, store, nil)

	resp, err := http.Get(ts.URL + "/api/v1/quotes")
	if err != nil {
		t.Fatalf("GET quotes failed: %v", err)
	}

	var body struct {
		Quotes map[string]domain.MarketSnapshot `json:"quotes"`
	}
	decodeBody(t, resp, &body)
	if body.Quotes["AAPL"].Price != 191.5 {
		t.Errorf("unexpected quotes payload: %+v", body.Quotes)
	}
}
