package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/trminhdn/signalflow/internal/core/domain"
	"github.com/trminhdn/signalflow/internal/ratelimit"
)

func TestClient_Quotes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/market/quotes" {
			t.Errorf("expected path /v1/market/quotes, got %s", r.URL.Path)
			http.Error(w, "invalid path", http.StatusBadRequest)
			return
		}
		if got := r.URL.Query().Get("symbols"); got != "AAPL,MSFT" {
			t.Errorf("expected symbols AAPL,MSFT, got %s", got)
		}
		if got := r.Header.Get("X-API-Key"); got != "test-key" {
			t.Errorf("expected API key header, got %q", got)
		}

		response := map[string]any{
			"quotes": map[string]any{
				"AAPL": map[string]any{"symbol": "AAPL", "price": 191.5},
				"MSFT": map[string]any{"symbol": "MSFT", "price": 415.2},
			},
		}
		_ = json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	c := NewClient(server.URL, "test-key", 5*time.Second)
	quotes, err := c.Quotes(context.Background(), []string{"AAPL", "MSFT"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(quotes) != 2 {
		t.Fatalf("expected 2 quotes, got %d", len(quotes))
	}
	if quotes["AAPL"].Price != 191.5 {
		t.Errorf("expected AAPL price 191.5, got %v", quotes["AAPL"].Price)
	}
}

func TestClient_GenerateSignalFillsBookkeeping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("failed to decode body: %v", err)
			return
		}
		if body["symbol"] != "AAPL" {
			t.Errorf("expected symbol AAPL, got %v", body["symbol"])
		}

		// No id, symbol or generated_at in the response
		response := map[string]any{
			"action":     "buy",
			"confidence": 0.8,
			"reasoning":  "momentum",
		}
		_ = json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	c := NewClient(server.URL, "", 5*time.Second)
	signal, err := c.GenerateSignal(context.Background(), "AAPL", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if signal.ID == "" {
		t.Error("expected a generated signal ID")
	}
	if signal.Symbol != "AAPL" {
		t.Errorf("expected symbol AAPL, got %s", signal.Symbol)
	}
	if signal.GeneratedAt.IsZero() {
		t.Error("expected GeneratedAt to be filled")
	}
	if signal.Action != domain.SignalActionBuy {
		t.Errorf("expected action buy, got %s", signal.Action)
	}
}

func TestClient_RateLimitResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "rate limit exceeded"},
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, "", 5*time.Second)
	_, err := c.MarketSentiment(context.Background(), []string{"AAPL"}, nil)
	if err == nil {
		t.Fatal("expected an error")
	}

	var cerr *ratelimit.ClassifiedError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected a classified error, got %T: %v", err, err)
	}
	if cerr.Kind != ratelimit.KindRateLimit {
		t.Errorf("expected rate_limit kind, got %s", cerr.Kind)
	}
	if cerr.Status != 429 {
		t.Errorf("expected status 429, got %d", cerr.Status)
	}
	if cerr.Message != "rate limit exceeded" {
		t.Errorf("expected upstream message, got %q", cerr.Message)
	}
	if cerr.RetryAfter != 2*time.Minute {
		t.Errorf("expected retry-after 2m, got %v", cerr.RetryAfter)
	}

	if got := c.Monitor.CheckStatus(); got != StatusThrottled {
		t.Errorf("expected monitor status throttled, got %s", got)
	}
}

func TestClient_ServerErrorFallsBackToBodyText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer server.Close()

	c := NewClient(server.URL, "", 5*time.Second)
	_, err := c.PortfolioRisk(context.Background(), &domain.PortfolioContext{}, nil)

	var cerr *ratelimit.ClassifiedError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected a classified error, got %T: %v", err, err)
	}
	if cerr.Kind != ratelimit.KindServer {
		t.Errorf("expected server kind, got %s", cerr.Kind)
	}
	if cerr.Message != "upstream exploded" {
		t.Errorf("expected body text message, got %q", cerr.Message)
	}
}

func TestClient_ConnectionErrorClassifiesAsNetwork(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse connections

	c := NewClient(server.URL, "", time.Second)
	_, err := c.Quotes(context.Background(), []string{"AAPL"})

	var cerr *ratelimit.ClassifiedError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected a classified error, got %T: %v", err, err)
	}
	if cerr.Kind != ratelimit.KindNetwork {
		t.Errorf("expected network kind, got %s", cerr.Kind)
	}
	if !ratelimit.Retryable(err) {
		t.Error("expected network error to be retryable")
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   time.Duration
	}{
		{"empty", "", 0},
		{"seconds", "90", 90 * time.Second},
		{"zero seconds", "0", 0},
		{"garbage", "soon", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseRetryAfter(tt.header); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestMonitor_ThrottleStatusExpires(t *testing.T) {
	m := NewMonitor()
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return current }

	m.RecordThrottle(429, 30*time.Second)
	if got := m.CheckStatus(); got != StatusThrottled {
		t.Fatalf("expected throttled, got %s", got)
	}
	if got := m.RetryAfter(); got != 30*time.Second {
		t.Errorf("expected retry-after 30s, got %v", got)
	}

	current = current.Add(31 * time.Second)
	if got := m.CheckStatus(); got != StatusHealthy {
		t.Errorf("expected healthy after window, got %s", got)
	}
	if got := m.RetryAfter(); got != 0 {
		t.Errorf("expected no retry-after, got %v", got)
	}
}

func TestMonitor_BlockedOutranksThrottled(t *testing.T) {
	m := NewMonitor()
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return current }

	m.RecordThrottle(429, time.Minute)
	m.RecordThrottle(403, 0)

	if got := m.CheckStatus(); got != StatusBlocked {
		t.Errorf("expected blocked, got %s", got)
	}

	stats := m.GetStats()
	if stats.ThrottleCount429 != 1 || stats.ThrottleCount403 != 1 {
		t.Errorf("expected one throttle of each kind, got %d and %d",
			stats.ThrottleCount429, stats.ThrottleCount403)
	}
}

func TestMonitor_RequestAccumulation(t *testing.T) {
	m := NewMonitor()

	for range 5 {
		m.RecordRequest(50 * time.Millisecond)
	}

	stats := m.GetStats()
	if stats.RequestsLast24Hours != 5 {
		t.Errorf("Expected 5 requests, got %d", stats.RequestsLast24Hours)
	}
	if stats.AverageLatency != 50*time.Millisecond {
		t.Errorf("Expected 50ms average latency, got %v", stats.AverageLatency)
	}
	if stats.Status != "healthy" {
		t.Errorf("Expected healthy status, got %s", stats.Status)
	}
}
