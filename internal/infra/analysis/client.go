// Package analysis is the HTTP client for the upstream market analysis
// API. Calls are single transport attempts: pacing, retries and
// supersession are layered on by the ratelimit package, so every error
// escapes classified and the caller decides what to do with it.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trminhdn/signalflow/internal/core/domain"
	"github.com/trminhdn/signalflow/internal/metrics"
	"github.com/trminhdn/signalflow/internal/ratelimit"
)

// Client calls the upstream analysis API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	Monitor *Monitor

	// Budget, when set, is charged one call per transport attempt.
	Budget *ratelimit.Budget
}

// NewClient creates a client for the given endpoint. A zero timeout
// defaults to 30 seconds.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		Monitor: NewMonitor(),
	}
}

// Quotes fetches the latest market snapshot for each symbol.
func (c *Client) Quotes(ctx context.Context, symbols []string) (map[string]domain.MarketSnapshot, error) {
	q := url.Values{}
	q.Set("symbols", strings.Join(symbols, ","))

	var resp struct {
		Quotes map[string]domain.MarketSnapshot `json:"quotes"`
	}
	if err := c.call(ctx, "quotes", "GET", "/v1/market/quotes?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Quotes, nil
}

// GenerateSignal asks the upstream for a trading signal on one symbol.
// The latest snapshot is passed along as context when available.
func (c *Client) GenerateSignal(ctx context.Context, symbol string, snapshot *domain.MarketSnapshot) (*domain.TradingSignal, error) {
	req := struct {
		Symbol   string                 `json:"symbol"`
		Snapshot *domain.MarketSnapshot `json:"snapshot,omitempty"`
	}{Symbol: symbol, Snapshot: snapshot}

	var signal domain.TradingSignal
	if err := c.call(ctx, "signal", "POST", "/v1/analysis/signal", req, &signal); err != nil {
		return nil, err
	}

	// Some responses omit bookkeeping fields; fill them so the signal
	// can be persisted as-is.
	if signal.ID == "" {
		signal.ID = uuid.NewString()
	}
	if signal.Symbol == "" {
		signal.Symbol = symbol
	}
	if signal.GeneratedAt.IsZero() {
		signal.GeneratedAt = time.Now().UTC()
	}
	return &signal, nil
}

// MarketSentiment asks the upstream for an aggregate market read.
func (c *Client) MarketSentiment(ctx context.Context, symbols []string, market map[string]domain.MarketSnapshot) (*domain.MarketSentiment, error) {
	req := struct {
		Symbols []string                         `json:"symbols"`
		Market  map[string]domain.MarketSnapshot `json:"market,omitempty"`
	}{Symbols: symbols, Market: market}

	var sentiment domain.MarketSentiment
	if err := c.call(ctx, "sentiment", "POST", "/v1/analysis/sentiment", req, &sentiment); err != nil {
		return nil, err
	}
	if sentiment.GeneratedAt.IsZero() {
		sentiment.GeneratedAt = time.Now().UTC()
	}
	return &sentiment, nil
}

// PortfolioRecommendation asks the upstream for rebalancing advice.
func (c *Client) PortfolioRecommendation(ctx context.Context, portfolio *domain.PortfolioContext, signals []domain.TradingSignal) (*domain.PortfolioRecommendation, error) {
	req := struct {
		Portfolio *domain.PortfolioContext `json:"portfolio"`
		Signals   []domain.TradingSignal   `json:"signals,omitempty"`
	}{Portfolio: portfolio, Signals: signals}

	var rec domain.PortfolioRecommendation
	if err := c.call(ctx, "recommendation", "POST", "/v1/analysis/recommendation", req, &rec); err != nil {
		return nil, err
	}
	if rec.GeneratedAt.IsZero() {
		rec.GeneratedAt = time.Now().UTC()
	}
	return &rec, nil
}

// PortfolioRisk asks the upstream for a portfolio risk analysis.
func (c *Client) PortfolioRisk(ctx context.Context, portfolio *domain.PortfolioContext, market map[string]domain.MarketSnapshot) (*domain.RiskAnalysis, error) {
	req := struct {
		Portfolio *domain.PortfolioContext         `json:"portfolio"`
		Market    map[string]domain.MarketSnapshot `json:"market,omitempty"`
	}{Portfolio: portfolio, Market: market}

	var risk domain.RiskAnalysis
	if err := c.call(ctx, "risk", "POST", "/v1/analysis/risk", req, &risk); err != nil {
		return nil, err
	}
	if risk.GeneratedAt.IsZero() {
		risk.GeneratedAt = time.Now().UTC()
	}
	return &risk, nil
}

// Close cleans up idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// call makes one HTTP round trip. Non-2xx responses come back as
// classified errors carrying the parsed upstream message and any
// Retry-After hint; transport failures classify as network errors.
func (c *Client) call(ctx context.Context, op, method, path string, body, out any) error {
	start := time.Now()

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	if c.Budget != nil {
		c.Budget.RecordCall(op)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(op, "network", time.Since(start))
		return ratelimit.Classify(fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.observe(op, "network", time.Since(start))
		return ratelimit.Classify(fmt.Errorf("failed to read response: %w", err))
	}

	latency := time.Since(start)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		if resp.StatusCode == 429 || resp.StatusCode == 403 {
			c.Monitor.RecordThrottle(resp.StatusCode, retryAfter)
		}
		if resp.StatusCode == 429 {
			metrics.RateLimitHitsTotal.Inc()
		}

		cerr := ratelimit.FromStatus(resp.StatusCode, parseErrorMessage(respBody, resp.StatusCode), retryAfter)
		c.observe(op, cerr.Kind.String(), latency)
		return cerr
	}

	c.Monitor.RecordRequest(latency)
	c.observe(op, "success", latency)

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (c *Client) observe(op, outcome string, latency time.Duration) {
	metrics.UpstreamRequestsTotal.WithLabelValues(op, outcome).Inc()
	metrics.UpstreamRequestSeconds.WithLabelValues(op).Observe(latency.Seconds())
}

// parseErrorMessage extracts the message from an upstream error
// payload, shaped {"error":{"message":"..."}}. Unparseable bodies fall
// back to their text, then to the standard status text.
func parseErrorMessage(body []byte, status int) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}

	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return http.StatusText(status)
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
