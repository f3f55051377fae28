package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trminhdn/signalflow/internal/core/domain"
)

// DefaultSnapshotTTL bounds how stale cached dashboard state may get
// before readers fall back to an empty response.
const DefaultSnapshotTTL = 15 * time.Minute

// Key helpers
func quoteKey(symbol string) string {
	return fmt.Sprintf("signalflow:quote:%s", symbol)
}

const (
	signalsKey   = "signalflow:signals:latest"
	sentimentKey = "signalflow:sentiment:latest"
)

// SnapshotStore caches the latest quotes, signals and sentiment so the
// dashboard reads cheap cached state instead of hitting the upstream.
type SnapshotStore struct {
	client *Client
	ttl    time.Duration
}

// NewSnapshotStore creates a snapshot store with the given TTL.
// A zero ttl uses DefaultSnapshotTTL.
func NewSnapshotStore(client *Client, ttl time.Duration) *SnapshotStore {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &SnapshotStore{client: client, ttl: ttl}
}

// SetQuotes stores the latest snapshot per symbol.
func (s *SnapshotStore) SetQuotes(ctx context.Context, quotes map[string]domain.MarketSnapshot) error {
	for symbol, snap := range quotes {
		data, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("failed to marshal quote %s: %w", symbol, err)
		}
		if err := s.client.rdb.Set(ctx, quoteKey(symbol), data, s.ttl).Err(); err != nil {
			return fmt.Errorf("failed to cache quote %s: %w", symbol, err)
		}
	}
	return nil
}

// Quotes returns the cached snapshots for the given symbols. Symbols
// with no cached quote are simply absent from the result.
func (s *SnapshotStore) Quotes(ctx context.Context, symbols []string) (map[string]domain.MarketSnapshot, error) {
	if len(symbols) == 0 {
		return map[string]domain.MarketSnapshot{}, nil
	}

	keys := make([]string, len(symbols))
	for i, symbol := range symbols {
		keys[i] = quoteKey(symbol)
	}

	values, err := s.client.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read cached quotes: %w", err)
	}

	out := make(map[string]domain.MarketSnapshot, len(symbols))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue // missing or expired
		}
		var snap domain.MarketSnapshot
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			return nil, fmt.Errorf("corrupt cached quote for %s: %w", symbols[i], err)
		}
		out[symbols[i]] = snap
	}
	return out, nil
}

// SetSignals stores the latest generated signals.
func (s *SnapshotStore) SetSignals(ctx context.Context, signals []domain.TradingSignal) error {
	data, err := json.Marshal(signals)
	if err != nil {
		return fmt.Errorf("failed to marshal signals: %w", err)
	}
	if err := s.client.rdb.Set(ctx, signalsKey, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache signals: %w", err)
	}
	return nil
}

// Signals returns the latest cached signals, or nil when none are cached.
func (s *SnapshotStore) Signals(ctx context.Context) ([]domain.TradingSignal, error) {
	raw, err := s.client.rdb.Get(ctx, signalsKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached signals: %w", err)
	}

	var signals []domain.TradingSignal
	if err := json.Unmarshal([]byte(raw), &signals); err != nil {
		return nil, fmt.Errorf("corrupt cached signals: %w", err)
	}
	return signals, nil
}

// SetSentiment stores the latest market sentiment.
func (s *SnapshotStore) SetSentiment(ctx context.Context, sentiment *domain.MarketSentiment) error {
	data, err := json.Marshal(sentiment)
	if err != nil {
		return fmt.Errorf("failed to marshal sentiment: %w", err)
	}
	if err := s.client.rdb.Set(ctx, sentimentKey, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache sentiment: %w", err)
	}
	return nil
}

// Sentiment returns the latest cached sentiment, or nil when none is cached.
func (s *SnapshotStore) Sentiment(ctx context.Context) (*domain.MarketSentiment, error) {
	raw, err := s.client.rdb.Get(ctx, sentimentKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached sentiment: %w", err)
	}

	var sentiment domain.MarketSentiment
	if err := json.Unmarshal([]byte(raw), &sentiment); err != nil {
		return nil, fmt.Errorf("corrupt cached sentiment: %w", err)
	}
	return &sentiment, nil
}
