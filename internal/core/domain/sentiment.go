package domain

import "time"

type SentimentLabel string

const (
	SentimentBullish SentimentLabel = "bullish"
	SentimentBearish SentimentLabel = "bearish"
	SentimentNeutral SentimentLabel = "neutral"
)

// MarketSentiment is an aggregate read of the tracked market.
type MarketSentiment struct {
	Score       float64        `json:"score"` // -1..1
	Label       SentimentLabel `json:"label"`
	Summary     string         `json:"summary"`
	Drivers     []string       `json:"drivers"`
	GeneratedAt time.Time      `json:"generated_at"`
}
