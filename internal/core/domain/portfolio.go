package domain

import "time"

// Position is a single holding in the user's portfolio.
type Position struct {
	Symbol   string  `json:"symbol"`
	Quantity float64 `json:"quantity"`
	AvgCost  float64 `json:"avg_cost"`
}

// PortfolioContext describes the portfolio the advisory steps reason
// about. A nil context means no portfolio is configured and the
// portfolio steps are skipped entirely.
type PortfolioContext struct {
	Positions   []Position `json:"positions"`
	CashBalance float64    `json:"cash_balance"`
}

// Symbols returns the position symbols in portfolio order.
func (p *PortfolioContext) Symbols() []string {
	if p == nil {
		return nil
	}
	out := make([]string, 0, len(p.Positions))
	for _, pos := range p.Positions {
		out = append(out, pos.Symbol)
	}
	return out
}

// RecommendedAction is one rebalancing suggestion.
type RecommendedAction struct {
	Symbol    string       `json:"symbol"`
	Action    SignalAction `json:"action"`
	Weight    float64      `json:"weight"` // suggested portfolio fraction, 0..1
	Rationale string       `json:"rationale"`
}

// PortfolioRecommendation is the advisory output for the whole portfolio.
type PortfolioRecommendation struct {
	Actions     []RecommendedAction `json:"actions"`
	Summary     string              `json:"summary"`
	GeneratedAt time.Time           `json:"generated_at"`
}

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskModerate RiskLevel = "moderate"
	RiskElevated RiskLevel = "elevated"
	RiskHigh     RiskLevel = "high"
)

// RiskFactor names one contributor to portfolio risk.
type RiskFactor struct {
	Name     string  `json:"name"`
	Severity float64 `json:"severity"` // 0..1
	Detail   string  `json:"detail"`
}

// RiskAnalysis is the risk read for the current portfolio.
type RiskAnalysis struct {
	Level       RiskLevel    `json:"level"`
	Score       float64      `json:"score"` // 0..100
	Factors     []RiskFactor `json:"factors"`
	GeneratedAt time.Time    `json:"generated_at"`
}
