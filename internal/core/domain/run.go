package domain

import "time"

// RunStep identifies how far a refresh run progressed.
type RunStep int

const (
	StepNone RunStep = iota
	StepSignals
	StepSentiment
	StepRecommendation
	StepRisk
)

func (s RunStep) String() string {
	switch s {
	case StepSignals:
		return "signals"
	case StepSentiment:
		return "sentiment"
	case StepRecommendation:
		return "recommendation"
	case StepRisk:
		return "risk"
	default:
		return "none"
	}
}

// RunReport records the outcome of one orchestrated refresh run.
// Skipped runs carry a reason and make no upstream calls.
type RunReport struct {
	ID             string                   `json:"id"`
	Symbols        []string                 `json:"symbols"`
	StartedAt      time.Time                `json:"started_at"`
	FinishedAt     time.Time                `json:"finished_at"`
	StepsDone      RunStep                  `json:"steps_done"`
	Skipped        bool                     `json:"skipped"`
	SkipReason     string                   `json:"skip_reason,omitempty"`
	Signals        []TradingSignal          `json:"signals,omitempty"`
	Sentiment      *MarketSentiment         `json:"sentiment,omitempty"`
	Recommendation *PortfolioRecommendation `json:"recommendation,omitempty"`
	Risk           *RiskAnalysis            `json:"risk,omitempty"`
	Err            string                   `json:"error,omitempty"`
}

// Duration returns how long the run took.
func (r *RunReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Succeeded reports whether the run executed and completed cleanly.
func (r *RunReport) Succeeded() bool {
	return !r.Skipped && r.Err == ""
}

// OrchestratorStatus is a point-in-time view of refresh pacing, for the
// monitoring console.
type OrchestratorStatus struct {
	Refreshing        bool          `json:"refreshing"`
	LastRefreshAt     time.Time     `json:"last_refresh_at"`
	CooldownUntil     time.Time     `json:"cooldown_until,omitempty"`
	CooldownRemaining time.Duration `json:"cooldown_remaining"`
	LastRun           *RunReport    `json:"last_run,omitempty"`
}
