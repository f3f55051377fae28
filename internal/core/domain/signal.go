package domain

import "time"

type SignalAction string

const (
	SignalActionBuy  SignalAction = "buy"
	SignalActionSell SignalAction = "sell"
	SignalActionHold SignalAction = "hold"
)

// TradingSignal is an AI-generated trade suggestion for one symbol.
type TradingSignal struct {
	ID          string       `json:"id"`
	Symbol      string       `json:"symbol"`
	Action      SignalAction `json:"action"`
	Confidence  float64      `json:"confidence"` // 0..1
	Reasoning   string       `json:"reasoning"`
	TargetPrice float64      `json:"target_price"`
	StopLoss    float64      `json:"stop_loss"`
	GeneratedAt time.Time    `json:"generated_at"`
}
