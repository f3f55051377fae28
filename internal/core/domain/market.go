package domain

import "time"

// MarketSnapshot is the latest quote for a tracked symbol.
type MarketSnapshot struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	ChangePct float64   `json:"change_pct"`
	Volume    int64     `json:"volume"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	UpdatedAt time.Time `json:"updated_at"`
}
