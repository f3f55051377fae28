package config

import (
	"github.com/trminhdn/signalflow/internal/core/domain"
	redisclient "github.com/trminhdn/signalflow/internal/infra/redis"
	"github.com/trminhdn/signalflow/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig       `yaml:"server"`
	Logging   LoggingConfig      `yaml:"logging"`
	Upstream  UpstreamConfig     `yaml:"upstream"`
	Refresh   RefreshConfig      `yaml:"refresh"`
	Portfolio *PortfolioConfig   `yaml:"portfolio"`
	Redis     redisclient.Config `yaml:"redis"`
	Database  postgres.Config    `yaml:"database"`
	History   HistoryConfig      `yaml:"history"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// UpstreamConfig holds settings for the analysis API.
type UpstreamConfig struct {
	BaseURL            string   `yaml:"base_url"`
	APIKey             string   `yaml:"api_key"`
	RequestTimeout     Duration `yaml:"request_timeout"`
	MinRequestInterval Duration `yaml:"min_request_interval"`
	MaxRetries         int      `yaml:"max_retries"`
	RetryBaseDelay     Duration `yaml:"retry_base_delay"`
	RetryMaxDelay      Duration `yaml:"retry_max_delay"`
	DailyQuota         int      `yaml:"daily_quota"` // 0 = unlimited
}

// RefreshConfig paces the signal refresh loop.
type RefreshConfig struct {
	Symbols            []string `yaml:"symbols"`
	PollInterval       Duration `yaml:"poll_interval"`
	MinRefreshInterval Duration `yaml:"min_refresh_interval"`
	InterStepDelay     Duration `yaml:"inter_step_delay"`
	RateLimitCooldown  Duration `yaml:"rate_limit_cooldown"`
}

// PortfolioConfig describes the advised portfolio. An absent section
// means the portfolio steps are skipped.
type PortfolioConfig struct {
	Positions   []PositionConfig `yaml:"positions"`
	CashBalance float64          `yaml:"cash_balance"`
}

// PositionConfig is one configured holding.
type PositionConfig struct {
	Symbol   string  `yaml:"symbol"`
	Quantity float64 `yaml:"quantity"`
	AvgCost  float64 `yaml:"avg_cost"`
}

// HistoryConfig controls run history retention.
type HistoryConfig struct {
	Retention Duration `yaml:"retention"` // 0 = keep forever
}

// PortfolioContext converts the configured portfolio into its domain
// form, or nil when no portfolio is configured.
func (c *PortfolioConfig) PortfolioContext() *domain.PortfolioContext {
	if c == nil {
		return nil
	}
	pc := &domain.PortfolioContext{CashBalance: c.CashBalance}
	for _, p := range c.Positions {
		pc.Positions = append(pc.Positions, domain.Position{
			Symbol:   p.Symbol,
			Quantity: p.Quantity,
			AvgCost:  p.AvgCost,
		})
	}
	return pc
}
