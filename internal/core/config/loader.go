package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults if necessary
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	if cfg.Upstream.RequestTimeout == 0 {
		cfg.Upstream.RequestTimeout = Duration(30 * time.Second)
	}
	if cfg.Upstream.MinRequestInterval == 0 {
		cfg.Upstream.MinRequestInterval = Duration(3 * time.Second)
	}
	if cfg.Upstream.MaxRetries == 0 {
		cfg.Upstream.MaxRetries = 2
	}
	if cfg.Upstream.RetryBaseDelay == 0 {
		cfg.Upstream.RetryBaseDelay = Duration(5 * time.Second)
	}
	if cfg.Upstream.RetryMaxDelay == 0 {
		cfg.Upstream.RetryMaxDelay = Duration(30 * time.Second)
	}

	if cfg.Refresh.PollInterval == 0 {
		cfg.Refresh.PollInterval = Duration(30 * time.Second)
	}
	if cfg.Refresh.MinRefreshInterval == 0 {
		cfg.Refresh.MinRefreshInterval = Duration(2 * time.Minute)
	}
	if cfg.Refresh.InterStepDelay == 0 {
		cfg.Refresh.InterStepDelay = Duration(1 * time.Second)
	}
	if cfg.Refresh.RateLimitCooldown == 0 {
		cfg.Refresh.RateLimitCooldown = Duration(3 * time.Minute)
	}

	if cfg.Upstream.BaseURL == "" {
		return nil, fmt.Errorf("upstream.base_url is required")
	}
	if len(cfg.Refresh.Symbols) == 0 {
		return nil, fmt.Errorf("refresh.symbols must list at least one symbol")
	}

	return &cfg, nil
}
