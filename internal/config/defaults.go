package config

import (
	"fmt"
	"time"

	"mediagrab/internal/domain"
)

const (
	defaultFetchTimeout = 5 * time.Minute
	defaultLaneIdle     = 10 * time.Minute
)

func Defaults() *Config {
	return &Config{
		Storage: StorageConfig{
			Root: "downloads",
		},
		Fetch: FetchConfig{
			Tool:    "gallery-dl",
			Timeout: defaultFetchTimeout,
		},
		Router: RouterConfig{
			Domains:      []string{"twitter.com", "x.com"},
			StatusMarker: "/status/",
			Concurrency:  8,
		},
		Lane: LaneConfig{
			MaxInFlight: 4,
			QueueSize:   4,
			IdleTimeout: defaultLaneIdle,
		},
		Health: HealthConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    5000,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// RequireToken reports a startup error when the bot token is missing.
func (c *Config) RequireToken() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("telegram: %w", domain.ErrMissingToken)
	}
	return nil
}
