package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for mediagrab. It is built once at startup
// and handed to the components that need it.
type Config struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Storage  StorageConfig  `yaml:"storage"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Relay    RelayConfig    `yaml:"relay"`
	Router   RouterConfig   `yaml:"router"`
	Lane     LaneConfig     `yaml:"lane"`
	Health   HealthConfig   `yaml:"health"`
	Log      LogConfig      `yaml:"log"`
}

type TelegramConfig struct {
	Token     string   `yaml:"token" envconfig:"TELEGRAM_BOT_TOKEN"`
	AllowFrom []string `yaml:"allow_from" envconfig:"TELEGRAM_ALLOW_FROM"` // user IDs, empty = everyone
	ParseMode string   `yaml:"parse_mode" envconfig:"TELEGRAM_PARSE_MODE"`
}

// StorageConfig controls where staged media lands: <root>/<chat-id>/media.
type StorageConfig struct {
	Root string `yaml:"root" envconfig:"DOWNLOAD_ROOT"`
}

// FetchConfig configures the external extraction tool.
type FetchConfig struct {
	Tool          string        `yaml:"tool" envconfig:"FETCH_TOOL"`
	ExtraArgs     []string      `yaml:"extra_args" envconfig:"FETCH_EXTRA_ARGS"`
	Timeout       time.Duration `yaml:"timeout" envconfig:"FETCH_TIMEOUT"`
	Cookies       string        `yaml:"cookies" envconfig:"TWITTER_COOKIES"` // Netscape cookie-file text
	CookieDir     string        `yaml:"cookie_dir" envconfig:"COOKIE_DIR"`
	RatePerMinute float64       `yaml:"rate_per_minute" envconfig:"FETCH_RATE_PER_MINUTE"` // 0 = unthrottled
	Burst         int           `yaml:"burst" envconfig:"FETCH_BURST"`
}

type RelayConfig struct {
	KeepUnmatched bool `yaml:"keep_unmatched" envconfig:"RELAY_KEEP_UNMATCHED"`
}

type RouterConfig struct {
	Domains      []string `yaml:"domains" envconfig:"LINK_DOMAINS"`
	StatusMarker string   `yaml:"status_marker" envconfig:"LINK_STATUS_MARKER"`
	Concurrency  int      `yaml:"concurrency" envconfig:"ROUTER_CONCURRENCY"`
}

// LaneConfig bounds per-chat queueing and global fetch parallelism.
type LaneConfig struct {
	MaxInFlight int           `yaml:"max_in_flight" envconfig:"LANE_MAX_IN_FLIGHT"`
	QueueSize   int           `yaml:"queue_size" envconfig:"LANE_QUEUE_SIZE"`
	IdleTimeout time.Duration `yaml:"idle_timeout" envconfig:"LANE_IDLE_TIMEOUT"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled" envconfig:"HEALTH_ENABLED"`
	Host    string `yaml:"host" envconfig:"HEALTH_HOST"`
	Port    int    `yaml:"port" envconfig:"HEALTH_PORT"`
}

type LogConfig struct {
	Level string `yaml:"level" envconfig:"LOG_LEVEL"`
}

// Load builds the configuration. Later sources win: defaults, the optional
// YAML file at path, a .env file in the working directory, then the process
// environment.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		path = ExpandPath(path)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	// .env is optional; existing environment variables are never overwritten.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("cannot load .env: %w", err)
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	cfg.Storage.Root = ExpandPath(cfg.Storage.Root)
	cfg.Fetch.CookieDir = ExpandPath(cfg.Fetch.CookieDir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that the config has usable values. The bot token is not
// checked here; see RequireToken.
func Validate(cfg *Config) error {
	var errs []string

	if strings.TrimSpace(cfg.Storage.Root) == "" {
		errs = append(errs, "storage.root must not be empty")
	}
	if strings.TrimSpace(cfg.Fetch.Tool) == "" {
		errs = append(errs, "fetch.tool must not be empty")
	}
	if cfg.Fetch.Timeout < 0 {
		errs = append(errs, "fetch.timeout must be >= 0")
	}
	if cfg.Fetch.RatePerMinute < 0 || cfg.Fetch.Burst < 0 {
		errs = append(errs, "fetch.rate_per_minute and fetch.burst must be >= 0")
	}
	if len(cfg.Router.Domains) == 0 {
		errs = append(errs, "router.domains must list at least one domain")
	}
	if cfg.Router.StatusMarker == "" {
		errs = append(errs, "router.status_marker must not be empty")
	}
	if cfg.Router.Concurrency < 1 || cfg.Router.Concurrency > 100 {
		errs = append(errs, "router.concurrency must be between 1 and 100")
	}
	if cfg.Lane.MaxInFlight < 1 || cfg.Lane.MaxInFlight > 64 {
		errs = append(errs, "lane.max_in_flight must be between 1 and 64")
	}
	if cfg.Lane.QueueSize < 1 {
		errs = append(errs, "lane.queue_size must be >= 1")
	}
	if cfg.Health.Port < 0 || cfg.Health.Port > 65535 {
		errs = append(errs, "health.port must be between 0 and 65535")
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, "log.level must be one of: debug, info, warn, error")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Address returns the liveness server address in host:port format.
func (c HealthConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SlogLevel maps the configured level name to a slog.Level.
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
