package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	CacheDir    string `envconfig:"CACHE_DIR" required:"true"`
	DBPath      string `envconfig:"DB_PATH" default:"mediacache.db"`
	MaxParallel int    `envconfig:"MAX_PARALLEL" default:"5"`

	ProbeHost    string        `envconfig:"PROBE_HOST" default:"one.one.one.one"`
	ProbeTimeout time.Duration `envconfig:"PROBE_TIMEOUT" default:"3s"`
	ProbePoll    time.Duration `envconfig:"PROBE_POLL_INTERVAL" default:"15s"`
	// MeteredLink declares the uplink as metered/cellular so successful
	// probes classify as constrained.
	MeteredLink bool `envconfig:"METERED_LINK" default:"false"`

	AllowCellularDownloads bool `envconfig:"ALLOW_CELLULAR_DOWNLOADS" default:"false"`
	AllowCellularStreaming bool `envconfig:"ALLOW_CELLULAR_STREAMING" default:"true"`
	AutomaticDownloads     bool `envconfig:"AUTOMATIC_DOWNLOADS" default:"true"`

	PreloadInterval  time.Duration `envconfig:"PRELOAD_INTERVAL" default:"10m"`
	LogLevel         string        `envconfig:"LOG_LEVEL" default:"INFO"`
	LogFile          string        `envconfig:"LOG_FILE"`
	WebhookURL       string        `envconfig:"WEBHOOK_URL"`
	TelemetryEnabled bool          `envconfig:"TELEMETRY_ENABLED" default:"true"`
	ServiceName      string        `envconfig:"SERVICE_NAME" default:"mediacache"`

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:8080"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
