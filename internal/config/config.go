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
	StoreDir string `envconfig:"STORE_DIR" default:"downloads"`

	FileTTL         time.Duration `envconfig:"FILE_TTL" default:"15m"`
	CleanupInterval time.Duration `envconfig:"CLEANUP_INTERVAL" default:"1m"`
	JobTimeout      time.Duration `envconfig:"JOB_TIMEOUT" default:"5m"`

	RateLimit  int           `envconfig:"RATE_LIMIT" default:"5"`
	RateWindow time.Duration `envconfig:"RATE_WINDOW" default:"1m"`

	MaxFileBytes int64 `envconfig:"MAX_FILE_BYTES" default:"1073741824"`
	QuotaBytes   int64 `envconfig:"QUOTA_BYTES" default:"524288000"`
	QuotaFiles   int   `envconfig:"QUOTA_FILES" default:"30"`

	MaxParallel int    `envconfig:"MAX_PARALLEL" default:"3"`
	YtdlpPath   string `envconfig:"YTDLP_PATH" default:"yt-dlp"`

	CORSOrigins       []string `envconfig:"CORS_ORIGINS" default:"*"`
	LogLevel          string   `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string   `envconfig:"DISCORD_WEBHOOK_URL"`

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"true"`
		ServiceName  string `split_words:"true" default:"mediagrab"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	}

	Web struct {
		BindAddress string        `split_words:"true" default:"0.0.0.0:8000"`
		ReadTimeout time.Duration `split_words:"true" default:"30s"`
		// Covers both the synchronous download job on POST and streaming a
		// quota-sized file to a slow client, so it must exceed JOB_TIMEOUT.
		WriteTimeout    time.Duration `split_words:"true" default:"10m"`
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
