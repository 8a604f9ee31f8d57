package config

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	Env  string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	Port string `env:"PORT" envDefault:"8080" validate:"required"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info" validate:"required,oneof=debug info warn error"`

	// Default per-kind processor tunables (ms), used when a registered
	// handler does not override them via its own ProcessorConfig.
	ClaimIntervalMs      int `env:"CLAIM_INTERVAL_MS" envDefault:"1000" validate:"min=1"`
	IdleIntervalMs       int `env:"IDLE_INTERVAL_MS" envDefault:"5000" validate:"min=1"`
	TaskHandlerTimeoutMs int `env:"TASK_HANDLER_TIMEOUT_MS" envDefault:"30000" validate:"min=1"`
	ClaimStaleTimeoutMs  int `env:"CLAIM_STALE_TIMEOUT_MS" envDefault:"60000" validate:"min=1"`
	MaxRetries           int `env:"MAX_RETRIES" envDefault:"10" validate:"min=0"`

	StatCollectionIntervalMs int `env:"STAT_COLLECTION_INTERVAL_MS" envDefault:"1800000" validate:"min=1"`

	JWTSecret string `env:"JWT_SECRET,required" validate:"required"`

	ResendAPIKey      string `env:"RESEND_API_KEY"      validate:"required_if=Env production,required_if=Env staging"`
	ResendFrom        string `env:"RESEND_FROM"         validate:"required_if=Env production,required_if=Env staging"`
	NotifyRecipient   string `env:"NOTIFY_RECIPIENT"`

	CronDigestExpr string `env:"CRON_DIGEST_EXPR" envDefault:"0 * * * *"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SlogLevel converts the LOG_LEVEL string to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
