// Package config loads the assistant configuration from an optional JSON
// file with environment variable overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
)

type ServerConfig struct {
	Port             int      `json:"port" env:"VANTYX_SERVER_PORT"`
	AllowedOrigins   []string `json:"allowed_origins" env:"VANTYX_SERVER_ALLOWED_ORIGINS"`
	RateLimitPerHour int      `json:"rate_limit_per_hour" env:"VANTYX_SERVER_RATE_LIMIT_PER_HOUR"`
	RequestTimeoutS  int      `json:"request_timeout_seconds" env:"VANTYX_SERVER_REQUEST_TIMEOUT_SECONDS"`
}

type UpstreamConfig struct {
	APIKey  string `json:"api_key" env:"VANTYX_UPSTREAM_API_KEY"`
	APIBase string `json:"api_base" env:"VANTYX_UPSTREAM_API_BASE"`
}

type BudgetConfig struct {
	MonthlyLimitUSD float64   `json:"monthly_limit_usd" env:"VANTYX_BUDGET_MONTHLY_LIMIT_USD"`
	Thresholds      []float64 `json:"thresholds"`
	PruneSchedule   string    `json:"prune_schedule" env:"VANTYX_BUDGET_PRUNE_SCHEDULE"`
}

type TelemetryConfig struct {
	SentryDSN   string `json:"sentry_dsn" env:"VANTYX_TELEMETRY_SENTRY_DSN"`
	Environment string `json:"environment" env:"VANTYX_TELEMETRY_ENVIRONMENT"`
}

type ClientConfig struct {
	ServerURL string `json:"server_url" env:"VANTYX_CLIENT_SERVER_URL"`
	Model     string `json:"model" env:"VANTYX_CLIENT_MODEL"`
	DataDir   string `json:"data_dir" env:"VANTYX_CLIENT_DATA_DIR"`
}

type Config struct {
	Server    ServerConfig    `json:"server"`
	Upstream  UpstreamConfig  `json:"upstream"`
	Budget    BudgetConfig    `json:"budget"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Client    ClientConfig    `json:"client"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:             3000,
			AllowedOrigins:   []string{"http://localhost:5173"},
			RateLimitPerHour: 20,
			RequestTimeoutS:  30,
		},
		Upstream: UpstreamConfig{
			APIBase: "https://api.openai.com/v1",
		},
		Budget: BudgetConfig{
			MonthlyLimitUSD: 50,
			Thresholds:      []float64{0.50, 0.75, 0.90, 0.95},
			PruneSchedule:   "@daily",
		},
		Telemetry: TelemetryConfig{
			Environment: "development",
		},
		Client: ClientConfig{
			ServerURL: "http://localhost:3000",
			Model:     "gpt-3.5-turbo",
			DataDir:   "~/.vantyx",
		},
	}
}

// LoadConfig reads the JSON config at path (missing file means defaults)
// and applies VANTYX_* environment overrides on top.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	return cfg, nil
}
