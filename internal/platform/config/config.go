package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" default:"development"`
	AppURL      string `env:"APP_URL" default:"http://localhost:8080"`
	Port        string `env:"PORT" default:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`
	LogLevel    string `env:"LOG_LEVEL" default:"info"`
	LogFormat   string `env:"LOG_FORMAT" default:"text"`

	// Realtime manager tuning.
	WriteTimeout       time.Duration `env:"WS_WRITE_TIMEOUT" default:"5s"`
	SendBufferSize     int           `env:"WS_SEND_BUFFER_SIZE" default:"16"`
	StatusInterval     time.Duration `env:"STATUS_INTERVAL" default:"30s"`
	StatusErrorBackoff time.Duration `env:"STATUS_ERROR_BACKOFF" default:"60s"`

	// Connection limits for the websocket endpoints.
	MaxWebSocketConnections int64   `env:"MAX_WEBSOCKET_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP     int     `env:"MAX_CONNECTIONS_PER_IP" default:"20"`
	ConnectionRatePerSecond float64 `env:"CONNECTION_RATE_PER_SECOND" default:"10"`
	ConnectionRateBurst     int     `env:"CONNECTION_RATE_BURST" default:"10"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.WriteTimeout <= 0 {
		return fmt.Errorf("WS_WRITE_TIMEOUT must be positive")
	}
	if cfg.SendBufferSize <= 0 {
		return fmt.Errorf("WS_SEND_BUFFER_SIZE must be positive")
	}
	if cfg.StatusInterval <= 0 {
		return fmt.Errorf("STATUS_INTERVAL must be positive")
	}
	if cfg.StatusErrorBackoff < cfg.StatusInterval {
		return fmt.Errorf("STATUS_ERROR_BACKOFF must be at least STATUS_INTERVAL")
	}
	if cfg.MaxWebSocketConnections <= 0 {
		return fmt.Errorf("MAX_WEBSOCKET_CONNECTIONS must be positive")
	}
	if cfg.MaxConnectionsPerIP <= 0 {
		return fmt.Errorf("MAX_CONNECTIONS_PER_IP must be positive")
	}
	return nil
}

// IsDevelopment reports whether the app runs in a development environment.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}
