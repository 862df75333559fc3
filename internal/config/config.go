// Package config holds the runtime settings for the relay.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Env       string           `json:"env"`
	HTTP      *HTTPConfig      `json:"http"`
	Database  *DatabaseConfig  `json:"database"`
	WebSocket *WebSocketConfig `json:"websocket"`
	RateLimit *RateLimitConfig `json:"rate_limit"`
}

type HTTPConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

type DatabaseConfig struct {
	Path string `json:"path"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `json:"ping_interval"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	BufferSize   int           `json:"buffer_size"`
}

// RateLimitConfig carries the two admission budgets: connection attempts per
// client+user, and messages per user.
type RateLimitConfig struct {
	ConnMaxRequests int           `json:"conn_max_requests"`
	ConnWindow      time.Duration `json:"conn_window"`
	MsgMaxRequests  int           `json:"msg_max_requests"`
	MsgWindow       time.Duration `json:"msg_window"`
}

func DefaultConfig() *Config {
	return &Config{
		Env: "dev",
		HTTP: &HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8000,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: &DatabaseConfig{
			Path: "./nightingale.db",
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   100,
		},
		RateLimit: &RateLimitConfig{
			ConnMaxRequests: 5,
			ConnWindow:      60 * time.Second,
			MsgMaxRequests:  20,
			MsgWindow:       60 * time.Second,
		},
	}
}

func (c *Config) Validate() error {
	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.Database == nil || c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.ReadTimeout <= 0 || c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket timeouts must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}
	if c.RateLimit == nil {
		return fmt.Errorf("rate limit configuration is required")
	}
	if c.RateLimit.ConnMaxRequests <= 0 || c.RateLimit.MsgMaxRequests <= 0 {
		return fmt.Errorf("rate limit budgets must be positive")
	}
	if c.RateLimit.ConnWindow <= 0 || c.RateLimit.MsgWindow <= 0 {
		return fmt.Errorf("rate limit windows must be positive")
	}
	return nil
}

// LoadFromEnv layers environment overrides over the defaults.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()

	if env := os.Getenv("NIGHTINGALE_ENV"); env != "" {
		cfg.Env = env
	}
	if host := os.Getenv("NIGHTINGALE_HTTP_HOST"); host != "" {
		cfg.HTTP.Host = host
	}
	if port := os.Getenv("NIGHTINGALE_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.HTTP.Port = p
		}
	}
	if path := os.Getenv("NIGHTINGALE_DATABASE_PATH"); path != "" {
		cfg.Database.Path = path
	}

	overrideDuration := func(key string, dst *time.Duration) {
		if raw := os.Getenv(key); raw != "" {
			if d, err := time.ParseDuration(raw); err == nil {
				*dst = d
			}
		}
	}
	overrideInt := func(key string, dst *int) {
		if raw := os.Getenv(key); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil {
				*dst = n
			}
		}
	}

	overrideDuration("NIGHTINGALE_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout)
	overrideDuration("NIGHTINGALE_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout)
	overrideDuration("NIGHTINGALE_WS_PING_INTERVAL", &cfg.WebSocket.PingInterval)
	overrideDuration("NIGHTINGALE_WS_READ_TIMEOUT", &cfg.WebSocket.ReadTimeout)
	overrideDuration("NIGHTINGALE_WS_WRITE_TIMEOUT", &cfg.WebSocket.WriteTimeout)
	overrideInt("NIGHTINGALE_WS_BUFFER_SIZE", &cfg.WebSocket.BufferSize)
	overrideInt("NIGHTINGALE_RATE_CONN_MAX", &cfg.RateLimit.ConnMaxRequests)
	overrideDuration("NIGHTINGALE_RATE_CONN_WINDOW", &cfg.RateLimit.ConnWindow)
	overrideInt("NIGHTINGALE_RATE_MSG_MAX", &cfg.RateLimit.MsgMaxRequests)
	overrideDuration("NIGHTINGALE_RATE_MSG_WINDOW", &cfg.RateLimit.MsgWindow)

	return cfg
}
