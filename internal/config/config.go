package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the streaming session broker.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	RateLimitMax    int
	RateLimitWindow time.Duration

	HeartbeatInterval  time.Duration
	SessionGracePeriod time.Duration
	MaxContentLength   int

	EngineMode       string
	DefaultEngineRef string
	AnthropicAPIKey  string

	AuthMode      string
	AuthJWTSecret string
	AuthIssuer    string
	AuthAudience  string
	AuthStaticMap string

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "streamgate"),
		AllowAnyOrigin:   false,
		// Fixed-window defaults observed in production: 60 admissions per
		// 60s window per connection.
		RateLimitMax:       60,
		RateLimitWindow:    60 * time.Second,
		HeartbeatInterval:  30 * time.Second,
		SessionGracePeriod: 5 * time.Minute,
		MaxContentLength:   10000,
		EngineMode:         envOrDefault("ENGINE_MODE", "auto"),
		DefaultEngineRef:   envOrDefault("ENGINE_DEFAULT_MODEL", "claude-3-5-sonnet-20241022"),
		AnthropicAPIKey:    trimmedEnv("ANTHROPIC_API_KEY"),
		AuthMode:           envOrDefault("AUTH_MODE", "jwt"),
		AuthJWTSecret:      trimmedEnv("AUTH_JWT_SECRET"),
		AuthIssuer:         trimmedEnv("AUTH_ISSUER"),
		AuthAudience:       trimmedEnv("AUTH_AUDIENCE"),
		AuthStaticMap:      trimmedEnv("AUTH_STATIC_TOKENS"),
		DatabaseURL:        trimmedEnv("DATABASE_URL"),
		ShutdownTimeout:    15 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.RateLimitMax, err = intFromEnv("RATE_LIMIT_MAX", cfg.RateLimitMax)
	if err != nil {
		return Config{}, err
	}
	cfg.RateLimitWindow, err = durationFromEnv("RATE_LIMIT_WINDOW", cfg.RateLimitWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.HeartbeatInterval, err = durationFromEnv("HEARTBEAT_INTERVAL", cfg.HeartbeatInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionGracePeriod, err = durationFromEnv("SESSION_GRACE_PERIOD", cfg.SessionGracePeriod)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxContentLength, err = intFromEnv("MAX_CONTENT_LENGTH", cfg.MaxContentLength)
	if err != nil {
		return Config{}, err
	}

	if cfg.RateLimitMax <= 0 {
		return Config{}, fmt.Errorf("RATE_LIMIT_MAX must be positive")
	}
	if cfg.RateLimitWindow < time.Second {
		return Config{}, fmt.Errorf("RATE_LIMIT_WINDOW must be at least 1s")
	}
	if cfg.HeartbeatInterval < time.Second {
		return Config{}, fmt.Errorf("HEARTBEAT_INTERVAL must be at least 1s")
	}
	if cfg.SessionGracePeriod < time.Second {
		return Config{}, fmt.Errorf("SESSION_GRACE_PERIOD must be at least 1s")
	}
	if cfg.MaxContentLength <= 0 {
		return Config{}, fmt.Errorf("MAX_CONTENT_LENGTH must be positive")
	}
	switch strings.ToLower(cfg.AuthMode) {
	case "jwt", "static":
	default:
		return Config{}, fmt.Errorf("AUTH_MODE must be jwt or static, got %q", cfg.AuthMode)
	}
	if strings.EqualFold(cfg.AuthMode, "jwt") && cfg.AuthJWTSecret == "" {
		return Config{}, fmt.Errorf("AUTH_JWT_SECRET is required when AUTH_MODE=jwt")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
