package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the companion conversation service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	LogLevel         string

	AllowAnyOrigin bool

	SessionIdleTimeout time.Duration
	ReaperInterval     time.Duration
	OutboundQueueSize  int

	UpstreamURL               string
	UpstreamHeartbeatInterval time.Duration
	UpstreamPongTimeout       time.Duration
	UpstreamBaseBackoff       time.Duration
	UpstreamMaxBackoff        time.Duration
	UpstreamMaxAttempts       int
	UpstreamRequestTimeout    time.Duration
	UpstreamSweepInterval     time.Duration

	SpeechServiceURL string
	SpeechAPIKey     string
	SpeechTimeout    time.Duration
	SpeechVoiceID    string

	DatabaseURL string

	SessionRateLimit int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                  envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:          envOrDefault("APP_METRICS_NAMESPACE", "companion"),
		LogLevel:                  envOrDefault("LOG_LEVEL", "info"),
		AllowAnyOrigin:            false,
		ShutdownTimeout:           15 * time.Second,
		SessionIdleTimeout:        5 * time.Minute,
		ReaperInterval:            time.Minute,
		OutboundQueueSize:         64,
		UpstreamURL:               envOrDefault("UPSTREAM_GATEWAY_URL", "ws://127.0.0.1:8765/agent"),
		UpstreamHeartbeatInterval: 30 * time.Second,
		UpstreamPongTimeout:       10 * time.Second,
		UpstreamBaseBackoff:       time.Second,
		UpstreamMaxBackoff:        30 * time.Second,
		UpstreamMaxAttempts:       5,
		UpstreamRequestTimeout:    30 * time.Second,
		UpstreamSweepInterval:     5 * time.Second,
		SpeechServiceURL:          envOrDefault("SPEECH_SERVICE_URL", ""),
		SpeechAPIKey:              trimSpaceEnv("SPEECH_API_KEY"),
		SpeechTimeout:             10 * time.Second,
		SpeechVoiceID:             envOrDefault("SPEECH_VOICE_ID", "companion_warm"),
		DatabaseURL:               trimSpaceEnv("DATABASE_URL"),
		SessionRateLimit:          30,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionIdleTimeout, err = durationFromEnv("APP_SESSION_IDLE_TIMEOUT", cfg.SessionIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ReaperInterval, err = durationFromEnv("APP_REAPER_INTERVAL", cfg.ReaperInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.OutboundQueueSize, err = intFromEnv("APP_OUTBOUND_QUEUE_SIZE", cfg.OutboundQueueSize)
	if err != nil {
		return Config{}, err
	}
	cfg.UpstreamHeartbeatInterval, err = durationFromEnv("UPSTREAM_HEARTBEAT_INTERVAL", cfg.UpstreamHeartbeatInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.UpstreamPongTimeout, err = durationFromEnv("UPSTREAM_PONG_TIMEOUT", cfg.UpstreamPongTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.UpstreamBaseBackoff, err = durationFromEnv("UPSTREAM_BASE_BACKOFF", cfg.UpstreamBaseBackoff)
	if err != nil {
		return Config{}, err
	}
	cfg.UpstreamMaxBackoff, err = durationFromEnv("UPSTREAM_MAX_BACKOFF", cfg.UpstreamMaxBackoff)
	if err != nil {
		return Config{}, err
	}
	cfg.UpstreamMaxAttempts, err = intFromEnv("UPSTREAM_MAX_ATTEMPTS", cfg.UpstreamMaxAttempts)
	if err != nil {
		return Config{}, err
	}
	cfg.UpstreamRequestTimeout, err = durationFromEnv("UPSTREAM_REQUEST_TIMEOUT", cfg.UpstreamRequestTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.UpstreamSweepInterval, err = durationFromEnv("UPSTREAM_SWEEP_INTERVAL", cfg.UpstreamSweepInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.SpeechTimeout, err = durationFromEnv("SPEECH_TIMEOUT", cfg.SpeechTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionRateLimit, err = intFromEnv("APP_SESSION_RATE_LIMIT", cfg.SessionRateLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionIdleTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_IDLE_TIMEOUT must be at least 5s")
	}
	if cfg.ReaperInterval <= 0 {
		return Config{}, fmt.Errorf("APP_REAPER_INTERVAL must be positive")
	}
	if cfg.OutboundQueueSize <= 0 {
		return Config{}, fmt.Errorf("APP_OUTBOUND_QUEUE_SIZE must be positive")
	}
	if strings.TrimSpace(cfg.UpstreamURL) == "" {
		return Config{}, fmt.Errorf("UPSTREAM_GATEWAY_URL must not be empty")
	}
	if cfg.UpstreamMaxAttempts <= 0 {
		return Config{}, fmt.Errorf("UPSTREAM_MAX_ATTEMPTS must be positive")
	}
	if cfg.UpstreamBaseBackoff <= 0 || cfg.UpstreamMaxBackoff < cfg.UpstreamBaseBackoff {
		return Config{}, fmt.Errorf("UPSTREAM_MAX_BACKOFF must be >= UPSTREAM_BASE_BACKOFF and both positive")
	}
	if cfg.UpstreamRequestTimeout <= 0 {
		return Config{}, fmt.Errorf("UPSTREAM_REQUEST_TIMEOUT must be positive")
	}
	if cfg.SessionRateLimit <= 0 {
		return Config{}, fmt.Errorf("APP_SESSION_RATE_LIMIT must be positive")
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

func trimSpaceEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimSpaceEnv(key)
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
	v := trimSpaceEnv(key)
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
	v := strings.ToLower(trimSpaceEnv(key))
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
