package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":9090")
	}
	if cfg.UpstreamMaxAttempts != 5 {
		t.Fatalf("UpstreamMaxAttempts = %d, want 5", cfg.UpstreamMaxAttempts)
	}
	if cfg.UpstreamBaseBackoff != time.Second {
		t.Fatalf("UpstreamBaseBackoff = %v, want 1s", cfg.UpstreamBaseBackoff)
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("DatabaseURL = %q, want empty default", cfg.DatabaseURL)
	}
}

func TestLoadParsesDurations(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_SESSION_IDLE_TIMEOUT", "90s")
	t.Setenv("UPSTREAM_MAX_BACKOFF", "2m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SessionIdleTimeout != 90*time.Second {
		t.Fatalf("SessionIdleTimeout = %v, want 90s", cfg.SessionIdleTimeout)
	}
	if cfg.UpstreamMaxBackoff != 2*time.Minute {
		t.Fatalf("UpstreamMaxBackoff = %v, want 2m", cfg.UpstreamMaxBackoff)
	}
}

func TestLoadRejectsShortIdleTimeout(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_SESSION_IDLE_TIMEOUT", "1s")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() should reject idle timeout under 5s")
	}
}

func TestLoadRejectsBackoffCapBelowBase(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("UPSTREAM_BASE_BACKOFF", "10s")
	t.Setenv("UPSTREAM_MAX_BACKOFF", "1s")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() should reject max backoff below base backoff")
	}
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("UPSTREAM_REQUEST_TIMEOUT", "soon")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() should reject malformed duration")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_SESSION_IDLE_TIMEOUT",
		"APP_REAPER_INTERVAL",
		"APP_OUTBOUND_QUEUE_SIZE",
		"APP_SESSION_RATE_LIMIT",
		"APP_ALLOW_ANY_ORIGIN",
		"UPSTREAM_GATEWAY_URL",
		"UPSTREAM_HEARTBEAT_INTERVAL",
		"UPSTREAM_PONG_TIMEOUT",
		"UPSTREAM_BASE_BACKOFF",
		"UPSTREAM_MAX_BACKOFF",
		"UPSTREAM_MAX_ATTEMPTS",
		"UPSTREAM_REQUEST_TIMEOUT",
		"UPSTREAM_SWEEP_INTERVAL",
		"SPEECH_SERVICE_URL",
		"SPEECH_API_KEY",
		"SPEECH_TIMEOUT",
		"SPEECH_VOICE_ID",
		"DATABASE_URL",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}
