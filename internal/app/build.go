package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/medjourney/companion/internal/config"
	"github.com/medjourney/companion/internal/gateway"
	"github.com/medjourney/companion/internal/httpapi"
	"github.com/medjourney/companion/internal/log"
	"github.com/medjourney/companion/internal/observability"
	"github.com/medjourney/companion/internal/orchestrator"
	"github.com/medjourney/companion/internal/session"
	"github.com/medjourney/companion/internal/speech"
	"github.com/medjourney/companion/internal/store"
	"github.com/medjourney/companion/internal/upstream"
)

// UpstreamLink is the shared gateway connection as seen by the rest of the
// service, satisfied by both the real client and the local mock.
type UpstreamLink interface {
	Bind(handler upstream.Handler)
	Send(sessionID string, req upstream.Request) (string, error)
	ReleaseSession(sessionID string)
	State() upstream.State
}

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Registry *session.Registry
	Gateway  *gateway.Gateway
	Upstream UpstreamLink
	Metrics  *observability.Metrics

	// Background holds the long-running loops (upstream link, idle reaper).
	// The caller launches each in its own goroutine.
	Background []func(ctx context.Context)

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	messages, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("message store init failed: %w", err)
	}

	link := buildUpstream(cfg, metrics)
	synth := buildSynthesizer(cfg)

	registry := session.NewRegistry()
	gw := gateway.New(registry, metrics, cfg.OutboundQueueSize, log.WithComponent("gateway"))

	orch := orchestrator.New(
		registry,
		link,
		synth,
		messages,
		metrics,
		gw,
		log.WithComponent("orchestrator"),
	)
	gw.SetHandler(orch)
	link.Bind(orch)

	reaper := session.NewReaper(
		registry,
		cfg.SessionIdleTimeout,
		cfg.ReaperInterval,
		gw.CloseSession,
		log.WithComponent("reaper"),
	)

	api := httpapi.New(cfg, registry, gw, link, log.WithComponent("httpapi"))

	background := []func(context.Context){reaper.Run}
	if client, ok := link.(*upstream.Client); ok {
		background = append(background, client.Run)
	}

	cleanup := func() error {
		var errs []string
		if err := messages.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:     cfg,
		API:        api,
		Registry:   registry,
		Gateway:    gw,
		Upstream:   link,
		Metrics:    metrics,
		Background: background,
		Cleanup:    cleanup,
	}, nil
}

func buildUpstream(cfg config.Config, metrics *observability.Metrics) UpstreamLink {
	if strings.EqualFold(strings.TrimSpace(cfg.UpstreamURL), "mock") {
		return upstream.NewMock(250 * time.Millisecond)
	}
	return upstream.NewClient(upstream.Config{
		URL:               cfg.UpstreamURL,
		HeartbeatInterval: cfg.UpstreamHeartbeatInterval,
		PongTimeout:       cfg.UpstreamPongTimeout,
		BaseBackoff:       cfg.UpstreamBaseBackoff,
		MaxBackoff:        cfg.UpstreamMaxBackoff,
		MaxAttempts:       cfg.UpstreamMaxAttempts,
		RequestTimeout:    cfg.UpstreamRequestTimeout,
		SweepInterval:     cfg.UpstreamSweepInterval,
	}, metrics, log.WithComponent("upstream"))
}

func buildSynthesizer(cfg config.Config) speech.Synthesizer {
	if strings.TrimSpace(cfg.SpeechServiceURL) == "" {
		return speech.NewMockSynthesizer()
	}
	return speech.NewHTTPSynthesizer(speech.HTTPConfig{
		BaseURL: cfg.SpeechServiceURL,
		APIKey:  cfg.SpeechAPIKey,
		VoiceID: cfg.SpeechVoiceID,
		Timeout: cfg.SpeechTimeout,
	})
}
