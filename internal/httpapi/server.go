package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/medjourney/companion/internal/config"
	"github.com/medjourney/companion/internal/observability"
	"github.com/medjourney/companion/internal/session"
	"github.com/medjourney/companion/internal/upstream"
)

// ConnectionHandler runs one accepted websocket connection to completion.
type ConnectionHandler interface {
	HandleConnection(ctx context.Context, conn *websocket.Conn)
}

// UpstreamProbe reports the state of the shared gateway link for readiness.
type UpstreamProbe interface {
	State() upstream.State
}

type Server struct {
	cfg      config.Config
	registry *session.Registry
	gateway  ConnectionHandler
	probe    UpstreamProbe
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func New(cfg config.Config, registry *session.Registry, gw ConnectionHandler, probe UpstreamProbe, log zerolog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		registry: registry,
		gateway:  gw,
		probe:    probe,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the
				// same origin, so other sites cannot drive a user's session
				// if the service is ever exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	rateLimit := s.cfg.SessionRateLimit
	if rateLimit <= 0 {
		rateLimit = 30
	}
	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(rateLimit, time.Minute))
		r.Get("/ws", s.handleWS)
		r.Get("/v1/sessions", s.handleListSessions)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	state := upstream.StateConnected
	if s.probe != nil {
		state = s.probe.State()
	}
	status := http.StatusOK
	ready := "ready"
	if state != upstream.StateConnected {
		status = http.StatusServiceUnavailable
		ready = "not_ready"
	}
	respondJSON(w, status, map[string]any{
		"status":   ready,
		"upstream": string(state),
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.gateway == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "gateway not configured")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade rejected")
		return
	}
	s.gateway.HandleConnection(r.Context(), conn)
}

type sessionSummary struct {
	SessionID      string    `json:"session_id"`
	UserID         string    `json:"user_id,omitempty"`
	Channel        string    `json:"channel,omitempty"`
	State          string    `json:"state"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.registry.Snapshot()
	sessions := make([]sessionSummary, 0, len(snapshot))
	for _, sess := range snapshot {
		sessions = append(sessions, sessionSummary{
			SessionID:      sess.ID,
			UserID:         sess.UserID,
			Channel:        sess.Channel,
			State:          string(sess.State),
			CreatedAt:      sess.CreatedAt,
			LastActivityAt: sess.LastActivityAt,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
