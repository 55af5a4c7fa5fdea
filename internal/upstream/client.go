package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/medjourney/companion/internal/observability"
	"github.com/medjourney/companion/internal/reliability"
)

// State is the lifecycle phase of the shared upstream link.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateExhausted    State = "exhausted_retries"
)

var stateGaugeValues = map[State]float64{
	StateDisconnected: 0,
	StateConnecting:   1,
	StateConnected:    2,
	StateExhausted:    3,
}

// ErrUnavailable is returned by Send whenever the link cannot take traffic.
// Callers fail fast instead of queuing.
var ErrUnavailable = errors.New("upstream gateway unavailable")

// Request is one business request multiplexed over the shared link.
type Request struct {
	Kind      string // "text", "voice" or "image"
	Text      string
	ImageData string
	UserID    string
	Channel   string
}

// Event is a decoded upstream reply, already correlated to its session.
type Event struct {
	RequestID  string
	SessionID  string
	Kind       string
	Text       string
	Confidence float64
	IssuedAt   time.Time
}

// Handler receives demultiplexed upstream traffic.
type Handler interface {
	HandleUpstreamEvent(evt Event)
	HandleRequestTimeout(sessionID, requestID string)
}

type Config struct {
	URL               string
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	HeartbeatInterval time.Duration
	PongTimeout       time.Duration
	BaseBackoff       time.Duration
	MaxBackoff        time.Duration
	MaxAttempts       int
	RequestTimeout    time.Duration
	SweepInterval     time.Duration
}

func (c *Config) applyDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 4 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 3 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 10 * time.Second
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.MaxBackoff < c.BaseBackoff {
		c.MaxBackoff = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Second
	}
}

type pendingRequest struct {
	requestID string
	sessionID string
	kind      string
	issuedAt  time.Time
}

// Client owns the single physical connection to the conversational-AI
// gateway and multiplexes all sessions over it.
type Client struct {
	cfg     Config
	dialer  websocket.Dialer
	metrics *observability.Metrics
	log     zerolog.Logger

	handler Handler

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	pending map[string]pendingRequest

	writeMu sync.Mutex
}

func NewClient(cfg Config, metrics *observability.Metrics, log zerolog.Logger) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg: cfg,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		metrics: metrics,
		log:     log,
		state:   StateDisconnected,
		pending: make(map[string]pendingRequest),
	}
}

// Bind attaches the handler that receives demultiplexed events. It must be
// called before Run.
func (c *Client) Bind(handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// State returns the current link state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.UpstreamState.Set(stateGaugeValues[s])
	}
}

// Run maintains the link until ctx is cancelled or retries are exhausted.
// Reaching ExhaustedRetries is terminal and requires a restart; the rest of
// the service keeps running and Send keeps failing fast.
func (c *Client) Run(ctx context.Context) {
	go c.sweepLoop(ctx)

	failures := 0
	for {
		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return
		}

		c.setState(StateConnecting)
		conn, err := c.dial(ctx)
		if err != nil {
			failures++
			if c.metrics != nil {
				c.metrics.UpstreamReconnects.Inc()
				c.metrics.UpstreamErrors.WithLabelValues("dial").Inc()
			}
			if failures >= c.cfg.MaxAttempts {
				c.setState(StateExhausted)
				c.log.Error().
					Err(err).
					Int("attempts", failures).
					Msg("upstream retries exhausted; manual restart required")
				return
			}
			wait := backoffFor(failures-1, c.cfg)
			c.setState(StateDisconnected)
			c.log.Warn().
				Err(err).
				Int("attempt", failures).
				Dur("backoff", wait).
				Msg("upstream dial failed, backing off")
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}

		failures = 0
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.setState(StateConnected)
		c.log.Info().Str("url", c.cfg.URL).Msg("upstream connected")

		err = c.serve(ctx, conn)
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()

		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return
		}
		c.setState(StateDisconnected)
		if c.metrics != nil {
			c.metrics.UpstreamErrors.WithLabelValues("disconnect").Inc()
		}
		c.log.Warn().Err(err).Msg("upstream link dropped, reconnecting")
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("upstream dial failed (%s): %w", resp.Status, err)
		}
		return nil, fmt.Errorf("upstream dial failed: %w", err)
	}
	if err := c.writeJSON(conn, newInitFrame()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("upstream handshake write: %w", err)
	}
	return conn, nil
}

// serve pumps inbound frames and heartbeats until the link dies.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	// done releases the reader goroutine when serve returns for a reason
	// other than a read error (ctx cancel, heartbeat timeout): a reader
	// blocked on a full msgs buffer would otherwise never observe the
	// closed conn and leak across reconnect cycles.
	done := make(chan struct{})
	defer close(done)

	msgs := make(chan frame, 64)
	errs := make(chan error, 1)
	go func() {
		defer close(msgs)
		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				select {
				case errs <- err:
				case <-done:
				}
				return
			}
			select {
			case msgs <- f:
			case <-done:
				return
			}
		}
	}()

	heartbeat := time.NewTicker(c.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	lastPong := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errs:
			return err
		case f, ok := <-msgs:
			if !ok {
				select {
				case err := <-errs:
					return err
				default:
				}
				return errors.New("upstream connection closed")
			}
			switch f.Type {
			case "pong":
				lastPong = time.Now()
			case "ping":
				_ = c.writeJSON(conn, frame{Type: "pong"})
			case "response":
				c.dispatch(f)
			case "error":
				if c.metrics != nil {
					c.metrics.UpstreamErrors.WithLabelValues("remote").Inc()
				}
				c.log.Warn().Str("error", f.Error).Str("request_id", f.RequestID).Msg("upstream reported error")
				c.dispatchFailure(f)
			default:
				c.log.Debug().Str("type", f.Type).Msg("ignoring unknown upstream frame")
			}
		case <-heartbeat.C:
			if time.Since(lastPong) > c.cfg.HeartbeatInterval+c.cfg.PongTimeout {
				return errors.New("upstream heartbeat timed out")
			}
			if err := c.writeJSON(conn, frame{Type: "ping"}); err != nil {
				return fmt.Errorf("upstream heartbeat write: %w", err)
			}
		}
	}
}

// dispatch resolves the correlation entry and forwards the event. Replies
// with no matching entry (late arrivals after timeout or close) are dropped.
func (c *Client) dispatch(f frame) {
	c.mu.Lock()
	p, ok := c.pending[f.RequestID]
	if ok {
		delete(c.pending, f.RequestID)
	}
	handler := c.handler
	pendingCount := len(c.pending)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.PendingRequests.Set(float64(pendingCount))
	}
	if !ok {
		c.log.Debug().
			Str("request_id", f.RequestID).
			Msg("dropping reply with no pending request")
		return
	}
	if handler == nil {
		return
	}
	// Delivery runs off the read loop: the handler synthesizes speech, and a
	// slow reply for one session must not stall demux, heartbeats, or other
	// sessions on the shared link. Per-session ordering is preserved because
	// a session has at most one request outstanding.
	go handler.HandleUpstreamEvent(Event{
		RequestID:  p.requestID,
		SessionID:  p.sessionID,
		Kind:       p.kind,
		Text:       f.Text,
		Confidence: f.Confidence,
		IssuedAt:   p.issuedAt,
	})
}

// dispatchFailure treats a remote per-request error like a timeout: the
// owning session is released back to idle instead of hanging.
func (c *Client) dispatchFailure(f frame) {
	if f.RequestID == "" {
		return
	}
	c.mu.Lock()
	p, ok := c.pending[f.RequestID]
	if ok {
		delete(c.pending, f.RequestID)
	}
	handler := c.handler
	pendingCount := len(c.pending)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.PendingRequests.Set(float64(pendingCount))
	}
	if ok && handler != nil {
		handler.HandleRequestTimeout(p.sessionID, p.requestID)
	}
}

// Send registers a correlation entry and transmits the request. It fails
// immediately with ErrUnavailable unless the link is connected.
func (c *Client) Send(sessionID string, req Request) (string, error) {
	c.mu.Lock()
	if c.state != StateConnected || c.conn == nil {
		c.mu.Unlock()
		return "", ErrUnavailable
	}
	conn := c.conn
	requestID := uuid.NewString()
	c.pending[requestID] = pendingRequest{
		requestID: requestID,
		sessionID: sessionID,
		kind:      req.Kind,
		issuedAt:  time.Now().UTC(),
	}
	pendingCount := len(c.pending)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.PendingRequests.Set(float64(pendingCount))
	}

	out := generateFrame{
		Type:      "generate",
		RequestID: requestID,
		SessionID: sessionID,
		Kind:      req.Kind,
		Text:      req.Text,
		ImageData: req.ImageData,
		Context:   generateContext{UserID: req.UserID, Channel: req.Channel},
	}
	if err := c.writeJSON(conn, out); err != nil {
		c.mu.Lock()
		delete(c.pending, requestID)
		c.mu.Unlock()
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return requestID, nil
}

// ReleaseSession drops correlation entries for a closed session so their
// eventual replies become no-ops.
func (c *Client) ReleaseSession(sessionID string) {
	c.mu.Lock()
	for id, p := range c.pending {
		if p.sessionID == sessionID {
			delete(c.pending, id)
		}
	}
	pendingCount := len(c.pending)
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.PendingRequests.Set(float64(pendingCount))
	}
}

func (c *Client) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweepExpired(time.Now().UTC())
		}
	}
}

func (c *Client) sweepExpired(now time.Time) {
	type expired struct {
		sessionID string
		requestID string
	}
	var timedOut []expired

	c.mu.Lock()
	for id, p := range c.pending {
		if now.Sub(p.issuedAt) >= c.cfg.RequestTimeout {
			delete(c.pending, id)
			timedOut = append(timedOut, expired{sessionID: p.sessionID, requestID: p.requestID})
		}
	}
	handler := c.handler
	pendingCount := len(c.pending)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.PendingRequests.Set(float64(pendingCount))
	}
	for _, e := range timedOut {
		c.log.Warn().
			Str("session_id", e.sessionID).
			Str("request_id", e.requestID).
			Msg("pending request timed out")
		if handler != nil {
			handler.HandleRequestTimeout(e.sessionID, e.requestID)
		}
	}
}

// PendingCount reports outstanding correlated requests.
func (c *Client) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func backoffFor(failedAttempts int, cfg Config) time.Duration {
	return reliability.ExponentialBackoff(failedAttempts, cfg.BaseBackoff, cfg.MaxBackoff)
}

func (c *Client) writeJSON(conn *websocket.Conn, payload any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	defer conn.SetWriteDeadline(time.Time{})
	return conn.WriteJSON(payload)
}
