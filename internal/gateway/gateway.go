package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/medjourney/companion/internal/observability"
	"github.com/medjourney/companion/internal/protocol"
	"github.com/medjourney/companion/internal/session"
)

const (
	writeTimeout   = 10 * time.Second
	readTimeout    = 120 * time.Second
	maxMessageSize = 2 << 20
)

// FrameHandler consumes inbound frames and is told when a session's
// connection goes away.
type FrameHandler interface {
	HandleFrame(ctx context.Context, sessionID string, raw []byte)
	OnSessionClosed(sessionID string)
}

// clientConn pairs a websocket connection with its outbound queue. All
// writes go through the single writer goroutine.
type clientConn struct {
	conn      *websocket.Conn
	out       chan any
	done      chan struct{}
	closeOnce sync.Once
}

// enqueue places a frame on the outbound queue, evicting the oldest queued
// frame when full. It reports how many frames were dropped to make room.
func (c *clientConn) enqueue(frame any) int {
	dropped := 0
	for {
		select {
		case <-c.done:
			return dropped
		default:
		}
		select {
		case c.out <- frame:
			return dropped
		default:
		}
		select {
		case <-c.out:
			dropped++
		default:
		}
	}
}

func (c *clientConn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// Gateway owns the client-facing websocket connections: one goroutine pair
// (reader + writer) per connection, registered by session ID.
type Gateway struct {
	registry  *session.Registry
	metrics   *observability.Metrics
	queueSize int
	log       zerolog.Logger

	mu      sync.RWMutex
	conns   map[string]*clientConn
	handler FrameHandler
}

func New(registry *session.Registry, metrics *observability.Metrics, queueSize int, log zerolog.Logger) *Gateway {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Gateway{
		registry:  registry,
		metrics:   metrics,
		queueSize: queueSize,
		log:       log,
		conns:     make(map[string]*clientConn),
	}
}

// SetHandler wires the frame consumer. Must be called before the gateway
// accepts connections.
func (g *Gateway) SetHandler(handler FrameHandler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handler = handler
}

// HandleConnection runs one client connection to completion. It owns the
// session entry for the lifetime of the socket.
func (g *Gateway) HandleConnection(ctx context.Context, conn *websocket.Conn) {
	g.mu.RLock()
	handler := g.handler
	g.mu.RUnlock()
	if handler == nil {
		g.log.Error().Msg("connection arrived before handler was wired")
		_ = conn.Close()
		return
	}

	sess := g.registry.Create()
	cc := &clientConn{
		conn: conn,
		out:  make(chan any, g.queueSize),
		done: make(chan struct{}),
	}

	g.mu.Lock()
	g.conns[sess.ID] = cc
	g.mu.Unlock()

	if g.metrics != nil {
		g.metrics.ActiveSessions.Set(float64(g.registry.Count()))
		g.metrics.SessionEvents.WithLabelValues("connected").Inc()
	}
	g.log.Info().Str("session_id", sess.ID).Msg("client connected")

	cc.enqueue(protocol.ConnectionEstablished{
		Type:      protocol.TypeConnectionEstab,
		SessionID: sess.ID,
		Status:    "connected",
	})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		g.writeLoop(cc, sess.ID)
	}()

	g.readLoop(ctx, cc, sess.ID, handler)

	g.teardown(sess.ID, cc, handler)
	<-writerDone
}

func (g *Gateway) writeLoop(cc *clientConn, sessionID string) {
	for {
		select {
		case <-cc.done:
			return
		case msg := <-cc.out:
			_ = cc.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := cc.conn.WriteJSON(msg); err != nil {
				g.log.Debug().Err(err).Str("session_id", sessionID).Msg("write failed, closing connection")
				cc.shutdown()
				return
			}
			if g.metrics != nil {
				g.metrics.WSMessages.WithLabelValues("outbound", frameType(msg)).Inc()
			}
		}
	}
}

func (g *Gateway) readLoop(ctx context.Context, cc *clientConn, sessionID string, handler FrameHandler) {
	cc.conn.SetReadLimit(maxMessageSize)
	_ = cc.conn.SetReadDeadline(time.Now().Add(readTimeout))
	cc.conn.SetPongHandler(func(string) error {
		_ = cc.conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		msgType, data, err := cc.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = cc.conn.SetReadDeadline(time.Now().Add(readTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		if g.metrics != nil {
			g.metrics.WSMessages.WithLabelValues("inbound", rawFrameType(data)).Inc()
		}
		handler.HandleFrame(ctx, sessionID, data)
	}
}

// Push queues a frame for the session's connection. It reports false when
// the connection is gone; full queues evict the oldest frame instead of
// blocking the caller.
func (g *Gateway) Push(sessionID string, frame any) bool {
	g.mu.RLock()
	cc, ok := g.conns[sessionID]
	g.mu.RUnlock()
	if !ok {
		return false
	}

	if dropped := cc.enqueue(frame); dropped > 0 {
		if g.metrics != nil {
			g.metrics.DroppedFrames.WithLabelValues("queue_full").Add(float64(dropped))
		}
		g.log.Warn().
			Str("session_id", sessionID).
			Int("dropped", dropped).
			Msg("outbound queue full, evicted oldest frames")
	}
	return true
}

// CloseSession terminates a session's connection from the server side, e.g.
// when the idle reaper expires it. The read loop observes the closed socket
// and runs the normal teardown.
func (g *Gateway) CloseSession(sessionID string) {
	g.mu.RLock()
	cc, ok := g.conns[sessionID]
	g.mu.RUnlock()
	if !ok {
		return
	}
	g.log.Info().Str("session_id", sessionID).Msg("closing session")
	deadline := time.Now().Add(writeTimeout)
	_ = cc.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
		deadline,
	)
	cc.shutdown()
}

func (g *Gateway) teardown(sessionID string, cc *clientConn, handler FrameHandler) {
	cc.shutdown()

	g.mu.Lock()
	delete(g.conns, sessionID)
	g.mu.Unlock()

	g.registry.Update(sessionID, func(s *session.Session) {
		s.State = session.StateDisconnected
	})
	g.registry.Remove(sessionID)
	handler.OnSessionClosed(sessionID)

	if g.metrics != nil {
		g.metrics.ActiveSessions.Set(float64(g.registry.Count()))
		g.metrics.SessionEvents.WithLabelValues("disconnected").Inc()
	}
	g.log.Info().Str("session_id", sessionID).Msg("client disconnected")
}

// ConnectionCount reports the number of live websocket connections.
func (g *Gateway) ConnectionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns)
}

func frameType(v any) string {
	switch m := v.(type) {
	case protocol.ConnectionEstablished:
		return string(m.Type)
	case protocol.Initialized:
		return string(m.Type)
	case protocol.AgentStatus:
		return string(m.Type)
	case protocol.AgentResponse:
		return string(m.Type)
	case protocol.ErrorFrame:
		return string(m.Type)
	case protocol.Pong:
		return string(m.Type)
	default:
		return "unknown"
	}
}

func rawFrameType(data []byte) string {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		return "unknown"
	}
	return string(env.Type)
}
