package upstream

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Mock provides deterministic local replies when no real gateway is
// configured. It honors the same correlation contract as Client.
type Mock struct {
	mu      sync.Mutex
	handler Handler
	fail    bool
	delay   time.Duration
}

func NewMock(delay time.Duration) *Mock {
	return &Mock{delay: delay}
}

func (m *Mock) Bind(handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
}

// SetFail makes subsequent Send calls fail fast, mimicking a dead link.
func (m *Mock) SetFail(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fail
}

func (m *Mock) Send(sessionID string, req Request) (string, error) {
	m.mu.Lock()
	handler := m.handler
	fail := m.fail
	delay := m.delay
	m.mu.Unlock()

	if fail {
		return "", ErrUnavailable
	}

	requestID := uuid.NewString()
	issuedAt := time.Now().UTC()
	go func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		if handler == nil {
			return
		}
		handler.HandleUpstreamEvent(Event{
			RequestID:  requestID,
			SessionID:  sessionID,
			Kind:       req.Kind,
			Text:       buildMockReply(req),
			Confidence: 0.95,
			IssuedAt:   issuedAt,
		})
	}()
	return requestID, nil
}

func (m *Mock) ReleaseSession(string) {}

// State reports a permanently healthy link; the mock never disconnects.
func (m *Mock) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return StateDisconnected
	}
	return StateConnected
}

func buildMockReply(req Request) string {
	switch req.Kind {
	case "voice":
		return "I heard what you said. Tell me more."
	case "image":
		return "Thank you for sharing that picture with me."
	default:
		text := strings.TrimSpace(req.Text)
		if text == "" {
			return "I am listening."
		}
		return fmt.Sprintf("I heard you: %s", text)
	}
}
