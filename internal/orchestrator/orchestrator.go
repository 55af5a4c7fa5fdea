package orchestrator

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/medjourney/companion/internal/observability"
	"github.com/medjourney/companion/internal/policy"
	"github.com/medjourney/companion/internal/session"
	"github.com/medjourney/companion/internal/speech"
	"github.com/medjourney/companion/internal/store"
	"github.com/medjourney/companion/internal/upstream"
)

const (
	messageSaveTimeout = 2 * time.Second
	synthesisTimeout   = 15 * time.Second
)

// Upstream is the narrow surface of the shared gateway link used here.
type Upstream interface {
	Send(sessionID string, req upstream.Request) (string, error)
	ReleaseSession(sessionID string)
}

// Sink delivers frames to a session's outbound queue. Push reports whether
// the session connection still exists.
type Sink interface {
	Push(sessionID string, frame any) bool
}

// Orchestrator routes inbound client frames and turns upstream replies
// into client-visible responses.
type Orchestrator struct {
	registry *session.Registry
	upstream Upstream
	synth    speech.Synthesizer
	messages store.Store
	metrics  *observability.Metrics
	sink     Sink
	log      zerolog.Logger
}

func New(
	registry *session.Registry,
	up Upstream,
	synth speech.Synthesizer,
	messages store.Store,
	metrics *observability.Metrics,
	sink Sink,
	log zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		upstream: up,
		synth:    synth,
		messages: messages,
		metrics:  metrics,
		sink:     sink,
		log:      log,
	}
}

// OnSessionClosed releases correlation state tied to a closed session so
// late replies become no-ops.
func (o *Orchestrator) OnSessionClosed(sessionID string) {
	o.upstream.ReleaseSession(sessionID)
}

// persistAsync writes a transcript message off the critical path. Failures
// are logged and never affect the conversation.
func (o *Orchestrator) persistAsync(msg store.Message) {
	if msg.Content == "" {
		return
	}
	redacted, changed := policy.RedactPII(msg.Content)
	msg.Content = redacted
	msg.PIIRedacted = changed
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), messageSaveTimeout)
		defer cancel()
		if err := o.messages.CreateMessage(ctx, msg); err != nil {
			o.log.Warn().Err(err).Str("session_id", msg.SessionID).Msg("transcript save failed")
		}
	}()
}
