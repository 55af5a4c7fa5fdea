package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/medjourney/companion/internal/protocol"
	"github.com/medjourney/companion/internal/session"
	"github.com/medjourney/companion/internal/store"
	"github.com/medjourney/companion/internal/upstream"
)

// HandleUpstreamEvent turns a correlated upstream reply into a client-visible
// agent_response. A session that disappeared while the request was in flight
// makes the reply a no-op.
func (o *Orchestrator) HandleUpstreamEvent(ev upstream.Event) {
	sess, ok := o.registry.Get(ev.SessionID)
	if !ok {
		o.log.Debug().
			Str("session_id", ev.SessionID).
			Str("request_id", ev.RequestID).
			Msg("dropping reply for vanished session")
		return
	}

	if _, err := o.registry.Transition(ev.SessionID, session.StateProcessing, session.StateSpeaking); err != nil {
		// The session moved on (e.g. the turn already timed out). Stale
		// replies must not disturb whatever it is doing now.
		o.log.Debug().
			Str("session_id", ev.SessionID).
			Str("request_id", ev.RequestID).
			Msg("dropping reply for session no longer processing")
		return
	}
	o.sink.Push(ev.SessionID, protocol.NewAgentStatus(string(session.StateSpeaking)))

	reply := protocol.AgentResponse{
		Type: protocol.TypeAgentResponse,
		Text: ev.Text,
	}
	if o.synth != nil {
		ctx, cancel := context.WithTimeout(context.Background(), synthesisTimeout)
		res, err := o.synth.Synthesize(ctx, ev.Text)
		cancel()
		switch {
		case err == nil:
			reply.AudioURL = &res.AudioURL
			reply.DurationMS = res.DurationMS
		case errors.Is(err, context.Canceled):
			// Shutdown in progress; still deliver the text.
		default:
			if o.metrics != nil {
				o.metrics.SynthesisFailures.Inc()
			}
			o.log.Warn().Err(err).Str("session_id", ev.SessionID).Msg("synthesis failed, degrading to text-only")
		}
	}

	o.persistAsync(store.Message{
		SessionID: ev.SessionID,
		UserID:    sess.UserID,
		Role:      "assistant",
		Kind:      ev.Kind,
		Content:   ev.Text,
	})

	o.sink.Push(ev.SessionID, reply)

	if _, err := o.registry.Transition(ev.SessionID, session.StateSpeaking, session.StateIdle); err == nil {
		o.sink.Push(ev.SessionID, protocol.NewAgentStatus(string(session.StateIdle)))
	}

	if o.metrics != nil && !ev.IssuedAt.IsZero() {
		o.metrics.ObserveTurnLatency(time.Since(ev.IssuedAt))
	}
}

// HandleRequestTimeout fails the outstanding turn of a session whose upstream
// request expired or came back as an error. Sessions already gone stay silent.
func (o *Orchestrator) HandleRequestTimeout(sessionID, requestID string) {
	if _, ok := o.registry.Get(sessionID); !ok {
		return
	}
	o.log.Warn().
		Str("session_id", sessionID).
		Str("request_id", requestID).
		Msg("upstream request failed, returning session to idle")

	o.sink.Push(sessionID, protocol.NewError(protocol.CodeTimeout))
	if _, err := o.registry.Transition(sessionID, session.StateProcessing, session.StateIdle); err == nil {
		o.sink.Push(sessionID, protocol.NewAgentStatus(string(session.StateIdle)))
	}
}
