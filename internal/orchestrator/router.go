package orchestrator

import (
	"context"
	"errors"

	"github.com/medjourney/companion/internal/protocol"
	"github.com/medjourney/companion/internal/session"
	"github.com/medjourney/companion/internal/store"
	"github.com/medjourney/companion/internal/upstream"
)

// HandleFrame decodes, validates and dispatches one inbound client frame.
// Every failure is answered on the same connection as an error frame;
// nothing propagates to other sessions.
func (o *Orchestrator) HandleFrame(ctx context.Context, sessionID string, raw []byte) {
	o.registry.Touch(sessionID)

	parsed, err := protocol.ParseClientFrame(raw)
	if err != nil {
		o.log.Debug().Err(err).Str("session_id", sessionID).Msg("rejecting malformed frame")
		o.sink.Push(sessionID, protocol.NewError(protocol.CodeBadRequest))
		return
	}

	switch msg := parsed.(type) {
	case protocol.Ping:
		// Always answered inline, regardless of state.
		o.sink.Push(sessionID, protocol.Pong{Type: protocol.TypePong})
	case protocol.Initialize:
		o.handleInitialize(sessionID, msg)
	case protocol.TextMessage:
		o.startTurn(sessionID, session.StateIdle, upstream.Request{Kind: "text", Text: msg.Text})
	case protocol.StartVoiceRecording:
		o.handleStartVoice(sessionID)
	case protocol.StopVoiceRecording:
		o.startTurn(sessionID, session.StateListening, upstream.Request{Kind: "voice"})
	case protocol.ImageUpload:
		o.startTurn(sessionID, session.StateIdle, upstream.Request{Kind: "image", ImageData: msg.ImageData, Text: msg.FileName})
	}
}

func (o *Orchestrator) handleInitialize(sessionID string, msg protocol.Initialize) {
	if _, err := o.registry.Transition(sessionID, session.StateConnecting, session.StateIdle); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return
		}
		o.sink.Push(sessionID, protocol.NewError(protocol.CodeInvalidState))
		return
	}
	o.registry.Update(sessionID, func(s *session.Session) {
		s.UserID = msg.Config.UserID
		s.Channel = msg.Config.Channel
	})
	o.sink.Push(sessionID, protocol.Initialized{
		Type:      protocol.TypeInitialized,
		SessionID: sessionID,
		Status:    "connected",
	})
	o.log.Info().
		Str("session_id", sessionID).
		Str("user_id", msg.Config.UserID).
		Str("channel", msg.Config.Channel).
		Msg("session initialized")
}

func (o *Orchestrator) handleStartVoice(sessionID string) {
	current, err := o.registry.Transition(sessionID, session.StateIdle, session.StateListening)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return
		}
		// Not a turn-starting frame, so this is never "busy": recording can
		// only begin from Idle, anything else is an invalid transition.
		o.log.Debug().
			Str("session_id", sessionID).
			Str("state", string(current)).
			Msg("rejecting start_voice_recording outside idle")
		o.sink.Push(sessionID, protocol.NewError(protocol.CodeInvalidState))
		return
	}
	o.sink.Push(sessionID, protocol.NewAgentStatus(string(session.StateListening)))
}

// startTurn moves the session into processing and dispatches the request
// upstream. The from-state gate enforces at most one outstanding request
// per session.
func (o *Orchestrator) startTurn(sessionID string, from session.State, req upstream.Request) {
	current, err := o.registry.Transition(sessionID, from, session.StateProcessing)
	if err != nil {
		o.rejectTurnStart(sessionID, current, err)
		return
	}
	o.sink.Push(sessionID, protocol.NewAgentStatus(string(session.StateProcessing)))

	sess, ok := o.registry.Get(sessionID)
	if ok {
		req.UserID = sess.UserID
		req.Channel = sess.Channel
	}
	o.persistAsync(store.Message{
		SessionID: sessionID,
		UserID:    req.UserID,
		Role:      "user",
		Kind:      req.Kind,
		Content:   req.Text,
	})

	if _, err := o.upstream.Send(sessionID, req); err != nil {
		if o.metrics != nil {
			o.metrics.UpstreamErrors.WithLabelValues("send").Inc()
		}
		o.log.Warn().Err(err).Str("session_id", sessionID).Msg("upstream dispatch failed")
		o.sink.Push(sessionID, protocol.NewError(protocol.CodeUpstreamUnavailable))
		if _, err := o.registry.Transition(sessionID, session.StateProcessing, session.StateIdle); err == nil {
			o.sink.Push(sessionID, protocol.NewAgentStatus(string(session.StateIdle)))
		}
	}
}

// rejectTurnStart answers a turn-starting frame that is not valid for the
// session's current state: "busy" when a turn is already in flight,
// "invalid_state" otherwise. The session itself is left untouched.
func (o *Orchestrator) rejectTurnStart(sessionID string, current session.State, err error) {
	if errors.Is(err, session.ErrNotFound) {
		return
	}
	code := protocol.CodeInvalidState
	if current == session.StateProcessing || current == session.StateSpeaking {
		code = protocol.CodeBusy
	}
	o.log.Debug().
		Str("session_id", sessionID).
		Str("state", string(current)).
		Str("code", code).
		Msg("rejecting frame for current state")
	o.sink.Push(sessionID, protocol.NewError(code))
}
