package store

import (
	"context"
	"time"
)

// Message is one persisted conversational turn.
type Message struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	Role        string    `json:"role"`
	Kind        string    `json:"kind"`
	Content     string    `json:"content"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists conversation transcripts. CreateMessage is called
// fire-and-forget off the orchestrator's critical path.
type Store interface {
	CreateMessage(ctx context.Context, msg Message) error
	Close() error
}
