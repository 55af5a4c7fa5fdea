package upstream

import "encoding/json"

// frame is the envelope for every message on the upstream link.
type frame struct {
	Type       string          `json:"type"`
	RequestID  string          `json:"requestId,omitempty"`
	SessionID  string          `json:"sessionId,omitempty"`
	Text       string          `json:"text,omitempty"`
	Confidence float64         `json:"confidence,omitempty"`
	Error      string          `json:"error,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

type initFrame struct {
	Type         string   `json:"type"`
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities"`
}

type generateContext struct {
	UserID  string `json:"userId,omitempty"`
	Channel string `json:"channel,omitempty"`
}

type generateFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	SessionID string          `json:"sessionId"`
	Kind      string          `json:"kind"`
	Text      string          `json:"text,omitempty"`
	ImageData string          `json:"imageData,omitempty"`
	Context   generateContext `json:"context"`
}

func newInitFrame() initFrame {
	return initFrame{
		Type:         "init",
		Version:      "1.0.0",
		Capabilities: []string{"text", "voice", "image"},
	}
}
