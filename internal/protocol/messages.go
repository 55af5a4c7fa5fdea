package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeInitialize      MessageType = "initialize"
	TypeTextMessage     MessageType = "text_message"
	TypeStartVoice      MessageType = "start_voice_recording"
	TypeStopVoice       MessageType = "stop_voice_recording"
	TypeImageUpload     MessageType = "image_upload"
	TypePing            MessageType = "ping"
	TypeConnectionEstab MessageType = "connection_established"
	TypeInitialized     MessageType = "initialized"
	TypeAgentStatus     MessageType = "agent_status"
	TypeAgentResponse   MessageType = "agent_response"
	TypeError           MessageType = "error"
	TypePong            MessageType = "pong"
)

// Error codes carried by the error frame.
const (
	CodeBadRequest          = "bad_request"
	CodeBusy                = "busy"
	CodeInvalidState        = "invalid_state"
	CodeTimeout             = "timeout"
	CodeUpstreamUnavailable = "upstream_unavailable"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// InitConfig carries the client identity supplied on initialize.
type InitConfig struct {
	UserID  string `json:"userId"`
	Channel string `json:"channel"`
}

type Initialize struct {
	Type   MessageType `json:"type"`
	Config InitConfig  `json:"config"`
}

type TextMessage struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type StartVoiceRecording struct {
	Type MessageType `json:"type"`
}

type StopVoiceRecording struct {
	Type MessageType `json:"type"`
}

type ImageUpload struct {
	Type      MessageType `json:"type"`
	ImageData string      `json:"imageData"`
	FileName  string      `json:"fileName"`
}

type Ping struct {
	Type MessageType `json:"type"`
}

type ConnectionEstablished struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId"`
	Status    string      `json:"status"`
}

type Initialized struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId"`
	Status    string      `json:"status"`
}

type AgentStatus struct {
	Type   MessageType `json:"type"`
	Status string      `json:"status"`
}

// AgentResponse carries the composed reply. AudioURL is null when speech
// synthesis failed or was skipped; the text is always present.
type AgentResponse struct {
	Type       MessageType `json:"type"`
	Text       string      `json:"text"`
	AudioURL   *string     `json:"audioUrl"`
	DurationMS int64       `json:"duration"`
}

type ErrorFrame struct {
	Type  MessageType `json:"type"`
	Error string      `json:"error"`
}

type Pong struct {
	Type MessageType `json:"type"`
}

// ParseClientFrame decodes one inbound client frame, validating required
// fields per type. Unknown types yield ErrUnsupportedType.
func ParseClientFrame(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeInitialize:
		var msg Initialize
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeTextMessage:
		var msg TextMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Text == "" {
			return nil, errors.New("invalid text_message: text is required")
		}
		return msg, nil
	case TypeStartVoice:
		return StartVoiceRecording{Type: env.Type}, nil
	case TypeStopVoice:
		return StopVoiceRecording{Type: env.Type}, nil
	case TypeImageUpload:
		var msg ImageUpload
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.ImageData == "" {
			return nil, errors.New("invalid image_upload: imageData is required")
		}
		return msg, nil
	case TypePing:
		return Ping{Type: env.Type}, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// NewError builds an error frame for the given code.
func NewError(code string) ErrorFrame {
	return ErrorFrame{Type: TypeError, Error: code}
}

// NewAgentStatus reports an externally visible session state.
func NewAgentStatus(status string) AgentStatus {
	return AgentStatus{Type: TypeAgentStatus, Status: status}
}
