package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseClientFrameInitialize(t *testing.T) {
	raw := []byte(`{"type":"initialize","config":{"userId":"u1","channel":"care-7"}}`)
	parsed, err := ParseClientFrame(raw)
	if err != nil {
		t.Fatalf("ParseClientFrame() error = %v", err)
	}
	msg, ok := parsed.(Initialize)
	if !ok {
		t.Fatalf("parsed type = %T, want Initialize", parsed)
	}
	if msg.Config.UserID != "u1" || msg.Config.Channel != "care-7" {
		t.Fatalf("unexpected config: %+v", msg.Config)
	}
}

func TestParseClientFrameTextMessage(t *testing.T) {
	parsed, err := ParseClientFrame([]byte(`{"type":"text_message","text":"hello"}`))
	if err != nil {
		t.Fatalf("ParseClientFrame() error = %v", err)
	}
	msg, ok := parsed.(TextMessage)
	if !ok {
		t.Fatalf("parsed type = %T, want TextMessage", parsed)
	}
	if msg.Text != "hello" {
		t.Fatalf("Text = %q, want %q", msg.Text, "hello")
	}
}

func TestParseClientFrameRejectsEmptyText(t *testing.T) {
	if _, err := ParseClientFrame([]byte(`{"type":"text_message"}`)); err == nil {
		t.Fatalf("ParseClientFrame() should reject text_message without text")
	}
}

func TestParseClientFrameRejectsUnknownType(t *testing.T) {
	_, err := ParseClientFrame([]byte(`{"type":"warp_drive"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("err = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientFrameRejectsMalformedJSON(t *testing.T) {
	if _, err := ParseClientFrame([]byte(`{"type":`)); err == nil {
		t.Fatalf("ParseClientFrame() should reject malformed JSON")
	}
}

func TestParseClientFrameImageUpload(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{name: "valid", raw: `{"type":"image_upload","imageData":"aGVsbG8=","fileName":"photo.jpg"}`},
		{name: "missing data", raw: `{"type":"image_upload","fileName":"photo.jpg"}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseClientFrame([]byte(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseClientFrame() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAgentResponseNullAudioURL(t *testing.T) {
	raw, err := json.Marshal(AgentResponse{Type: TypeAgentResponse, Text: "hi", AudioURL: nil, DurationMS: 0})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	v, present := decoded["audioUrl"]
	if !present || v != nil {
		t.Fatalf("audioUrl = %v (present=%v), want explicit null", v, present)
	}
}
