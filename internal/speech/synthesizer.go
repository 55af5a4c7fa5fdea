package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/medjourney/companion/internal/reliability"
)

// Result describes one synthesized utterance.
type Result struct {
	AudioURL   string
	DurationMS int64
}

// Synthesizer converts reply text into hosted audio. Failures are expected
// and degrade to text-only replies upstream of this interface.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (Result, error)
}

var ErrNotConfigured = errors.New("speech service not configured")

// HTTPSynthesizer calls an external text-to-speech service over REST.
type HTTPSynthesizer struct {
	baseURL string
	apiKey  string
	voiceID string
	client  *http.Client
}

type HTTPConfig struct {
	BaseURL string
	APIKey  string
	VoiceID string
	Timeout time.Duration
}

func NewHTTPSynthesizer(cfg HTTPConfig) *HTTPSynthesizer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSynthesizer{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		voiceID: cfg.VoiceID,
		client:  &http.Client{Timeout: timeout},
	}
}

type synthesizeRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id,omitempty"`
}

type synthesizeResponse struct {
	AudioURL   string `json:"audio_url"`
	DurationMS int64  `json:"duration_ms"`
}

func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text string) (Result, error) {
	if s.baseURL == "" {
		return Result{}, ErrNotConfigured
	}

	res, err := s.post(ctx, text)
	if err == nil {
		return res, nil
	}
	// One retry covers transient service hiccups; anything more belongs to
	// the caller's degradation path.
	var statusErr *statusError
	if errors.As(err, &statusErr) && reliability.IsRetryableHTTPStatus(statusErr.code) {
		return s.post(ctx, text)
	}
	return Result{}, err
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("speech service returned status %d", e.code)
}

func (s *HTTPSynthesizer) post(ctx context.Context, text string) (Result, error) {
	body, err := json.Marshal(synthesizeRequest{Text: text, VoiceID: s.voiceID})
	if err != nil {
		return Result{}, fmt.Errorf("encode synthesize request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/synthesize", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build synthesize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("synthesize request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, &statusError{code: resp.StatusCode}
	}

	var decoded synthesizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Result{}, fmt.Errorf("decode synthesize response: %w", err)
	}
	if decoded.AudioURL == "" {
		return Result{}, errors.New("speech service returned no audio url")
	}
	return Result{AudioURL: decoded.AudioURL, DurationMS: decoded.DurationMS}, nil
}
