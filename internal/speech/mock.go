package speech

import (
	"context"
	"errors"
	"sync"
)

// MockSynthesizer provides deterministic results for tests and local dev.
type MockSynthesizer struct {
	mu   sync.Mutex
	fail bool
}

func NewMockSynthesizer() *MockSynthesizer { return &MockSynthesizer{} }

// SetFail forces subsequent Synthesize calls to fail.
func (m *MockSynthesizer) SetFail(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fail
}

func (m *MockSynthesizer) Synthesize(ctx context.Context, text string) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}

	m.mu.Lock()
	fail := m.fail
	m.mu.Unlock()
	if fail {
		return Result{}, errors.New("mock synthesis failure")
	}

	// Rough speaking-time estimate, mirroring what the real service reports.
	duration := int64(len(text)) * 60
	if duration < 1000 {
		duration = 1000
	}
	return Result{AudioURL: "mock://audio/" + shortHash(text), DurationMS: duration}, nil
}

func shortHash(s string) string {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		out[i] = hexdigits[h&0xf]
		h >>= 4
	}
	return string(out)
}
