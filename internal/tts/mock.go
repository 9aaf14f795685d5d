package tts

import (
	"context"
	"sync"
)

// MockSynthesizer is an in-process synthesizer for development mode and
// tests. It returns a short silent buffer sized to the input text.
type MockSynthesizer struct {
	mu    sync.Mutex
	err   error
	calls []string
}

// NewMockSynthesizer creates a mock synthesizer.
func NewMockSynthesizer() *MockSynthesizer {
	return &MockSynthesizer{}
}

// Fail makes subsequent Synthesize calls return err (nil to clear).
func (m *MockSynthesizer) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns every text passed to Synthesize, in order.
func (m *MockSynthesizer) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockSynthesizer) Synthesize(ctx context.Context, text, lang string) ([]float32, error) {
	m.mu.Lock()
	m.calls = append(m.calls, text)
	err := m.err
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 10ms of silence per rune keeps mock playback roughly speech-length.
	n := len([]rune(text)) * SampleRate / 100
	if n == 0 {
		n = SampleRate / 100
	}
	return make([]float32, n), nil
}
