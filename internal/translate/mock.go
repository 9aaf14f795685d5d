package translate

import (
	"context"
	"sync"
)

// MockTranslator is an in-process translator for development mode and tests.
// It tags the input with the target language so output is distinguishable.
type MockTranslator struct {
	mu    sync.Mutex
	err   error
	calls []string
}

// NewMockTranslator creates a mock translator.
func NewMockTranslator() *MockTranslator {
	return &MockTranslator{}
}

// Fail makes subsequent Translate calls return err (nil to clear).
func (m *MockTranslator) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns every text passed to Translate, in order.
func (m *MockTranslator) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockTranslator) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, text)
	err := m.err
	m.mu.Unlock()

	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if sourceLang == targetLang {
		return text, nil
	}
	return "[" + targetLang + "] " + text, nil
}
