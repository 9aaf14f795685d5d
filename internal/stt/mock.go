package stt

import (
	"context"
	"errors"
	"sync"
	"unicode/utf8"
)

// MockRecognizer is an in-process recognizer for development mode and tests.
// It treats incoming audio bytes as UTF-8 text and echoes each chunk back as
// an interim event followed by a final event.
type MockRecognizer struct {
	mu       sync.Mutex
	startErr error
	streams  []*MockStream
}

// NewMockRecognizer creates a mock recognizer.
func NewMockRecognizer() *MockRecognizer {
	return &MockRecognizer{}
}

// FailStart makes subsequent Start calls return err (nil to clear).
func (r *MockRecognizer) FailStart(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startErr = err
}

// Streams returns every stream opened so far, in order.
func (r *MockRecognizer) Streams() []*MockStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*MockStream, len(r.streams))
	copy(out, r.streams)
	return out
}

// Start opens a new mock stream.
func (r *MockRecognizer) Start(ctx context.Context, sourceLang string) (Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return nil, r.startErr
	}

	s := &MockStream{
		lang:   sourceLang,
		events: make(chan TranscriptEvent, 50),
	}
	r.streams = append(r.streams, s)
	return s, nil
}

// MockStream is one mock recognition stream. Tests can also drive it directly
// through Emit and End.
type MockStream struct {
	lang string

	mu       sync.Mutex
	isClosed bool
	err      error
	events   chan TranscriptEvent

	// NoEcho disables the text echo, for tests that script events through
	// Emit instead.
	NoEcho bool
}

// Send echoes valid UTF-8 chunks back as interim then final transcripts.
func (s *MockStream) Send(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isClosed {
		return errors.New("stt: stream closed")
	}
	if s.NoEcho || !utf8.Valid(chunk) {
		return nil
	}

	text := string(chunk)
	s.deliver(TranscriptEvent{Text: text, IsFinal: false, Confidence: 1.0})
	s.deliver(TranscriptEvent{Text: text, IsFinal: true, Confidence: 1.0})
	return nil
}

// Emit injects an event, for scripted tests.
func (s *MockStream) Emit(ev TranscriptEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isClosed {
		return
	}
	s.deliver(ev)
}

// End simulates a provider-side stream termination with the given terminal
// error (nil for a clean close).
func (s *MockStream) End(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isClosed {
		return
	}
	s.isClosed = true
	s.err = err
	close(s.events)
}

func (s *MockStream) deliver(ev TranscriptEvent) {
	select {
	case s.events <- ev:
	default:
	}
}

func (s *MockStream) Events() <-chan TranscriptEvent {
	return s.events
}

func (s *MockStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *MockStream) Close() error {
	s.End(nil)
	return nil
}
