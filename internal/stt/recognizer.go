package stt

import "context"

// TranscriptEvent is one recognizer result. Interim events carry the text
// recognized so far; final events close out an utterance.
type TranscriptEvent struct {
	Text       string
	IsFinal    bool
	Confidence float32
}

// Stream is one live recognition connection. Events closes when the provider
// ends the stream; Err reports the terminal error afterwards (nil on a clean
// provider-side close).
type Stream interface {
	Send(chunk []byte) error
	Events() <-chan TranscriptEvent
	Err() error
	Close() error
}

// Recognizer abstracts streaming ASR backends.
type Recognizer interface {
	Start(ctx context.Context, sourceLang string) (Stream, error)
}
