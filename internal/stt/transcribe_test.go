package stt

import (
	"context"
	"sync"
	"testing"
)

// newIdleTranscribeStream builds a stream without the provider loops, so the
// Send/Close interaction can be exercised on its own.
func newIdleTranscribeStream() *transcribeStream {
	ctx, cancel := context.WithCancel(context.Background())
	return &transcribeStream{
		ctx:     ctx,
		cancel:  cancel,
		events:  make(chan TranscriptEvent, 1),
		audioIn: make(chan []byte, 2),
	}
}

func TestStreamSendDuringCloseDoesNotPanic(t *testing.T) {
	ts := newIdleTranscribeStream()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				ts.Send([]byte{0x01, 0x02})
			}
		}()
	}
	if err := ts.Close(); err != nil {
		t.Fatal(err)
	}
	wg.Wait()

	// Idempotent close and post-close send are quiet no-ops.
	if err := ts.Close(); err != nil {
		t.Fatal(err)
	}
	if err := ts.Send([]byte{0x03}); err != nil {
		t.Fatalf("send after close: %v", err)
	}
}

func TestStreamSendSplitsOversizedChunks(t *testing.T) {
	ts := newIdleTranscribeStream()
	ts.audioIn = make(chan []byte, 4)

	chunk := make([]byte, MaxAudioChunkSize+100)
	if err := ts.Send(chunk); err != nil {
		t.Fatal(err)
	}

	first := <-ts.audioIn
	second := <-ts.audioIn
	if len(first) != MaxAudioChunkSize || len(second) != 100 {
		t.Fatalf("bad split: %d + %d", len(first), len(second))
	}
}
