package handler

import (
	"context"
	"sync"
)

// sinkChunkSamples is 200ms of audio at the synthesis rate. Playback frames
// are split so a Stop or disconnect never waits behind one large write.
const sinkChunkSamples = 4800

// wsAudioSink streams synthesized audio to the client as binary float32
// frames. Play returns once the frames are handed to the connection; the
// client buffers and plays them out.
type wsAudioSink struct {
	conn *wsConn

	mu      sync.Mutex
	stopped bool
}

func newWSAudioSink(conn *wsConn) *wsAudioSink {
	return &wsAudioSink{conn: conn}
}

func (s *wsAudioSink) Play(ctx context.Context, samples []float32) error {
	s.mu.Lock()
	s.stopped = false
	s.mu.Unlock()

	for offset := 0; offset < len(samples); offset += sinkChunkSamples {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.mu.Lock()
		stopped := s.stopped
		s.mu.Unlock()
		if stopped {
			return nil
		}

		end := offset + sinkChunkSamples
		if end > len(samples) {
			end = len(samples)
		}
		if err := s.conn.sendBinary(encodeSamples(samples[offset:end])); err != nil {
			return err
		}
	}
	return nil
}

// Stop aborts any in-progress Play.
func (s *wsAudioSink) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}
