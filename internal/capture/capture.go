package capture

import (
	"context"
	"log"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"orbit-backend/internal/bus"
	"orbit-backend/internal/model"
	"orbit-backend/internal/stt"
)

// minUtteranceRunes filters recognizer noise. Finals shorter than this are
// almost always breath sounds or cut-off fragments.
const minUtteranceRunes = 2

// maxRestartAttempts bounds consecutive failed stream restarts before the
// session gives up and reports a capture error.
const maxRestartAttempts = 3

const restartBackoff = 500 * time.Millisecond

// Session captures the active speaker's audio, runs it through streaming
// recognition and publishes finalized utterances to the room bus. Interim
// results go only to the speaker's own feedback callback. Provider stream
// terminations are restarted transparently while the session is active.
type Session struct {
	roomID     string
	userID     string
	userName   string
	sourceLang string

	recognizer stt.Recognizer
	bus        *bus.Bus

	// onInterim receives in-progress recognition text for local feedback.
	onInterim func(text string)

	// onError fires once when capture fails unrecoverably. The owner must
	// release the speaker lock and force the client out of Speaking.
	onError func(err error)

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	stream  stt.Stream
	started bool
	stopped bool
	done    chan struct{}
}

// Options carries the wiring for NewSession.
type Options struct {
	RoomID     string
	UserID     string
	UserName   string
	SourceLang string
	Recognizer stt.Recognizer
	Bus        *bus.Bus
	OnInterim  func(text string)
	OnError    func(err error)
}

// NewSession creates a capture session. Start must be called before audio is
// sent.
func NewSession(opts Options) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		roomID:     opts.RoomID,
		userID:     opts.UserID,
		userName:   opts.UserName,
		sourceLang: opts.SourceLang,
		recognizer: opts.Recognizer,
		bus:        opts.Bus,
		onInterim:  opts.OnInterim,
		onError:    opts.OnError,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// OnError replaces the unrecoverable-failure callback. Call before Start.
func (s *Session) OnError(fn func(err error)) {
	s.onError = fn
}

// Start opens the first recognition stream and begins consuming results.
func (s *Session) Start(ctx context.Context) error {
	stream, err := s.recognizer.Start(s.ctx, s.sourceLang)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.stream = stream
	s.started = true
	s.mu.Unlock()

	go s.run(stream)
	log.Printf("[Capture] Session started: room=%s user=%s lang=%s", s.roomID, s.userID, s.sourceLang)
	return nil
}

// SendAudio forwards raw PCM16 audio to the current recognition stream.
// Audio arriving during a restart window is dropped.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	stream := s.stream
	stopped := s.stopped
	s.mu.Unlock()

	if stopped || stream == nil {
		return nil
	}
	return stream.Send(chunk)
}

// Stop ends the session. Idempotent; no utterance is published after it
// returns and no restart happens.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	stream := s.stream
	started := s.started
	s.mu.Unlock()

	s.cancel()
	if stream != nil {
		stream.Close()
	}
	if started {
		<-s.done
	}
	log.Printf("[Capture] Session stopped: room=%s user=%s", s.roomID, s.userID)
}

// run consumes one stream until it ends, then restarts while the session is
// active. Consecutive restart failures escalate to the error callback.
func (s *Session) run(stream stt.Stream) {
	defer close(s.done)

	for {
		s.consume(stream)

		if s.isStopped() {
			return
		}
		if err := stream.Err(); err != nil {
			log.Printf("[Capture] Stream ended for user %s: %v", s.userID, err)
		} else {
			log.Printf("[Capture] Stream ended for user %s, restarting", s.userID)
		}

		next, err := s.restart()
		if err != nil {
			if s.isStopped() {
				return
			}
			log.Printf("[Capture] Restart failed for user %s: %v", s.userID, err)
			if s.onError != nil {
				s.onError(err)
			}
			return
		}
		stream = next
	}
}

func (s *Session) consume(stream stt.Stream) {
	for ev := range stream.Events() {
		if ev.IsFinal {
			s.publishFinal(ev)
		} else if s.onInterim != nil {
			s.onInterim(ev.Text)
		}
	}
}

// restart opens a replacement stream, retrying with backoff.
func (s *Session) restart() (stt.Stream, error) {
	var lastErr error
	for attempt := 1; attempt <= maxRestartAttempts; attempt++ {
		if s.isStopped() {
			return nil, s.ctx.Err()
		}

		stream, err := s.recognizer.Start(s.ctx, s.sourceLang)
		if err == nil {
			s.mu.Lock()
			if s.stopped {
				s.mu.Unlock()
				stream.Close()
				return nil, s.ctx.Err()
			}
			s.stream = stream
			s.mu.Unlock()
			return stream, nil
		}
		lastErr = err

		select {
		case <-s.ctx.Done():
			return nil, s.ctx.Err()
		case <-time.After(restartBackoff):
		}
	}
	return nil, lastErr
}

func (s *Session) publishFinal(ev stt.TranscriptEvent) {
	if utf8.RuneCountInString(ev.Text) < minUtteranceRunes {
		return
	}
	if s.isStopped() {
		return
	}

	utt := &model.Utterance{
		ID:            uuid.NewString(),
		RoomID:        s.roomID,
		SpeakerUserID: s.userID,
		SpeakerName:   s.userName,
		SourceLang:    s.sourceLang,
		Text:          ev.Text,
		IsFinal:       true,
		Timestamp:     time.Now(),
	}
	if err := s.bus.Publish(s.ctx, utt); err != nil {
		log.Printf("[Capture] Failed to publish utterance for user %s: %v", s.userID, err)
	}
}

func (s *Session) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}
