package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"orbit-backend/internal/bus"
	"orbit-backend/internal/model"
	"orbit-backend/internal/stt"
)

type sessionHarness struct {
	recognizer *stt.MockRecognizer
	bus        *bus.Bus
	sub        *bus.Subscription
	session    *Session

	mu          sync.Mutex
	interims    []string
	captureErrs []error
}

func newHarness(t *testing.T) *sessionHarness {
	t.Helper()

	h := &sessionHarness{
		recognizer: stt.NewMockRecognizer(),
		bus:        bus.New(nil, nil),
	}
	h.sub = h.bus.Subscribe("room-1")
	t.Cleanup(h.sub.Close)

	h.session = NewSession(Options{
		RoomID:     "room-1",
		UserID:     "u1",
		UserName:   "Alice",
		SourceLang: "en",
		Recognizer: h.recognizer,
		Bus:        h.bus,
		OnInterim: func(text string) {
			h.mu.Lock()
			h.interims = append(h.interims, text)
			h.mu.Unlock()
		},
		OnError: func(err error) {
			h.mu.Lock()
			h.captureErrs = append(h.captureErrs, err)
			h.mu.Unlock()
		},
	})
	return h
}

func (h *sessionHarness) stream(t *testing.T, n int) *stt.MockStream {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		streams := h.recognizer.Streams()
		if len(streams) > n {
			return streams[n]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("stream %d never opened", n)
	return nil
}

func (h *sessionHarness) recvUtterance(t *testing.T) *model.Utterance {
	t.Helper()
	select {
	case utt, ok := <-h.sub.Utterances():
		if !ok {
			t.Fatal("bus subscription closed")
		}
		return utt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published utterance")
		return nil
	}
}

func (h *sessionHarness) interimCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.interims)
}

func (h *sessionHarness) errorCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.captureErrs)
}

func TestOnlyFinalsArePublished(t *testing.T) {
	h := newHarness(t)
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer h.session.Stop()

	stream := h.stream(t, 0)
	stream.Emit(stt.TranscriptEvent{Text: "hello th", IsFinal: false})
	stream.Emit(stt.TranscriptEvent{Text: "hello there", IsFinal: true})

	utt := h.recvUtterance(t)
	if utt.Text != "hello there" || !utt.IsFinal {
		t.Fatalf("unexpected publish: %+v", utt)
	}
	if utt.SpeakerUserID != "u1" || utt.RoomID != "room-1" || utt.SourceLang != "en" {
		t.Fatalf("wrong attribution: %+v", utt)
	}
	if utt.ID == "" {
		t.Fatal("utterance id not assigned")
	}

	deadline := time.Now().Add(time.Second)
	for h.interimCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if h.interimCount() != 1 {
		t.Fatalf("expected 1 interim callback, got %d", h.interimCount())
	}
}

func TestShortFinalsAreFiltered(t *testing.T) {
	h := newHarness(t)
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer h.session.Stop()

	stream := h.stream(t, 0)
	stream.Emit(stt.TranscriptEvent{Text: "a", IsFinal: true})
	stream.Emit(stt.TranscriptEvent{Text: "ok", IsFinal: true})

	if utt := h.recvUtterance(t); utt.Text != "ok" {
		t.Fatalf("noise final was published: %q", utt.Text)
	}
}

func TestStreamEndRestartsTransparently(t *testing.T) {
	h := newHarness(t)
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer h.session.Stop()

	first := h.stream(t, 0)
	first.End(errors.New("provider reset"))

	second := h.stream(t, 1)
	second.Emit(stt.TranscriptEvent{Text: "still here", IsFinal: true})

	if utt := h.recvUtterance(t); utt.Text != "still here" {
		t.Fatalf("got %q", utt.Text)
	}
	if h.errorCount() != 0 {
		t.Fatal("transparent restart must not raise a capture error")
	}
}

func TestRepeatedRestartFailureRaisesCaptureError(t *testing.T) {
	h := newHarness(t)
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer h.session.Stop()

	h.recognizer.FailStart(errors.New("quota exceeded"))
	h.stream(t, 0).End(errors.New("provider reset"))

	deadline := time.Now().Add(5 * time.Second)
	for h.errorCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if h.errorCount() != 1 {
		t.Fatalf("expected exactly one capture error, got %d", h.errorCount())
	}
}

func TestStopEndsPublishing(t *testing.T) {
	h := newHarness(t)
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	stream := h.stream(t, 0)
	h.session.Stop()
	h.session.Stop() // idempotent

	stream.Emit(stt.TranscriptEvent{Text: "too late", IsFinal: true})

	select {
	case utt := <-h.sub.Utterances():
		t.Fatalf("publish after stop: %+v", utt)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestStartFailurePropagates(t *testing.T) {
	h := newHarness(t)
	h.recognizer.FailStart(errors.New("no credentials"))

	if err := h.session.Start(context.Background()); err == nil {
		t.Fatal("expected start error")
	}
}

func TestAudioReachesCurrentStream(t *testing.T) {
	h := newHarness(t)
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer h.session.Stop()

	// The mock echoes valid UTF-8 audio back as transcripts.
	if err := h.session.SendAudio([]byte("spoken words")); err != nil {
		t.Fatal(err)
	}
	if utt := h.recvUtterance(t); utt.Text != "spoken words" {
		t.Fatalf("got %q", utt.Text)
	}
}
