package pipeline

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"orbit-backend/internal/config"
	"orbit-backend/internal/model"
	"orbit-backend/internal/translate"
	"orbit-backend/internal/tts"
)

func testPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		PendingQueueSize: 3,
		CallTimeout:      5 * time.Second,
	}
}

func utterance(id, speaker, text string) *model.Utterance {
	return &model.Utterance{
		ID:            id,
		RoomID:        "room-1",
		SpeakerUserID: speaker,
		SourceLang:    "en",
		Text:          text,
		IsFinal:       true,
		Timestamp:     time.Now(),
	}
}

// gateTranslator blocks every Translate call until released, so tests can
// hold the worker mid-utterance.
type gateTranslator struct {
	release chan struct{}

	mu    sync.Mutex
	calls []string
}

func newGateTranslator() *gateTranslator {
	return &gateTranslator{release: make(chan struct{})}
}

func (g *gateTranslator) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	g.mu.Lock()
	g.calls = append(g.calls, text)
	g.mu.Unlock()

	select {
	case <-g.release:
		return "[" + targetLang + "] " + text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (g *gateTranslator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func (g *gateTranslator) texts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.calls))
	copy(out, g.calls)
	return out
}

type recordSink struct {
	mu      sync.Mutex
	played  int
	stopped bool
}

func (s *recordSink) Play(ctx context.Context, samples []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.played++
	return nil
}

func (s *recordSink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

func (s *recordSink) playCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.played
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestPipelineFiltersOwnUtterances(t *testing.T) {
	translator := translate.NewMockTranslator()
	sink := &recordSink{}
	p := New(Options{
		ListenerID:  "me",
		TargetLang:  "ko",
		Translator:  translator,
		Synthesizer: tts.NewMockSynthesizer(),
		Sink:        sink,
	}, testPipelineConfig())
	defer p.Close()

	p.Submit(utterance("1", "me", "my own words"))
	p.Submit(utterance("2", "other", "their words"))

	waitFor(t, func() bool { return sink.playCount() == 1 }, "utterance from other speaker was not played")

	calls := translator.Calls()
	if len(calls) != 1 || calls[0] != "their words" {
		t.Fatalf("own utterance reached the translator: %v", calls)
	}
}

func TestPipelineDropsOldestWhenQueueFull(t *testing.T) {
	translator := newGateTranslator()
	sink := &recordSink{}
	p := New(Options{
		ListenerID:  "me",
		TargetLang:  "ko",
		Translator:  translator,
		Synthesizer: tts.NewMockSynthesizer(),
		Sink:        sink,
	}, testPipelineConfig())
	defer p.Close()

	// The worker blocks inside translate on u0 with an empty queue.
	p.Submit(utterance("0", "other", "u0"))
	waitFor(t, func() bool { return translator.callCount() == 1 }, "worker never picked up the first utterance")

	// Queue fills with u1..u3; u4 evicts u1.
	for i := 1; i <= 4; i++ {
		p.Submit(utterance(strconv.Itoa(i), "other", "u"+strconv.Itoa(i)))
	}

	close(translator.release)
	waitFor(t, func() bool { return sink.playCount() == 4 }, "expected 4 utterances to play")

	seen := make(map[string]bool)
	for _, text := range translator.texts() {
		seen[text] = true
	}
	if seen["u1"] {
		t.Fatal("oldest queued utterance was not dropped")
	}
	for _, want := range []string{"u0", "u2", "u3", "u4"} {
		if !seen[want] {
			t.Fatalf("utterance %s was lost", want)
		}
	}
}

func TestPipelineDropsFailedUtteranceAndContinues(t *testing.T) {
	translator := translate.NewMockTranslator()
	sink := &recordSink{}
	p := New(Options{
		ListenerID:  "me",
		TargetLang:  "ko",
		Translator:  translator,
		Synthesizer: tts.NewMockSynthesizer(),
		Sink:        sink,
	}, testPipelineConfig())
	defer p.Close()

	translator.Fail(errors.New("translate unavailable"))
	p.Submit(utterance("1", "other", "doomed"))
	waitFor(t, func() bool { return len(translator.Calls()) == 1 }, "failed utterance never attempted")

	translator.Fail(nil)
	p.Submit(utterance("2", "other", "survivor"))
	waitFor(t, func() bool { return sink.playCount() == 1 }, "pipeline did not recover after a failure")
}

func TestPipelineCloseCancelsInFlight(t *testing.T) {
	translator := newGateTranslator()
	sink := &recordSink{}
	p := New(Options{
		ListenerID:  "me",
		TargetLang:  "ko",
		Translator:  translator,
		Synthesizer: tts.NewMockSynthesizer(),
		Sink:        sink,
	}, testPipelineConfig())

	p.Submit(utterance("1", "other", "stuck"))
	waitFor(t, func() bool { return translator.callCount() == 1 }, "worker never started")

	done := make(chan struct{})
	go func() {
		p.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return while a call was in flight")
	}

	if sink.playCount() != 0 {
		t.Fatal("cancelled utterance still played")
	}
	sink.mu.Lock()
	stopped := sink.stopped
	sink.mu.Unlock()
	if !stopped {
		t.Fatal("Close must stop the sink")
	}

	// Submit after Close is a no-op.
	p.Submit(utterance("2", "other", "late"))
	if p.State() != StateIdle {
		t.Fatalf("unexpected state after close: %v", p.State())
	}
}
