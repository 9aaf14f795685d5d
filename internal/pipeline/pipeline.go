package pipeline

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"orbit-backend/internal/config"
	"orbit-backend/internal/model"
	"orbit-backend/internal/translate"
	"orbit-backend/internal/tts"
)

// State is the pipeline's processing stage for the current utterance.
type State int

const (
	StateIdle State = iota
	StateTranslating
	StateSynthesizing
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateTranslating:
		return "translating"
	case StateSynthesizing:
		return "synthesizing"
	case StatePlaying:
		return "playing"
	default:
		return "idle"
	}
}

// AudioSink receives synthesized audio for one listener. Play returns once
// playback has started, not once it has finished; the pipeline may begin
// processing the next utterance while audio is still going out. Stop halts
// playback immediately.
type AudioSink interface {
	Play(ctx context.Context, samples []float32) error
	Stop()
}

// Pipeline drives translate, synthesize and play for one listener. Utterances
// are processed strictly one at a time in submission order; while one is in
// flight, newly submitted utterances wait in a bounded queue that drops its
// oldest entry on overflow.
type Pipeline struct {
	listenerID string
	targetLang string

	translator translate.Translator
	synth      tts.Synthesizer
	sink       AudioSink
	db         *gorm.DB
	cfg        config.PipelineConfig

	// OnCaption, when set, receives the translated text before synthesis.
	onCaption func(utt *model.Utterance, translated string)

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   State
	pending []*model.Utterance
	closed  bool
	notify  chan struct{}
	done    chan struct{}
}

// Options carries the per-listener wiring for New.
type Options struct {
	ListenerID  string
	TargetLang  string
	Translator  translate.Translator
	Synthesizer tts.Synthesizer
	Sink        AudioSink

	// DB persists translation rows when non-nil; failures only log.
	DB *gorm.DB

	// OnCaption receives the translated text before synthesis, when set.
	OnCaption func(utt *model.Utterance, translated string)
}

// New creates a pipeline and starts its worker.
func New(opts Options, cfg config.PipelineConfig) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		listenerID: opts.ListenerID,
		targetLang: opts.TargetLang,
		translator: opts.Translator,
		synth:      opts.Synthesizer,
		sink:       opts.Sink,
		db:         opts.DB,
		cfg:        cfg,
		onCaption:  opts.OnCaption,
		ctx:        ctx,
		cancel:     cancel,
		notify:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	go p.run()
	return p
}

// State returns the current processing stage.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Submit queues an utterance. The listener's own utterances are discarded,
// and when the queue is full the oldest queued entry is dropped to make room.
func (p *Pipeline) Submit(utt *model.Utterance) {
	if utt.SpeakerUserID == p.listenerID {
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	max := p.cfg.PendingQueueSize
	if max <= 0 {
		max = 3
	}
	if len(p.pending) >= max {
		dropped := p.pending[0]
		p.pending = p.pending[1:]
		log.Printf("[Pipeline] Queue full for listener %s, dropping utterance %s", p.listenerID, dropped.ID)
	}
	p.pending = append(p.pending, utt)
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Close cancels in-flight work, clears the queue and stops the sink. It
// returns only after the worker has exited, so no provider call or playback
// outlives it.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.pending = nil
	p.mu.Unlock()

	p.cancel()
	<-p.done
	p.sink.Stop()
}

func (p *Pipeline) run() {
	defer close(p.done)

	for {
		utt := p.next()
		if utt == nil {
			return
		}
		p.process(utt)
	}
}

// next blocks until an utterance is queued or the pipeline is closed.
func (p *Pipeline) next() *model.Utterance {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil
		}
		if len(p.pending) > 0 {
			utt := p.pending[0]
			p.pending = p.pending[1:]
			p.mu.Unlock()
			return utt
		}
		p.state = StateIdle
		p.mu.Unlock()

		select {
		case <-p.ctx.Done():
			return nil
		case <-p.notify:
		}
	}
}

// process runs one utterance through translate, synthesize and play. Any
// stage failure drops the utterance and logs; the next one proceeds fresh.
func (p *Pipeline) process(utt *model.Utterance) {
	p.setState(StateTranslating)
	translated, err := p.callTranslate(utt)
	if err != nil {
		if p.ctx.Err() == nil {
			log.Printf("[Pipeline] Translate failed for utterance %s (listener %s): %v", utt.ID, p.listenerID, err)
		}
		p.setState(StateIdle)
		return
	}

	p.persistTranslation(utt, translated)
	if p.onCaption != nil {
		p.onCaption(utt, translated)
	}

	p.setState(StateSynthesizing)
	samples, err := p.callSynthesize(translated)
	if err != nil {
		if p.ctx.Err() == nil {
			log.Printf("[Pipeline] Synthesis failed for utterance %s (listener %s): %v", utt.ID, p.listenerID, err)
		}
		p.setState(StateIdle)
		return
	}

	p.setState(StatePlaying)
	if err := p.sink.Play(p.ctx, samples); err != nil {
		if p.ctx.Err() == nil {
			log.Printf("[Pipeline] Playback failed for utterance %s (listener %s): %v", utt.ID, p.listenerID, err)
		}
	}
	p.setState(StateIdle)
}

func (p *Pipeline) callTranslate(utt *model.Utterance) (string, error) {
	ctx, cancel := p.callContext()
	defer cancel()
	return p.translator.Translate(ctx, utt.Text, utt.SourceLang, p.targetLang)
}

func (p *Pipeline) callSynthesize(text string) ([]float32, error) {
	ctx, cancel := p.callContext()
	defer cancel()
	return p.synth.Synthesize(ctx, text, p.targetLang)
}

func (p *Pipeline) callContext() (context.Context, context.CancelFunc) {
	if p.cfg.CallTimeout > 0 {
		return context.WithTimeout(p.ctx, p.cfg.CallTimeout)
	}
	return context.WithCancel(p.ctx)
}

func (p *Pipeline) persistTranslation(utt *model.Utterance, translated string) {
	if p.db == nil {
		return
	}
	row := &model.Translation{
		ID:             uuid.NewString(),
		UtteranceID:    utt.ID,
		ListenerUserID: p.listenerID,
		TargetLang:     p.targetLang,
		Text:           translated,
	}
	if err := p.db.WithContext(p.ctx).Create(row).Error; err != nil {
		log.Printf("[Pipeline] Failed to persist translation for utterance %s: %v", utt.ID, err)
	}
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}
