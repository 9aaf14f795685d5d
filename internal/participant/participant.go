package participant

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"gorm.io/gorm"

	"orbit-backend/internal/bus"
	"orbit-backend/internal/capture"
	"orbit-backend/internal/config"
	"orbit-backend/internal/coordinator"
	"orbit-backend/internal/model"
	"orbit-backend/internal/pipeline"
	"orbit-backend/internal/stt"
	"orbit-backend/internal/translate"
	"orbit-backend/internal/tts"
)

// ErrInvalidTransition means the requested mode change is not allowed from
// the current mode. Speaking and Listening never connect directly; the
// client must pass through Idle.
var ErrInvalidTransition = errors.New("participant: invalid mode transition")

// ErrNotSpeaking means audio arrived while the participant holds no capture
// session.
var ErrNotSpeaking = errors.New("participant: not in speaking mode")

// Participant tracks one connected client's mode and owns the transient
// handles each mode needs: a capture session while Speaking, a translation
// pipeline and bus subscription while Listening. Handles exist exactly while
// their mode is active.
type Participant struct {
	roomID     string
	userID     string
	userName   string
	sessionID  string
	sourceLang string
	targetLang string

	coord      *coordinator.Coordinator
	bus        *bus.Bus
	recognizer stt.Recognizer
	translator translate.Translator
	synth      tts.Synthesizer
	sink       pipeline.AudioSink
	db         *gorm.DB
	roomCfg    config.RoomConfig
	pipeCfg    config.PipelineConfig

	onInterim func(text string)
	onCaption func(utt *model.Utterance, translated string)

	// onRevoked fires when Speaking ends without the client asking: capture
	// failure or an externally observed lock loss.
	onRevoked func(reason string)

	mu        sync.Mutex
	mode      model.Mode
	capture   *capture.Session
	pipe      *pipeline.Pipeline
	busSub    *bus.Subscription
	hbCancel  context.CancelFunc
	fanoutEnd chan struct{}
}

// Options carries the wiring for New.
type Options struct {
	RoomID     string
	UserID     string
	UserName   string
	SessionID  string
	SourceLang string
	TargetLang string

	Coordinator *coordinator.Coordinator
	Bus         *bus.Bus
	Recognizer  stt.Recognizer
	Translator  translate.Translator
	Synthesizer tts.Synthesizer
	Sink        pipeline.AudioSink
	DB          *gorm.DB
	RoomConfig  config.RoomConfig
	PipeConfig  config.PipelineConfig

	OnInterim func(text string)
	OnCaption func(utt *model.Utterance, translated string)
	OnRevoked func(reason string)
}

// New creates a participant in Idle mode.
func New(opts Options) *Participant {
	return &Participant{
		roomID:     opts.RoomID,
		userID:     opts.UserID,
		userName:   opts.UserName,
		sessionID:  opts.SessionID,
		sourceLang: opts.SourceLang,
		targetLang: opts.TargetLang,
		coord:      opts.Coordinator,
		bus:        opts.Bus,
		recognizer: opts.Recognizer,
		translator: opts.Translator,
		synth:      opts.Synthesizer,
		sink:       opts.Sink,
		db:         opts.DB,
		roomCfg:    opts.RoomConfig,
		pipeCfg:    opts.PipeConfig,
		onInterim:  opts.OnInterim,
		onCaption:  opts.OnCaption,
		onRevoked:  opts.OnRevoked,
		mode:       model.ModeIdle,
	}
}

// Mode returns the current mode.
func (p *Participant) Mode() model.Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// UserID returns the participant's user id.
func (p *Participant) UserID() string { return p.userID }

// SessionID returns the participant's session id.
func (p *Participant) SessionID() string { return p.sessionID }

// StartSpeaking moves Idle -> Speaking: acquire the speaker lock, then open
// the capture session. Lock denial leaves the participant in Idle with no
// side effects. Already Speaking is a no-op.
func (p *Participant) StartSpeaking(ctx context.Context) (*model.RoomState, error) {
	p.mu.Lock()
	switch p.mode {
	case model.ModeSpeaking:
		p.mu.Unlock()
		return p.coord.GetState(ctx, p.roomID)
	case model.ModeListening:
		p.mu.Unlock()
		return nil, ErrInvalidTransition
	}
	p.mu.Unlock()

	state, err := p.coord.AcquireLock(ctx, p.roomID, p.userID, p.userName, p.sessionID)
	if err != nil {
		return nil, err
	}

	sess := capture.NewSession(capture.Options{
		RoomID:     p.roomID,
		UserID:     p.userID,
		UserName:   p.userName,
		SourceLang: p.sourceLang,
		Recognizer: p.recognizer,
		Bus:        p.bus,
		OnInterim:  p.onInterim,
	})
	sess.OnError(func(err error) {
		// Dispatched off the capture goroutine so teardown can join it.
		go p.captureFailed(sess, err)
	})

	if err := sess.Start(ctx); err != nil {
		// The lock must not stay held without a live capture session.
		if _, relErr := p.coord.ReleaseLock(ctx, p.roomID, p.userID); relErr != nil {
			log.Printf("[Participant] Failed to release lock after capture start failure: %v", relErr)
		}
		return nil, err
	}

	hbCtx, hbCancel := context.WithCancel(context.Background())

	p.mu.Lock()
	p.mode = model.ModeSpeaking
	p.capture = sess
	p.hbCancel = hbCancel
	p.mu.Unlock()

	go p.heartbeatLoop(hbCtx)
	return state, nil
}

// StopSpeaking moves Speaking -> Idle: stop capture, then release the lock.
// Idempotent when not Speaking.
func (p *Participant) StopSpeaking(ctx context.Context) (*model.RoomState, error) {
	sess := p.exitSpeaking()
	if sess == nil {
		return p.coord.GetState(ctx, p.roomID)
	}
	sess.Stop()
	return p.coord.ReleaseLock(ctx, p.roomID, p.userID)
}

// StartListening moves Idle -> Listening: build the translation pipeline and
// attach to the room's utterance feed. Already Listening is a no-op.
func (p *Participant) StartListening(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.mode {
	case model.ModeListening:
		return nil
	case model.ModeSpeaking:
		return ErrInvalidTransition
	}

	pipe := pipeline.New(pipeline.Options{
		ListenerID:  p.userID,
		TargetLang:  p.targetLang,
		Translator:  p.translator,
		Synthesizer: p.synth,
		Sink:        p.sink,
		DB:          p.db,
		OnCaption:   p.onCaption,
	}, p.pipeCfg)

	sub := p.bus.Subscribe(p.roomID)
	fanoutEnd := make(chan struct{})
	go func() {
		defer close(fanoutEnd)
		for utt := range sub.Utterances() {
			pipe.Submit(utt)
		}
	}()

	p.mode = model.ModeListening
	p.pipe = pipe
	p.busSub = sub
	p.fanoutEnd = fanoutEnd
	return nil
}

// StopListening moves Listening -> Idle, tearing the pipeline down. Playback
// stops immediately. Idempotent when not Listening.
func (p *Participant) StopListening(ctx context.Context) error {
	p.mu.Lock()
	if p.mode != model.ModeListening {
		p.mu.Unlock()
		return nil
	}
	pipe, sub, fanoutEnd := p.pipe, p.busSub, p.fanoutEnd
	p.mode = model.ModeIdle
	p.pipe = nil
	p.busSub = nil
	p.fanoutEnd = nil
	p.mu.Unlock()

	sub.Close()
	<-fanoutEnd
	pipe.Close()
	return nil
}

// SendAudio forwards speaker audio to the capture session.
func (p *Participant) SendAudio(chunk []byte) error {
	p.mu.Lock()
	sess := p.capture
	p.mu.Unlock()
	if sess == nil {
		return ErrNotSpeaking
	}
	return sess.SendAudio(chunk)
}

// Heartbeat renews the speaker lease on an explicit client heartbeat.
func (p *Participant) Heartbeat(ctx context.Context) error {
	if p.Mode() != model.ModeSpeaking {
		return nil
	}
	return p.coord.Heartbeat(ctx, p.roomID, p.sessionID)
}

// ObserveState reconciles the participant against a room state delivered by
// the coordinator feed. A Speaking participant whose session no longer holds
// the lock is forced back to Idle with capture torn down.
func (p *Participant) ObserveState(state *model.RoomState) {
	p.mu.Lock()
	speaking := p.mode == model.ModeSpeaking
	p.mu.Unlock()
	if !speaking {
		return
	}

	if sp := state.ActiveSpeaker; sp != nil && sp.SessionID == p.sessionID {
		return
	}

	if sess := p.exitSpeaking(); sess != nil {
		sess.Stop()
		log.Printf("[Participant] Speaker lock revoked externally: room=%s user=%s", p.roomID, p.userID)
		if p.onRevoked != nil {
			p.onRevoked("speaker lock revoked")
		}
	}
}

// Close tears down whatever the current mode holds and removes the
// participant from the room record.
func (p *Participant) Close(ctx context.Context) error {
	if sess := p.exitSpeaking(); sess != nil {
		sess.Stop()
	}
	if err := p.StopListening(ctx); err != nil {
		return err
	}
	_, err := p.coord.RemoveParticipant(ctx, p.roomID, p.userID, p.sessionID)
	return err
}

// exitSpeaking clears Speaking state and returns the capture session to stop,
// or nil when not Speaking. Callers stop the session outside the lock.
func (p *Participant) exitSpeaking() *capture.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mode != model.ModeSpeaking {
		return nil
	}
	sess := p.capture
	p.mode = model.ModeIdle
	p.capture = nil
	if p.hbCancel != nil {
		p.hbCancel()
		p.hbCancel = nil
	}
	return sess
}

// captureFailed is the fail-safe path: the lock is released and the client
// forced to Idle so the room never sits behind a dead capture session.
func (p *Participant) captureFailed(sess *capture.Session, err error) {
	p.mu.Lock()
	current := p.capture == sess
	p.mu.Unlock()
	if !current {
		return
	}

	log.Printf("[Participant] Capture failed: room=%s user=%s err=%v", p.roomID, p.userID, err)

	if s := p.exitSpeaking(); s != nil {
		s.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, relErr := p.coord.ReleaseLock(ctx, p.roomID, p.userID); relErr != nil {
		log.Printf("[Participant] Failed to release lock after capture failure: %v", relErr)
	}

	if p.onRevoked != nil {
		p.onRevoked("capture error: " + err.Error())
	}
}

// heartbeatLoop renews the lease while Speaking so a healthy speaker never
// loses the lock to the reaper.
func (p *Participant) heartbeatLoop(ctx context.Context) {
	interval := p.roomCfg.HeartbeatInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hbCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			if err := p.coord.Heartbeat(hbCtx, p.roomID, p.sessionID); err != nil {
				log.Printf("[Participant] Heartbeat failed: room=%s user=%s err=%v", p.roomID, p.userID, err)
			}
			cancel()
		}
	}
}
