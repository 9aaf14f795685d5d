package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/gofiber/contrib/websocket"
	"gorm.io/gorm"

	"orbit-backend/internal/auth"
	"orbit-backend/internal/bus"
	"orbit-backend/internal/config"
	"orbit-backend/internal/coordinator"
	"orbit-backend/internal/model"
	"orbit-backend/internal/participant"
	"orbit-backend/internal/presence"
	"orbit-backend/internal/stt"
	"orbit-backend/internal/translate"
	"orbit-backend/internal/tts"
)

// Client control frames. Binary frames carry speaker audio (PCM16).
type controlFrame struct {
	Type string `json:"type"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type stateFrame struct {
	Type          string           `json:"type"`
	State         *model.RoomState `json:"state"`
	QueuePosition int              `json:"queue_position"`
}

type captionFrame struct {
	Type        string `json:"type"`
	SpeakerID   string `json:"speaker_id"`
	SpeakerName string `json:"speaker_name,omitempty"`
	Text        string `json:"text"`
	Lang        string `json:"lang"`
	Interim     bool   `json:"interim,omitempty"`
	UtteranceID string `json:"utterance_id,omitempty"`
}

// RoomWSHandler serves the room websocket. Each connection gets one
// participant whose mode the client drives through control frames.
type RoomWSHandler struct {
	hub        *Hub
	coord      *coordinator.Coordinator
	bus        *bus.Bus
	recognizer stt.Recognizer
	translator translate.Translator
	synth      tts.Synthesizer
	db         *gorm.DB
	cfg        *config.Config
	roster     *presence.Manager
}

// NewRoomWSHandler creates the room websocket handler. roster may be nil;
// the participant roster is then not maintained.
func NewRoomWSHandler(hub *Hub, coord *coordinator.Coordinator, b *bus.Bus,
	recognizer stt.Recognizer, translator translate.Translator, synth tts.Synthesizer,
	db *gorm.DB, cfg *config.Config, roster *presence.Manager) *RoomWSHandler {
	return &RoomWSHandler{
		hub:        hub,
		coord:      coord,
		bus:        b,
		recognizer: recognizer,
		translator: translator,
		synth:      synth,
		db:         db,
		cfg:        cfg,
		roster:     roster,
	}
}

// Handle runs one room connection until the client disconnects.
func (h *RoomWSHandler) Handle(c *websocket.Conn) {
	claims, ok := c.Locals("claims").(*auth.Claims)
	if !ok {
		c.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","code":"unauthorized","message":"invalid session"}`))
		c.Close()
		return
	}
	roomID := c.Params("roomId")
	if roomID == "" {
		c.Close()
		return
	}

	conn := newWSConn(c)
	sink := newWSAudioSink(conn)

	p := participant.New(participant.Options{
		RoomID:      roomID,
		UserID:      claims.UserID,
		UserName:    claims.UserName,
		SessionID:   claims.SessionID,
		SourceLang:  claims.SourceLang,
		TargetLang:  claims.TargetLang,
		Coordinator: h.coord,
		Bus:         h.bus,
		Recognizer:  h.recognizer,
		Translator:  h.translator,
		Synthesizer: h.synth,
		Sink:        sink,
		DB:          h.db,
		RoomConfig:  h.cfg.Room,
		PipeConfig:  h.cfg.Pipeline,
		OnInterim: func(text string) {
			conn.sendJSON(captionFrame{
				Type:      "caption",
				SpeakerID: claims.UserID,
				Text:      text,
				Lang:      claims.SourceLang,
				Interim:   true,
			})
		},
		OnCaption: func(utt *model.Utterance, translated string) {
			conn.sendJSON(captionFrame{
				Type:        "caption",
				SpeakerID:   utt.SpeakerUserID,
				SpeakerName: utt.SpeakerName,
				Text:        translated,
				Lang:        claims.TargetLang,
				UtteranceID: utt.ID,
			})
		},
		OnRevoked: func(reason string) {
			conn.sendError("speaking_revoked", reason)
		},
	})

	h.hub.Join(roomID)
	h.updateRoster(roomID, claims, p)
	log.Printf("[RoomWS] Connected: room=%s user=%s session=%s", roomID, claims.UserID, claims.SessionID)

	connCtx, cancel := context.WithCancel(context.Background())
	defer func() {
		conn.markClosed()
		cancel()

		ctx, cleanupCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := p.Close(ctx); err != nil {
			log.Printf("[RoomWS] Cleanup failed: room=%s user=%s err=%v", roomID, claims.UserID, err)
		}
		cleanupCancel()

		h.removeFromRoster(roomID, claims.UserID)
		h.hub.Leave(roomID)
		c.Close()
		log.Printf("[RoomWS] Disconnected: room=%s user=%s", roomID, claims.UserID)
	}()

	// Subscribe before reading the snapshot so a mutation landing in between
	// is still delivered. The overlap can duplicate the snapshot version; the
	// frames carry LockVersion, so clients discard what they already saw.
	feed, err := h.coord.Subscribe(connCtx, roomID, 0)
	if err != nil {
		conn.sendError("internal", "failed to follow room state")
		return
	}
	defer feed.Close()

	initial, err := h.coord.GetState(connCtx, roomID)
	if err != nil {
		conn.sendError("internal", "failed to load room state")
		return
	}
	conn.sendJSON(stateFrame{Type: "room_state", State: initial, QueuePosition: initial.QueuePosition(claims.UserID)})

	go func() {
		for state := range feed.States() {
			p.ObserveState(state)
			conn.sendJSON(stateFrame{Type: "room_state", State: state, QueuePosition: state.QueuePosition(claims.UserID)})
		}
	}()

	h.readLoop(connCtx, conn, c, p, claims, roomID)
}

func (h *RoomWSHandler) readLoop(ctx context.Context, conn *wsConn, c *websocket.Conn,
	p *participant.Participant, claims *auth.Claims, roomID string) {

	for {
		mt, data, err := c.ReadMessage()
		if err != nil {
			return
		}

		switch mt {
		case websocket.BinaryMessage:
			if err := p.SendAudio(data); err != nil && !errors.Is(err, participant.ErrNotSpeaking) {
				log.Printf("[RoomWS] Audio send failed: room=%s user=%s err=%v", roomID, claims.UserID, err)
			}

		case websocket.TextMessage:
			var frame controlFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				conn.sendError("bad_request", "malformed control frame")
				continue
			}
			h.handleControl(ctx, conn, p, claims, roomID, frame.Type)
		}
	}
}

func (h *RoomWSHandler) handleControl(ctx context.Context, conn *wsConn,
	p *participant.Participant, claims *auth.Claims, roomID, frameType string) {

	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	switch frameType {
	case "speak_start":
		if _, err := p.StartSpeaking(opCtx); err != nil {
			switch {
			case errors.Is(err, coordinator.ErrLockDenied):
				conn.sendError("lock_denied", "another speaker holds the floor")
			case errors.Is(err, participant.ErrInvalidTransition):
				conn.sendError("invalid_transition", "stop listening before speaking")
			default:
				log.Printf("[RoomWS] speak_start failed: room=%s user=%s err=%v", roomID, claims.UserID, err)
				conn.sendError("internal", "failed to start speaking")
			}
		}

	case "speak_stop":
		if _, err := p.StopSpeaking(opCtx); err != nil {
			log.Printf("[RoomWS] speak_stop failed: room=%s user=%s err=%v", roomID, claims.UserID, err)
		}

	case "listen_start":
		if err := p.StartListening(opCtx); err != nil {
			if errors.Is(err, participant.ErrInvalidTransition) {
				conn.sendError("invalid_transition", "stop speaking before listening")
			} else {
				conn.sendError("internal", "failed to start listening")
			}
		}

	case "listen_stop":
		if err := p.StopListening(opCtx); err != nil {
			log.Printf("[RoomWS] listen_stop failed: room=%s user=%s err=%v", roomID, claims.UserID, err)
		}

	case "raise_hand":
		if _, err := h.coord.RaiseHand(opCtx, roomID, claims.UserID, claims.UserName); err != nil {
			if errors.Is(err, coordinator.ErrQueueFull) {
				conn.sendError("queue_full", "raise-hand queue is full")
			} else {
				conn.sendError("internal", "failed to raise hand")
			}
		}

	case "lower_hand":
		if _, err := h.coord.LowerHand(opCtx, roomID, claims.UserID); err != nil {
			conn.sendError("internal", "failed to lower hand")
		}

	case "heartbeat":
		if err := p.Heartbeat(opCtx); err != nil {
			log.Printf("[RoomWS] heartbeat failed: room=%s user=%s err=%v", roomID, claims.UserID, err)
		}

	case "ping":
		conn.sendJSON(controlFrame{Type: "pong"})
		return

	default:
		conn.sendError("bad_request", "unknown frame type: "+frameType)
		return
	}

	h.updateRoster(roomID, claims, p)
}

// updateRoster refreshes the participant's roster entry with the current
// mode. Every control frame doubles as a roster heartbeat.
func (h *RoomWSHandler) updateRoster(roomID string, claims *auth.Claims, p *participant.Participant) {
	if h.roster == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.roster.Set(ctx, roomID, presence.ParticipantData{
		UserID:   claims.UserID,
		UserName: claims.UserName,
		Mode:     p.Mode().String(),
	}); err != nil {
		log.Printf("[RoomWS] Roster update failed: room=%s user=%s err=%v", roomID, claims.UserID, err)
	}
}

func (h *RoomWSHandler) removeFromRoster(roomID, userID string) {
	if h.roster == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.roster.Remove(ctx, roomID, userID); err != nil {
		log.Printf("[RoomWS] Roster remove failed: room=%s user=%s err=%v", roomID, userID, err)
	}
}
