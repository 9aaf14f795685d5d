package bus

import (
	"context"
	"log"
	"sync"
	"time"

	"gorm.io/gorm"

	"orbit-backend/internal/cache"
	"orbit-backend/internal/model"
)

// subscriberBuffer bounds per-listener delivery backlog. The translation
// pipeline applies its own drop-oldest policy, so a small buffer suffices.
const subscriberBuffer = 16

// Bus is the per-room ordered utterance fan-out. Publish persists the
// utterance and notifies every current subscriber in arrival order; late
// subscribers never receive history.
type Bus struct {
	mu    sync.RWMutex
	rooms map[string]*topic

	db          *gorm.DB
	transcripts *cache.TranscriptCache
}

// New creates a bus. db and transcripts may be nil; persistence is then
// skipped (used by development mode and tests).
func New(db *gorm.DB, transcripts *cache.TranscriptCache) *Bus {
	return &Bus{
		rooms:       make(map[string]*topic),
		db:          db,
		transcripts: transcripts,
	}
}

// Subscription is a scoped handle on one room's utterance feed.
type Subscription struct {
	topic  *topic
	ch     chan *model.Utterance
	closed bool
}

// Utterances returns the delivery channel. It closes after Close.
func (s *Subscription) Utterances() <-chan *model.Utterance {
	return s.ch
}

// Close detaches the subscription. No delivery happens after Close returns.
func (s *Subscription) Close() {
	s.topic.detach(s)
}

type topic struct {
	roomID string
	mu     sync.Mutex
	subs   map[*Subscription]bool
}

// Publish persists the utterance, then delivers it to all current
// subscribers of the room. Only final utterances may be published.
func (b *Bus) Publish(ctx context.Context, utt *model.Utterance) error {
	if !utt.IsFinal {
		log.Printf("[Bus] Ignoring non-final utterance %s for room %s", utt.ID, utt.RoomID)
		return nil
	}

	if b.db != nil {
		if err := b.db.WithContext(ctx).Create(utt).Error; err != nil {
			// Persistence is durable history, not the live path; deliver anyway.
			log.Printf("[Bus] Failed to persist utterance %s: %v", utt.ID, err)
		}
	}
	if b.transcripts != nil {
		go func(u model.Utterance) {
			cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := b.transcripts.Add(cctx, u.RoomID, &cache.RoomTranscript{
				RoomID:      u.RoomID,
				SpeakerID:   u.SpeakerUserID,
				SpeakerName: u.SpeakerName,
				Text:        u.Text,
				IsFinal:     u.IsFinal,
			}); err != nil {
				log.Printf("[Bus] Failed to cache transcript for room %s: %v", u.RoomID, err)
			}
		}(*utt)
	}

	b.getTopic(utt.RoomID).broadcast(utt)
	return nil
}

// Subscribe attaches to a room's feed. Only utterances published after the
// call are delivered; there is no history replay.
func (b *Bus) Subscribe(roomID string) *Subscription {
	t := b.getTopic(roomID)

	sub := &Subscription{
		topic: t,
		ch:    make(chan *model.Utterance, subscriberBuffer),
	}

	t.mu.Lock()
	t.subs[sub] = true
	t.mu.Unlock()
	return sub
}

// CloseRoom drops the room topic and detaches all its subscribers.
func (b *Bus) CloseRoom(roomID string) {
	b.mu.Lock()
	t, ok := b.rooms[roomID]
	if ok {
		delete(b.rooms, roomID)
	}
	b.mu.Unlock()

	if !ok {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for sub := range t.subs {
		sub.closed = true
		close(sub.ch)
		delete(t.subs, sub)
	}
	log.Printf("[Bus] Closed topic for room %s", roomID)
}

func (b *Bus) getTopic(roomID string) *topic {
	b.mu.RLock()
	t, ok := b.rooms[roomID]
	b.mu.RUnlock()
	if ok {
		return t
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok = b.rooms[roomID]; ok {
		return t
	}
	t = &topic{
		roomID: roomID,
		subs:   make(map[*Subscription]bool),
	}
	b.rooms[roomID] = t
	return t
}

// broadcast delivers under the topic lock: subscriber channels are never
// written after detach, and publish order is preserved per subscriber.
func (t *topic) broadcast(utt *model.Utterance) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for sub := range t.subs {
		select {
		case sub.ch <- utt:
		default:
			log.Printf("[Bus] Subscriber backlog full in room %s, dropping utterance %s", t.roomID, utt.ID)
		}
	}
}

func (t *topic) detach(s *Subscription) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	delete(t.subs, s)
	close(s.ch)
}
