package model

import "time"

// SpeakerInfo identifies the session currently holding the speaker lock.
// Lease must be renewed by heartbeat; an expired lease is reclaimable.
type SpeakerInfo struct {
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	SessionID string    `json:"sessionId"`
	Since     time.Time `json:"since"`
	LeaseTill time.Time `json:"leaseTill"`
}

// Expired reports whether the speaker's lease has lapsed at the given instant.
func (s *SpeakerInfo) Expired(now time.Time) bool {
	return s != nil && !s.LeaseTill.IsZero() && now.After(s.LeaseTill)
}

// QueueEntry is one raised hand, ordered by RequestedAt, unique per user.
type QueueEntry struct {
	UserID      string    `json:"userId"`
	UserName    string    `json:"userName"`
	RequestedAt time.Time `json:"requestedAt"`
}

// RoomState is the shared, concurrently mutated room record.
// LockVersion strictly increases on every successful mutation; subscribers
// must discard deliveries whose version is not greater than the last seen.
type RoomState struct {
	RoomID         string       `json:"roomId"`
	ActiveSpeaker  *SpeakerInfo `json:"activeSpeaker,omitempty"`
	RaiseHandQueue []QueueEntry `json:"raiseHandQueue"`
	LockVersion    int64        `json:"lockVersion"`
}

// Clone returns a deep copy so callers can mutate without racing subscribers.
func (r *RoomState) Clone() *RoomState {
	cp := &RoomState{
		RoomID:      r.RoomID,
		LockVersion: r.LockVersion,
	}
	if r.ActiveSpeaker != nil {
		sp := *r.ActiveSpeaker
		cp.ActiveSpeaker = &sp
	}
	if len(r.RaiseHandQueue) > 0 {
		cp.RaiseHandQueue = make([]QueueEntry, len(r.RaiseHandQueue))
		copy(cp.RaiseHandQueue, r.RaiseHandQueue)
	}
	return cp
}

// QueuePosition returns the zero-based position of userID in the raise-hand
// queue, or -1 when not queued.
func (r *RoomState) QueuePosition(userID string) int {
	for i, e := range r.RaiseHandQueue {
		if e.UserID == userID {
			return i
		}
	}
	return -1
}

// Mode is a participant's exclusive activity state.
type Mode string

const (
	ModeIdle      Mode = "idle"
	ModeSpeaking  Mode = "speaking"
	ModeListening Mode = "listening"
)

func (m Mode) String() string {
	return string(m)
}
