package coordinator

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"orbit-backend/internal/config"
	"orbit-backend/internal/model"
	"orbit-backend/internal/roomstore"
)

// ErrLockDenied means another session currently holds the speaker lock.
// Identity is by session id: the same user reconnecting under a new session
// cannot preempt their own stale hold.
var ErrLockDenied = errors.New("coordinator: speaker lock held by another session")

// ErrQueueFull means the raise-hand queue reached its configured cap.
var ErrQueueFull = errors.New("coordinator: raise-hand queue full")

// errNoChange aborts a store update that would be an idempotent no-op, so
// LockVersion only moves on real state changes.
var errNoChange = errors.New("coordinator: no state change")

// Coordinator owns the speaker lock and raise-hand queue of every room it
// serves. All mutations go through the store's atomic read-modify-write, so
// two racing acquires can never both succeed.
type Coordinator struct {
	store roomstore.Store
	cfg   config.RoomConfig

	// Rooms with live participants, visited by the lease reaper.
	trackedMu sync.Mutex
	tracked   map[string]bool

	now func() time.Time
}

// New creates a coordinator over the given state store.
func New(store roomstore.Store, cfg config.RoomConfig) *Coordinator {
	return &Coordinator{
		store:   store,
		cfg:     cfg,
		tracked: make(map[string]bool),
		now:     time.Now,
	}
}

// AcquireLock attempts to take the speaker lock. It succeeds only when the
// slot is empty or the previous holder's lease has expired; on success the
// caller's queue entry (if any) is removed and LockVersion increments.
// Re-acquiring with the holder's own session id is an idempotent no-op.
func (c *Coordinator) AcquireLock(ctx context.Context, roomID, userID, userName, sessionID string) (*model.RoomState, error) {
	now := c.now()
	state, err := c.store.Update(ctx, roomID, func(s *model.RoomState) error {
		if sp := s.ActiveSpeaker; sp != nil && !sp.Expired(now) {
			if sp.SessionID == sessionID {
				return errNoChange
			}
			return ErrLockDenied
		}

		s.ActiveSpeaker = &model.SpeakerInfo{
			UserID:    userID,
			UserName:  userName,
			SessionID: sessionID,
			Since:     now,
			LeaseTill: now.Add(c.cfg.LeaseTTL),
		}
		s.LockVersion++
		removeQueueEntry(s, userID)
		return nil
	})
	if errors.Is(err, errNoChange) {
		return c.store.Get(ctx, roomID)
	}
	if err != nil {
		return nil, err
	}

	log.Printf("[Coordinator] Lock acquired: room=%s user=%s session=%s version=%d",
		roomID, userID, sessionID, state.LockVersion)
	return state, nil
}

// ReleaseLock frees the speaker slot. Calling it while not holding the lock
// is an idempotent no-op. The queue head is NOT auto-granted the lock; the
// freed slot is only made observable to subscribers.
func (c *Coordinator) ReleaseLock(ctx context.Context, roomID, userID string) (*model.RoomState, error) {
	state, err := c.store.Update(ctx, roomID, func(s *model.RoomState) error {
		if s.ActiveSpeaker == nil || s.ActiveSpeaker.UserID != userID {
			return errNoChange
		}
		s.ActiveSpeaker = nil
		s.LockVersion++
		return nil
	})
	if errors.Is(err, errNoChange) {
		return c.store.Get(ctx, roomID)
	}
	if err != nil {
		return nil, err
	}

	log.Printf("[Coordinator] Lock released: room=%s user=%s version=%d", roomID, userID, state.LockVersion)
	return state, nil
}

// Heartbeat renews the holder's lease. It does not bump LockVersion: a lease
// extension is not a state change subscribers need to act on.
func (c *Coordinator) Heartbeat(ctx context.Context, roomID, sessionID string) error {
	now := c.now()
	_, err := c.store.Update(ctx, roomID, func(s *model.RoomState) error {
		if s.ActiveSpeaker == nil || s.ActiveSpeaker.SessionID != sessionID {
			return errNoChange
		}
		s.ActiveSpeaker.LeaseTill = now.Add(c.cfg.LeaseTTL)
		return nil
	})
	if errors.Is(err, errNoChange) {
		return nil
	}
	return err
}

// RaiseHand appends the user to the raise-hand queue. Idempotent: a user
// already queued keeps their original position.
func (c *Coordinator) RaiseHand(ctx context.Context, roomID, userID, userName string) (*model.RoomState, error) {
	now := c.now()
	state, err := c.store.Update(ctx, roomID, func(s *model.RoomState) error {
		if s.QueuePosition(userID) >= 0 {
			return errNoChange
		}
		if c.cfg.MaxQueueSize > 0 && len(s.RaiseHandQueue) >= c.cfg.MaxQueueSize {
			return ErrQueueFull
		}
		s.RaiseHandQueue = append(s.RaiseHandQueue, model.QueueEntry{
			UserID:      userID,
			UserName:    userName,
			RequestedAt: now,
		})
		sort.SliceStable(s.RaiseHandQueue, func(i, j int) bool {
			return s.RaiseHandQueue[i].RequestedAt.Before(s.RaiseHandQueue[j].RequestedAt)
		})
		s.LockVersion++
		return nil
	})
	if errors.Is(err, errNoChange) {
		return c.store.Get(ctx, roomID)
	}
	return state, err
}

// LowerHand removes the user's queue entry if present.
func (c *Coordinator) LowerHand(ctx context.Context, roomID, userID string) (*model.RoomState, error) {
	state, err := c.store.Update(ctx, roomID, func(s *model.RoomState) error {
		if !removeQueueEntry(s, userID) {
			return errNoChange
		}
		s.LockVersion++
		return nil
	})
	if errors.Is(err, errNoChange) {
		return c.store.Get(ctx, roomID)
	}
	return state, err
}

// RemoveParticipant cleans up after a disconnect: drops the user's queue
// entry and, when their session held the lock, releases it.
func (c *Coordinator) RemoveParticipant(ctx context.Context, roomID, userID, sessionID string) (*model.RoomState, error) {
	state, err := c.store.Update(ctx, roomID, func(s *model.RoomState) error {
		changed := removeQueueEntry(s, userID)
		if s.ActiveSpeaker != nil && s.ActiveSpeaker.SessionID == sessionID {
			s.ActiveSpeaker = nil
			changed = true
		}
		if !changed {
			return errNoChange
		}
		s.LockVersion++
		return nil
	})
	if errors.Is(err, errNoChange) {
		return c.store.Get(ctx, roomID)
	}
	return state, err
}

// GetState returns the current room record.
func (c *Coordinator) GetState(ctx context.Context, roomID string) (*model.RoomState, error) {
	return c.store.Get(ctx, roomID)
}

// DeleteRoom drops the room record once the last participant left.
func (c *Coordinator) DeleteRoom(ctx context.Context, roomID string) error {
	c.Untrack(roomID)
	return c.store.Delete(ctx, roomID)
}

// Track registers a room with the lease reaper.
func (c *Coordinator) Track(roomID string) {
	c.trackedMu.Lock()
	defer c.trackedMu.Unlock()
	c.tracked[roomID] = true
}

// Untrack removes a room from the lease reaper.
func (c *Coordinator) Untrack(roomID string) {
	c.trackedMu.Lock()
	defer c.trackedMu.Unlock()
	delete(c.tracked, roomID)
}

// Run drives the lease reaper until ctx is cancelled. A holder that stops
// heartbeating is force-released so the room never sticks with a dead
// speaker holding the lock.
func (c *Coordinator) Run(ctx context.Context) {
	interval := c.cfg.ReapInterval
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
			c.reapExpired(ctx)
		}
	}
}

func (c *Coordinator) reapExpired(ctx context.Context) {
	c.trackedMu.Lock()
	rooms := make([]string, 0, len(c.tracked))
	for roomID := range c.tracked {
		rooms = append(rooms, roomID)
	}
	c.trackedMu.Unlock()

	for _, roomID := range rooms {
		if err := c.ReapExpired(ctx, roomID); err != nil {
			log.Printf("[Coordinator] Reap failed for room %s: %v", roomID, err)
		}
	}
}

// ReapExpired force-releases the lock when the holder's lease has lapsed.
func (c *Coordinator) ReapExpired(ctx context.Context, roomID string) error {
	now := c.now()
	state, err := c.store.Update(ctx, roomID, func(s *model.RoomState) error {
		if s.ActiveSpeaker == nil || !s.ActiveSpeaker.Expired(now) {
			return errNoChange
		}
		log.Printf("[Coordinator] Reclaiming expired lease: room=%s user=%s session=%s",
			roomID, s.ActiveSpeaker.UserID, s.ActiveSpeaker.SessionID)
		s.ActiveSpeaker = nil
		s.LockVersion++
		return nil
	})
	if errors.Is(err, errNoChange) {
		return nil
	}
	if err != nil {
		return err
	}
	log.Printf("[Coordinator] Expired lease reclaimed: room=%s version=%d", roomID, state.LockVersion)
	return nil
}

func removeQueueEntry(s *model.RoomState, userID string) bool {
	for i, e := range s.RaiseHandQueue {
		if e.UserID == userID {
			s.RaiseHandQueue = append(s.RaiseHandQueue[:i], s.RaiseHandQueue[i+1:]...)
			return true
		}
	}
	return false
}
