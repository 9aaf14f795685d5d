package coordinator

import (
	"context"
	"log"

	"orbit-backend/internal/model"
	"orbit-backend/internal/roomstore"
)

// StateFeed delivers room state changes in strictly increasing LockVersion
// order. The underlying store feed is at-least-once and possibly reordered;
// stale deliveries are silently discarded here so consumers never see them.
type StateFeed struct {
	sub    roomstore.Subscription
	states chan *model.RoomState
}

// Subscribe opens a version-filtered state feed for one room. fromVersion is
// the last version the caller already observed (0 for none).
func (c *Coordinator) Subscribe(ctx context.Context, roomID string, fromVersion int64) (*StateFeed, error) {
	sub, err := c.store.Subscribe(ctx, roomID)
	if err != nil {
		return nil, err
	}

	feed := &StateFeed{
		sub:    sub,
		states: make(chan *model.RoomState, 16),
	}
	go feed.run(roomID, fromVersion)
	return feed, nil
}

func (f *StateFeed) run(roomID string, lastVersion int64) {
	defer close(f.states)

	for state := range f.sub.States() {
		if state.LockVersion <= lastVersion {
			// Stale or duplicate delivery; not an error.
			log.Printf("[Coordinator] Discarding stale state for room %s (version %d <= %d)",
				roomID, state.LockVersion, lastVersion)
			continue
		}
		lastVersion = state.LockVersion
		select {
		case f.states <- state:
		default:
			// Consumer is behind. Evict the oldest buffered state so the
			// newest always survives; a slow subscriber may skip
			// intermediate versions but must end on the latest.
			select {
			case <-f.states:
			default:
			}
			f.states <- state
			log.Printf("[Coordinator] State feed backlog full for room %s, coalescing to latest", roomID)
		}
	}
}

// States returns the filtered delivery channel. It closes after Close.
func (f *StateFeed) States() <-chan *model.RoomState {
	return f.states
}

// Close tears the feed down; no further deliveries occur afterwards.
func (f *StateFeed) Close() error {
	return f.sub.Close()
}
