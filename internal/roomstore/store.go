package roomstore

import (
	"context"
	"errors"

	"orbit-backend/internal/model"
)

// ErrTxConflict is returned by Update when the room record changed under a
// transactional read-modify-write and all retries were exhausted.
var ErrTxConflict = errors.New("roomstore: transaction conflict")

// Store is the realtime room state store. Implementations must provide a
// point read, a transactional read-modify-write keyed by room id, and a
// change feed with at-least-once (possibly reordered) delivery.
type Store interface {
	// Get returns the current room record. A room that was never written
	// yields a zero-value state with LockVersion 0.
	Get(ctx context.Context, roomID string) (*model.RoomState, error)

	// Update applies mutate atomically: the callback sees the current state
	// and modifies it in place; the write only lands if no concurrent writer
	// changed the record in between. Returning an error from mutate aborts
	// the update and propagates the error unchanged.
	Update(ctx context.Context, roomID string, mutate func(*model.RoomState) error) (*model.RoomState, error)

	// Subscribe returns a feed of room state deliveries. Delivery is
	// at-least-once and not necessarily ordered; consumers filter by
	// LockVersion.
	Subscribe(ctx context.Context, roomID string) (Subscription, error)

	// Delete removes the room record (last participant left).
	Delete(ctx context.Context, roomID string) error
}

// Subscription is a scoped change feed. Close guarantees no further
// deliveries on States.
type Subscription interface {
	States() <-chan *model.RoomState
	Close() error
}
