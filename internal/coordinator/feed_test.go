package coordinator

import (
	"context"
	"testing"
	"time"

	"orbit-backend/internal/model"
	"orbit-backend/internal/roomstore"
)

func recvState(t *testing.T, ch <-chan *model.RoomState) *model.RoomState {
	t.Helper()
	select {
	case state, ok := <-ch:
		if !ok {
			t.Fatal("feed closed unexpectedly")
		}
		return state
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for state")
		return nil
	}
}

func TestStateFeedDeliversInVersionOrder(t *testing.T) {
	c := New(roomstore.NewMemoryStore(), testConfig())
	ctx := context.Background()

	feed, err := c.Subscribe(ctx, "room-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer feed.Close()

	if _, err := c.RaiseHand(ctx, "room-1", "u1", "Alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.AcquireLock(ctx, "room-1", "u2", "Bob", "s2"); err != nil {
		t.Fatal(err)
	}

	var last int64
	for i := 0; i < 2; i++ {
		state := recvState(t, feed.States())
		if state.LockVersion <= last {
			t.Fatalf("version went backwards: %d after %d", state.LockVersion, last)
		}
		last = state.LockVersion
	}
}

func TestStateFeedDiscardsStaleVersions(t *testing.T) {
	c := New(roomstore.NewMemoryStore(), testConfig())
	ctx := context.Background()

	// The caller already saw version 2; anything at or below it must never
	// surface.
	feed, err := c.Subscribe(ctx, "room-1", 2)
	if err != nil {
		t.Fatal(err)
	}
	defer feed.Close()

	if _, err := c.RaiseHand(ctx, "room-1", "u1", "Alice"); err != nil { // v1
		t.Fatal(err)
	}
	if _, err := c.RaiseHand(ctx, "room-1", "u2", "Bob"); err != nil { // v2
		t.Fatal(err)
	}
	if _, err := c.LowerHand(ctx, "room-1", "u1"); err != nil { // v3
		t.Fatal(err)
	}

	state := recvState(t, feed.States())
	if state.LockVersion != 3 {
		t.Fatalf("expected first delivery at version 3, got %d", state.LockVersion)
	}
}

func TestStateFeedDeliversMutationsBetweenSubscribeAndSnapshot(t *testing.T) {
	c := New(roomstore.NewMemoryStore(), testConfig())
	ctx := context.Background()

	// Connection setup subscribes first, then reads its snapshot. A mutation
	// committed in between must still arrive on the feed.
	feed, err := c.Subscribe(ctx, "room-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer feed.Close()

	if _, err := c.AcquireLock(ctx, "room-1", "u1", "Alice", "s1"); err != nil {
		t.Fatal(err)
	}
	snapshot, err := c.GetState(ctx, "room-1")
	if err != nil {
		t.Fatal(err)
	}

	state := recvState(t, feed.States())
	if state.LockVersion != snapshot.LockVersion {
		t.Fatalf("feed delivered version %d, snapshot is %d", state.LockVersion, snapshot.LockVersion)
	}
	if state.ActiveSpeaker == nil || state.ActiveSpeaker.SessionID != "s1" {
		t.Fatalf("mutation lost: %+v", state)
	}
}

func TestStateFeedSlowConsumerStillSeesTerminalState(t *testing.T) {
	c := New(roomstore.NewMemoryStore(), testConfig())
	ctx := context.Background()

	feed, err := c.Subscribe(ctx, "room-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer feed.Close()

	// Burst far past the feed's buffer while nobody is reading, ending with
	// the lock release. The freed slot must still be observable afterwards.
	if _, err := c.AcquireLock(ctx, "room-1", "u1", "Alice", "s1"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		if _, err := c.RaiseHand(ctx, "room-1", "u2", "Bob"); err != nil {
			t.Fatal(err)
		}
		if _, err := c.LowerHand(ctx, "room-1", "u2"); err != nil {
			t.Fatal(err)
		}
	}
	released, err := c.ReleaseLock(ctx, "room-1", "u1")
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case state := <-feed.States():
			if state.LockVersion == released.LockVersion {
				if state.ActiveSpeaker != nil {
					t.Fatal("terminal state still shows a speaker")
				}
				return
			}
		case <-deadline:
			t.Fatalf("never observed the release at version %d", released.LockVersion)
		}
	}
}

func TestStateFeedCloseEndsDelivery(t *testing.T) {
	c := New(roomstore.NewMemoryStore(), testConfig())
	ctx := context.Background()

	feed, err := c.Subscribe(ctx, "room-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := feed.Close(); err != nil {
		t.Fatal(err)
	}

	select {
	case _, ok := <-feed.States():
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("feed channel did not close")
	}
}
