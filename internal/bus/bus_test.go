package bus

import (
	"context"
	"strconv"
	"testing"
	"time"

	"orbit-backend/internal/model"
)

func utterance(id, roomID, speaker string) *model.Utterance {
	return &model.Utterance{
		ID:            id,
		RoomID:        roomID,
		SpeakerUserID: speaker,
		SpeakerName:   "Speaker " + speaker,
		SourceLang:    "en",
		Text:          "utterance " + id,
		IsFinal:       true,
		Timestamp:     time.Now(),
	}
}

func recvUtterance(t *testing.T, ch <-chan *model.Utterance) *model.Utterance {
	t.Helper()
	select {
	case utt, ok := <-ch:
		if !ok {
			t.Fatal("subscription closed unexpectedly")
		}
		return utt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for utterance")
		return nil
	}
}

func TestPublishPreservesOrderPerSubscriber(t *testing.T) {
	b := New(nil, nil)
	ctx := context.Background()

	sub := b.Subscribe("room-1")
	defer sub.Close()

	const n = 10
	for i := 0; i < n; i++ {
		if err := b.Publish(ctx, utterance(strconv.Itoa(i), "room-1", "u1")); err != nil {
			t.Fatal(err)
		}
	}

	for i := 0; i < n; i++ {
		utt := recvUtterance(t, sub.Utterances())
		if utt.ID != strconv.Itoa(i) {
			t.Fatalf("out of order: got %s at position %d", utt.ID, i)
		}
	}
}

func TestPublishIgnoresNonFinal(t *testing.T) {
	b := New(nil, nil)
	ctx := context.Background()

	sub := b.Subscribe("room-1")
	defer sub.Close()

	interim := utterance("1", "room-1", "u1")
	interim.IsFinal = false
	if err := b.Publish(ctx, interim); err != nil {
		t.Fatal(err)
	}
	if err := b.Publish(ctx, utterance("2", "room-1", "u1")); err != nil {
		t.Fatal(err)
	}

	if utt := recvUtterance(t, sub.Utterances()); utt.ID != "2" {
		t.Fatalf("non-final utterance was delivered: %s", utt.ID)
	}
}

func TestSubscribeDoesNotReplayHistory(t *testing.T) {
	b := New(nil, nil)
	ctx := context.Background()

	if err := b.Publish(ctx, utterance("old", "room-1", "u1")); err != nil {
		t.Fatal(err)
	}

	sub := b.Subscribe("room-1")
	defer sub.Close()

	if err := b.Publish(ctx, utterance("new", "room-1", "u1")); err != nil {
		t.Fatal(err)
	}
	if utt := recvUtterance(t, sub.Utterances()); utt.ID != "new" {
		t.Fatalf("history replayed: got %s", utt.ID)
	}
}

func TestRoomsAreIsolated(t *testing.T) {
	b := New(nil, nil)
	ctx := context.Background()

	sub := b.Subscribe("room-1")
	defer sub.Close()

	if err := b.Publish(ctx, utterance("other", "room-2", "u1")); err != nil {
		t.Fatal(err)
	}
	if err := b.Publish(ctx, utterance("mine", "room-1", "u1")); err != nil {
		t.Fatal(err)
	}
	if utt := recvUtterance(t, sub.Utterances()); utt.ID != "mine" {
		t.Fatalf("cross-room delivery: got %s", utt.ID)
	}
}

func TestCloseStopsDelivery(t *testing.T) {
	b := New(nil, nil)
	ctx := context.Background()

	sub := b.Subscribe("room-1")
	sub.Close()

	if err := b.Publish(ctx, utterance("late", "room-1", "u1")); err != nil {
		t.Fatal(err)
	}

	select {
	case utt, ok := <-sub.Utterances():
		if ok {
			t.Fatalf("delivery after close: %s", utt.ID)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("channel should be closed")
	}

	// Double close is safe.
	sub.Close()
}

func TestCloseRoomDetachesSubscribers(t *testing.T) {
	b := New(nil, nil)
	ctx := context.Background()

	sub := b.Subscribe("room-1")
	b.CloseRoom("room-1")

	if _, ok := <-sub.Utterances(); ok {
		t.Fatal("expected closed channel after CloseRoom")
	}

	// The room can be used again afterwards.
	sub2 := b.Subscribe("room-1")
	defer sub2.Close()
	if err := b.Publish(ctx, utterance("again", "room-1", "u1")); err != nil {
		t.Fatal(err)
	}
	if utt := recvUtterance(t, sub2.Utterances()); utt.ID != "again" {
		t.Fatalf("got %s", utt.ID)
	}
}
