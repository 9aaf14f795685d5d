package handler

import (
	"context"
	"log"
	"sync"
	"time"

	"orbit-backend/internal/bus"
	"orbit-backend/internal/coordinator"
)

// Hub tracks live connection counts per room. The first join registers the
// room with the coordinator's lease reaper; when the last connection leaves,
// the room's bus topic and coordination record are dropped. Transcript
// history is kept; it expires on its own TTL.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]int

	coord *coordinator.Coordinator
	bus   *bus.Bus
}

// NewHub creates a hub.
func NewHub(coord *coordinator.Coordinator, b *bus.Bus) *Hub {
	return &Hub{
		rooms: make(map[string]int),
		coord: coord,
		bus:   b,
	}
}

// Join records one connection entering the room.
func (h *Hub) Join(roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.rooms[roomID]++
	if h.rooms[roomID] == 1 {
		h.coord.Track(roomID)
		log.Printf("[Hub] Room opened: %s", roomID)
	}
}

// Leave records one connection leaving the room, tearing the room down when
// it was the last.
func (h *Hub) Leave(roomID string) {
	h.mu.Lock()
	h.rooms[roomID]--
	last := h.rooms[roomID] <= 0
	if last {
		delete(h.rooms, roomID)
	}
	h.mu.Unlock()

	if !last {
		return
	}

	h.bus.CloseRoom(roomID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.coord.DeleteRoom(ctx, roomID); err != nil {
		log.Printf("[Hub] Failed to delete room %s: %v", roomID, err)
	}
	log.Printf("[Hub] Room closed: %s", roomID)
}

// Count returns the live connection count for a room.
func (h *Hub) Count(roomID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[roomID]
}
