package roomstore

import (
	"context"
	"sync"

	"orbit-backend/internal/model"
)

// MemoryStore is a process-local Store used in development mode and tests.
// The transactional contract is provided by a single mutex; notification is
// fan-out over buffered per-subscriber channels.
type MemoryStore struct {
	mu    sync.Mutex
	rooms map[string]*model.RoomState
	subs  map[string]map[*memorySubscription]bool
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms: make(map[string]*model.RoomState),
		subs:  make(map[string]map[*memorySubscription]bool),
	}
}

// Get returns a copy of the current room record.
func (s *MemoryStore) Get(ctx context.Context, roomID string) (*model.RoomState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state, ok := s.rooms[roomID]; ok {
		return state.Clone(), nil
	}
	return &model.RoomState{RoomID: roomID}, nil
}

// Update applies mutate under the store lock, making it atomic with respect
// to every other writer.
func (s *MemoryStore) Update(ctx context.Context, roomID string, mutate func(*model.RoomState) error) (*model.RoomState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := &model.RoomState{RoomID: roomID}
	if cur, ok := s.rooms[roomID]; ok {
		state = cur.Clone()
	}

	if err := mutate(state); err != nil {
		return nil, err
	}

	s.rooms[roomID] = state

	for sub := range s.subs[roomID] {
		sub.deliver(state.Clone())
	}
	return state.Clone(), nil
}

// Subscribe registers a change feed for one room.
func (s *MemoryStore) Subscribe(ctx context.Context, roomID string) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &memorySubscription{
		store:  s,
		roomID: roomID,
		states: make(chan *model.RoomState, 16),
	}
	if s.subs[roomID] == nil {
		s.subs[roomID] = make(map[*memorySubscription]bool)
	}
	s.subs[roomID][sub] = true
	return sub, nil
}

// Delete removes the room record.
func (s *MemoryStore) Delete(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
	return nil
}

type memorySubscription struct {
	store  *MemoryStore
	roomID string
	mu     sync.Mutex
	closed bool
	states chan *model.RoomState
}

func (m *memorySubscription) deliver(state *model.RoomState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	select {
	case m.states <- state:
	default:
		// Slow consumer. Evict the oldest buffered state and keep the
		// newest; versioned deliveries tolerate gaps but the final state
		// must always land.
		select {
		case <-m.states:
		default:
		}
		m.states <- state
	}
}

func (m *memorySubscription) States() <-chan *model.RoomState {
	return m.states
}

func (m *memorySubscription) Close() error {
	m.store.mu.Lock()
	delete(m.store.subs[m.roomID], m)
	m.store.mu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.states)
	}
	return nil
}
