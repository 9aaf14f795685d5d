package roomstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"orbit-backend/internal/model"
)

// casRetries bounds the optimistic retry loop on WATCH conflicts.
const casRetries = 16

// RedisStore keeps room records as JSON values and notifies subscribers over
// pub/sub. The compare-and-set contract is implemented with WATCH/MULTI.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects and pings the backing Redis.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	log.Printf("[RoomStore] Connected to %s", addr)
	return &RedisStore{client: client}, nil
}

func stateKey(roomID string) string {
	return "room:" + roomID + ":state"
}

func eventChannel(roomID string) string {
	return "room:" + roomID + ":events"
}

// Get reads the room record. Missing records come back as an empty state.
func (s *RedisStore) Get(ctx context.Context, roomID string) (*model.RoomState, error) {
	val, err := s.client.Get(ctx, stateKey(roomID)).Result()
	if err == redis.Nil {
		return &model.RoomState{RoomID: roomID}, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeState(roomID, []byte(val))
}

// Update runs mutate under WATCH so two racing writers cannot both land.
// The losing transaction retries against the fresh record; mutate errors
// abort without writing.
func (s *RedisStore) Update(ctx context.Context, roomID string, mutate func(*model.RoomState) error) (*model.RoomState, error) {
	key := stateKey(roomID)

	var result *model.RoomState
	txn := func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, key).Result()
		state := &model.RoomState{RoomID: roomID}
		if err != nil && err != redis.Nil {
			return err
		}
		if err == nil {
			if state, err = decodeState(roomID, []byte(val)); err != nil {
				return err
			}
		}

		if err := mutate(state); err != nil {
			return err
		}

		data, err := json.Marshal(state)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.Publish(ctx, eventChannel(roomID), data)
			return nil
		})
		if err != nil {
			return err
		}
		result = state
		return nil
	}

	for i := 0; i < casRetries; i++ {
		err := s.client.Watch(ctx, txn, key)
		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, ErrTxConflict
}

// Subscribe opens a pub/sub feed for one room.
func (s *RedisStore) Subscribe(ctx context.Context, roomID string) (Subscription, error) {
	pubsub := s.client.Subscribe(ctx, eventChannel(roomID))

	// Force the subscription to be established before returning so callers
	// never miss updates published right after Subscribe.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		states: make(chan *model.RoomState, 16),
	}
	go sub.run(roomID)
	return sub, nil
}

// Delete removes the room record.
func (s *RedisStore) Delete(ctx context.Context, roomID string) error {
	return s.client.Del(ctx, stateKey(roomID)).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Health checks connectivity.
func (s *RedisStore) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

type redisSubscription struct {
	pubsub *redis.PubSub
	states chan *model.RoomState
}

func (r *redisSubscription) run(roomID string) {
	defer close(r.states)

	for msg := range r.pubsub.Channel() {
		state, err := decodeState(roomID, []byte(msg.Payload))
		if err != nil {
			log.Printf("[RoomStore] Dropping undecodable state for room %s: %v", roomID, err)
			continue
		}
		select {
		case r.states <- state:
		default:
			// Slow consumer. Evict the oldest buffered state and keep the
			// newest; skipping intermediates is fine, the terminal state
			// is not.
			select {
			case <-r.states:
			default:
			}
			r.states <- state
			log.Printf("[RoomStore] State feed full for room %s, coalescing to latest", roomID)
		}
	}
}

func (r *redisSubscription) States() <-chan *model.RoomState {
	return r.states
}

func (r *redisSubscription) Close() error {
	return r.pubsub.Close()
}

func decodeState(roomID string, data []byte) (*model.RoomState, error) {
	var state model.RoomState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode room state: %w", err)
	}
	if state.RoomID == "" {
		state.RoomID = roomID
	}
	return &state, nil
}
