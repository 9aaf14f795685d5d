package presence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// staleAfter marks a roster entry dead when no heartbeat arrived for this
// long. Hash fields cannot carry their own TTL, so staleness is filtered on
// read.
const staleAfter = 60 * time.Second

// rosterTTL expires the whole roster key after the room goes quiet.
const rosterTTL = 10 * time.Minute

// ParticipantData is one roster entry for a room.
type ParticipantData struct {
	UserID        string `json:"user_id"`
	UserName      string `json:"user_name"`
	Mode          string `json:"mode"`
	JoinedAt      int64  `json:"joined_at"`
	LastHeartbeat int64  `json:"last_heartbeat"`
}

// Manager keeps the per-room participant roster in Redis so any instance can
// answer who is in a room.
type Manager struct {
	client *redis.Client
}

// NewManager connects to Redis.
func NewManager(addr, password string, db int) *Manager {
	return &Manager{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

func rosterKey(roomID string) string {
	return "room:" + roomID + ":presence"
}

// Set writes or refreshes a participant's roster entry.
func (m *Manager) Set(ctx context.Context, roomID string, data ParticipantData) error {
	now := time.Now().Unix()
	if data.JoinedAt == 0 {
		data.JoinedAt = now
		// Keep the original join time on refresh.
		if raw, err := m.client.HGet(ctx, rosterKey(roomID), data.UserID).Result(); err == nil {
			var prev ParticipantData
			if json.Unmarshal([]byte(raw), &prev) == nil && prev.JoinedAt > 0 {
				data.JoinedAt = prev.JoinedAt
			}
		}
	}
	data.LastHeartbeat = now

	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	key := rosterKey(roomID)
	if err := m.client.HSet(ctx, key, data.UserID, jsonData).Err(); err != nil {
		return err
	}
	return m.client.Expire(ctx, key, rosterTTL).Err()
}

// Remove drops a participant's roster entry.
func (m *Manager) Remove(ctx context.Context, roomID, userID string) error {
	return m.client.HDel(ctx, rosterKey(roomID), userID).Err()
}

// List returns the live roster for a room, oldest joiner first is not
// guaranteed; entries past the staleness cutoff are skipped.
func (m *Manager) List(ctx context.Context, roomID string) ([]ParticipantData, error) {
	entries, err := m.client.HGetAll(ctx, rosterKey(roomID)).Result()
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-staleAfter).Unix()
	out := make([]ParticipantData, 0, len(entries))
	for _, raw := range entries {
		var data ParticipantData
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			continue
		}
		if data.LastHeartbeat < cutoff {
			continue
		}
		out = append(out, data)
	}
	return out, nil
}

// DeleteRoom drops the whole roster.
func (m *Manager) DeleteRoom(ctx context.Context, roomID string) error {
	return m.client.Del(ctx, rosterKey(roomID)).Err()
}

// Health checks connectivity.
func (m *Manager) Health(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (m *Manager) Close() error {
	return m.client.Close()
}
