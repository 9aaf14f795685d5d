package cache

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RoomTranscript is one line of a room's rolling transcript log.
type RoomTranscript struct {
	RoomID      string    `json:"roomId"`
	SpeakerID   string    `json:"speakerId"`
	SpeakerName string    `json:"speakerName"`
	Text        string    `json:"text"`
	Translated  string    `json:"translated,omitempty"`
	TargetLang  string    `json:"targetLang,omitempty"`
	IsFinal     bool      `json:"isFinal"`
	Timestamp   time.Time `json:"timestamp"`
}

// TranscriptCache keeps per-room transcript history in Redis with a TTL.
// The utterance bus never replays history; late joiners read it from here.
type TranscriptCache struct {
	client *redis.Client
}

// NewTranscriptCache connects to Redis and verifies the connection.
func NewTranscriptCache(addr, password string, db int) (*TranscriptCache, error) {
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

	log.Printf("[TranscriptCache] Connected to %s", addr)
	return &TranscriptCache{client: client}, nil
}

func transcriptKey(roomID string) string {
	return "room:" + roomID + ":transcripts"
}

// Add appends a transcript line to the room's list.
func (c *TranscriptCache) Add(ctx context.Context, roomID string, t *RoomTranscript) error {
	key := transcriptKey(roomID)
	t.Timestamp = time.Now()

	data, err := json.Marshal(t)
	if err != nil {
		return err
	}

	if err := c.client.RPush(ctx, key, data).Err(); err != nil {
		return err
	}

	// Refresh TTL on every write; history survives 24h past last activity.
	c.client.Expire(ctx, key, 24*time.Hour)
	return nil
}

// Recent returns the last count transcript lines for a room.
func (c *TranscriptCache) Recent(ctx context.Context, roomID string, count int64) ([]RoomTranscript, error) {
	results, err := c.client.LRange(ctx, transcriptKey(roomID), -count, -1).Result()
	if err != nil {
		return nil, err
	}

	transcripts := make([]RoomTranscript, 0, len(results))
	for _, data := range results {
		var t RoomTranscript
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			continue
		}
		transcripts = append(transcripts, t)
	}
	return transcripts, nil
}

// DeleteRoom removes a room's transcript history.
func (c *TranscriptCache) DeleteRoom(ctx context.Context, roomID string) error {
	return c.client.Del(ctx, transcriptKey(roomID)).Err()
}

// Health checks connectivity.
func (c *TranscriptCache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *TranscriptCache) Close() error {
	return c.client.Close()
}
