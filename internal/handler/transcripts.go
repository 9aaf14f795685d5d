package handler

import (
	"github.com/gofiber/fiber/v2"

	"orbit-backend/internal/cache"
)

const defaultTranscriptCount = 50
const maxTranscriptCount = 500

// TranscriptHandler serves recent room transcript history from the cache.
// Late joiners use this; the live utterance feed never replays.
type TranscriptHandler struct {
	transcripts *cache.TranscriptCache
}

// NewTranscriptHandler creates the transcript handler.
func NewTranscriptHandler(transcripts *cache.TranscriptCache) *TranscriptHandler {
	return &TranscriptHandler{transcripts: transcripts}
}

// Recent returns the last N transcript lines for a room.
// GET /api/rooms/:roomId/transcripts?count=50
func (h *TranscriptHandler) Recent(c *fiber.Ctx) error {
	roomID := c.Params("roomId")
	if roomID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing room id"})
	}
	if h.transcripts == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "transcript history disabled"})
	}

	count := c.QueryInt("count", defaultTranscriptCount)
	if count <= 0 {
		count = defaultTranscriptCount
	}
	if count > maxTranscriptCount {
		count = maxTranscriptCount
	}

	items, err := h.transcripts.Recent(c.Context(), roomID, int64(count))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load transcripts"})
	}

	return c.JSON(fiber.Map{
		"room_id":     roomID,
		"transcripts": items,
	})
}
