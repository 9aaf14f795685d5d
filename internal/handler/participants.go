package handler

import (
	"github.com/gofiber/fiber/v2"

	"orbit-backend/internal/presence"
)

// ParticipantsHandler serves the live participant roster of a room.
type ParticipantsHandler struct {
	roster *presence.Manager
}

// NewParticipantsHandler creates the participants handler.
func NewParticipantsHandler(roster *presence.Manager) *ParticipantsHandler {
	return &ParticipantsHandler{roster: roster}
}

// List returns who is currently connected to a room and their mode.
// GET /api/rooms/:roomId/participants
func (h *ParticipantsHandler) List(c *fiber.Ctx) error {
	roomID := c.Params("roomId")
	if roomID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing room id"})
	}
	if h.roster == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "roster disabled"})
	}

	participants, err := h.roster.List(c.Context(), roomID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load participants"})
	}

	return c.JSON(fiber.Map{
		"room_id":      roomID,
		"participants": participants,
	})
}
