package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"orbit-backend/internal/auth"
)

// TokenHandler issues room access tokens. The upstream identity provider is
// expected to sit in front of this endpoint; it only binds an already
// authenticated user to a fresh session id.
type TokenHandler struct {
	jwtManager *auth.JWTManager
}

// NewTokenHandler creates the token handler.
func NewTokenHandler(jwtManager *auth.JWTManager) *TokenHandler {
	return &TokenHandler{jwtManager: jwtManager}
}

type tokenRequest struct {
	UserID     string `json:"user_id"`
	UserName   string `json:"user_name"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
}

// Issue creates a token for one room session.
// POST /api/token
func (h *TokenHandler) Issue(c *fiber.Ctx) error {
	var req tokenRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.UserID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "user_id is required"})
	}
	if req.SourceLang == "" {
		req.SourceLang = "en"
	}
	if req.TargetLang == "" {
		req.TargetLang = "en"
	}

	sessionID := uuid.NewString()
	token, err := h.jwtManager.GenerateToken(req.UserID, req.UserName, sessionID, req.SourceLang, req.TargetLang)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to issue token"})
	}

	return c.JSON(fiber.Map{
		"token":      token,
		"session_id": sessionID,
	})
}
