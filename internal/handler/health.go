package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// HealthChecker reports connectivity for one backing component.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthHandler reports service health across the database, the room state
// store and the transcript cache.
type HealthHandler struct {
	db     *gorm.DB
	checks map[string]HealthChecker
}

// NewHealthHandler creates a health handler. Components disabled in the
// current mode are simply left out of checks.
func NewHealthHandler(db *gorm.DB, checks map[string]HealthChecker) *HealthHandler {
	return &HealthHandler{db: db, checks: checks}
}

// ComponentCheck is one component's health status.
type ComponentCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse is the full health report.
type HealthResponse struct {
	Status    string                    `json:"status"`
	Timestamp string                    `json:"timestamp"`
	Checks    map[string]ComponentCheck `json:"checks"`
}

// Check reports overall status.
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().Format(time.RFC3339),
		Checks:    make(map[string]ComponentCheck),
	}

	if h.db != nil {
		start := time.Now()
		sqlDB, err := h.db.DB()
		if err == nil {
			err = sqlDB.Ping()
		}
		if err != nil {
			response.Status = "unhealthy"
			response.Checks["database"] = ComponentCheck{Status: "unhealthy", Error: err.Error()}
		} else {
			response.Checks["database"] = ComponentCheck{Status: "healthy", Latency: time.Since(start).String()}
		}
	} else {
		response.Checks["database"] = ComponentCheck{Status: "not_configured"}
	}

	ctx, cancel := context.WithTimeout(c.Context(), 3*time.Second)
	defer cancel()

	for name, checker := range h.checks {
		start := time.Now()
		if err := checker.Health(ctx); err != nil {
			response.Status = "unhealthy"
			response.Checks[name] = ComponentCheck{Status: "unhealthy", Error: err.Error()}
		} else {
			response.Checks[name] = ComponentCheck{Status: "healthy", Latency: time.Since(start).String()}
		}
	}

	statusCode := fiber.StatusOK
	if response.Status == "unhealthy" {
		statusCode = fiber.StatusServiceUnavailable
	}
	return c.Status(statusCode).JSON(response)
}

// Liveness answers liveness probes.
func (h *HealthHandler) Liveness(c *fiber.Ctx) error {
	return c.SendString("OK")
}

// Readiness answers readiness probes with a database ping.
func (h *HealthHandler) Readiness(c *fiber.Ctx) error {
	if h.db != nil {
		sqlDB, err := h.db.DB()
		if err != nil || sqlDB.Ping() != nil {
			return c.Status(fiber.StatusServiceUnavailable).SendString("NOT READY")
		}
	}
	return c.SendString("READY")
}
