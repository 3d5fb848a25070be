package handlers

import (
	"context"
	"database/sql"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/renzoku/gateway/internal/pipeline"
)

type statsProvider interface {
	Stats() pipeline.Stats
}

type HealthHandler struct {
	db    *sql.DB
	stats statsProvider
}

func NewHealthHandler(db *sql.DB, stats statsProvider) *HealthHandler {
	return &HealthHandler{db: db, stats: stats}
}

func (h *HealthHandler) Check(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	body := fiber.Map{
		"status": "ok",
		"db":     "up",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	if h.stats != nil {
		body["pipeline"] = h.stats.Stats()
	}

	if err := h.db.PingContext(ctx); err != nil {
		body["status"] = "degraded"
		body["db"] = "down"
		return c.Status(fiber.StatusServiceUnavailable).JSON(body)
	}
	return c.JSON(body)
}
