package handlers

import (
	"database/sql"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/renzoku/gateway/internal/repository"
)

type FetchLogHandler struct {
	repo *repository.FetchLogRepository
}

func NewFetchLogHandler(db *sql.DB) *FetchLogHandler {
	return &FetchLogHandler{repo: repository.NewFetchLogRepository(db)}
}

// List returns recent outcomes plus per-outcome counts for the last 24 hours.
// outcome may be a comma separated filter.
func (h *FetchLogHandler) List(c *fiber.Ctx) error {
	var outcomes []string
	if raw := strings.TrimSpace(c.Query("outcome")); raw != "" {
		outcomes = strings.Split(raw, ",")
	}

	items, err := h.repo.ListRecent(c.UserContext(), c.QueryInt("limit", 50), outcomes...)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "failed to list fetch log"})
	}
	counts, err := h.repo.CountOutcomesSince(c.UserContext(), time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "failed to count fetch outcomes"})
	}

	return c.JSON(fiber.Map{"items": items, "last24h": counts})
}
