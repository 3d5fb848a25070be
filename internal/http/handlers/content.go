package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/renzoku/gateway/internal/content"
	"github.com/renzoku/gateway/internal/normalize"
	"github.com/renzoku/gateway/internal/pipeline"
	"github.com/renzoku/gateway/internal/upstream"
)

// Pipeline is the part of the fetch client the gateway serves.
type Pipeline interface {
	Episode(ctx context.Context, raw string, t content.Type) (normalize.Episode, error)
	Detail(ctx context.Context, raw string, t content.Type) (normalize.Detail, error)
	Search(ctx context.Context, query string, t content.Type) ([]normalize.Card, error)
	Home(ctx context.Context, t content.Type) (normalize.Home, error)
	Schedule(ctx context.Context, t content.Type) ([]normalize.ScheduleDay, error)
	Unlimited(ctx context.Context, t content.Type) ([]normalize.Card, error)
	Preload(ctx context.Context, op content.Operation, raw string, t content.Type) error
	Endpoints(t content.Type, op content.Operation) ([]string, error)
	Stats() pipeline.Stats
}

const preloadBudget = time.Minute

type ContentHandler struct {
	pipeline Pipeline
	logger   *slog.Logger
}

func NewContentHandler(p Pipeline, logger *slog.Logger) *ContentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContentHandler{pipeline: p, logger: logger}
}

func contentType(c *fiber.Ctx) content.Type {
	return content.ParseType(c.Query("type"))
}

func (h *ContentHandler) Detail(c *fiber.Ctx) error {
	detail, err := h.pipeline.Detail(c.UserContext(), c.Query("slug"), contentType(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(detail)
}

func (h *ContentHandler) Episode(c *fiber.Ctx) error {
	episode, err := h.pipeline.Episode(c.UserContext(), c.Query("slug"), contentType(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(episode)
}

func (h *ContentHandler) Search(c *fiber.Ctx) error {
	query := c.Query("q")
	results, err := h.pipeline.Search(c.UserContext(), query, contentType(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"query": query, "items": results})
}

func (h *ContentHandler) Home(c *fiber.Ctx) error {
	home, err := h.pipeline.Home(c.UserContext(), contentType(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(home)
}

func (h *ContentHandler) Schedule(c *fiber.Ctx) error {
	days, err := h.pipeline.Schedule(c.UserContext(), contentType(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"items": days})
}

func (h *ContentHandler) Unlimited(c *fiber.Ctx) error {
	cards, err := h.pipeline.Unlimited(c.UserContext(), contentType(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"items": cards})
}

// Preload accepts the request and fetches in the background; the response never waits
// on the upstream.
func (h *ContentHandler) Preload(c *fiber.Ctx) error {
	op, err := content.ParseOperation(c.Query("op", string(content.OpDetail)))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unsupported", "message": err.Error(), "retry": false})
	}
	if op != content.OpDetail && op != content.OpEpisode {
		return writeError(c, fmt.Errorf("preload %s: %w", op, upstream.ErrUnsupportedOperation))
	}

	t := contentType(c)
	// c.Query values are only valid during the handler
	raw := string([]byte(c.Query("slug")))
	if _, err := content.NormalizeSlug(raw, t, content.EpisodePage); err != nil {
		return writeError(c, err)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), preloadBudget)
		defer cancel()
		if err := h.pipeline.Preload(ctx, op, raw, t); err != nil {
			h.logger.Debug("preload failed", "operation", string(op), "contentType", string(t), "slug", raw, "error", err)
		}
	}()

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "accepted", "operation": op, "type": t})
}

// Endpoints lists the candidate URL templates for one pair, for diagnosing fallbacks.
func (h *ContentHandler) Endpoints(c *fiber.Ctx) error {
	t := contentType(c)
	op, err := content.ParseOperation(c.Query("op", string(content.OpDetail)))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unsupported", "message": err.Error(), "retry": false})
	}
	templates, err := h.pipeline.Endpoints(t, op)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"type": t, "operation": op, "items": templates})
}
