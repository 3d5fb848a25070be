package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/renzoku/gateway/internal/upstream"
)

// statusFor maps an error class to the gateway response status.
func statusFor(kind string) int {
	switch kind {
	case "missing_slug", "missing_query", "unsupported":
		return fiber.StatusBadRequest
	case "not_found":
		return fiber.StatusNotFound
	case "rate_limited":
		return fiber.StatusTooManyRequests
	case "protection":
		return fiber.StatusServiceUnavailable
	case "canceled":
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusBadGateway
	}
}

func writeError(c *fiber.Ctx, err error) error {
	kind := upstream.Kind(err)
	return c.Status(statusFor(kind)).JSON(fiber.Map{
		"error":   kind,
		"message": upstream.UserMessage(err),
		"retry":   upstream.Retryable(err),
	})
}
