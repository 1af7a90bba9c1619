package api

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v3"

	"conceptnorm/internal/validation"
)

// jsonSuccess returns a 200 response with data wrapped in the standard envelope.
func jsonSuccess(c fiber.Ctx, data any) error {
	return c.JSON(fiber.Map{
		"status": "ok",
		"data":   data,
	})
}

// jsonError returns an error response with the given HTTP status code.
func jsonError(c fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"status": "error",
		"error":  message,
	})
}

// failure maps parameter errors to 400. Other errors are logged and hidden
// behind message with a 500.
func failure(c fiber.Ctx, err error, message string) error {
	if errors.Is(err, validation.ErrInvalidParam) {
		return jsonError(c, fiber.StatusBadRequest, err.Error())
	}
	slog.Error(message, "path", c.Path(), "error", err)
	return jsonError(c, fiber.StatusInternalServerError, message)
}
