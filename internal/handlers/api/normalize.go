package api

import (
	"context"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"conceptnorm/internal/normalize"
	"conceptnorm/internal/validation"
)

// NormalizeRunner runs one normalization batch.
type NormalizeRunner interface {
	Run(ctx context.Context, locationID *uuid.UUID, limit int) (normalize.Result, error)
}

// NormalizeHandler exposes the entity and aspect normalizers.
type NormalizeHandler struct {
	entities NormalizeRunner
	aspects  NormalizeRunner
}

// NewNormalizeHandler creates a new normalize handler.
func NewNormalizeHandler(entities, aspects NormalizeRunner) *NormalizeHandler {
	return &NormalizeHandler{entities: entities, aspects: aspects}
}

// Entities normalizes pending entity mentions, optionally for one location.
func (h *NormalizeHandler) Entities(c fiber.Ctx) error {
	locationID, err := validation.ParseOptionalUUID("location_id", c.Query("location_id"))
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, err.Error())
	}
	return h.run(c, h.entities, locationID)
}

// Aspects normalizes pending aspect mentions across all locations.
func (h *NormalizeHandler) Aspects(c fiber.Ctx) error {
	return h.run(c, h.aspects, nil)
}

func (h *NormalizeHandler) run(c fiber.Ctx, runner NormalizeRunner, locationID *uuid.UUID) error {
	limit, err := validation.ParseLimit(c.Query("limit"), validation.DefaultBatchLimit, validation.MinBatchLimit, validation.MaxBatchLimit)
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, err.Error())
	}

	res, err := runner.Run(c.Context(), locationID, limit)
	if err != nil {
		return failure(c, err, "normalization failed")
	}
	return jsonSuccess(c, res.Response())
}
