package api

import (
	"context"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"conceptnorm/internal/models"
	"conceptnorm/internal/pairing"
	"conceptnorm/internal/validation"
)

// PairsSource computes entity x aspect pairs for a location.
type PairsSource interface {
	Pairs(ctx context.Context, locationID uuid.UUID, limit, samplesLimit int) ([]models.Pair, error)
}

// PairsHandler serves pairing analytics.
type PairsHandler struct {
	source PairsSource
}

// NewPairsHandler creates a new pairs handler.
func NewPairsHandler(source PairsSource) *PairsHandler {
	return &PairsHandler{source: source}
}

// List returns the top pairs of a location.
func (h *PairsHandler) List(c fiber.Ctx) error {
	locationID, err := validation.ParseUUID("location id", c.Params("id"))
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, err.Error())
	}
	limit, err := validation.ParseLimit(c.Query("limit"), pairing.DefaultLimit, 1, pairing.MaxLimit)
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, err.Error())
	}
	samples, err := validation.ParseCount(c.Query("samples_limit"), pairing.DefaultSamplesLimit, pairing.MaxSamplesLimit)
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, err.Error())
	}

	pairs, err := h.source.Pairs(c.Context(), locationID, limit, samples)
	if err != nil {
		return failure(c, err, "failed to compute pairs")
	}
	if pairs == nil {
		pairs = []models.Pair{}
	}
	return jsonSuccess(c, models.PairsResponse{Pairs: pairs})
}
