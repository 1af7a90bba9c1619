package api

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"conceptnorm/internal/models"
	"conceptnorm/internal/topics"
	"conceptnorm/internal/validation"
)

// TopicService is the topic clusterer as seen by the API.
type TopicService interface {
	Cluster(ctx context.Context, locationID uuid.UUID, minTopicSize int) (topics.ClusterResult, error)
	Enrich(ctx context.Context, locationID uuid.UUID, force bool) (topics.EnrichResult, error)
	TopTopics(ctx context.Context, locationID uuid.UUID, from, to *time.Time, limit int) ([]models.TopicSummary, error)
}

// TopicsHandler serves topic ranking, clustering and enrichment.
type TopicsHandler struct {
	topics TopicService
}

// NewTopicsHandler creates a new topics handler.
func NewTopicsHandler(svc TopicService) *TopicsHandler {
	return &TopicsHandler{topics: svc}
}

// Top ranks topics of a location by member concepts in [from, to).
func (h *TopicsHandler) Top(c fiber.Ctx) error {
	locationID, err := validation.ParseUUID("location id", c.Params("id"))
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, err.Error())
	}
	from, err := validation.ParseOptionalTime("from", c.Query("from"))
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, err.Error())
	}
	to, err := validation.ParseOptionalTime("to", c.Query("to"))
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, err.Error())
	}
	limit, err := validation.ParseLimit(c.Query("limit"), topics.DefaultTopTopicsLimit, 1, topics.MaxTopTopicsLimit)
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, err.Error())
	}

	list, err := h.topics.TopTopics(c.Context(), locationID, from, to, limit)
	if err != nil {
		return failure(c, err, "failed to rank topics")
	}
	return jsonSuccess(c, models.TopicsResponse{Topics: list})
}

// Cluster groups the location's recent unassigned concepts into topics.
func (h *TopicsHandler) Cluster(c fiber.Ctx) error {
	locationID, err := validation.ParseUUID("location id", c.Params("id"))
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, err.Error())
	}
	// Zero selects the configured default.
	minSize, err := validation.ParseCount(c.Query("min_topic_size"), 0, topics.MaxMinTopicSize)
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, err.Error())
	}

	res, err := h.topics.Cluster(c.Context(), locationID, minSize)
	if err != nil {
		if errors.Is(err, validation.ErrInvalidParam) {
			return jsonError(c, fiber.StatusBadRequest, err.Error())
		}
		slog.Warn("topic clustering failed", "location_id", locationID, "error", err)
		return jsonError(c, fiber.StatusBadGateway, "topic clustering failed")
	}
	return jsonSuccess(c, res.Response())
}

// Enrich writes descriptions for the location's topics.
func (h *TopicsHandler) Enrich(c fiber.Ctx) error {
	locationID, err := validation.ParseUUID("location id", c.Params("id"))
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, err.Error())
	}

	res, err := h.topics.Enrich(c.Context(), locationID, validation.ParseBool(c.Query("force")))
	if err != nil {
		return failure(c, err, "topic enrichment failed")
	}
	return jsonSuccess(c, res.Response())
}
