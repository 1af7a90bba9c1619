package api

import (
	"context"

	"github.com/gofiber/fiber/v3"

	"conceptnorm/internal/jobs"
)

// BacklogService drains the concept backlog once.
type BacklogService interface {
	Run(ctx context.Context) (jobs.Summary, error)
}

// BacklogHandler is the cron trigger for backlog runs.
type BacklogHandler struct {
	runner BacklogService
}

// NewBacklogHandler creates a new backlog handler.
func NewBacklogHandler(runner BacklogService) *BacklogHandler {
	return &BacklogHandler{runner: runner}
}

// Run drains every location within the runner's time budget.
func (h *BacklogHandler) Run(c fiber.Ctx) error {
	sum, err := h.runner.Run(c.Context())
	if err != nil {
		return failure(c, err, "backlog run failed")
	}
	return jsonSuccess(c, sum.Response())
}
