package server

import (
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"conceptnorm/internal/handlers/api"
	"conceptnorm/internal/middleware"
)

// Services are the collaborators the routes are served by.
type Services struct {
	DB       api.Pinger
	Entities api.NormalizeRunner
	Aspects  api.NormalizeRunner
	Pairs    api.PairsSource
	Topics   api.TopicService
	Backlog  api.BacklogService
	// Verifier authenticates batch triggers; nil leaves them open.
	Verifier middleware.TokenVerifier
}

// RegisterRoutes registers all application routes.
func (s *Server) RegisterRoutes(svc Services) {
	cronAuth := middleware.NewCronAuth(svc.Verifier)

	healthHandler := api.NewHealthHandler(svc.DB)
	normalizeHandler := api.NewNormalizeHandler(svc.Entities, svc.Aspects)
	pairsHandler := api.NewPairsHandler(svc.Pairs)
	topicsHandler := api.NewTopicsHandler(svc.Topics)
	backlogHandler := api.NewBacklogHandler(svc.Backlog)

	// Probes and scraping stay outside auth and rate limiting
	s.App.Get("/healthz", healthHandler.Check)
	s.App.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	v1 := s.App.Group("/api/v1", s.limiter, cronAuth.Require)

	// Batch entry points
	v1.Post("/normalize/entities", normalizeHandler.Entities)
	v1.Post("/normalize/aspects", normalizeHandler.Aspects)
	v1.Post("/backlog/run", backlogHandler.Run)

	// Per-location analytics and topics
	v1.Get("/locations/:id/pairs", pairsHandler.List)
	v1.Get("/locations/:id/topics", topicsHandler.Top)
	v1.Post("/locations/:id/topics/cluster", topicsHandler.Cluster)
	v1.Post("/locations/:id/topics/enrich", topicsHandler.Enrich)
}
