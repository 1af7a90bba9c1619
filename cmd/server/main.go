package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"conceptnorm/internal/config"
	"conceptnorm/internal/db"
	"conceptnorm/internal/gateway"
	"conceptnorm/internal/jobs"
	"conceptnorm/internal/metrics"
	"conceptnorm/internal/middleware"
	"conceptnorm/internal/normalize"
	"conceptnorm/internal/pairing"
	"conceptnorm/internal/server"
	"conceptnorm/internal/topics"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	yamlCfg, err := config.LoadYAMLConfig(cfg.ConfigFile)
	if err != nil {
		log.Fatalf("Failed to load %s: %v", cfg.ConfigFile, err)
	}
	cfg.ApplyYAML(yamlCfg)

	// Initialize database
	database, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	// Run migrations
	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Migrations completed successfully")

	if cfg.SeedDevData && cfg.IsDev() {
		if err := database.SeedDevConcepts(ctx); err != nil {
			log.Printf("Warning: failed to seed dev data: %v", err)
		}
	}

	metrics.Init(database)

	// LLM gateway
	if !cfg.LLMConfigured() {
		log.Fatal("LLM_API_KEY or LLM_TOKEN_URL is required for the decision collaborators")
	}
	opts := gateway.Options{
		BaseURL:     cfg.LLMBaseURL,
		APIKey:      cfg.LLMAPIKey,
		Model:       cfg.LLMModel,
		Temperature: cfg.LLMTemperature,
		Timeout:     cfg.LLMTimeout,
		MaxRetries:  cfg.LLMMaxRetries,
	}
	if cfg.LLMTokenURL != "" {
		opts.HTTPClient = gateway.NewOAuthHTTPClient(ctx, cfg.LLMTokenURL, cfg.LLMClientID, cfg.LLMSecret, cfg.LLMScopes, cfg.LLMTimeout)
		log.Println("LLM gateway using OAuth2 client credentials")
	}
	llm, err := gateway.NewClient(opts)
	if err != nil {
		log.Fatalf("Failed to configure LLM gateway: %v", err)
	}
	classifier := gateway.NewLLMClassifier(llm)

	// Stages
	normOpts := normalize.Options{CandidateLimit: cfg.CandidateLimit, ClassifyTimeout: cfg.ClassifyTimeout}
	entities := normalize.NewEntityNormalizer(database, classifier, normOpts)
	aspects := normalize.NewAspectNormalizer(database, classifier, normOpts)

	clusterer := topics.New(database, gateway.NewLLMGrouper(llm), gateway.NewLLMComposer(llm), topics.Options{
		WindowDays:    cfg.TopicWindowDays,
		SampleSize:    cfg.TopicSampleSize,
		MinTopicSize:  cfg.TopicMinSize,
		EnrichWorkers: cfg.TopicEnrichWorker,
	})

	excluded := make([]uuid.UUID, 0, len(cfg.ExcludedLocationIDs))
	for _, raw := range cfg.ExcludedLocationIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			log.Fatalf("Invalid excluded location id %q: %v", raw, err)
		}
		excluded = append(excluded, id)
	}
	runner := jobs.NewBacklogRunner(database, jobs.NewPipelineStage(nil, entities, aspects), jobs.RunnerOptions{
		PageSize:            cfg.SchedulerPageSize,
		MaxPagesPerLocation: cfg.SchedulerMaxPages,
		Workers:             cfg.SchedulerWorkers,
		Budget:              cfg.SchedulerBudget,
		Interval:            cfg.SchedulerInterval,
		Exclude:             excluded,
	})
	if cfg.SchedulerInterval > 0 {
		go runner.Start(ctx)
	}

	// Batch trigger auth
	var verifier middleware.TokenVerifier
	switch {
	case cfg.OIDCIssuer != "":
		verifier, err = middleware.NewOIDCVerifier(ctx, cfg.OIDCIssuer, cfg.OIDCAudience)
		if err != nil {
			log.Fatalf("Failed to initialize OIDC verifier: %v", err)
		}
	case cfg.CronSecret != "":
		verifier = middleware.NewSecretVerifier(cfg.CronSecret)
	}

	srv := server.New(cfg)
	srv.RegisterRoutes(server.Services{
		DB:       database,
		Entities: entities,
		Aspects:  aspects,
		Pairs:    pairing.NewAggregator(database),
		Topics:   clusterer,
		Backlog:  runner,
		Verifier: verifier,
	})

	// Graceful shutdown
	go func() {
		if err := srv.Start(); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("Server started on %s", cfg.ServerAddr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	cancel()
	if err := srv.Shutdown(); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	log.Println("Server exited")
}
