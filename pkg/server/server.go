// Package server provides the public entry point for initializing the
// DocuLens analysis engine.
//
// It exists in pkg/ (not internal/) so that embedding programs can compose
// the engine with their own HTTP stack:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/doculens/doculens/internal/agents"
	"github.com/doculens/doculens/internal/api"
	"github.com/doculens/doculens/internal/api/handlers"
	"github.com/doculens/doculens/internal/cache"
	"github.com/doculens/doculens/internal/config"
	"github.com/doculens/doculens/internal/events"
	"github.com/doculens/doculens/internal/reasoning"
	"github.com/doculens/doculens/internal/sessions"
	"github.com/doculens/doculens/internal/store"
	"github.com/doculens/doculens/internal/telemetry"
	"github.com/doculens/doculens/internal/workflow"
)

// Server holds the initialized DocuLens engine.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the session and cache backend. Exposed so embedding
	// programs can close it or swap middleware around it.
	Store store.Store

	// Engine runs the analysis workflows.
	Engine *workflow.Engine

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes all components from environment configuration and
// returns a ready Server.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the engine with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	// Badger when a data directory is configured, in-memory otherwise.
	var dataStore store.Store
	if cfg.Store.DataDir != "" {
		dataStore, err = store.NewBadgerStore(cfg.Store.DataDir)
		if err != nil {
			return nil, fmt.Errorf("open badger store: %w", err)
		}
		log.Info().Str("dir", cfg.Store.DataDir).Msg("✅ Badger store initialized")
	} else {
		dataStore = store.NewMemoryStore()
		log.Info().Msg("✅ In-memory store initialized")
	}

	var client reasoning.Client
	if cfg.Reasoning.APIKey != "" {
		client = reasoning.NewOpenAIClient(cfg.Reasoning)
		log.Info().Str("model", cfg.Reasoning.Model).Msg("✅ Reasoning client initialized")
	} else {
		client = reasoning.NewStaticClient()
		log.Warn().Msg("No reasoning API key configured, using canned responses")
	}

	registry, err := agents.DefaultRegistry(client)
	if err != nil {
		return nil, fmt.Errorf("build agent registry: %w", err)
	}

	sessionSvc := sessions.NewService(dataStore)
	knowledge := cache.New(dataStore, cfg.Workflow.CacheTTL)
	emitter := events.NewEmitter()

	engine, err := workflow.NewEngine(registry, sessionSvc, knowledge, emitter, cfg.Workflow)
	if err != nil {
		return nil, fmt.Errorf("build workflow engine: %w", err)
	}
	log.Info().
		Strs("agents", registry.Order()).
		Str("result_policy", cfg.Workflow.ResultPolicy).
		Msg("✅ Workflow engine initialized")

	h := handlers.New(engine, sessionSvc, emitter, dataStore, client, cfg.Version)
	router := api.NewRouter(cfg, h)

	return &Server{
		Handler:      router,
		Store:        dataStore,
		Engine:       engine,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}
