package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/antoine1anthony/sprout-ci/internal/observability"
	"github.com/antoine1anthony/sprout-ci/internal/orchestrator"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// main is the composition root: it loads configuration, builds the
// collaborators and the tool registry, injects them, and starts the server.
func main() {
	// 1. LOAD CONFIGURATION
	cfg, err := LoadConfig()
	if err != nil {
		observability.InitLogger("info", false)
		log.Fatal().Err(err).Msg("configuration error")
	}
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.Component("agent")

	buildInfo := GetBuildInfo()
	logger.Info().
		Str("version", buildInfo.Version).
		Str("commit", buildInfo.GitCommit).
		Str("collaborators", cfg.Collaborators).
		Str("backend", cfg.Backend).
		Msg("starting sprout agent")

	// 2. INITIALIZE SERVICES
	ctx := context.Background()
	collab, err := initializeCollaborators(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("could not initialize collaborators")
	}
	registry, err := initializeRegistry(cfg, collab)
	if err != nil {
		logger.Fatal().Err(err).Msg("could not initialize tools")
	}
	logger.Info().Int("tools", registry.Count()).Msg("tool registry sealed")

	backend, closeBackend, err := initializeBackend(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("could not initialize reasoning backend")
	}
	defer closeBackend()

	store, closeStore, err := initializeSessions(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("could not initialize session store")
	}
	defer closeStore()

	orch := orchestrator.New(backend, registry, store, orchestratorConfig(cfg), observability.Component("orchestrator"))

	handler := NewAgentHandler(orch, registry, cfg.TurnTimeout, observability.Component("http"))

	// 3. SETUP AND RUN THE WEB SERVER
	if mode := os.Getenv("GIN_MODE"); mode != "" {
		gin.SetMode(mode)
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           newRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}
	runServerWithGracefulShutdown(srv, cfg.TurnTimeout)
}

// runServerWithGracefulShutdown handles the server lifecycle. In-flight
// turns get at most drain, capped at a minute, to finish.
func runServerWithGracefulShutdown(srv *http.Server, drain time.Duration) {
	logger := observability.Component("agent")
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("agent is listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("listen error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	if drain <= 0 || drain > time.Minute {
		drain = time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), drain)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return
	}
	logger.Info().Msg("server exited gracefully")
}
