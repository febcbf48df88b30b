// cmd/latent/serve.go

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"latent/internal/adapter/events"
	"latent/internal/ambient"
	"latent/internal/clock"
	"latent/internal/observability"
	"latent/internal/server"
	"latent/internal/service/engine"
	"latent/internal/service/trigger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	logger.Info("Starting latent", fields(cfg)...)

	// Initialize dependencies
	st, closeStore, err := initStore(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer closeStore()

	var bus events.Bus = events.NewLocalBus()
	if cfg.NATS.URL != "" {
		natsConn, err := events.Connect(cfg.NATS, logger.Named("nats"))
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer natsConn.Close()
		bus = events.NewNATSBus(natsConn)
	}

	metrics, err := observability.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	generator, err := initGenerator(ctx, cfg.TextGen)
	if err != nil {
		return fmt.Errorf("failed to initialize text generator: %w", err)
	}

	policy := trigger.NewPolicy(clock.Real(), trigger.Config{
		Cooldown:       cfg.Engine.Cooldown,
		MaxInFlight:    cfg.Engine.MaxInFlight,
		FailureBackoff: cfg.Engine.FailureBackoff,
	}, logger.Named("trigger"))

	eng := engine.NewEngine(
		initAssembler(generator, cfg),
		initRegistry(cfg.Anchors, st),
		st,
		policy,
		bus,
		metrics,
		clock.Real(),
		engine.Config{
			EventsTopic:       cfg.Engine.EventsTopic,
			EvaluationPeriod:  cfg.Engine.EvaluationPeriod,
			HistorySize:       cfg.Engine.HistorySize,
			GenerationTimeout: cfg.Engine.GenerationTimeout,
		},
		logger.Named("engine"),
	)
	eng.Start()

	// Initialize HTTP server
	httpServer := server.NewServer(cfg.Server, server.Dependencies{
		Engine:        eng,
		Bus:           bus,
		EventsSubject: engine.CreatedSubject(cfg.Engine.EventsTopic),
		Metrics:       metrics,
		Ambient:       ambient.DefaultConfig(),
		Logger:        logger.Named("http"),
	})

	// Start HTTP server
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", cfg.Server.Address()))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal
	select {
	case <-shutdown:
		logger.Info("Shutdown signal received")
	case <-ctx.Done():
	case err := <-serverErr:
		logger.Error("HTTP server error", zap.Error(err))
	}

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Graceful shutdown
	logger.Info("Shutting down services...")

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown error", zap.Error(err))
	}

	if err := eng.Stop(shutdownCtx); err != nil {
		logger.Warn("Engine shutdown error", zap.Error(err))
	}

	logger.Info("Shutdown complete")
	return nil
}
