// Runloom orchestrator server — provides the HTTP read API, streams
// projection updates over WebSocket, and runs sub-agent delegation for
// active runs.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/runloom/runloom/pkg/api"
	"github.com/runloom/runloom/pkg/config"
	"github.com/runloom/runloom/pkg/database"
	"github.com/runloom/runloom/pkg/events"
	"github.com/runloom/runloom/pkg/orchestrator"
	"github.com/runloom/runloom/pkg/projection"
	"github.com/runloom/runloom/pkg/services"
	"github.com/runloom/runloom/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting runloom", "version", version.Full(), "config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize database (runs embedded migrations)
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}

	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// 3. Domain services
	eventService := services.NewEventService(dbClient.DB())
	runService := services.NewRunService(dbClient.DB())
	slog.Info("Services initialized")

	// 4. Streaming infrastructure: one projection engine per process, fed
	// by the LISTEN connection; WebSocket clients fan out from the manager.
	engine := projection.NewEngine()
	publisher := events.NewPublisher(dbClient.DB())
	ingestor := events.NewIngestor(engine, eventService, publisher)
	connManager := events.NewConnectionManager(eventService, 10*time.Second)

	notifyListener := events.NewNotifyListener(dbConfig.DSN(), ingestor, connManager)
	if err := notifyListener.Start(ctx); err != nil {
		slog.Error("Failed to start NotifyListener", "error", err)
		os.Exit(1)
	}
	defer notifyListener.Stop(ctx)

	// Every append mirrors to the global channel, so the projection stays
	// fed with no WebSocket client around; per-task channels are LISTENed
	// on demand by the connection manager.
	if err := notifyListener.Subscribe(ctx, events.GlobalTasksChannel); err != nil {
		slog.Error("Failed to LISTEN on global channel", "error", err)
		os.Exit(1)
	}

	connManager.SetListener(notifyListener)
	slog.Info("Streaming infrastructure initialized")

	// 5. Orchestrator registry; runners are created per run and emit into
	// the event log through the publisher.
	runners := orchestrator.NewRegistry()

	// 6. HTTP server
	server := api.NewServer(engine, runners, eventService, runService, connManager, ingestor, dbClient.DB())
	httpServer := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", cfg.Server.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Runloom started successfully",
		"presets", cfg.Stats().Presets,
		"max_concurrent_sub_agents", cfg.Orchestrator.MaxConcurrentSubAgents)

	// 7. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 8. Graceful shutdown: cancel active sub-agents and wait for their
	// terminal events to land before tearing down streaming.
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Orchestrator.GracefulShutdownTimeout())
	defer cancel()

	done := make(chan struct{})
	go func() {
		runners.CancelAll(shutdownCtx)
		runners.WaitAll(shutdownCtx)
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Orchestrator stopped gracefully")
	case <-shutdownCtx.Done():
		slog.Warn("Orchestrator shutdown timeout exceeded")
	}

	ingestor.Stop()

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
