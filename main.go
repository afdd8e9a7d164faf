package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mailsort_server/config"
	"mailsort_server/internal/bootstrap"
	"mailsort_server/pkg/logger"

	"github.com/joho/godotenv"
)

const (
	shutdownTimeout = 30 * time.Second // Maximum time to wait for graceful shutdown
)

func main() {
	// Initialize logger early
	logger.Init(logger.Config{
		Level:   logger.LevelInfo,
		Service: "mailsort",
	})

	// Load .env file if exists (for local development)
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	mode := flag.String("mode", "all", "Run mode: api, monitor, all")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}
	if cfg.IsDevelopment() {
		logger.Init(logger.Config{
			Level:   logger.LevelDebug,
			Service: "mailsort",
		})
	}

	deps, cleanup, err := bootstrap.NewDependencies(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize dependencies: %v", err)
	}
	defer cleanup()

	switch *mode {
	case "api":
		runAPI(cfg, deps)
	case "monitor":
		runScheduler(cfg, deps, true)
	case "all":
		stop := runScheduler(cfg, deps, false)
		defer stop()
		runAPI(cfg, deps)
	default:
		logger.Fatal("Unknown mode: %s", *mode)
	}
}

func runAPI(cfg *config.Config, deps *bootstrap.Dependencies) {
	app := bootstrap.NewAPI(cfg, deps)

	// Graceful shutdown with timeout
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down API server (timeout: %v)...", shutdownTimeout)

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			done <- app.Shutdown()
		}()

		select {
		case err := <-done:
			if err != nil {
				logger.Error("Error shutting down: %v", err)
			} else {
				logger.Info("API server shut down gracefully")
			}
		case <-ctx.Done():
			logger.Warn("API shutdown timed out, forcing exit")
		}
	}()

	addr := ":" + cfg.Port
	logger.Info("Starting API server on %s", addr)
	if err := app.Listen(addr); err != nil {
		logger.Fatal("Failed to start server: %v", err)
	}
}

// runScheduler starts the background monitor loop. With block=true it owns the
// process and waits for a signal; otherwise it returns a stop function for the
// caller to defer.
func runScheduler(cfg *config.Config, deps *bootstrap.Dependencies, block bool) func() {
	if !cfg.SchedulerEnabled {
		logger.Info("Monitor scheduler disabled by config")
		if block {
			waitForSignal()
		}
		return func() {}
	}

	scheduler := bootstrap.NewScheduler(cfg, deps)
	scheduler.Start()
	logger.Info("Monitor scheduler started (interval: %v)", cfg.MonitorInterval())

	if block {
		waitForSignal()
		logger.Info("Shutting down monitor scheduler...")
		scheduler.Stop()
		return func() {}
	}
	return scheduler.Stop
}

func waitForSignal() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
}
