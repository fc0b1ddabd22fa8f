package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"

	"rule_server/config"
	"rule_server/internal/bootstrap"
	"rule_server/pkg/logger"
)

const (
	shutdownTimeout = 30 * time.Second
)

func main() {
	// .env is optional outside local development
	envErr := godotenv.Load()

	mode := flag.String("mode", "all", "Run mode: api, worker, all")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}

	logger.Init(logger.Config{
		Level:   logger.ParseLevel(cfg.LogLevel),
		Service: "rule-server",
		Pretty:  cfg.IsDevelopment(),
	})
	if envErr != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch *mode {
	case "api":
		runAPI(ctx, cfg)
	case "worker":
		runWorker(ctx, cfg)
	case "all":
		runAll(ctx, cfg)
	default:
		logger.Fatal("Unknown mode: %s", *mode)
	}
}

func runAPI(ctx context.Context, cfg *config.Config) {
	app, cleanup, err := bootstrap.NewAPI(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize API: %v", err)
	}
	defer cleanup()

	serve(ctx, cfg, app)
}

func runWorker(ctx context.Context, cfg *config.Config) {
	w, cleanup, err := bootstrap.NewWorker(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize worker: %v", err)
	}
	defer cleanup()

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		stopWorker(w)
	}()

	logger.Info("Starting worker...")
	if err := w.Start(); err != nil {
		logger.Error("Worker failed: %v", err)
		return
	}
	<-stopped
}

// runAll serves the API and the worker from one process over shared connections.
func runAll(ctx context.Context, cfg *config.Config) {
	deps, cleanup, err := bootstrap.NewDependencies(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize dependencies: %v", err)
	}
	defer cleanup()

	w := bootstrap.NewWorkerWithDeps(cfg, deps)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := w.Start(); err != nil {
			logger.Error("Worker failed: %v", err)
		}
	}()

	serve(ctx, cfg, bootstrap.NewApp(cfg, deps))

	stopWorker(w)
	<-workerDone
}

func serve(ctx context.Context, cfg *config.Config, app *fiber.App) {
	go func() {
		<-ctx.Done()
		logger.Info("Shutting down API server (timeout: %v)...", shutdownTimeout)
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.Error("Error shutting down: %v", err)
		}
	}()

	addr := ":" + cfg.Port
	logger.Info("Starting API server on %s", addr)
	if err := app.Listen(addr); err != nil {
		logger.Fatal("Failed to start server: %v", err)
	}
}

func stopWorker(w *bootstrap.Worker) {
	logger.Info("Shutting down worker (timeout: %v)...", shutdownTimeout)

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Worker shut down gracefully")
	case <-time.After(shutdownTimeout):
		logger.Warn("Worker shutdown timed out, forcing exit")
		os.Exit(1)
	}
}
