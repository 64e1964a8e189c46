// Weaver report server: provides the HTTP API, manages queue workers,
// and runs the deliberation report pipeline.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/opendeliberation/weaver/pkg/api"
	"github.com/opendeliberation/weaver/pkg/cleanup"
	"github.com/opendeliberation/weaver/pkg/config"
	"github.com/opendeliberation/weaver/pkg/events"
	"github.com/opendeliberation/weaver/pkg/llm"
	"github.com/opendeliberation/weaver/pkg/pipeline"
	"github.com/opendeliberation/weaver/pkg/queue"
	"github.com/opendeliberation/weaver/pkg/services"
	"github.com/opendeliberation/weaver/pkg/stages"
	"github.com/opendeliberation/weaver/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// resolvePodID determines the pod identifier for multi-replica coordination.
// Priority: POD_ID env > HOSTNAME env > "local"
func resolvePodID() string {
	if id := os.Getenv("POD_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "local"
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

	podID := resolvePodID()

	slog.Info("Starting weaver",
		"version", version.Full(),
		"pod_id", podID,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Connect to Redis (state store, lock, queue)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.Error("Failed to connect to Redis", "addr", cfg.Redis.Addr, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			slog.Error("Error closing Redis client", "error", err)
		}
	}()
	slog.Info("Connected to Redis", "addr", cfg.Redis.Addr)

	// 3. Build the pipeline: store, LLM client, stage executors, runner
	store := pipeline.NewRedisStore(redisClient, cfg.Pipeline.StateTTL, cfg.Pipeline.LockLease)

	llmClient, err := llm.NewClient(cfg.LLM.Provider, cfg.LLM.BaseURL)
	if err != nil {
		slog.Error("Failed to initialize LLM client", "provider", cfg.LLM.Provider, "error", err)
		os.Exit(1)
	}
	slog.Info("LLM client initialized", "provider", cfg.LLM.Provider)

	suite := stages.NewSuite(llmClient, cfg.Pipeline.ClaimsConcurrency)
	runner := pipeline.NewRunner(store, suite, pipeline.RunnerConfig{
		Timeout:                  cfg.Pipeline.Timeout,
		ValidationFailureCeiling: cfg.Pipeline.ValidationFailureCeiling,
		LockLease:                cfg.Pipeline.LockLease,
	})

	// 4. Wire the report service and worker pool. The pool and the
	// service reference each other (execute vs. cancel), so the pool
	// gets a late-bound executor.
	publisher := events.NewPublisher(redisClient)
	executor := &lateBoundExecutor{}
	workerPool := queue.NewWorkerPool(podID, redisClient, cfg.Queue, executor)
	reportService := services.NewReportService(cfg, store, runner, workerPool.Queue(), workerPool, publisher)
	executor.JobExecutor = reportService

	if err := workerPool.Start(ctx); err != nil {
		slog.Error("Failed to start worker pool", "error", err)
		os.Exit(1)
	}

	// 5. Start retention cleanup loop
	cleanupService := cleanup.NewService(cfg.Retention, redisClient, store)
	cleanupService.Start(ctx)
	defer cleanupService.Stop()

	// 6. Start HTTP server (non-blocking)
	httpServer := api.NewServer(cfg.Server, reportService, workerPool)
	if err := httpServer.Start(); err != nil {
		slog.Error("Failed to start HTTP server", "error", err)
		os.Exit(1)
	}

	slog.Info("Weaver started successfully",
		"pod_id", podID,
		"workers", cfg.Queue.WorkerCount,
		"addr", cfg.Server.ListenAddr)

	// 7. Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	slog.Info("Shutdown signal received", "signal", sig)

	// 8. Graceful shutdown: workers first, then the HTTP server
	workerShutdownCtx, workerCancel := context.WithTimeout(ctx, cfg.Queue.GracefulShutdownTimeout)
	defer workerCancel()

	done := make(chan struct{})
	go func() {
		workerPool.Stop()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Worker pool stopped gracefully")
	case <-workerShutdownCtx.Done():
		slog.Warn("Shutdown timeout exceeded, incomplete reports will be orphan-recovered")
	}

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}

// lateBoundExecutor defers executor resolution until after the report
// service is constructed.
type lateBoundExecutor struct {
	queue.JobExecutor
}
