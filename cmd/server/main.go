package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/Janar2510/AgentFlow/internal/database"
	"github.com/Janar2510/AgentFlow/internal/events"
	"github.com/Janar2510/AgentFlow/internal/platform/config"
	"github.com/Janar2510/AgentFlow/internal/platform/logging"
	"github.com/Janar2510/AgentFlow/internal/platform/version"
	"github.com/Janar2510/AgentFlow/internal/realtime"
	"github.com/Janar2510/AgentFlow/internal/relay"
	"github.com/Janar2510/AgentFlow/internal/server"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := database.RunMigrations(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

func setupRedis(cfg *config.Config) *goredis.Client {
	if cfg.RedisURL == "" {
		slog.Info("Redis not configured, running single-instance")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := relay.Connect(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func runGracefulShutdown(srv *server.Server, manager *realtime.Manager, cancel context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		// Stop the status publisher and relay, then close client connections
		cancel()
		manager.Stop()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	// Initialize structured logging
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "version", version.Short(), "env", cfg.AppEnv, "port", cfg.Port)

	pool := setupDB(cfg)
	defer pool.Close()

	redisClient := setupRedis(cfg)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	workflowRepo := database.NewWorkflowRepo(pool)
	executionRepo := database.NewExecutionRepo(pool)

	manager := realtime.NewManager(clock, realtime.Options{
		WriteTimeout:   cfg.WriteTimeout,
		SendBufferSize: cfg.SendBufferSize,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var eventRelay *relay.Relay
	if redisClient != nil {
		eventRelay = relay.New(redisClient, manager)
		go eventRelay.Run(ctx)
	}
	publisher := events.New(manager, eventRelay)

	statusPublisher := realtime.NewStatusPublisher(manager, clock, cfg.StatusInterval, cfg.StatusErrorBackoff)
	go statusPublisher.Run(ctx)

	srv := server.NewServer(server.Dependencies{
		Config:     cfg,
		Manager:    manager,
		Workflows:  workflowRepo,
		Executions: executionRepo,
		Publisher:  publisher,
		Postgres:   pool,
		Redis:      redisClient,
	})

	done := runGracefulShutdown(srv, manager, cancel)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
