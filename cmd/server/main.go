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

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/zhejian/shorten/internal/config"
	"github.com/zhejian/shorten/internal/infra"
	"github.com/zhejian/shorten/internal/observability"
	"github.com/zhejian/shorten/internal/server"
)

func main() {
	// Load configuration from environment variables
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()

	// Initialize observability (logger, tracer, metrics)
	obs, err := observability.Setup(ctx, observability.Config{
		ServiceName:  cfg.Observability.ServiceName,
		Environment:  cfg.Observability.Environment,
		OTLPEndpoint: cfg.Observability.OTLPEndpoint,
	})
	if err != nil {
		log.Fatalf("Failed to initialize observability: %v", err)
	}
	logger := obs.Logger

	// Connect to database
	db, err := infra.NewPostgresPool(ctx, cfg.Database.ConnectionString())
	if err != nil {
		logger.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("database connected")

	// Connect to cache
	cache, err := infra.NewCacheClient(ctx, cfg.Cache.ConnectionString())
	if err != nil {
		logger.Error("failed to connect to cache", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer cache.Close()
	logger.Info("cache connected")

	// Connect to the message broker. Audit events degrade to log-only when
	// the broker is unavailable, so failure here is not fatal.
	var queue *amqp.Connection
	if cfg.Queue.Enabled {
		queue, err = infra.NewQueueConnection(cfg.Queue.ConnectionString())
		if err != nil {
			logger.Warn("queue unavailable, audit events will be logged only",
				slog.String("error", err.Error()))
			queue = nil
		} else {
			defer queue.Close()
			logger.Info("queue connected")
		}
	}

	srv, publisher, err := server.NewServer(cfg, db, cache, queue, obs)
	if err != nil {
		logger.Error("failed to build server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server starting",
			slog.String("port", cfg.Server.Port),
			slog.String("base_url", cfg.App.BaseURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	// Wait for interrupt signal (Ctrl+C or SIGTERM)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", slog.String("error", err.Error()))
	}

	// Drain buffered audit events after the server stops accepting requests
	if publisher != nil {
		publisher.Close()
	}

	obs.Shutdown(shutdownCtx)
	logger.Info("server exited gracefully")
}
