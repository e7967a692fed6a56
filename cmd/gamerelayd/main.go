// Command gamerelayd runs the relay and session service: the Auth
// Gate, Saves Store, Stats Accumulator, Room Registry, and Transport
// Adapter, all wired against a shared Redis-backed key/value store.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gamerelay/internal/auth"
	"gamerelay/internal/config"
	"gamerelay/internal/keyregistry"
	"gamerelay/internal/kv"
	"gamerelay/internal/rooms"
	"gamerelay/internal/saves"
	"gamerelay/internal/stats"
	"gamerelay/internal/transport"
)

var version = "dev"

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)

	redisClient := kv.NewRedisClient(
		cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
		cfg.Redis.PoolSize, cfg.Redis.MinIdleConns, cfg.Redis.MaxRetries,
		cfg.Redis.ReadTimeout, cfg.Redis.WriteTimeout,
	)
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		logger.Error("redis ping failed at startup, continuing anyway", "error", err)
	}
	store := kv.NewRedisStore(redisClient)

	registry := keyregistry.New(store, logger)
	accumulator := stats.New(store)
	roomRegistry := rooms.New(store, accumulator, logger, cfg.Rooms.TickInterval, cfg.Rooms.CodeCollisionTries)
	savesStore := saves.New(store)

	gate := auth.NewGate(registry)
	internalGate := auth.NewInternalGate(cfg.Internal.Secret)

	handler := transport.New(roomRegistry, savesStore, accumulator, registry, gate, internalGate, logger, version)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("gamerelayd starting", "port", cfg.Server.Port, "redis", cfg.Redis.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	if err := store.Close(); err != nil {
		logger.Error("store close failed", "error", err)
	}

	logger.Info("gamerelayd stopped")
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: level == "debug",
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
