// Package main provides the Parley chat backend server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/parleychat/parley/internal/archive"
	"github.com/parleychat/parley/internal/config"
	"github.com/parleychat/parley/internal/llm"
	"github.com/parleychat/parley/internal/metrics"
	"github.com/parleychat/parley/internal/scheduler"
	"github.com/parleychat/parley/internal/server"
	"github.com/parleychat/parley/internal/service"
	"github.com/parleychat/parley/internal/store"
	"github.com/parleychat/parley/internal/token"
)

func main() {
	cfg := config.Load()

	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer func() {
		if err := cleanup(); err != nil {
			slog.Error("failed to close log file", "error", err)
		}
	}()
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("starting parley-server", "port", cfg.ServerPort)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Ephemeral conversation store
	convStore, err := store.New(ctx, store.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Window:   cfg.SessionWindow,
	}, logger)
	if err != nil {
		slog.Error("failed to connect to conversation store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := convStore.Close(); err != nil {
			slog.Error("failed to close conversation store", "error", err)
		}
	}()

	// Durable archive
	mongoClient, err := archive.Connect(ctx, cfg.MongoURI)
	if err != nil {
		slog.Error("failed to connect to archive database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			slog.Error("failed to disconnect archive database", "error", err)
		}
	}()

	writer := archive.NewWriter(mongoClient, cfg.MongoDB, logger)
	if err := writer.EnsureIndexes(ctx); err != nil {
		slog.Error("failed to ensure archive indexes", "error", err)
		os.Exit(1)
	}

	// Session tokens; expiry matches the store's sliding window.
	codec, err := token.NewCodec(cfg.JWTSecret, cfg.JWTIssuer, cfg.SessionWindow)
	if err != nil {
		slog.Error("failed to create token codec", "error", err)
		os.Exit(1)
	}

	// Completion provider
	model, err := llm.NewModel(cfg)
	if err != nil {
		slog.Error("failed to create completion provider", "error", err)
		os.Exit(1)
	}

	// Organization directory
	orgs, err := service.LoadOrgDirectory(cfg.OrgFile)
	if err != nil {
		slog.Error("failed to load organization directory", "error", err, "file", cfg.OrgFile)
		os.Exit(1)
	}
	slog.Info("organization directory loaded", "domains", orgs.Len())

	stats := metrics.NewCollector()
	chat := service.NewChatService(convStore, codec, model, orgs, stats, logger)

	// Archival scheduler
	sched := scheduler.New(scheduler.Config{
		Interval:  cfg.SweepInterval,
		Threshold: cfg.ArchiveThreshold,
	}, convStore, writer, stats, logger)
	sched.Start()
	defer sched.Stop()

	srv := server.New(chat, convStore, sched, stats, logger)

	httpServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second, // Long for LLM responses
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	// Stop the sweep timer first; an in-flight sweep finishes on its own.
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped")
}
