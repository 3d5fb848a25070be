package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/renzoku/gateway/internal/config"
	"github.com/renzoku/gateway/internal/database"
	apihttp "github.com/renzoku/gateway/internal/http"
	"github.com/renzoku/gateway/internal/notifications"
	"github.com/renzoku/gateway/internal/pipeline"
	"github.com/renzoku/gateway/internal/repository"
	"github.com/renzoku/gateway/internal/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	db, err := database.Open(cfg.SQLitePath)
	if err != nil {
		slog.Error("failed to open sqlite", "path", cfg.SQLitePath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.Migrate(context.Background(), db, cfg.MigrationsPath); err != nil {
		slog.Error("failed to apply migrations", "error", err)
		os.Exit(1)
	}

	fetchLog := repository.NewFetchLogRepository(db)
	var recorder pipeline.Recorder = fetchLog
	if cfg.AlertWebhookURL != "" {
		webhook, err := notifications.NewWebhookNotifier(cfg.AlertWebhookURL)
		if err != nil {
			slog.Error("failed to configure alert webhook", "error", err)
			os.Exit(1)
		}
		recorder = notifications.NewOutcomeAlerts(fetchLog, webhook, cfg.AlertCooldown, "protection", "rate_limited")
	}

	client, err := pipeline.NewFromConfig(cfg, recorder, logger)
	if err != nil {
		slog.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	app := apihttp.NewServer(cfg, db, client, logger)

	warmerCtx, warmerCancel := context.WithCancel(context.Background())
	warmer := scheduler.NewWarmer(
		client,
		fetchLog,
		scheduler.WarmerConfig{
			Interval:     time.Duration(cfg.WarmerMinutes) * time.Minute,
			PreloadLimit: cfg.WarmerPreloadLimit,
			LogRetention: cfg.FetchLogRetention,
		},
		logger,
	)
	if cfg.WarmerEnabled {
		warmer.Start(warmerCtx)
	}

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			slog.Error("server stopped", "error", err)
		}
	}()

	slog.Info("gateway started", "port", cfg.Port, "env", cfg.Environment, "upstream", cfg.UpstreamBaseURL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	slog.Info("shutting down server")
	warmerCancel()
	if cfg.WarmerEnabled {
		warmer.StopWait(2 * time.Second)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}
