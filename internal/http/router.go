package http

import (
	"database/sql"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/renzoku/gateway/internal/config"
	"github.com/renzoku/gateway/internal/http/handlers"
)

func NewServer(cfg config.Config, db *sql.DB, client handlers.Pipeline, logger *slog.Logger) *fiber.App {
	if logger == nil {
		logger = slog.Default()
	}

	app := fiber.New(fiber.Config{
		AppName: cfg.AppName,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
	}))

	health := handlers.NewHealthHandler(db, client)
	pages := handlers.NewContentHandler(client, logger)
	fetchLog := handlers.NewFetchLogHandler(db)

	app.Get("/health", health.Check)
	app.Get("/v1/health", health.Check)

	v1 := app.Group("/v1")
	v1.Get("/detail", pages.Detail)
	v1.Get("/episode", pages.Episode)
	v1.Get("/search", pages.Search)
	v1.Get("/home", pages.Home)
	v1.Get("/schedule", pages.Schedule)
	v1.Get("/unlimited", pages.Unlimited)
	v1.Post("/preload", pages.Preload)
	v1.Get("/endpoints", pages.Endpoints)
	v1.Get("/fetch-log", fetchLog.List)

	return app
}
