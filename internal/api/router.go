// Package api assembles the HTTP surface of the service.
package api

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/docsynth/backend/internal/api/handlers"
	"github.com/docsynth/backend/internal/ingestion"
	"github.com/docsynth/backend/internal/metrics"
	"github.com/docsynth/backend/internal/middleware/ratelimit"
	"github.com/docsynth/backend/internal/middleware/security"
	"github.com/docsynth/backend/internal/middleware/validation"
	"github.com/docsynth/backend/internal/query"
	"github.com/docsynth/backend/internal/storage/sqlite"
	"github.com/docsynth/backend/pkg/config"
	"github.com/docsynth/backend/pkg/logger"
)

// Pinger is a dependency the readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Config    *config.Config
	DB        *sqlite.Client
	Processor *ingestion.Processor
	Engine    *query.Engine
	// Cache is checked by /ready when set.
	Cache Pinger
}

func NewApp(d Deps) *fiber.App {
	cfg := d.Config
	metrics.Init()

	app := fiber.New(fiber.Config{
		ReadTimeout:           time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:          time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:             cfg.Server.BodyLimit,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	if cfg.Server.Development {
		app.Use(fiberlogger.New())
	}

	origins := "*"
	if len(cfg.Server.AllowedOrigins) > 0 {
		origins = strings.Join(cfg.Server.AllowedOrigins, ",")
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept, X-Client-ID",
		AllowMethods: "GET, POST, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		IsDevelopment:  cfg.Server.Development,
	}))

	app.Get("/metrics", metrics.MetricsHandler())

	api := app.Group("/api/v1")

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})
	api.Get("/ready", readyHandler(d))

	if cfg.RateLimit.Enabled {
		limiter := ratelimit.New(ratelimit.Config{
			MaxRequestsPerMinute: cfg.RateLimit.MaxRequestsPerMinute,
			CleanupInterval:      5 * time.Minute,
			Logger:               logger.GetLogger(),
		})
		app.Hooks().OnShutdown(func() error {
			limiter.Stop()
			return nil
		})
		api.Use(limiter.Middleware())
	}
	api.Use(validation.Middleware(validation.Config{
		QueriesPath:   "/api/v1/queries",
		DocumentsPath: "/api/v1/documents",
		Logger:        logger.GetLogger(),
	}))

	documentHandler := handlers.NewDocumentHandler(d.Processor)
	queryHandler := handlers.NewQueryHandler(d.Engine)
	wsHandler := handlers.NewWebSocketHandler(d.Engine, time.Duration(cfg.Server.WriteTimeout)*time.Second)

	api.Post("/documents", documentHandler.UploadDocuments)
	api.Get("/documents", documentHandler.ListDocuments)
	api.Get("/documents/:id/status", documentHandler.GetDocumentStatus)
	api.Delete("/documents/:id", documentHandler.DeleteDocument)

	api.Post("/queries", queryHandler.HandleQuery)
	api.Get("/queries", queryHandler.RecentQueries)
	api.Get("/queries/:id", queryHandler.GetQuery)
	api.Get("/queries/:id/follow-ups", queryHandler.FollowUps)

	api.Get("/stats", documentHandler.GetStats)

	api.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/ws", websocket.New(wsHandler.HandleConnection))

	return app
}

func readyHandler(d Deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		checks := fiber.Map{}
		ready := true

		if err := d.DB.Ping(); err != nil {
			checks["sqlite"] = err.Error()
			ready = false
		} else {
			checks["sqlite"] = "ok"
		}

		if d.Cache != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := d.Cache.Ping(ctx); err != nil {
				checks["redis"] = err.Error()
				ready = false
			} else {
				checks["redis"] = "ok"
			}
		}

		if !ready {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "not ready",
				"checks": checks,
			})
		}
		return c.JSON(fiber.Map{
			"status": "ready",
			"checks": checks,
		})
	}
}
