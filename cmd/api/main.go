package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/civic-sage/backend/internal/api/handlers"
	"github.com/civic-sage/backend/internal/bootstrap"
	"github.com/civic-sage/backend/internal/ingestion"
	"github.com/civic-sage/backend/internal/metrics"
	"github.com/civic-sage/backend/internal/middleware/ratelimit"
	"github.com/civic-sage/backend/internal/middleware/security"
	"github.com/civic-sage/backend/internal/middleware/validation"
	"github.com/civic-sage/backend/pkg/config"
	appLogger "github.com/civic-sage/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Civic Sage API server")
	metrics.Init()

	ctx := context.Background()
	closer := &bootstrap.Closer{}
	defer closer.Close()

	redisClient, err := bootstrap.Redis(cfg, closer)
	if err != nil {
		appLogger.Fatal("Failed to create Redis client", zap.Error(err))
	}

	sqliteClient, err := bootstrap.SQLite(cfg, closer)
	if err != nil {
		appLogger.Fatal("Failed to open SQLite database", zap.Error(err))
	}

	records, err := bootstrap.RecordStore(cfg, redisClient, sqliteClient)
	if err != nil {
		appLogger.Fatal("Failed to open record store", zap.Error(err))
	}

	geography, err := bootstrap.Geography(ctx, cfg, closer)
	if err != nil {
		appLogger.Fatal("Failed to load geography", zap.Error(err))
	}

	chartStore, err := bootstrap.Charts(cfg, redisClient)
	if err != nil {
		appLogger.Fatal("Failed to open chart store", zap.Error(err))
	}

	zillizClient, err := bootstrap.Vectors(ctx, cfg, closer)
	if err != nil {
		appLogger.Fatal("Failed to prepare vector collection", zap.Error(err))
	}

	llmClient := bootstrap.LLM(cfg)
	orchestrator := bootstrap.Orchestrator(cfg, llmClient, zillizClient, redisClient)

	manager, err := bootstrap.Sessions(cfg, orchestrator, records, geography, redisClient)
	if err != nil {
		appLogger.Fatal("Failed to build session manager", zap.Error(err))
	}

	reaperCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()
	go manager.RunReaper(reaperCtx, time.Duration(cfg.Session.ReapIntervalSec)*time.Second)

	processor := ingestion.NewProcessor(llmClient, zillizClient, sqliteClient)

	limiter := ratelimit.New(ratelimit.Config{
		Requests: cfg.RateLimit.Requests,
		Window:   time.Duration(cfg.RateLimit.WindowSec) * time.Second,
	})
	defer limiter.Stop()

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
		UnescapePath: true,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))

	sessionHandler := handlers.NewSessionHandler(manager)
	officialHandler := handlers.NewOfficialHandler(geography, chartStore)
	documentHandler := handlers.NewDocumentHandler(processor, geography)
	wsHandler := handlers.NewWebSocketHandler(manager)

	validate := validation.Middleware(validation.Config{})
	limit := limiter.Middleware()

	api := app.Group("/api/v1")

	api.Post("/sessions", limit, validate, sessionHandler.StartSession)
	api.Post("/sessions/:id/messages", limit, validate, sessionHandler.Ask)
	api.Post("/sessions/:id/end", sessionHandler.End)
	api.Post("/sessions/:id/reports", limit, validate, sessionHandler.Report)
	api.Get("/sessions/:id/history", sessionHandler.History)

	api.Get("/officials", officialHandler.List)
	api.Get("/officials/:name/keywords", officialHandler.Keywords)
	api.Get("/officials/:name/tables/:table", officialHandler.Table)
	api.Post("/officials/:name/documents", validate, documentHandler.UploadDocument)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/sessions/:id", limit, websocket.New(wsHandler.HandleConnection))

	app.Get("/metrics", metrics.MetricsHandler())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":   "healthy",
			"time":     time.Now().Unix(),
			"sessions": manager.Active(),
		})
	})

	app.Get("/ready", func(c *fiber.Ctx) error {
		if err := redisClient.Ping(c.UserContext()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "not ready",
				"error":  err.Error(),
			})
		}
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	stopReaper()
	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		appLogger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	manager.Shutdown(shutdownCtx)

	appLogger.Info("Server stopped")
}
