package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/tender-engine/backend/internal/api/handlers"
	rediscache "github.com/tender-engine/backend/internal/cache/redis"
	"github.com/tender-engine/backend/internal/evaluation"
	"github.com/tender-engine/backend/internal/extract"
	"github.com/tender-engine/backend/internal/fetch"
	"github.com/tender-engine/backend/internal/llm"
	"github.com/tender-engine/backend/internal/metrics"
	"github.com/tender-engine/backend/internal/middleware/ratelimit"
	"github.com/tender-engine/backend/internal/middleware/security"
	"github.com/tender-engine/backend/internal/middleware/validation"
	"github.com/tender-engine/backend/internal/requirements"
	"github.com/tender-engine/backend/internal/runs"
	"github.com/tender-engine/backend/internal/storage/sqlite"
	"github.com/tender-engine/backend/pkg/config"
	appLogger "github.com/tender-engine/backend/pkg/logger"
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

	appLogger.Info("starting tender evaluation engine")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("failed to create sqlite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("failed to initialize schema", zap.Error(err))
	}

	var verdictCache evaluation.VerdictCache
	if cfg.Redis.Enabled {
		redisClient, err := rediscache.NewClient(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			time.Duration(cfg.Redis.TTLHours)*time.Hour,
		)
		if err != nil {
			appLogger.Fatal("failed to create redis client", zap.Error(err))
		}
		defer redisClient.Close()
		verdictCache = redisClient
	}

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
		cfg.LLM.TimeoutSec,
	)

	walker := extract.NewWalker(extract.Limits{
		MaxDepth:      cfg.Extract.MaxDepth,
		MaxMembers:    cfg.Extract.MaxMembers,
		MaxMemberSize: cfg.Extract.MaxMemberSizeBytes,
	})

	downloader := fetch.NewDownloader(cfg.Fetch.TimeoutSec, cfg.Fetch.MaxFileSizeBytes)
	parser := requirements.NewParser(llmClient, cfg.Chunker.TargetSize, cfg.Chunker.Overlap)

	progressHub := handlers.NewProgressHub()

	runService := runs.NewService(sqliteClient, runs.ServiceOptions{
		Downloader: downloader,
		Walker:     walker,
		Parser:     parser,
		Classifier: llmClient,
		Summarizer: llmClient,
		Cache:      verdictCache,
		Publisher:  progressHub,
		EvalOptions: evaluation.Options{
			ChunkTargetSize: cfg.Chunker.TargetSize,
			ChunkOverlap:    cfg.Chunker.Overlap,
			Workers:         cfg.Eval.Workers,
		},
		MaxCandidates: cfg.Eval.MaxCandidates,
	})

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))

	rateLimiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.Server.MaxRequestsPerMinute,
		Logger:               appLogger.Log,
	})
	app.Use(rateLimiter.Middleware())
	app.Use(validation.Middleware(validation.Config{
		Logger: appLogger.Log,
	}))

	evaluationHandler := handlers.NewEvaluationHandler(runService)

	api := app.Group("/api/v1")

	api.Post("/evaluations", evaluationHandler.StartEvaluation)
	api.Get("/evaluations", evaluationHandler.ListEvaluations)
	api.Get("/evaluations/:id", evaluationHandler.GetEvaluation)

	app.Get("/metrics", metrics.MetricsHandler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/progress", websocket.New(progressHub.HandleConnection))

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("server stopped")
}
