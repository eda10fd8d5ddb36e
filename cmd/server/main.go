package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shattavibe/api/internal/auth"
	"github.com/shattavibe/api/internal/client"
	"github.com/shattavibe/api/internal/config"
	"github.com/shattavibe/api/internal/handler"
	"github.com/shattavibe/api/internal/logger"
	"github.com/shattavibe/api/internal/middleware"
	"github.com/shattavibe/api/internal/observability"
	"github.com/shattavibe/api/internal/service"
	"github.com/shattavibe/api/internal/store"
	ws "github.com/shattavibe/api/internal/websocket"
	"github.com/shattavibe/api/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, err := logger.New(cfg.Server.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zlog.Sync()

	db, err := store.Open(cfg.Database, zlog)
	if err != nil {
		zlog.Fatal("record store unavailable", zap.Error(err))
	}
	records := store.NewRecordStore(db)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		zlog.Warn("redis not available", zap.Error(err))
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	validate := validator.New()
	metrics := observability.New(prometheus.DefaultRegisterer)

	hub := ws.NewHub(zlog.Named("ws"))
	go hub.Run(ctx)

	// Archiving is optional; without R2 the vendor URLs are served as is.
	var r2Client *client.R2Client
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2Client, err = client.NewR2Client(&cfg.R2)
		if err != nil {
			zlog.Warn("R2 client not initialized", zap.Error(err))
		}
	} else {
		zlog.Info("R2 storage not configured, track archiving disabled")
	}

	verifier := auth.NewVerifier(cfg, zlog)
	defer verifier.Close()

	var archiver service.ArchiveScheduler
	if r2Client != nil {
		archiver = worker.NewArchiveScheduler(asynqClient)
	}

	quota := service.NewQuotaTracker(records, cfg.Generation.FreeLimit, zlog)
	library := service.NewLibraryService(records, nil, zlog)
	ingest := service.NewIngestService(records, hub, archiver, metrics, zlog.Named("ingest"))
	sweeper := service.NewSweepService(records, hub, metrics, cfg.Generation.StaleAfter, zlog.Named("sweep"))

	callbackHandler := handler.NewCallbackHandler(ingest, validate, zlog)
	generationHandler := handler.NewGenerationHandler(library, quota)
	authHandler := handler.NewAuthHandler(verifier)

	identity := middleware.NewIdentityMiddleware(verifier, cfg.Gateway.Enabled)
	rateLimiter := middleware.NewRateLimiter(redisClient, zlog)

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    4 * 1024 * 1024,
	})

	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body}\n"
	}
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization," + middleware.DeviceIDHeader,
	}))

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		dbOK := true
		if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(c.UserContext()) != nil {
			dbOK = false
		}
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"database": dbOK,
				"redis":    redisClient.Ping(c.UserContext()).Err() == nil,
				"r2":       r2Client != nil,
			},
		})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// ForwardAuth verification endpoint (internal, called by the gateway)
	app.Get("/auth/verify", authHandler.Verify)

	// Vendor callbacks are public; the task id is the only capability.
	app.Post("/callback/suno", rateLimiter.CallbackLimit(cfg.RateLimit.CallbackPerMin), callbackHandler.Suno)

	api := app.Group("/api", identity.Resolve(), rateLimiter.ReadLimit(cfg.RateLimit.ReadPerMin))
	api.Get("/generations", generationHandler.List)
	api.Get("/generations/:taskId", generationHandler.Get)
	api.Get("/quota", generationHandler.Quota)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/generations/:taskId", websocket.New(func(c *websocket.Conn) {
		hub.HandleConnection(c, c.Params("taskId"))
	}))

	go startWorkerServer(ctx, cfg, redisOpt, sweeper, r2Client, records, metrics, zlog.Named("worker"))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		zlog.Info("shutting down server")
		stop()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			zlog.Error("server shutdown error", zap.Error(err))
		}
	}()

	addr := ":" + cfg.Server.Port
	zlog.Info("server starting", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		zlog.Fatal("server error", zap.Error(err))
	}
}

func startWorkerServer(
	ctx context.Context,
	cfg *config.Config,
	redisOpt asynq.RedisClientOpt,
	sweeper *service.SweepService,
	r2Client *client.R2Client,
	records *store.RecordStore,
	metrics *observability.Metrics,
	zlog *zap.Logger,
) {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 4,
		Queues: map[string]int{
			worker.QueueSweep:   1,
			worker.QueueArchive: 3,
		},
		LogLevel: asynqLogLevel,
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(worker.TaskTypeSweep, worker.NewSweepWorker(sweeper, zlog).ProcessTask)
	if r2Client != nil {
		archiveWorker := worker.NewArchiveWorker(r2Client, records, &http.Client{Timeout: 2 * time.Minute}, metrics, zlog)
		mux.HandleFunc(worker.TaskTypeArchive, archiveWorker.ProcessTask)
	}

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{LogLevel: asynqLogLevel})
	schedule := "@every " + cfg.Generation.SweepInterval.String()
	if _, err := scheduler.Register(schedule, worker.NewSweepTask(), asynq.Queue(worker.QueueSweep), asynq.Unique(cfg.Generation.SweepInterval)); err != nil {
		zlog.Error("failed to schedule sweep", zap.Error(err))
	}

	if err := srv.Start(mux); err != nil {
		zlog.Error("asynq worker error", zap.Error(err))
		return
	}
	if err := scheduler.Start(); err != nil {
		zlog.Error("asynq scheduler error", zap.Error(err))
	}

	<-ctx.Done()
	scheduler.Shutdown()
	srv.Shutdown()
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
