package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aescanero/dagrun/internal/application/orchestrator"
	"github.com/aescanero/dagrun/internal/application/workers"
	"github.com/aescanero/dagrun/internal/config"
	"github.com/aescanero/dagrun/internal/telemetry"
	"github.com/aescanero/dagrun/pkg/adapters/cache"
	eventsmemory "github.com/aescanero/dagrun/pkg/adapters/events/memory"
	"github.com/aescanero/dagrun/pkg/adapters/events/redis"
	"github.com/aescanero/dagrun/pkg/adapters/metrics/prometheus"
	"github.com/aescanero/dagrun/pkg/adapters/runner/stream"
	"github.com/aescanero/dagrun/pkg/adapters/storage/memory"
	redisstorage "github.com/aescanero/dagrun/pkg/adapters/storage/redis"
	"github.com/aescanero/dagrun/pkg/adapters/storage/sqlite"
	"github.com/aescanero/dagrun/pkg/api/grpc"
	"github.com/aescanero/dagrun/pkg/api/http"
	"github.com/aescanero/dagrun/pkg/api/websocket"
	"github.com/aescanero/dagrun/pkg/ports"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	_ "modernc.org/sqlite"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

// store is what every storage backend provides
type store interface {
	ports.RevisionSource
	ports.TemplateSource
	ports.RunStore
	ports.ExecutionRecordStore
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting dagrun",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("store", cfg.Store.Backend))

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing, Version)
	if err != nil {
		logger.Fatal("failed to set up tracing", zap.Error(err))
	}

	var redisClient *goredis.Client
	if cfg.Store.Backend != config.StoreMemory {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))
	}

	var db *sql.DB
	var runStore store
	switch cfg.Store.Backend {
	case config.StoreRedis:
		runStore = redisstorage.NewStore(redisClient, cfg.Store.RedisPrefix, cfg.Store.RunTTL, logger)
	case config.StoreSQLite:
		db, err = sql.Open("sqlite", cfg.Store.SQLitePath)
		if err != nil {
			logger.Fatal("failed to open sqlite database", zap.Error(err))
		}
		// One writer at a time
		db.SetMaxOpenConns(1)
		runStore, err = sqlite.NewStore(db, logger)
		if err != nil {
			logger.Fatal("failed to create sqlite store", zap.Error(err))
		}
	case config.StoreMemory:
		runStore = memory.NewStore()
	}

	templates := cache.NewTemplateCache(runStore, cfg.Cache.TemplateCapacity, cfg.Cache.TemplateTTL, logger)
	go templates.StartEviction(ctx)

	var eventBus ports.EventBus
	if redisClient != nil {
		eventBus, err = redis.NewStreamsEventBus(redisClient, redis.Config{
			Prefix: cfg.Events.StreamPrefix,
			MaxLen: cfg.Events.MaxLen,
		}, logger)
		if err != nil {
			logger.Fatal("failed to create event bus", zap.Error(err))
		}
	} else {
		eventBus = eventsmemory.NewInMemoryEventBus(logger)
	}

	metricsCollector := prometheus.NewCollector(nil)

	workerPool := workers.NewPool(
		cfg.Workers.PoolSize,
		cfg.Workers.QueueSize,
		metricsCollector,
		logger,
		cfg.Workers.HealthCheckInterval,
	)
	if err := workerPool.Start(); err != nil {
		logger.Fatal("failed to start worker pool", zap.Error(err))
	}

	runner := stream.NewRunner(eventBus, runStore, stream.Config{
		MinPollInterval: cfg.Runner.MinPollInterval,
		MaxPollInterval: cfg.Runner.MaxPollInterval,
	}, logger)

	orchestratorMgr := orchestrator.NewManager(&orchestrator.ManagerConfig{
		Revisions:  runStore,
		Templates:  templates,
		Runs:       runStore,
		Records:    runStore,
		Runner:     runner,
		EventBus:   eventBus,
		Metrics:    metricsCollector,
		Dispatcher: workerPool,
		Logger:     logger,
		RunTimeout: cfg.Timeouts.RunExecutionTimeout,
	})

	httpServer := http.NewServer(&http.Config{
		Port:         cfg.HTTPPort,
		Orchestrator: orchestratorMgr,
		Health:       workerPool.Health(),
		Logger:       logger,
	})
	httpServer.SetupWebSocket(websocket.NewHandler(eventBus, logger))

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:   cfg.GRPCPort,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("failed to create gRPC server", zap.Error(err))
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	go func() {
		if err := grpcServer.Start(); err != nil {
			logger.Fatal("gRPC server failed", zap.Error(err))
		}
	}()

	logger.Info("dagrun started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("worker_pool_size", cfg.Workers.PoolSize))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}

	// Cancel active runs before draining the pool so their jobs can return
	if err := orchestratorMgr.Shutdown(shutdownCtx); err != nil {
		logger.Error("orchestrator shutdown error", zap.Error(err))
	}

	if err := workerPool.Shutdown(shutdownCtx); err != nil {
		logger.Error("worker pool shutdown error", zap.Error(err))
	}

	if err := eventBus.Close(); err != nil {
		logger.Error("event bus close error", zap.Error(err))
	}

	stop()

	if db != nil {
		if err := db.Close(); err != nil {
			logger.Error("sqlite close error", zap.Error(err))
		}
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Redis close error", zap.Error(err))
		}
	}

	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("dagrun shut down complete")
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = zap.NewAtomicLevelAt(zapLevel)
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapConfig.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
