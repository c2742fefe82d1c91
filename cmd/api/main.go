package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"geoattend/internal/attendance"
	"geoattend/internal/audit"
	"geoattend/internal/classes"
	"geoattend/internal/config"
	"geoattend/internal/ctxlog"
	"geoattend/internal/httpapi"
	"geoattend/internal/httpmiddleware"
	"geoattend/internal/queue"
	"geoattend/internal/store"
)

const queueKey = "attendance:attempts:queue"

func main() {
	cfg := config.Load()
	logger := ctxlog.New(cfg.LogLevel, cfg.LogFormat, os.Stdout).With("service", "api")
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	if cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = ctxlog.WithLogger(ctx, logger)

	if err := runHTTP(ctx, cfg, logger); err != nil {
		logger.Error("http server failed", "err", err)
		os.Exit(1)
	}
}

func runHTTP(ctx context.Context, cfg config.App, logger *slog.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	health := map[string]httpapi.HealthCheck{}

	var (
		classRepo classes.Repository
		sessions  attendance.Store
	)
	switch cfg.StoreBackend {
	case "memory":
		classRepo = classes.NewMemoryRepository()
		sessions = attendance.NewMemoryStore()
		logger.Warn("using in-memory store; data is lost on restart")
	default:
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		classRepo = classes.NewPGRepository(db.Client)
		sessions = attendance.NewRepository(db.Client)
		health["db"] = db.Healthy
	}

	var redisClient *store.Redis
	if cfg.UsesRedis() {
		redisClient, err = store.NewRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		health["redis"] = redisClient.Healthy
	}

	var (
		q        queue.Queue
		attempts audit.Log
	)
	if cfg.QueueBackend == "memory" {
		mem := queue.NewInMemory(256)
		memLog := audit.NewMemoryLog(cfg.AttemptLogSize)
		// no separate worker can reach an in-process queue, so consume here
		go func() {
			if err := audit.Run(ctx, mem, memLog); err != nil {
				logger.Error("audit consumer stopped", "err", err)
			}
		}()
		q, attempts = mem, memLog
	} else {
		q = queue.NewRedisQueue(redisClient.Client, queueKey)
		attempts = audit.NewRedisLog(redisClient.Client, cfg.AttemptLogSize, cfg.AttemptLogTTL)
	}

	var limiter httpmiddleware.Limiter
	if cfg.RateLimitBackend == "redis" {
		limiter = httpmiddleware.NewRedisWindow(redisClient.Client, cfg.RateLimitPerMin)
	} else {
		limiter = httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	}

	registry := classes.NewService(classRepo)
	srv := httpapi.NewServer(
		registry,
		attendance.NewLifecycle(sessions, registry, cfg.CodeLength),
		attendance.NewEngine(sessions, registry, audit.NewQueueSink(q)),
		attempts,
		loc,
	)
	router := httpapi.NewRouter(httpapi.RouterOptions{
		Logger:         logger,
		SigningKey:     cfg.JWTSigningKey,
		Issuer:         cfg.JWTIssuer,
		Limiter:        limiter,
		AllowedOrigins: cfg.AllowedOrigins,
		Health:         health,
	}, srv)

	httpSrv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", httpSrv.Addr, "store", cfg.StoreBackend, "queue", cfg.QueueBackend)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	// give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", "err", err)
	}
	logger.Info("server exited")
	return nil
}
