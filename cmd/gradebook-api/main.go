package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-gradebook/api/swagger"
	"github.com/noah-isme/sma-gradebook/internal/gradebook"
	"github.com/noah-isme/sma-gradebook/internal/handler"
	"github.com/noah-isme/sma-gradebook/internal/middleware"
	"github.com/noah-isme/sma-gradebook/internal/repository"
	"github.com/noah-isme/sma-gradebook/internal/service"
	"github.com/noah-isme/sma-gradebook/pkg/cache"
	"github.com/noah-isme/sma-gradebook/pkg/config"
	"github.com/noah-isme/sma-gradebook/pkg/database"
	"github.com/noah-isme/sma-gradebook/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-gradebook/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-gradebook/pkg/middleware/requestid"
	"github.com/noah-isme/sma-gradebook/pkg/storage"
)

// @title SMA Gradebook API
// @version 1.0.0
// @description Gradebook editing, averaging, import and export for school teachers.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	tpl, err := config.LoadTemplate(cfg.Gradebook.TemplatePath)
	if err != nil {
		logr.Sugar().Fatalw("failed to load gradebook template", "path", cfg.Gradebook.TemplatePath, "error", err)
	}
	defaults := gradebook.DefaultsFromTemplate(tpl)
	if tpl.History.Limit <= 0 {
		defaults.HistoryLimit = cfg.Gradebook.HistoryLimit
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect database", "error", err)
	}
	defer db.Close() //nolint:errcheck

	gradebookRepo := repository.NewGradebookRepository(db)
	if err := gradebookRepo.EnsureSchema(ctx); err != nil {
		logr.Sugar().Fatalw("failed to prepare schema", "error", err)
	}

	metrics := service.NewMetricsService()
	readiness := map[string]handler.ReadinessCheck{"database": db.PingContext}

	// an untyped nil keeps the cache disabled without a nil *redis.Client behind the interface
	var redisClient redis.UniversalClient
	if cfg.Redis.Enabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, summary cache disabled", "error", err)
		} else {
			redisClient = client
			defer client.Close() //nolint:errcheck
			readiness["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		}
	}
	var cacheRepo service.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient, "sma-gradebook")
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Gradebook.SummaryCacheTTL, logr, redisClient != nil)

	validate := validator.New()
	gradebooks := service.NewGradebookService(gradebookRepo, cacheSvc, metrics, validate, logr, service.GradebookServiceConfig{
		Defaults:        defaults,
		AutosaveDelay:   cfg.Gradebook.AutosaveDelay,
		SummaryCacheTTL: cfg.Gradebook.SummaryCacheTTL,
	})

	store, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to prepare export storage", "dir", cfg.Exports.StorageDir, "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
	exports := service.NewExportService(gradebooks, store, signer, metrics, service.ExportConfig{
		APIPrefix: cfg.APIPrefix,
		ResultTTL: cfg.Exports.SignedURLTTL,
	}, logr)
	go runExportCleanup(ctx, exports, cfg.Exports.CleanupInterval, logr)

	tokens := service.NewTokenService(service.TokenConfig{Secret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer}, logr)
	metricsHandler := handler.NewMetricsHandler(metrics, readiness)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr, "/health", "/ready", "/metrics"))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics, "/metrics"))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	handler.Routes{
		Gradebooks: handler.NewGradebookHandler(gradebooks, exports, logr),
		Exports:    handler.NewExportHandler(exports),
		Tokens:     tokens,
	}.Register(r.Group(cfg.APIPrefix))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("http shutdown failed", "error", err)
	}
	gradebooks.Shutdown(shutdownCtx)
}

func runExportCleanup(ctx context.Context, exports *service.ExportService, interval time.Duration, logr *zap.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := exports.Cleanup(0); err != nil {
				logr.Sugar().Warnw("export cleanup failed", "error", err)
			}
		}
	}
}
