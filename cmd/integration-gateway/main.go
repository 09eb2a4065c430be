package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/natsumeaurlia/exam-forge-integrations/api/swagger"
	"github.com/natsumeaurlia/exam-forge-integrations/internal/handler"
	"github.com/natsumeaurlia/exam-forge-integrations/internal/middleware"
	"github.com/natsumeaurlia/exam-forge-integrations/internal/models"
	"github.com/natsumeaurlia/exam-forge-integrations/internal/provider"
	"github.com/natsumeaurlia/exam-forge-integrations/internal/repository"
	"github.com/natsumeaurlia/exam-forge-integrations/internal/service"
	"github.com/natsumeaurlia/exam-forge-integrations/internal/worker"
	"github.com/natsumeaurlia/exam-forge-integrations/pkg/cache"
	"github.com/natsumeaurlia/exam-forge-integrations/pkg/config"
	"github.com/natsumeaurlia/exam-forge-integrations/pkg/crypto"
	"github.com/natsumeaurlia/exam-forge-integrations/pkg/database"
	"github.com/natsumeaurlia/exam-forge-integrations/pkg/logger"
	corsmiddleware "github.com/natsumeaurlia/exam-forge-integrations/pkg/middleware/cors"
	reqidmiddleware "github.com/natsumeaurlia/exam-forge-integrations/pkg/middleware/requestid"
	"github.com/natsumeaurlia/exam-forge-integrations/pkg/ratelimit"
)

// @title ExamForge Integrations API
// @version 1.0.0
// @description External integrations gateway: LMS sync, outbound webhooks, connection lifecycle
// @BasePath /
// @schemes http

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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	vault, err := crypto.NewVault(cfg.Integrations.EncryptionSecret)
	if err != nil {
		logr.Sugar().Fatalw("failed to init credential vault", "error", err)
	}

	integrationRepo := repository.NewIntegrationRepository(db)
	eventRepo := repository.NewEventRepository(db)
	deliveryRepo := repository.NewDeliveryRepository(db)
	lmsRepo := repository.NewLMSRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient)

	limiter := ratelimit.New()
	metricsSvc := service.NewMetricsService()
	providerServices := provider.Services{
		Integrations: integrationRepo,
		Vault:        vault,
		Limiter:      limiter,
		Observer:     metricsSvc,
		Logger:       logr,
		DevSink:      cfg.Env != config.EnvProduction,
	}
	webhookDefaults := provider.WebhookDefaults{
		Timeout:       cfg.Webhooks.DefaultTimeout,
		RetryAttempts: cfg.Webhooks.DefaultRetryAttempts,
		RetryDelay:    cfg.Webhooks.DefaultRetryDelay,
		RateLimit:     cfg.Webhooks.RateLimit,
		RateWindow:    cfg.Webhooks.RateWindow,
	}
	lmsOptions := provider.LMSOptions{
		BaseURL:    cfg.Integrations.LMSBaseURL,
		Timeout:    cfg.Integrations.LMSTimeout,
		RateLimit:  cfg.Integrations.LMSRateLimit,
		RateWindow: cfg.Integrations.LMSRateWindow,
	}

	managerFactory := func(integration *models.Integration) (*provider.WebhookManager, error) {
		return provider.NewWebhookManager(integration, eventRepo, deliveryRepo, providerServices, webhookDefaults, cfg.Integrations.ProductName)
	}
	providerFactory := func(integration *models.Integration) (provider.Provider, error) {
		switch {
		case integration.Type == models.IntegrationTypeWebhook:
			return managerFactory(integration)
		case integration.Type == models.IntegrationTypeLMS && integration.Provider == "google-classroom":
			return provider.NewGoogleClassroomProvider(integration, eventRepo, lmsRepo, providerServices, lmsOptions), nil
		default:
			return nil, fmt.Errorf("unsupported provider %s/%s", integration.Type, integration.Provider)
		}
	}

	emitter := provider.NewEmitter(integrationRepo, managerFactory, logr)
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	if err := emitter.Initialize(startupCtx); err != nil {
		logr.Sugar().Fatalw("failed to initialize webhook registry", "error", err)
	}
	cancelStartup()

	retryWorker := worker.NewRetryWorker(deliveryRepo, integrationRepo, emitter, managerFactory, worker.RetryWorkerConfig{
		Interval:    cfg.Webhooks.RetryPollInterval,
		Concurrency: cfg.Webhooks.WorkerConcurrency,
		Logger:      logr,
	})
	retryWorker.Start(context.Background())
	defer retryWorker.Stop()

	authSvc := service.NewAuthService(cfg.JWT.Secret)
	integrationSvc := service.NewIntegrationService(service.IntegrationServiceDeps{
		Integrations: integrationRepo,
		Events:       eventRepo,
		Cache:        cacheRepo,
		Vault:        vault,
		Registry:     emitter,
		Providers:    providerFactory,
		Managers:     managerFactory,
		Metrics:      metricsSvc,
		StatsTTL:     cfg.Integrations.StatsCacheTTL,
		Logger:       logr,
	})

	integrationHandler := handler.NewIntegrationHandler(integrationSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix, middleware.JWT(authSvc))
	{
		api.POST("/integrations", integrationHandler.Create)
		api.GET("/integrations", integrationHandler.List)
		api.GET("/integrations/:id", integrationHandler.Get)
		api.DELETE("/integrations/:id", integrationHandler.Delete)
		api.POST("/integrations/:id/connect", integrationHandler.Connect)
		api.POST("/integrations/:id/disconnect", integrationHandler.Disconnect)
		api.POST("/integrations/:id/test", integrationHandler.Test)
		api.POST("/integrations/:id/sync", integrationHandler.Sync)
		api.GET("/integrations/:id/events", integrationHandler.Events)
		api.GET("/integrations/:id/deliveries", integrationHandler.Deliveries)
		api.GET("/integrations/:id/deliveries/export", integrationHandler.Export)
		api.GET("/integrations/:id/stats", integrationHandler.Stats)
		api.POST("/events", integrationHandler.Emit)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("forced shutdown", "error", err)
	}
}
