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

	"github.com/mediagate/streamgate/internal/cache"
	"github.com/mediagate/streamgate/internal/config"
	"github.com/mediagate/streamgate/internal/database"
	"github.com/mediagate/streamgate/internal/importer"
	"github.com/mediagate/streamgate/internal/logging"
	"github.com/mediagate/streamgate/internal/metrics"
	"github.com/mediagate/streamgate/internal/middleware"
	"github.com/mediagate/streamgate/internal/proxy"
	"github.com/mediagate/streamgate/internal/tracing"
)

type API struct {
	store       Store
	proxy       *proxy.Service
	importer    *importer.Importer
	playlistDir string
	pinger      Pinger
	logger      *logging.Logger
}

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	if cfg.Tracing.Enabled {
		_, closer, err := tracing.Init("streamgate-api", cfg.Tracing.JaegerEndpoint)
		if err != nil {
			logger.WithError(err).Fatal("failed to initialize tracer")
		}
		defer closer.Close()
	}

	db, err := database.New(cfg.Database)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(context.Background()); err != nil {
		logger.WithError(err).Fatal("failed to run migrations")
	}

	repo := database.NewRepository(db)

	redisCache, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to redis")
	}
	defer redisCache.Close()

	resolver := proxy.NewResolver(repo, redisCache, logger)
	proxySvc := proxy.NewService(resolver, redisCache, proxy.Config{
		ConnectTimeout:  cfg.Proxy.ConnectTimeout,
		ReadTimeout:     cfg.Proxy.ReadTimeout,
		UserAgent:       cfg.Proxy.UserAgent,
		SegmentTokenTTL: cfg.Proxy.SegmentTokenTTL,
	}, logger)

	api := &API{
		store:       repo,
		proxy:       proxySvc,
		importer:    importer.NewImporter(repo, logger),
		playlistDir: cfg.Importer.PlaylistDir,
		pinger:      redisCache,
		logger:      logger,
	}

	router := setupRouter(api, cfg, logger)

	metricsSrv, _ := metrics.NewServer(cfg.Metrics.Port)
	go func() {
		if err := metricsSrv.Start(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("metrics server failed")
		}
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
		// WriteTimeout stays unset: segment responses are long-lived
		// streams and must not be cut mid-flight.
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	go func() {
		logger.WithField("addr", addr).Info("starting api server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Fatal("server forced to shutdown")
	}
	if err := metricsSrv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("metrics server shutdown failed")
	}

	logger.Info("server stopped")
}

func setupRouter(api *API, cfg *config.Config, logger *logging.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.CORS())
	router.Use(middleware.RateLimit(middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)))

	router.GET("/health", api.healthCheck)

	streams := router.Group("/api/streams")
	{
		streams.GET("/:id/play.m3u8", api.playManifest)
		streams.GET("/:id/segments/*token", api.proxySegment)
		streams.GET("/:id/status", api.streamStatus)

		streams.GET("/health-updates", api.healthUpdates)
		streams.GET("/health-stats", api.healthStats)
		streams.GET("/stats", api.streamStats)

		streams.POST("/import/m3u", api.importM3U)
	}

	return router
}

func (api *API) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := gin.H{"database": "ok", "redis": "ok"}

	if err := api.store.Health(ctx); err != nil {
		checks["database"] = "unavailable"
		status = http.StatusServiceUnavailable
	}
	if err := api.pinger.Ping(ctx); err != nil {
		checks["redis"] = "unavailable"
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{"status": http.StatusText(status), "checks": checks})
}
