package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/pluvio/hydroclim-go/internal/api"
	"github.com/pluvio/hydroclim-go/internal/api/handlers"
	"github.com/pluvio/hydroclim-go/internal/config"
	"github.com/pluvio/hydroclim-go/internal/engine"
	"github.com/pluvio/hydroclim-go/internal/logging"
	"github.com/pluvio/hydroclim-go/internal/middleware"
	"github.com/pluvio/hydroclim-go/internal/notify"
	"github.com/pluvio/hydroclim-go/internal/resources"
	"github.com/pluvio/hydroclim-go/internal/store"
	"github.com/pluvio/hydroclim-go/internal/telemetry"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logging.ConfigureLogrus(cfg.Logging.Level, cfg.Logging.Format)
	logger := logging.NewStandardOTLPLogger(logging.OTLPConfig{
		Enabled:        cfg.Telemetry.Enabled,
		Endpoint:       cfg.Telemetry.Endpoint,
		ServiceName:    telemetry.ServiceName,
		ServiceVersion: telemetry.ServiceVersion,
		Environment:    cfg.Environment,
		LogLevel:       cfg.Logging.Level,
	})

	tp, err := telemetry.Init(context.Background(), telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		SampleRate:  cfg.Telemetry.SampleRate,
		Environment: cfg.Environment,
	})
	if err != nil {
		logrus.Fatalf("Failed to initialize telemetry: %v", err)
	}
	defer func() {
		if err := telemetry.Shutdown(context.Background(), tp); err != nil {
			logrus.WithError(err).Warn("Telemetry shutdown failed")
		}
	}()

	backend, err := newBackend(cfg)
	if err != nil {
		logrus.Fatalf("Failed to initialize store backend: %v", err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logrus.WithError(err).Warn("Store backend close failed")
		}
	}()

	optimizer := resources.NewOptimizer()
	workers := optimizer.Workers(context.Background(), cfg.Workers.Count)

	orchestrator, err := engine.FromConfig(cfg.Index, backend, workers)
	if err != nil {
		logrus.Fatalf("Invalid index configuration: %v", err)
	}

	notifier := notify.NewNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Index.Name)
	auth := middleware.NewAuthMiddleware(cfg.Auth.JWTSecret)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Telemetry.Enabled {
		router.Use(otelgin.Middleware(telemetry.ServiceName))
	}
	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.LogAPIRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start).Milliseconds())
	})

	api.SetupRoutes(router, api.Handlers{
		Health:  handlers.NewHealthHandler(backend, optimizer, cfg.Index.Name, telemetry.ServiceVersion),
		Auth:    handlers.NewAuthHandler(auth, cfg.Auth.OperatorEmail, cfg.Auth.OperatorPasswordHash, time.Duration(cfg.Auth.TokenTTLHours)*time.Hour),
		Compute: handlers.NewComputeHandler(orchestrator, notifier, logger),
	}, auth)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	go func() {
		logger.LogStartup(telemetry.ServiceName, telemetry.ServiceVersion, cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.LogShutdown(telemetry.ServiceName, "signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logrus.Fatalf("Server forced to shutdown: %v", err)
	}
}

// newBackend builds the configured store backend.
func newBackend(cfg *config.Config) (store.Backend, error) {
	switch cfg.Store.Backend {
	case "redis":
		return store.NewRedisBackend(store.RedisOptions{
			Addr:      cfg.Redis.Addr(),
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Namespace: cfg.Store.Namespace,
		})
	case "postgres":
		return store.NewPostgresBackend(cfg.Database.DSN())
	default:
		return store.NewMemoryBackend(), nil
	}
}
