package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/doorstep-ai/platform/pkg/common/config"
	"github.com/doorstep-ai/platform/pkg/common/database"
	"github.com/doorstep-ai/platform/pkg/common/logger"
	"github.com/doorstep-ai/platform/pkg/connections"
	"github.com/doorstep-ai/platform/pkg/deliveries"
	"github.com/doorstep-ai/platform/pkg/eta"
	"github.com/doorstep-ai/platform/pkg/gateway/middleware"
	"github.com/doorstep-ai/platform/pkg/platforms"
	"github.com/doorstep-ai/platform/pkg/relay"
	"github.com/doorstep-ai/platform/pkg/status"
	"github.com/doorstep-ai/platform/pkg/vault"
	"github.com/doorstep-ai/platform/pkg/webhooks"
)

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}
	redisClient := database.GetRedis()

	tokenVault, err := vault.New(cfg.VaultKey)
	if err != nil {
		logger.Log.WithError(err).Fatal("invalid vault key")
	}

	normalizer := status.NewNormalizer()
	if cfg.StatusTablePath != "" {
		if err := normalizer.LoadOverrides(cfg.StatusTablePath); err != nil {
			logger.Log.WithError(err).Fatal("failed to load status table overrides")
		}
	}

	registry := platforms.NewDefaultRegistry(cfg, normalizer)

	connRepo := connections.NewRepository(db)
	if err := connRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate connection tables")
	}
	historyRepo := deliveries.NewHistoryRepository(db)
	if err := historyRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate history tables")
	}

	states := connections.NewRedisStateStore(redisClient, cfg.OAuthStateTTL)
	locker := connections.NewRedisRefreshLocker(redisClient)
	connSvc := connections.NewService(registry, connRepo, states, tokenVault, locker, cfg.RefreshWindow, cfg.RefreshLockTTL)

	publisher := relay.NewPublisher(cfg.DeliveryTopic, cfg.LocationTopic)
	defer publisher.Close()

	cache := deliveries.NewCache(redisClient, cfg.CacheTTL, cfg.SessionProxyCacheTTL)
	deliverySvc := deliveries.NewService(connSvc, registry, cache, historyRepo, eta.NewEngine(), publisher)

	dedupe := webhooks.NewRedisDedupeStore(redisClient)
	limiter := webhooks.NewBucketLimiter(cfg.WebhookRateLimitRPS, cfg.WebhookRateLimitBurst)
	pipeline := webhooks.NewPipeline(registry, dedupe, deliverySvc, limiter, cfg.WebhookDedupeTTL)

	router := mux.NewRouter()
	router.HandleFunc("/health", healthHandler(db, redisClient, cfg)).Methods(http.MethodGet, http.MethodHead)

	connections.NewHTTPHandler(connSvc, cfg.SettingsRedirectURL).Register(router)
	deliveries.NewHTTPHandler(deliverySvc).Register(router)
	webhooks.NewHTTPHandler(pipeline).Register(router)

	handler := middleware.Recovery(
		middleware.Logging(
			middleware.CORS(
				middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst)(
					middleware.BodyLimit(cfg.MaxRequestBody)(router)))))

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("Delivery Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := connSvc.RefreshDue(context.Background()); err != nil {
					logger.Log.WithError(err).Warn("token refresh sweep failed")
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Delivery Service...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}
	if err := database.ClosePostgres(); err != nil {
		logger.Log.WithError(err).Error("closing postgres")
	}
	if err := database.CloseRedis(); err != nil {
		logger.Log.WithError(err).Error("closing redis")
	}

	logger.Log.Info("Delivery Service stopped")
}

func healthHandler(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}

		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
			"config":   "ok",
		}
		healthy := true
		degraded := false

		if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(r.Context()) != nil {
			checks["database"] = "down"
			healthy = false
		}
		if err := redisClient.Ping(r.Context()).Err(); err != nil {
			checks["cache"] = "down"
			degraded = true
		}
		if cfg.VaultKey == "" {
			checks["config"] = "vault key missing"
			healthy = false
		}

		overall := "healthy"
		code := http.StatusOK
		switch {
		case !healthy:
			overall = "unhealthy"
			code = http.StatusServiceUnavailable
		case degraded:
			overall = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": overall,
			"checks": checks,
		})
	}
}
