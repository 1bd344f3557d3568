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

	"github.com/doorstep-ai/platform/pkg/common/config"
	"github.com/doorstep-ai/platform/pkg/common/kafka"
	"github.com/doorstep-ai/platform/pkg/common/logger"
	"github.com/doorstep-ai/platform/pkg/gateway/middleware"
	"github.com/doorstep-ai/platform/pkg/relay"
)

func main() {
	logger.Init()
	cfg := config.Load()

	hub := relay.NewHub()

	deliveryConsumer := kafka.NewConsumer(cfg.DeliveryTopic, cfg.KafkaGroupID+"-relay")
	defer deliveryConsumer.Close()
	locationConsumer := kafka.NewConsumer(cfg.LocationTopic, cfg.KafkaGroupID+"-relay")
	defer locationConsumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := deliveryConsumer.Consume(ctx, hub.Dispatch); err != nil && ctx.Err() == nil {
			logger.Log.WithError(err).Fatal("delivery consumer stopped")
		}
	}()
	go func() {
		if err := locationConsumer.Consume(ctx, hub.Dispatch); err != nil && ctx.Err() == nil {
			logger.Log.WithError(err).Fatal("location consumer stopped")
		}
	}()

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  "healthy",
			"clients": hub.ClientCount(),
		})
	}).Methods(http.MethodGet, http.MethodHead)
	hub.Register(router)

	handler := middleware.Recovery(middleware.Logging(router))

	port := cfg.ServerPort
	if env := os.Getenv("RELAY_PORT"); env != "" {
		port = env
	}

	server := &http.Server{
		Addr:        fmt.Sprintf("%s:%s", cfg.ServerHost, port),
		Handler:     handler,
		ReadTimeout: cfg.ReadTimeout,
		// Websocket writes are long-lived; no server write timeout.
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": port,
		}).Info("Relay Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Relay Service...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	logger.Log.Info("Relay Service stopped")
}
