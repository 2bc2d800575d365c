package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/felipe/zegate/internal/api"
	"github.com/felipe/zegate/internal/config"
	"github.com/felipe/zegate/internal/db"
	"github.com/felipe/zegate/internal/kv"
	"github.com/felipe/zegate/internal/logger"
	"github.com/felipe/zegate/internal/service/auth"
	"github.com/felipe/zegate/internal/service/meow"
	"github.com/felipe/zegate/internal/service/session"
	"github.com/felipe/zegate/internal/service/webhook"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Pretty)
	log := logger.Get()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kvStore, err := kv.Connect(ctx, cfg.Redis)
	if err != nil {
		log.Error().Err(err).Msg("Failed to connect to Redis")
		os.Exit(1)
	}
	defer kvStore.Close()

	database, err := db.Connect(&cfg.DeviceStore)
	if err != nil {
		log.Error().Err(err).Msg("Failed to connect to device store database")
		os.Exit(1)
	}
	defer database.Close()
	database.Tune(ctx)

	container, err := database.Container(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize device store container")
		os.Exit(1)
	}

	authStore := auth.NewStore(kvStore)
	engine := webhook.NewEngine(kvStore, cfg.Webhook)
	filter := webhook.NewFilter(cfg.Webhook)
	factory := meow.NewFactory(container)
	registry := session.NewRegistry(factory, authStore, engine, filter, cfg)

	restored := registry.Resurrect(ctx)
	log.Info().Int("sessions", restored).Msg("Persisted sessions restored")

	engine.Start()

	server := api.NewServer(cfg, registry, engine)
	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("HTTP server error")
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		log.Info().Msg("Shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("Server context cancelled")
	}

	if err := server.Stop(); err != nil {
		log.Error().Err(err).Msg("Error stopping HTTP server")
	}

	engine.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	registry.Shutdown(shutdownCtx)

	log.Info().Msg("Gateway exited")
}
