package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/benmeehan/thinq-agent/internal/service_registry"
	"github.com/benmeehan/thinq-agent/internal/utils"
	"github.com/benmeehan/thinq-agent/pkg/file"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	flag.Parse()

	// Structured JSON logging
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	fileClient := file.NewFileService()

	config, err := utils.LoadConfig(*configPath, fileClient)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	level, err := zerolog.ParseLevel(config.Log.Level)
	if err != nil {
		log.Warn().Err(err).Str("level", config.Log.Level).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	log = log.Level(level)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	serviceRegistry := service_registry.NewServiceRegistry(fileClient, log)
	if err := serviceRegistry.RegisterServices(ctx, config); err != nil {
		log.Fatal().Err(err).Msg("Failed to register services")
	}

	if err := serviceRegistry.StartServices(); err != nil {
		if ctx.Err() != nil {
			log.Info().Msg("Interrupted during startup")
			return
		}
		log.Fatal().Err(err).Msg("Failed to start services")
	}
	log.Info().Msg("All services started successfully")

	for _, ctrl := range serviceRegistry.Controllers() {
		device := ctrl.Device()
		log.Info().
			Str("device_id", device.ID).
			Str("device", device.Name).
			Str("model", device.Model).
			Str("platform", string(device.Platform)).
			Msg("Device available")
	}

	// Handle graceful shutdown
	<-ctx.Done()

	log.Info().Msg("Shutting down gracefully...")
	if err := serviceRegistry.StopServices(); err != nil {
		log.Error().Err(err).Msg("Some services failed to stop")
		os.Exit(1)
	}
}
