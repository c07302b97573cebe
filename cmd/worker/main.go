package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"vigil-worker-go/internal/api"
	"vigil-worker-go/internal/config"
	"vigil-worker-go/internal/logging"
	"vigil-worker-go/internal/models"
	"vigil-worker-go/internal/registry"
	"vigil-worker-go/internal/services/detection"
	"vigil-worker-go/internal/services/framesource"
	"vigil-worker-go/internal/services/notify"
	"vigil-worker-go/internal/services/pipeline"
	"vigil-worker-go/internal/services/supervisor"
	"vigil-worker-go/internal/store"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load configuration
	cfg := config.Load()

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("Invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Optional logdy web log viewer, teed alongside the console output
	if cfg.LogdyEnabled {
		if w, url, err := logging.StartLogdy(cfg); err != nil {
			log.Warn().Err(err).Msg("Logdy unavailable, console logging only")
		} else {
			var multi io.Writer = zerolog.MultiLevelWriter(zerolog.ConsoleWriter{Out: os.Stderr}, w)
			log.Logger = log.Output(multi)
			log.Info().Str("url", url).Msg("Logdy web UI available")
		}
	}

	log.Info().
		Str("worker_id", cfg.WorkerID).
		Str("version", cfg.Version).
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Int("cameras", len(cfg.CameraURLs)).
		Msg("Starting Vigil worker")

	// Persistent stores
	eventStore, err := store.Open(cfg.EventStorePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.EventStorePath).Msg("Failed to open event store")
	}
	defer eventStore.Close()

	subjectRegistry, err := registry.Open(cfg.RegistryPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.RegistryPath).Msg("Failed to open subject registry")
	}
	defer subjectRegistry.Close()

	// NATS carries both alert delivery and remote face encoding
	notifier, err := notify.NewService(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("url", cfg.NatsURL).Msg("Failed to connect to NATS")
	}

	encoder := detection.NewNATSEncoder(notifier.Conn(), cfg.DetectSubject, cfg.DetectTimeout)
	engine := detection.NewRecognizer(encoder, subjectRegistry, cfg.RecognitionTolerance, cfg.ConfidenceThreshold)

	// Event pipeline: single consumer preserves per-camera order
	pipe := pipeline.New(cfg, eventStore, notifier)
	pipe.Start()

	// Camera supervisor
	sup := supervisor.New(cfg, framesource.NewGoCVFactory(cfg), engine, pipe)
	for i, url := range cfg.CameraURLs {
		camera := models.CameraConfig{
			CameraID: fmt.Sprintf("cam-%d", i+1),
			URL:      url,
		}
		if err := sup.AddCamera(camera); err != nil {
			log.Error().Err(err).Str("camera_id", camera.CameraID).Msg("Failed to register boot camera")
			continue
		}
		if err := sup.StartCamera(camera.CameraID); err != nil {
			log.Error().Err(err).Str("camera_id", camera.CameraID).Msg("Failed to start boot camera")
		}
	}

	// API server
	server := api.NewServer(cfg, sup, eventStore, subjectRegistry, pipe, notifier.IsConnected)
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("API server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("API server forced to shutdown")
	}
	if err := sup.StopAll(ctx); err != nil {
		log.Error().Err(err).Msg("Some cameras did not stop cleanly")
	}
	if err := pipe.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Pipeline did not drain in time")
	}
	if err := notifier.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("NATS drain failed")
	}

	log.Info().Msg("Shutdown complete")
}
