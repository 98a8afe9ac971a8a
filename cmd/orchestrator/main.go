package main

import (
	"context"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"studybuddy/internal/bootstrap"
	"studybuddy/internal/config"
	"studybuddy/internal/logger"
	"studybuddy/internal/metrics"
	"studybuddy/internal/orchestrator/narration"
	"studybuddy/internal/repository"
	"studybuddy/internal/service"
	"studybuddy/internal/storage"
)

func main() {
	// Parse mode flag
	mode := flag.String("mode", "narration", "Orchestrator mode: narration")
	metricsAddr := flag.String("metrics-addr", ":9090", "Address serving /metrics; empty disables it")
	flag.Parse()

	// Initialize logger
	logger := logger.New()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logger.Warn().Msg("Warning: no .env file found")
	}

	// Load config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Msgf("Error loading config: %v", err)
	}
	if *mode != "narration" {
		logger.Fatal().Msgf("Invalid mode: %s", *mode)
	}

	// Set up context with graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bootstrap.LoadProviderKeys(ctx, cfg, logger)

	pool, err := bootstrap.OpenDB(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Msgf("Failed to open DB: %v", err)
	}
	defer pool.Close()

	m := metrics.New()
	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, m, logger)
	}

	gen, err := bootstrap.NewGeneration(ctx, cfg, m, logger)
	if err != nil {
		logger.Fatal().Msgf("Failed to build provider chain: %v", err)
	}
	speech, err := bootstrap.Speech(cfg)
	if err != nil {
		logger.Fatal().Msgf("Narration needs OPENAI_API_KEY for speech: %v", err)
	}
	s3Client, err := storage.NewS3Client(ctx, cfg)
	if err != nil {
		logger.Fatal().Msgf("Failed to create S3 client: %v", err)
	}

	transport, err := bootstrap.NewNarrationTransport(ctx, cfg, pool, logger)
	if err != nil {
		logger.Fatal().Msgf("Failed to open narration queue: %v", err)
	}
	defer transport.Close()

	w := &narration.Worker{
		Jobs:    repository.NewNarrationRepo(pool),
		Chain:   gen.Chain,
		Prompts: gen.Prompts,
		Speech:  speech,
		Store:   storage.NewS3Store(s3Client, cfg.S3Bucket),
		DLQ:     service.NewDLQService(repository.NewDLQRepository(pool), logger),
		Metrics: m,
		Retry: narration.RetryPolicy{
			MaxRetries:     cfg.NarrationMaxRetries,
			InitialBackoff: time.Duration(cfg.NarrationBackoffInitialSec) * time.Second,
			MaxBackoff:     time.Duration(cfg.NarrationBackoffMaxSec) * time.Second,
		},
		RequestTimeout: time.Duration(cfg.NarrationRequestTimeoutSec) * time.Second,
		Queue:          transport.Subscription,
		Logger:         logger,
	}

	if err := narration.Run(ctx, logger, transport.Source, w); err != nil {
		logger.Fatal().Msgf("%s orchestrator failed: %v", *mode, err)
	}
	logger.Info().Msgf("%s orchestrator stopped gracefully", *mode)
}

func serveMetrics(addr string, m *metrics.Metrics, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		logger.Error().Err(err).Msg("Metrics server stopped")
	}
}
