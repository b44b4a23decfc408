package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
	"github.com/valyala/fasthttp"

	"orderrec/internal/apperr"
	"orderrec/internal/config"
	"orderrec/internal/db"
	"orderrec/internal/http/handlers"
	"orderrec/internal/ingest"
	"orderrec/internal/logging"
	"orderrec/internal/pipeline"
	"orderrec/internal/recommend"
	"orderrec/internal/supervisor"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New(logging.Config{})
		bootLogger.Error().Err(err).Msg("invalid configuration")
		os.Exit(apperr.ExitCode(err))
	}
	logger := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("orderrec stopped")
		os.Exit(apperr.ExitCode(err))
	}
}

//nolint:gocritic // zerolog.Logger is passed by value
func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := db.Open(cfg, logging.Component(logger, "db"))
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.EnsureBootstrapAPIKey(ctx, cfg); err != nil {
		return apperr.Configuration("ensure bootstrap API key: %v", err)
	}
	orderAuth, err := store.HasAPIKeys(ctx)
	if err != nil {
		return apperr.Configuration("read API keys: %v", err)
	}
	if !orderAuth {
		logger.Warn().Msg("no API key configured; order submission is unauthenticated and admin jobs are disabled")
	}

	server := recommend.NewServer(cfg.Serving.TopK, logging.Component(logger, "recommend"))
	ingestor := ingest.New(store, store, nil, logging.Component(logger, "ingest"))
	runner := pipeline.NewRunner(store, cfg, server, nil, logging.Component(logger, "pipeline"))

	if err := runner.RefreshSnapshot(ctx); err != nil {
		logger.Warn().Err(err).Msg("initial snapshot load failed; serving ModelUnavailable until the next refresh")
	}

	handler := handlers.NewHandler(handlers.Deps{
		Config:      cfg,
		Orders:      ingestor,
		Recommender: server,
		Jobs:        runner,
		Health:      store,
		Keys:        store,
		OrderAuth:   orderAuth,
		Gatherer:    prometheus.DefaultGatherer,
		Logger:      logging.Component(logger, "http"),
	})
	httpServer := &fasthttp.Server{
		Handler:      handler,
		Name:         "orderrec",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Schedule.RetrainTimeout,
		IdleTimeout:  2 * time.Minute,
	}

	tree := supervisor.NewTree(logging.Component(logger, "supervisor"), supervisor.DefaultTreeConfig())
	tree.AddAPIService(supervisor.NewHTTPService(httpServer, cfg.ListenAddr, shutdownTimeout))
	if cfg.Schedule.Enabled {
		addJobs(tree, cfg, runner, logger)
	}

	logger.Info().
		Str("addr", cfg.ListenAddr).
		Bool("schedule", cfg.Schedule.Enabled).
		Int("top_k", cfg.Serving.TopK).
		Msg("orderrec listening")

	err = tree.Serve(ctx)
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, suture.ErrTerminateSupervisorTree) {
		logger.Info().Msg("shutdown complete")
		return nil
	}
	return err
}

// addJobs schedules derivation, retraining and snapshot refresh.
//
//nolint:gocritic // zerolog.Logger is passed by value
func addJobs(tree *supervisor.Tree, cfg *config.Config, runner *pipeline.Runner, logger zerolog.Logger) {
	jobLogger := logging.Component(logger, "jobs")
	s := cfg.Schedule

	tree.AddJob(supervisor.NewJobService(func(ctx context.Context) error {
		_, err := runner.RunFeatureDerivation(ctx)
		return err
	}, supervisor.JobConfig{Name: "derive", Interval: s.DeriveInterval, Timeout: s.DeriveTimeout}, jobLogger))

	tree.AddJob(supervisor.NewJobService(func(ctx context.Context) error {
		_, err := runner.RunSegmentationAndTraining(ctx)
		return err
	}, supervisor.JobConfig{Name: "retrain", Interval: s.RetrainInterval, Timeout: s.RetrainTimeout}, jobLogger))

	tree.AddJob(supervisor.NewJobService(runner.RefreshSnapshot,
		supervisor.JobConfig{Name: "refresh", Interval: s.RefreshInterval, Timeout: time.Minute}, jobLogger))
}
