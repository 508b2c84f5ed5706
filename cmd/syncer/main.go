package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"episode_syncer/internal/config"
	"episode_syncer/internal/domain"
	"episode_syncer/internal/fetcher"
	"episode_syncer/internal/publisher"
	"episode_syncer/internal/service"
	"episode_syncer/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	seriesID := flag.String("series", "", "sync a single series by id instead of all")
	flag.Parse()

	// Setup logger
	logger := setupLogger("info")

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	// New-episode events are optional; an empty URL disables them.
	var pub service.Publisher
	if cfg.RabbitMQ.URL != "" {
		rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			logger.Error("failed to connect to rabbitmq", "error", err)
			os.Exit(1)
		}
		defer rabbitMQ.Close()
		pub = rabbitMQ
	}

	// Initialize stores
	seriesStore := postgres.NewSeriesStore(db)
	episodeStore := postgres.NewEpisodeStore(db)
	syncStateStore := postgres.NewSyncStateStore(db)

	feedFetcher := fetcher.New(
		fetcher.NewSafeHTTPClient(time.Duration(cfg.Fetch.Timeout)),
		cfg.Fetch.MaxBodySize,
		cfg.Fetch.UserAgent,
		logger,
	)

	syncService := service.NewSyncService(
		seriesStore,
		episodeStore,
		syncStateStore,
		feedFetcher,
		pub,
		logger,
		cfg.Sync,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	var results []domain.SyncResult
	if *seriesID != "" {
		results = []domain.SyncResult{syncService.SyncSeries(ctx, *seriesID)}
	} else {
		results, err = syncService.SyncAll(ctx)
		if err != nil {
			logger.Error("sync failed", "error", err)
			os.Exit(1)
		}
	}

	report(logger, results)
}

// report aggregates per-series results into the run summary.
func report(logger *slog.Logger, results []domain.SyncResult) {
	var totalNew, totalPublished, failed int
	for _, r := range results {
		if r.Err != "" {
			failed++
			logger.Warn("series failed",
				"series_id", r.SeriesID,
				"series_name", r.SeriesName,
				"error", r.Err,
			)
			continue
		}
		totalNew += r.NewEpisodes
		totalPublished += r.Published
		for _, insertErr := range r.InsertErrors {
			logger.Warn("episode error",
				"series_id", r.SeriesID,
				"series_name", r.SeriesName,
				"error", insertErr,
			)
		}
	}

	logger.Info("sync run completed",
		"series_processed", len(results),
		"series_failed", failed,
		"total_new_episodes", totalNew,
		"total_published", totalPublished,
	)
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
