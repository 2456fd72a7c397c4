package main

import (
	"context"
	"net/http"
	"os"

	"github.com/finbook/ledger-engine/internal/config"
	"github.com/finbook/ledger-engine/internal/events"
	"github.com/finbook/ledger-engine/internal/events/kafka"
	"github.com/finbook/ledger-engine/internal/importer"
	"github.com/finbook/ledger-engine/internal/interfaces"
	"github.com/finbook/ledger-engine/internal/ledger"
	"github.com/finbook/ledger-engine/internal/matcher"
	"github.com/finbook/ledger-engine/internal/reconcile"
	"github.com/finbook/ledger-engine/internal/storage/postgres"
	"github.com/finbook/ledger-engine/internal/storage/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		errLogger := config.NewLogger("error")
		errLogger.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := config.NewLogger(cfg.LogLevel)

	ctx := context.Background()

	var store interfaces.Store
	switch cfg.DatabaseDriver {
	case "postgres":
		pg, err := postgres.Open(ctx, cfg.DatabaseDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect to postgres")
		}
		defer pg.Close()
		store = pg
	case "sqlite":
		sq, err := sqlite.Open(cfg.DatabaseDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("open sqlite database")
		}
		defer sq.Close()
		store = sq
	}

	var publisher interfaces.EventPublisher = events.NoopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := kafka.NewPublisher(cfg.KafkaBrokers)
		defer kp.Close()
		publisher = kp
	}

	weights := matcher.DefaultWeights()
	if cfg.MatcherWeightsFile != "" {
		weights, err = matcher.LoadWeights(cfg.MatcherWeightsFile)
		if err != nil {
			logger.Fatal().Err(err).Msg("load matcher weights")
		}
	}

	srv := &server{
		store:     store,
		ledger:    ledger.NewService(store, publisher, logger),
		importer:  importer.NewService(store, publisher, logger),
		matcher:   matcher.NewService(store, publisher, weights, logger),
		reconcile: reconcile.NewService(store, logger),
		logger:    logger,
	}

	logger.Info().
		Str("addr", cfg.HTTPAddr).
		Str("driver", cfg.DatabaseDriver).
		Bool("events", len(cfg.KafkaBrokers) > 0).
		Msg("starting server")
	if err := http.ListenAndServe(cfg.HTTPAddr, srv.routes()); err != nil {
		logger.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
}
