package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/aristath/advisor/internal/config"
	"github.com/aristath/advisor/internal/database"
	"github.com/aristath/advisor/internal/modules/backtest"
	"github.com/aristath/advisor/internal/modules/features"
	"github.com/aristath/advisor/internal/modules/forecasting"
	"github.com/aristath/advisor/internal/modules/optimization"
	"github.com/aristath/advisor/internal/modules/universe"
	"github.com/aristath/advisor/pkg/logger"
)

// app owns the resources shared by every command.
type app struct {
	cfg       *config.Config
	log       zerolog.Logger
	historyDB *database.DB
	runsDB    *database.DB
	registry  *prometheus.Registry
}

// newApp loads configuration, builds the logger and opens both databases.
func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: true,
	})
	logger.SetGlobalLogger(log)

	historyDB, err := openDB(cfg, cfg.HistoryDBPath(), database.NameHistory, database.ProfileCache)
	if err != nil {
		return nil, err
	}
	runsDB, err := openDB(cfg, cfg.RunsDBPath(), database.NameRuns, database.ProfileStandard)
	if err != nil {
		historyDB.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &app{
		cfg:       cfg,
		log:       log,
		historyDB: historyDB,
		runsDB:    runsDB,
		registry:  registry,
	}, nil
}

func openDB(cfg *config.Config, path, name string, profile database.DatabaseProfile) (*database.DB, error) {
	db, err := database.New(database.Config{
		Path:    path,
		Driver:  cfg.DBDriver,
		Profile: profile,
		Name:    name,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", name, err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate %s database: %w", name, err)
	}
	return db, nil
}

func (a *app) Close() {
	for _, db := range []*database.DB{a.historyDB, a.runsDB} {
		if err := db.Close(); err != nil {
			a.log.Error().Err(err).Str("database", db.Name()).Msg("Failed to close database")
		}
	}
}

func (a *app) history() *universe.HistoryDB {
	return universe.NewHistoryDB(a.historyDB.Conn(), a.log)
}

func (a *app) runs() *backtest.Repository {
	return backtest.NewRepository(a.runsDB.Conn(), a.log)
}

// backtester wires the feature, forecasting and optimization stages from
// the backtest settings.
func (a *app) backtester() (*backtest.Backtester, error) {
	return newBacktester(a.cfg.Backtest, backtest.NewMetrics(a.registry), a.log)
}

func newBacktester(settings *config.BacktestSettings, metrics *backtest.Metrics, log zerolog.Logger) (*backtest.Backtester, error) {
	deps := backtest.Deps{
		Transformer: features.NewTechnical(features.Mode(settings.FeatureMode)),
		Forecaster: forecasting.NewTrainer(
			settings.ToForecastingConfig(),
			forecasting.RidgeFactory(settings.RidgeLambda),
			log,
		),
		Constructor: optimization.NewConstructor(settings.ToOptimizationConfig(), log),
		Metrics:     metrics,
	}
	return backtest.New(settings.ToBacktestConfig(), deps, log)
}
