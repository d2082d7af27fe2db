// Package config provides configuration management functionality.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/aristath/advisor/internal/modules/backtest"
	"github.com/aristath/advisor/internal/modules/features"
	"github.com/aristath/advisor/internal/modules/forecasting"
	"github.com/aristath/advisor/internal/modules/optimization"
	"github.com/aristath/advisor/internal/utils"
)

// DefaultUniverse is the NIFTY large-cap basket the advisor was first built around.
var DefaultUniverse = []string{
	"RELIANCE.NS",
	"INFY.NS",
	"TCS.NS",
	"HDFCBANK.NS",
	"ICICIBANK.NS",
	"SBIN.NS",
	"LT.NS",
	"ITC.NS",
	"MARUTI.NS",
	"AXISBANK.NS",
}

// Config holds application configuration
type Config struct {
	DataDir           string            `yaml:"data_dir"` // Base directory for the history and runs databases (always absolute)
	LogLevel          string            `yaml:"log_level"`
	Port              int               `yaml:"port"`
	DevMode           bool              `yaml:"dev_mode"`
	DBDriver          string            `yaml:"db_driver"` // "sqlite" (pure Go) or "sqlite3" (cgo)
	Universe          []string          `yaml:"universe"`
	HistoryPeriod     string            `yaml:"history_period"`     // Yahoo period string, e.g. "15y"
	RecomputeSchedule string            `yaml:"recompute_schedule"` // cron spec for the serve command, empty disables
	Backtest          *BacktestSettings `yaml:"backtest"`
}

// BacktestSettings holds the values consumed by the walk-forward engine.
type BacktestSettings struct {
	TrainDays           int      `yaml:"train_days"`
	TestDays            int      `yaml:"test_days"`
	TrainTestSplit      float64  `yaml:"train_test_split"`
	RiskFreeAnnual      *float64 `yaml:"risk_free_annual"` // must be explicit, nil fails validation
	PeriodsPerYear      int      `yaml:"periods_per_year"`
	WeightLowerBound    float64  `yaml:"weight_lower_bound"`
	WeightUpperBound    float64  `yaml:"weight_upper_bound"`
	Budget              float64  `yaml:"budget"`
	MinUsableRows       int      `yaml:"min_usable_rows"`
	TrainingWorkers     int      `yaml:"training_workers"`
	CovarianceShrinkage bool     `yaml:"covariance_shrinkage"`
	FeatureMode         string   `yaml:"feature_mode"`
	RidgeLambda         float64  `yaml:"ridge_lambda"`
}

// ToBacktestConfig converts the settings into the engine's configuration value.
// Call Validate first; a missing risk-free rate converts to 0.
func (b *BacktestSettings) ToBacktestConfig() backtest.Config {
	rf := 0.0
	if b.RiskFreeAnnual != nil {
		rf = *b.RiskFreeAnnual
	}

	return backtest.Config{
		TrainDays:      b.TrainDays,
		TestDays:       b.TestDays,
		Budget:         b.Budget,
		RiskFreeAnnual: rf,
		PeriodsPerYear: b.PeriodsPerYear,
		Workers:        b.TrainingWorkers,
		Shrinkage:      b.CovarianceShrinkage,
	}
}

// ToOptimizationConfig converts the settings into the portfolio constructor's configuration.
func (b *BacktestSettings) ToOptimizationConfig() optimization.Config {
	rf := 0.0
	if b.RiskFreeAnnual != nil {
		rf = *b.RiskFreeAnnual
	}

	return optimization.Config{
		RiskFreeAnnual: rf,
		PeriodsPerYear: b.PeriodsPerYear,
		LowerBound:     b.WeightLowerBound,
		UpperBound:     b.WeightUpperBound,
		CleanCutoff:    optimization.DefaultCleanCutoff,
	}
}

// ToForecastingConfig converts the settings into the trainer's configuration.
func (b *BacktestSettings) ToForecastingConfig() forecasting.Config {
	return forecasting.Config{
		TrainFraction: b.TrainTestSplit,
		MinUsableRows: b.MinUsableRows,
	}
}

// Load reads configuration from .env, environment variables and the optional
// YAML file named by ADVISOR_CONFIG_FILE, in that order of increasing precedence.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("ADVISOR_DATA_DIR", "./data")

	cfg := &Config{
		DataDir:           dataDir,
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		Port:              getEnvAsInt("PORT", 8080),
		DevMode:           getEnvAsBool("DEV_MODE", false),
		DBDriver:          getEnv("DB_DRIVER", "sqlite"),
		Universe:          getEnvAsList("UNIVERSE", DefaultUniverse),
		HistoryPeriod:     getEnv("HISTORY_PERIOD", "15y"),
		RecomputeSchedule: getEnv("RECOMPUTE_SCHEDULE", ""),
		Backtest:          loadBacktestSettings(),
	}

	if path := getEnv("ADVISOR_CONFIG_FILE", ""); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	cfg.DataDir = absDataDir

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyFile overlays the YAML document at path onto the current values.
// Keys absent from the file keep their env-derived values.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// HistoryDBPath is where fetched daily prices are stored.
func (c *Config) HistoryDBPath() string {
	return filepath.Join(c.DataDir, "history.db")
}

// RunsDBPath is where backtest runs are stored.
func (c *Config) RunsDBPath() string {
	return filepath.Join(c.DataDir, "runs.db")
}

// Validate checks if required configuration is present and in range
func (c *Config) Validate() error {
	var errs []error

	if c.DBDriver != "sqlite" && c.DBDriver != "sqlite3" {
		errs = append(errs, fmt.Errorf("db_driver must be sqlite or sqlite3, got %q", c.DBDriver))
	}
	if len(c.Universe) == 0 {
		errs = append(errs, errors.New("universe must contain at least one symbol"))
	}

	b := c.Backtest
	if b == nil {
		errs = append(errs, errors.New("backtest settings missing"))
		return errors.Join(errs...)
	}
	if b.TrainDays <= 0 || b.TestDays <= 0 {
		errs = append(errs, fmt.Errorf("train_days and test_days must be positive, got %d/%d", b.TrainDays, b.TestDays))
	}
	if b.TrainTestSplit <= 0 || b.TrainTestSplit >= 1 {
		errs = append(errs, fmt.Errorf("train_test_split must be in (0,1), got %v", b.TrainTestSplit))
	}
	if b.RiskFreeAnnual == nil {
		errs = append(errs, errors.New("risk_free_annual must be set explicitly (RISK_FREE_ANNUAL)"))
	}
	if b.PeriodsPerYear <= 0 {
		errs = append(errs, fmt.Errorf("periods_per_year must be positive, got %d", b.PeriodsPerYear))
	}
	if b.WeightLowerBound < 0 || b.WeightUpperBound > 1 || b.WeightLowerBound >= b.WeightUpperBound {
		errs = append(errs, fmt.Errorf("weight bounds must satisfy 0 <= lower < upper <= 1, got [%v, %v]", b.WeightLowerBound, b.WeightUpperBound))
	}
	if b.Budget <= 0 {
		errs = append(errs, fmt.Errorf("budget must be positive, got %v", b.Budget))
	}
	if b.MinUsableRows < 2 {
		errs = append(errs, fmt.Errorf("min_usable_rows must be at least 2, got %d", b.MinUsableRows))
	}
	if b.FeatureMode != string(features.ModeBaseline) && b.FeatureMode != string(features.ModeRiskAware) {
		errs = append(errs, fmt.Errorf("feature_mode must be baseline or risk_aware, got %q", b.FeatureMode))
	}
	if b.RidgeLambda < 0 {
		errs = append(errs, fmt.Errorf("ridge_lambda must be non-negative, got %v", b.RidgeLambda))
	}

	return errors.Join(errs...)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	values := utils.ParseCSV(os.Getenv(key))
	if values == nil {
		return defaultValue
	}
	return values
}

// getEnvAsOptionalFloat returns nil when the variable is unset or unparsable.
func getEnvAsOptionalFloat(key string) *float64 {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil
	}
	return &f
}

// loadBacktestSettings loads engine settings with the documented defaults
func loadBacktestSettings() *BacktestSettings {
	return &BacktestSettings{
		TrainDays:           getEnvAsInt("TRAIN_DAYS", 756), // ~3 years
		TestDays:            getEnvAsInt("TEST_DAYS", 126),  // ~6 months
		TrainTestSplit:      getEnvAsFloat("TRAIN_TEST_SPLIT", 0.9),
		RiskFreeAnnual:      getEnvAsOptionalFloat("RISK_FREE_ANNUAL"),
		PeriodsPerYear:      getEnvAsInt("PERIODS_PER_YEAR", 252),
		WeightLowerBound:    getEnvAsFloat("WEIGHT_LOWER_BOUND", 0),
		WeightUpperBound:    getEnvAsFloat("WEIGHT_UPPER_BOUND", 1),
		Budget:              getEnvAsFloat("BUDGET", 100000),
		MinUsableRows:       getEnvAsInt("MIN_USABLE_ROWS", 12),
		TrainingWorkers:     getEnvAsInt("TRAINING_WORKERS", 1),
		CovarianceShrinkage: getEnvAsBool("COVARIANCE_SHRINKAGE", false),
		FeatureMode:         getEnv("FEATURE_MODE", string(features.ModeBaseline)),
		RidgeLambda:         getEnvAsFloat("RIDGE_LAMBDA", 1e-3),
	}
}
