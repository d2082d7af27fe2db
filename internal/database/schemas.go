package database

// Database names with a registered schema.
const (
	NameHistory = "history"
	NameRuns    = "runs"
)

var schemas = map[string]string{
	NameHistory: historySchema,
	NameRuns:    runsSchema,
}

// daily_prices stores adjusted closes keyed by symbol and unix date (UTC midnight).
const historySchema = `
CREATE TABLE IF NOT EXISTS daily_prices (
	symbol TEXT NOT NULL,
	date INTEGER NOT NULL,
	close REAL NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (symbol, date)
);

CREATE INDEX IF NOT EXISTS idx_daily_prices_date ON daily_prices(date);
`

// backtest_runs holds one row per run; backtest_windows one row per scored window.
// Config, final portfolio and per-window records are msgpack blobs.
const runsSchema = `
CREATE TABLE IF NOT EXISTS backtest_runs (
	id TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	symbols TEXT NOT NULL,
	train_days INTEGER NOT NULL,
	test_days INTEGER NOT NULL,
	risk_free_annual REAL NOT NULL,
	budget REAL NOT NULL,
	windows INTEGER NOT NULL,
	mean_sharpe REAL NOT NULL,
	worst_drawdown REAL NOT NULL,
	config_blob BLOB NOT NULL,
	final_blob BLOB
);

CREATE TABLE IF NOT EXISTS backtest_windows (
	run_id TEXT NOT NULL REFERENCES backtest_runs(id) ON DELETE CASCADE,
	window_index INTEGER NOT NULL,
	train_start INTEGER NOT NULL,
	train_end INTEGER NOT NULL,
	test_start INTEGER NOT NULL,
	test_end INTEGER NOT NULL,
	sharpe REAL NOT NULL,
	sortino REAL NOT NULL,
	volatility REAL NOT NULL,
	max_drawdown REAL NOT NULL,
	total_return REAL NOT NULL,
	branch TEXT NOT NULL,
	fallback_reason TEXT NOT NULL DEFAULT '',
	record_blob BLOB NOT NULL,
	PRIMARY KEY (run_id, window_index)
);

CREATE INDEX IF NOT EXISTS idx_backtest_runs_created ON backtest_runs(created_at);
`
