package backtest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/advisor/internal/database"
	"github.com/aristath/advisor/internal/utils"
)

// ErrRunNotFound is returned when no run has the requested ID.
var ErrRunNotFound = errors.New("backtest run not found")

// RunSummary is the list view of a stored run.
type RunSummary struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	Symbols       []string  `json:"symbols"`
	TrainDays     int       `json:"train_days"`
	TestDays      int       `json:"test_days"`
	Windows       int       `json:"windows"`
	MeanSharpe    float64   `json:"mean_sharpe"`
	WorstDrawdown float64   `json:"worst_drawdown"`
}

// Repository persists backtest runs in the runs database.
// Database: runs.db (backtest_runs, backtest_windows tables)
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a run repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "backtest_runs").Logger(),
	}
}

// Save stores a run and all of its window records in one transaction.
func (r *Repository) Save(ctx context.Context, result *Result) error {
	summary := Summarize(result.Records)

	configBlob, err := msgpack.Marshal(result.Config)
	if err != nil {
		return fmt.Errorf("failed to encode run config: %w", err)
	}
	var finalBlob []byte
	if result.Final != nil {
		if finalBlob, err = msgpack.Marshal(result.Final); err != nil {
			return fmt.Errorf("failed to encode final portfolio: %w", err)
		}
	}

	err = database.WithTransaction(r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO backtest_runs
			(id, created_at, symbols, train_days, test_days, risk_free_annual, budget,
			 windows, mean_sharpe, worst_drawdown, config_blob, final_blob)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			result.RunID,
			result.CreatedAt.Unix(),
			utils.JoinCSV(result.Symbols),
			result.Config.TrainDays,
			result.Config.TestDays,
			result.Config.RiskFreeAnnual,
			result.Config.Budget,
			summary.Windows,
			summary.MeanSharpe,
			summary.WorstDrawdown,
			configBlob,
			finalBlob,
		)
		if err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO backtest_windows
			(run_id, window_index, train_start, train_end, test_start, test_end,
			 sharpe, sortino, volatility, max_drawdown, total_return,
			 branch, fallback_reason, record_blob)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare window insert: %w", err)
		}
		defer stmt.Close()

		for _, rec := range result.Records {
			blob, err := msgpack.Marshal(rec)
			if err != nil {
				return fmt.Errorf("failed to encode window %d: %w", rec.Window.Index, err)
			}
			if _, err := stmt.ExecContext(ctx,
				result.RunID,
				rec.Window.Index,
				rec.Window.TrainFrom.Unix(),
				rec.Window.TrainTo.Unix(),
				rec.Window.TestFrom.Unix(),
				rec.Window.TestTo.Unix(),
				rec.Metrics.Sharpe,
				rec.Metrics.Sortino,
				rec.Metrics.Volatility,
				rec.Metrics.MaxDrawdown,
				rec.Metrics.TotalReturn,
				string(rec.Portfolio.Branch),
				string(rec.Portfolio.FallbackReason),
				blob,
			); err != nil {
				return fmt.Errorf("failed to insert window %d: %w", rec.Window.Index, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.log.Info().Str("run_id", result.RunID).Int("windows", len(result.Records)).Msg("Backtest run saved")
	return nil
}

// List returns the most recent runs first. limit <= 0 returns every run.
func (r *Repository) List(ctx context.Context, limit int) ([]RunSummary, error) {
	query := `
		SELECT id, created_at, symbols, train_days, test_days, windows, mean_sharpe, worst_drawdown
		FROM backtest_runs
		ORDER BY created_at DESC, id
	`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunSummary{}
	for rows.Next() {
		var s RunSummary
		var createdAt int64
		var symbols string
		if err := rows.Scan(&s.ID, &createdAt, &symbols, &s.TrainDays, &s.TestDays, &s.Windows, &s.MeanSharpe, &s.WorstDrawdown); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		s.CreatedAt = time.Unix(createdAt, 0).UTC()
		s.Symbols = utils.ParseCSV(symbols)
		runs = append(runs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// Get loads one run with its records in window order.
func (r *Repository) Get(ctx context.Context, id string) (*Result, error) {
	var (
		result     Result
		createdAt  int64
		symbols    string
		configBlob []byte
		finalBlob  []byte
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, created_at, symbols, config_blob, final_blob
		FROM backtest_runs WHERE id = ?
	`, id).Scan(&result.RunID, &createdAt, &symbols, &configBlob, &finalBlob)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", id, err)
	}

	result.CreatedAt = time.Unix(createdAt, 0).UTC()
	result.Symbols = utils.ParseCSV(symbols)
	if err := msgpack.Unmarshal(configBlob, &result.Config); err != nil {
		return nil, fmt.Errorf("failed to decode run config: %w", err)
	}
	if len(finalBlob) > 0 {
		var final Portfolio
		if err := msgpack.Unmarshal(finalBlob, &final); err != nil {
			return nil, fmt.Errorf("failed to decode final portfolio: %w", err)
		}
		final.AsOf = final.AsOf.UTC()
		result.Final = &final
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT record_blob FROM backtest_windows
		WHERE run_id = ?
		ORDER BY window_index
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query windows: %w", err)
	}
	defer rows.Close()

	result.Records = []PerformanceRecord{}
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("failed to scan window: %w", err)
		}
		var rec PerformanceRecord
		if err := msgpack.Unmarshal(blob, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode window: %w", err)
		}
		rec.Window.TrainFrom = rec.Window.TrainFrom.UTC()
		rec.Window.TrainTo = rec.Window.TrainTo.UTC()
		rec.Window.TestFrom = rec.Window.TestFrom.UTC()
		rec.Window.TestTo = rec.Window.TestTo.UTC()
		rec.Portfolio.AsOf = rec.Portfolio.AsOf.UTC()
		result.Records = append(result.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating windows: %w", err)
	}

	return &result, nil
}

// Latest returns the most recently created run.
func (r *Repository) Latest(ctx context.Context) (*Result, error) {
	runs, err := r.List(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrRunNotFound
	}
	return r.Get(ctx, runs[0].ID)
}
