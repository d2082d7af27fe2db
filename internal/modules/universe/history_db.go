package universe

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/advisor/internal/database"
	"github.com/aristath/advisor/internal/modules/dataset"
)

// HistoryDB provides access to historical price data
type HistoryDB struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewHistoryDB creates a new history database accessor
func NewHistoryDB(db *sql.DB, log zerolog.Logger) *HistoryDB {
	return &HistoryDB{
		db:  db,
		log: log.With().Str("component", "history_db").Logger(),
	}
}

// DailyPrice is one adjusted daily close.
type DailyPrice struct {
	Date  time.Time `json:"date"`
	Close float64   `json:"close"`
}

// Upsert inserts or replaces daily closes for a symbol in a single transaction.
func (h *HistoryDB) Upsert(symbol string, prices []DailyPrice) error {
	if len(prices) == 0 {
		return nil
	}

	now := time.Now().Unix()
	err := database.WithTransaction(h.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT OR REPLACE INTO daily_prices (symbol, date, close, updated_at)
			VALUES (?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare daily price insert: %w", err)
		}
		defer stmt.Close()

		for _, p := range prices {
			if _, err := stmt.Exec(symbol, dayStart(p.Date).Unix(), p.Close, now); err != nil {
				return fmt.Errorf("failed to insert daily price for %s on %s: %w",
					symbol, p.Date.Format("2006-01-02"), err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	h.log.Debug().Str("symbol", symbol).Int("count", len(prices)).Msg("Stored daily prices")
	return nil
}

// GetDailyPrices returns the most recent limit closes for a symbol in
// ascending date order. limit <= 0 returns the full history.
func (h *HistoryDB) GetDailyPrices(symbol string, limit int) ([]DailyPrice, error) {
	query := `
		SELECT date, close
		FROM daily_prices
		WHERE symbol = ?
		ORDER BY date DESC
	`
	args := []interface{}{symbol}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := h.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily prices: %w", err)
	}
	defer rows.Close()

	var prices []DailyPrice
	for rows.Next() {
		var p DailyPrice
		var dateUnix int64
		if err := rows.Scan(&dateUnix, &p.Close); err != nil {
			return nil, fmt.Errorf("failed to scan daily price: %w", err)
		}
		p.Date = time.Unix(dateUnix, 0).UTC()
		prices = append(prices, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily prices: %w", err)
	}

	// Reverse DESC order
	for i, j := 0, len(prices)-1; i < j; i, j = i+1, j-1 {
		prices[i], prices[j] = prices[j], prices[i]
	}
	return prices, nil
}

// Symbols lists every symbol with stored prices.
func (h *HistoryDB) Symbols() ([]string, error) {
	rows, err := h.db.Query("SELECT DISTINCT symbol FROM daily_prices ORDER BY symbol")
	if err != nil {
		return nil, fmt.Errorf("failed to query symbols: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan symbol: %w", err)
		}
		symbols = append(symbols, s)
	}
	return symbols, rows.Err()
}

// LoadDataset builds a date-aligned dataset from the stored history of
// symbols. A symbol with no stored prices is an error.
func (h *HistoryDB) LoadDataset(symbols []string) (*dataset.Dataset, error) {
	sorted := append([]string(nil), symbols...)
	sort.Strings(sorted)

	series := make(map[string][]dataset.Point, len(sorted))
	for _, symbol := range sorted {
		prices, err := h.GetDailyPrices(symbol, 0)
		if err != nil {
			return nil, err
		}
		if len(prices) == 0 {
			return nil, fmt.Errorf("no price history stored for %s", symbol)
		}
		points := make([]dataset.Point, len(prices))
		for i, p := range prices {
			points[i] = dataset.Point{Date: p.Date, Close: p.Close}
		}
		series[symbol] = points
	}

	ds, err := dataset.New(series)
	if err != nil {
		return nil, fmt.Errorf("failed to align price history: %w", err)
	}

	h.log.Info().
		Strs("symbols", ds.Symbols()).
		Int("rows", ds.Len()).
		Msg("Loaded price dataset")
	return ds, nil
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sortByDate(prices []DailyPrice) {
	sort.Slice(prices, func(i, j int) bool { return prices[i].Date.Before(prices[j].Date) })
}
