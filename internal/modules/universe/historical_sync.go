package universe

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/wnjoon/go-yfinance/pkg/models"
	"github.com/wnjoon/go-yfinance/pkg/ticker"

	"github.com/aristath/advisor/internal/utils"
)

// DefaultPeriod is the history span requested when none is configured.
const DefaultPeriod = "10y"

// PriceSource returns adjusted daily closes for a symbol over a Yahoo-style
// period such as "1y" or "max".
type PriceSource interface {
	History(symbol, period string) ([]DailyPrice, error)
}

// yahooSource reads daily bars through the native Yahoo Finance client.
type yahooSource struct{}

func (yahooSource) History(symbol, period string) ([]DailyPrice, error) {
	t, err := ticker.New(symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to create ticker: %w", err)
	}
	defer t.Close()

	params := models.HistoryParams{
		Period:     period,
		Interval:   "1d",
		AutoAdjust: true,
	}

	bars, err := t.History(params)
	if err != nil {
		return nil, fmt.Errorf("failed to get historical prices: %w", err)
	}

	prices := make([]DailyPrice, 0, len(bars))
	for _, bar := range bars {
		prices = append(prices, DailyPrice{Date: bar.Date, Close: bar.Close})
	}
	return prices, nil
}

// YahooFetcher downloads price history and stores it in the history database.
type YahooFetcher struct {
	source         PriceSource
	historyDB      *HistoryDB
	priceValidator *PriceValidator
	rateLimitDelay time.Duration
	log            zerolog.Logger
}

// NewYahooFetcher creates a fetcher backed by Yahoo Finance.
func NewYahooFetcher(historyDB *HistoryDB, rateLimitDelay time.Duration, log zerolog.Logger) *YahooFetcher {
	return NewFetcher(yahooSource{}, historyDB, rateLimitDelay, log)
}

// NewFetcher creates a fetcher over any price source.
func NewFetcher(source PriceSource, historyDB *HistoryDB, rateLimitDelay time.Duration, log zerolog.Logger) *YahooFetcher {
	return &YahooFetcher{
		source:         source,
		historyDB:      historyDB,
		priceValidator: NewPriceValidator(log),
		rateLimitDelay: rateLimitDelay,
		log:            log.With().Str("service", "historical_sync").Logger(),
	}
}

// Fetch downloads, validates, and returns the closes for one symbol in
// ascending date order.
func (f *YahooFetcher) Fetch(symbol, period string) ([]DailyPrice, error) {
	if period == "" {
		period = DefaultPeriod
	}

	prices, err := f.source.History(symbol, period)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", symbol, err)
	}

	prices = sortedUnique(prices)
	validated, logs := f.priceValidator.ValidateAndInterpolate(prices)
	if len(logs) > 0 {
		f.log.Warn().
			Str("symbol", symbol).
			Int("interpolated_count", len(logs)).
			Msg("Interpolated abnormal prices")
		for _, entry := range logs {
			f.log.Debug().
				Str("symbol", symbol).
				Str("date", entry.Date).
				Float64("original_close", entry.OriginalClose).
				Float64("interpolated_close", entry.InterpolatedClose).
				Str("method", entry.Method).
				Str("reason", entry.Reason).
				Msg("Price interpolation")
		}
	}
	return validated, nil
}

// Sync fetches every symbol and stores its history. It stops at the first
// failure so a partially downloaded universe is never mistaken for a full one.
func (f *YahooFetcher) Sync(ctx context.Context, symbols []string, period string) error {
	defer utils.OperationTimer("price_sync", f.log)()

	for i, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return err
		}

		prices, err := f.Fetch(symbol, period)
		if err != nil {
			return err
		}
		if len(prices) == 0 {
			return fmt.Errorf("fetch %s: no price data returned", symbol)
		}
		if err := f.historyDB.Upsert(symbol, prices); err != nil {
			return fmt.Errorf("store %s: %w", symbol, err)
		}

		f.log.Info().
			Str("symbol", symbol).
			Int("count", len(prices)).
			Str("from", prices[0].Date.Format("2006-01-02")).
			Str("to", prices[len(prices)-1].Date.Format("2006-01-02")).
			Msg("Historical price sync complete")

		if f.rateLimitDelay > 0 && i < len(symbols)-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(f.rateLimitDelay):
			}
		}
	}
	return nil
}

// sortedUnique orders prices by day and keeps the last close seen per day.
func sortedUnique(prices []DailyPrice) []DailyPrice {
	byDay := make(map[time.Time]int, len(prices))
	out := make([]DailyPrice, 0, len(prices))
	for _, p := range prices {
		day := dayStart(p.Date)
		if i, ok := byDay[day]; ok {
			out[i].Close = p.Close
			continue
		}
		byDay[day] = len(out)
		out = append(out, DailyPrice{Date: day, Close: p.Close})
	}
	sortByDate(out)
	return out
}
