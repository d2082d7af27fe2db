package report

import (
	"fmt"

	"github.com/vicanso/go-charts/v2"

	"github.com/aristath/advisor/internal/modules/backtest"
)

// RenderChart draws per-window Sharpe, Sortino and max drawdown as a PNG.
func RenderChart(records []backtest.PerformanceRecord) ([]byte, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no windows to chart")
	}

	labels := make([]string, len(records))
	sharpe := make([]float64, len(records))
	sortino := make([]float64, len(records))
	drawdown := make([]float64, len(records))
	for i, rec := range records {
		labels[i] = rec.Window.TestFrom.Format(dateLayout)
		sharpe[i] = rec.Metrics.Sharpe
		sortino[i] = rec.Metrics.Sortino
		drawdown[i] = rec.Metrics.MaxDrawdown
	}

	p, err := charts.LineRender(
		[][]float64{sharpe, sortino, drawdown},
		charts.TitleTextOptionFunc("Walk-forward window metrics"),
		charts.XAxisOptionFunc(charts.XAxisOption{
			Data:        labels,
			BoundaryGap: charts.FalseFlag(),
		}),
		charts.LegendOptionFunc(charts.LegendOption{
			Data: []string{"Sharpe", "Sortino", "Max drawdown"},
			Top:  charts.PositionTop,
		}),
		charts.YAxisOptionFunc(charts.YAxisOption{}),
		charts.ThemeOptionFunc(charts.ThemeLight),
		charts.WidthOptionFunc(1000),
		charts.HeightOptionFunc(600),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to render chart: %w", err)
	}

	buf, err := p.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to generate chart bytes: %w", err)
	}
	return buf, nil
}
