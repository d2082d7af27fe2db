// Package report renders backtest results for people: a console table and a
// PNG chart of per-window metrics.
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/aristath/advisor/internal/modules/backtest"
)

const dateLayout = "2006-01-02"

// WriteTable prints one row per window followed by the run summary and the
// final portfolio.
func WriteTable(w io.Writer, result *backtest.Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)

	fmt.Fprintf(tw, "Run %s\t(%d windows, %d assets)\t\n", result.RunID, len(result.Records), len(result.Symbols))
	fmt.Fprintln(tw, "#\tTest from\tTest to\tSharpe\tSortino\tVol\tMDD\tReturn\tBranch\tNotes\t")
	for _, rec := range result.Records {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%.3f\t%.3f\t%.2f%%\t%.2f%%\t%.2f%%\t%s\t%s\t\n",
			rec.Window.Index,
			rec.Window.TestFrom.Format(dateLayout),
			rec.Window.TestTo.Format(dateLayout),
			rec.Metrics.Sharpe,
			rec.Metrics.Sortino,
			rec.Metrics.Volatility*100,
			rec.Metrics.MaxDrawdown*100,
			rec.Metrics.TotalReturn*100,
			branchLabel(rec.Portfolio),
			notes(rec.Portfolio),
		)
	}

	s := backtest.Summarize(result.Records)
	fmt.Fprintln(tw)
	fmt.Fprintf(tw, "Mean Sharpe\t%.3f\t\n", s.MeanSharpe)
	fmt.Fprintf(tw, "Median Sharpe\t%.3f\t\n", s.MedianSharpe)
	fmt.Fprintf(tw, "Mean Sortino\t%.3f\t\n", s.MeanSortino)
	fmt.Fprintf(tw, "Worst drawdown\t%.2f%%\t\n", s.WorstDrawdown*100)
	fmt.Fprintf(tw, "Fallback windows\t%d\t\n", s.FallbackWindows)
	if err := tw.Flush(); err != nil {
		return err
	}

	if result.Final != nil {
		return WritePortfolio(w, result.Final)
	}
	return nil
}

// WritePortfolio prints weights and share counts of a portfolio.
func WritePortfolio(w io.Writer, p *backtest.Portfolio) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)

	fmt.Fprintf(tw, "\nPortfolio as of %s\t(%s)\t\n", p.AsOf.Format(dateLayout), branchLabel(*p))
	fmt.Fprintln(tw, "Symbol\tExpected\tWeight\tShares\tPrice\t")

	symbols := make([]string, 0, len(p.Weights))
	for sym := range p.Weights {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		fmt.Fprintf(tw, "%s\t%.4f%%\t%.2f%%\t%d\t%.2f\t\n",
			sym, p.Expected[sym]*100, p.Weights[sym]*100, p.Allocation.Shares[sym], p.Prices[sym])
	}
	fmt.Fprintf(tw, "Spent\t\t\t\t%.2f\t\n", p.Allocation.Spent)
	fmt.Fprintf(tw, "Leftover\t\t\t\t%.2f\t\n", p.Allocation.Leftover)
	if n := notes(*p); n != "" {
		fmt.Fprintf(tw, "Notes\t%s\t\n", n)
	}
	return tw.Flush()
}

func branchLabel(p backtest.Portfolio) string {
	if p.FallbackReason != "" {
		return fmt.Sprintf("%s: %s", p.Branch, p.FallbackReason)
	}
	return string(p.Branch)
}

func notes(p backtest.Portfolio) string {
	var excluded, correlated, parts []string
	for _, a := range p.Annotations {
		if a.Kind == backtest.AnnotationExcluded {
			excluded = append(excluded, a.Symbol)
		}
	}
	for _, pair := range p.Correlated {
		correlated = append(correlated, pair.Symbol1+"/"+pair.Symbol2)
	}
	if len(excluded) > 0 {
		parts = append(parts, "excluded "+strings.Join(excluded, ","))
	}
	if len(correlated) > 0 {
		parts = append(parts, "correlated "+strings.Join(correlated, ","))
	}
	return strings.Join(parts, "; ")
}
