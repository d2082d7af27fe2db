package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/advisor/internal/database"
	"github.com/aristath/advisor/internal/modules/report"
	"github.com/aristath/advisor/internal/modules/universe"
	"github.com/aristath/advisor/internal/scheduler"
	"github.com/aristath/advisor/internal/server"
)

// fetchRateLimit spaces consecutive Yahoo requests.
const fetchRateLimit = 500 * time.Millisecond

var (
	rootCmd = &cobra.Command{
		Use:   "advisor",
		Short: "Walk-forward portfolio allocation advisor",
		Long: `Advisor forecasts next-day returns per asset, builds a max-Sharpe portfolio
from the forecasts, and measures the policy out of sample with a walk-forward backtest.`,
		SilenceUsage: true,
	}
	fetchCmd = &cobra.Command{
		Use:   "fetch",
		Short: "Download daily closes for the configured universe",
		RunE:  runFetch,
	}
	fetchPeriod string

	backtestCmd = &cobra.Command{
		Use:   "backtest",
		Short: "Run the walk-forward backtest over stored history",
		RunE:  runBacktest,
	}
	chartPath string
	saveRun   bool

	recommendCmd = &cobra.Command{
		Use:   "recommend",
		Short: "Compute today's allocation from the most recent training window",
		RunE:  runRecommend,
	}
	budget float64

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve stored runs and the live recommendation over HTTP",
		RunE:  runServe,
	}
)

func init() {
	rootCmd.AddCommand(fetchCmd)
	fetchCmd.Flags().StringVar(&fetchPeriod, "period", "", "Yahoo history period (defaults to HISTORY_PERIOD)")

	rootCmd.AddCommand(backtestCmd)
	backtestCmd.Flags().StringVar(&chartPath, "chart", "", "Write a PNG chart of per-window metrics to this file")
	backtestCmd.Flags().BoolVar(&saveRun, "save", false, "Store the run in the runs database")

	rootCmd.AddCommand(recommendCmd)
	recommendCmd.Flags().Float64Var(&budget, "budget", 0, "Cash to allocate (defaults to BUDGET)")

	rootCmd.AddCommand(serveCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	period := fetchPeriod
	if period == "" {
		period = a.cfg.HistoryPeriod
	}

	fetcher := universe.NewYahooFetcher(a.history(), fetchRateLimit, a.log)
	return fetcher.Sync(cmd.Context(), a.cfg.Universe, period)
}

func runBacktest(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ds, err := a.history().LoadDataset(a.cfg.Universe)
	if err != nil {
		return err
	}
	bt, err := a.backtester()
	if err != nil {
		return err
	}

	result, err := bt.Run(cmd.Context(), ds)
	if err != nil {
		return err
	}

	if err := report.WriteTable(cmd.OutOrStdout(), result); err != nil {
		return err
	}

	if chartPath != "" {
		png, err := report.RenderChart(result.Records)
		if err != nil {
			return err
		}
		if err := os.WriteFile(chartPath, png, 0644); err != nil {
			return fmt.Errorf("failed to write chart: %w", err)
		}
		a.log.Info().Str("path", chartPath).Msg("Chart written")
	}

	if saveRun {
		if err := a.runs().Save(cmd.Context(), result); err != nil {
			return err
		}
	}
	return nil
}

func runRecommend(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	cash := budget
	if cash <= 0 {
		cash = a.cfg.Backtest.Budget
	}

	ds, err := a.history().LoadDataset(a.cfg.Universe)
	if err != nil {
		return err
	}
	bt, err := a.backtester()
	if err != nil {
		return err
	}

	portfolio, err := bt.Recommend(cmd.Context(), ds, cash)
	if err != nil {
		return err
	}
	return report.WritePortfolio(cmd.OutOrStdout(), portfolio)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	bt, err := a.backtester()
	if err != nil {
		return err
	}

	store := scheduler.NewRecommendationStore()
	jobCfg := scheduler.RecommendJobConfig{
		Log:         a.log,
		Symbols:     a.cfg.Universe,
		Budget:      a.cfg.Backtest.Budget,
		Loader:      a.history(),
		Recommender: bt,
		Store:       store,
	}
	sched := scheduler.New(a.log)
	if a.cfg.RecomputeSchedule != "" {
		// Scheduled runs refresh prices first
		jobCfg.Period = "1mo"
		jobCfg.Syncer = universe.NewYahooFetcher(a.history(), fetchRateLimit, a.log)
	}
	job := scheduler.NewRecommendJob(jobCfg)
	if a.cfg.RecomputeSchedule != "" {
		if err := sched.AddJob(a.cfg.RecomputeSchedule, job); err != nil {
			return fmt.Errorf("invalid recompute schedule %q: %w", a.cfg.RecomputeSchedule, err)
		}
	}

	srv := server.New(server.Config{
		Log:             a.log,
		Port:            a.cfg.Port,
		DevMode:         a.cfg.DevMode,
		Runs:            a.runs(),
		Recommendations: store,
		RefreshJob:      job,
		Gatherer:        a.registry,
		Databases:       []*database.DB{a.historyDB, a.runsDB},
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched.Start()
	// Initial recommendation from stored history
	go func() {
		if err := sched.RunNow(job); err != nil {
			a.log.Warn().Err(err).Msg("Initial recommendation failed")
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		sched.Stop()
		return fmt.Errorf("server failed: %w", err)
	}

	a.log.Info().Msg("Shutting down server...")
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error().Err(err).Msg("Server forced to shutdown")
	}

	a.log.Info().Msg("Server stopped")
	return nil
}
