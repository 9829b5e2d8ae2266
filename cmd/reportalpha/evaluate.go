package main

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seenimoa/reportalpha/internal/backtest"
	"github.com/seenimoa/reportalpha/internal/factor"
	"github.com/seenimoa/reportalpha/internal/market"
	"github.com/seenimoa/reportalpha/internal/report"
	"github.com/seenimoa/reportalpha/internal/store"
)

// --- History Command ---

var historyCmd = &cobra.Command{
	Use:   "history [code...]",
	Short: "Fetch monthly price history for every stock in the corpus and the benchmark",
	RunE: func(cmd *cobra.Command, args []string) error {
		codes := args
		if len(codes) == 0 {
			st, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			processed, err := st.Processed(cmd.Context(), store.Query{})
			st.Close()
			if err != nil {
				return fmt.Errorf("load processed reports: %w", err)
			}
			valid, invalid := market.DistinctCodes(processed)
			for _, c := range invalid {
				logger.Warn("invalid stock code in corpus", zap.String("code", c))
			}
			codes = valid
		}

		fetcher, rng := newFetcher()
		client := market.NewClient(cfg.Market, fetcher, rng, logger)

		stats, err := client.Collect(cmd.Context(), codes)
		if err != nil {
			return err
		}
		if skip, _ := cmd.Flags().GetBool("skip-benchmark"); !skip {
			if err := client.CollectBenchmark(cmd.Context()); err != nil {
				return fmt.Errorf("benchmark %s: %w", cfg.Market.BenchmarkSecID, err)
			}
		}
		return printResult(cmd, stats, func() {
			fmt.Printf("history: %d codes, %d written, %d invalid, %d failed → %s\n",
				stats.Codes, stats.Written, stats.Invalid, stats.Failed, cfg.Market.HistoryDir)
		})
	},
}

func init() {
	historyCmd.Flags().Bool("skip-benchmark", false, "do not refresh the benchmark index file")
}

// loadReturns reads the exported factor and the monthly stock returns.
func loadReturns() ([]factor.Point, backtest.Returns, error) {
	points, err := factor.LoadFactor(cfg.Factor.Output)
	if err != nil {
		return nil, nil, fmt.Errorf("load factor: %w", err)
	}
	history, err := market.LoadHistoryDir(cfg.Market.HistoryDir)
	if err != nil {
		return nil, nil, err
	}
	if len(history) == 0 {
		return nil, nil, fmt.Errorf("%w in %s; run history first", market.ErrNoHistory, cfg.Market.HistoryDir)
	}
	return points, backtest.CompoundMonthly(history), nil
}

// --- Rank-IC Command ---

var rankICCmd = &cobra.Command{
	Use:   "rankic",
	Short: "Compute the monthly Rank-IC of the factor against next-month returns",
	RunE: func(cmd *cobra.Command, args []string) error {
		points, returns, err := loadReturns()
		if err != nil {
			return err
		}

		ic := backtest.RankIC(backtest.MonthlyFactor(points), returns)
		if err := backtest.WriteRankIC(cfg.Backtest.RankICOutput, ic); err != nil {
			return err
		}
		chart := strings.TrimSuffix(cfg.Backtest.RankICOutput, filepath.Ext(cfg.Backtest.RankICOutput)) + ".svg"
		if err := report.WriteSVG(chart, report.ICChart(ic)); err != nil {
			return err
		}

		summary := backtest.Summarize(ic, cfg.Backtest.Significance)
		logger.Info("rank ic written", zap.String("path", cfg.Backtest.RankICOutput), zap.Int("months", summary.Months))

		res := map[string]any{
			"months":            summary.Months,
			"mean":              finite(summary.Mean),
			"std":               finite(summary.Std),
			"significant_ratio": finite(summary.SignificantRatio),
			"max":               finite(summary.Max),
			"min":               finite(summary.Min),
			"output":            cfg.Backtest.RankICOutput,
			"chart":             chart,
		}
		return printResult(cmd, res, func() {
			fmt.Printf("Rank-IC over %d months → %s\n", summary.Months, cfg.Backtest.RankICOutput)
			fmt.Printf("  mean %s  std %s  IR %s\n", num(summary.Mean), num(summary.Std), num(summary.Mean/summary.Std))
			fmt.Printf("  p<%.2f in %s of months  max %s  min %s\n",
				cfg.Backtest.Significance, pct(summary.SignificantRatio), num(summary.Max), num(summary.Min))
		})
	},
}

// --- Layers Command ---

var layersCmd = &cobra.Command{
	Use:   "layers",
	Short: "Backtest factor layers against the benchmark",
	RunE: func(cmd *cobra.Command, args []string) error {
		points, returns, err := loadReturns()
		if err != nil {
			return err
		}
		bench, err := market.ReadHistory(cfg.Market.BenchmarkFile)
		if err != nil {
			return fmt.Errorf("load benchmark: %w", err)
		}

		res, err := backtest.Layered(points, returns, backtest.BenchmarkMonthly(bench), backtest.LayerOptions{
			Layers:        cfg.Backtest.Layers,
			DropLastMonth: cfg.Backtest.DropLastMonth,
		})
		if err != nil {
			return err
		}
		if err := backtest.WriteLayers(cfg.Backtest.LayersOutput, res); err != nil {
			return err
		}
		if err := report.WriteSVG(cfg.Backtest.ChartOutput, report.LayerChart(res)); err != nil {
			return err
		}
		logger.Info("layers written",
			zap.String("path", cfg.Backtest.LayersOutput), zap.Int("months", len(res.Months)))

		layers := make([]map[string]any, len(res.Tests))
		finals := make([]float64, len(res.Tests))
		for l, t := range res.Tests {
			finals[l] = lastFinite(res.Cumulative[l])
			layers[l] = map[string]any{
				"layer":        t.Layer,
				"cumulative":   finite(finals[l]),
				"mean":         finite(t.Mean),
				"t":            finite(t.T),
				"p":            finite(t.P),
				"n":            t.N,
				"max_drawdown": finite(t.MaxDrawdown),
			}
		}
		out := map[string]any{
			"months": res.Months,
			"layers": layers,
			"output": cfg.Backtest.LayersOutput,
			"chart":  cfg.Backtest.ChartOutput,
		}
		return printResult(cmd, out, func() {
			fmt.Printf("Layered backtest over %d months → %s\n", len(res.Months), cfg.Backtest.LayersOutput)
			for l, t := range res.Tests {
				final := finals[l]
				fmt.Printf("  layer %d: cumulative %s  mean %s  t %s  p %s  n %d  max drawdown %s\n",
					t.Layer, pct(final), pct(t.Mean), num(t.T), num(t.P), t.N, pct(t.MaxDrawdown))
			}
		})
	},
}

// finite maps NaN and infinities to nil so results stay JSON-encodable.
func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func lastFinite(xs []float64) float64 {
	for i := len(xs) - 1; i >= 0; i-- {
		if !math.IsNaN(xs[i]) {
			return xs[i]
		}
	}
	return math.NaN()
}

func num(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "n/a"
	}
	return fmt.Sprintf("%.4f", v)
}

func pct(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "n/a"
	}
	return fmt.Sprintf("%.2f%%", v*100)
}
