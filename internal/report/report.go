package report

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/seenimoa/reportalpha/internal/backtest"
)

// LayerChart plots the cumulative excess return of every layer.
func LayerChart(res *backtest.LayerResult) string {
	cfg := DefaultChartConfig()
	cfg.Title = "分层累计超额收益"
	cfg.Percent = true
	if res == nil || len(res.Months) == 0 {
		return emptySVG(cfg, "No months to plot")
	}

	series := make([]LineChartSeries, res.Layers)
	for l := range series {
		series[l] = LineChartSeries{
			Name:   fmt.Sprintf("第%d层", l+1),
			Values: res.Cumulative[l],
		}
	}
	return LineChart(series, res.Months, cfg)
}

// ICChart plots the monthly Rank-IC as columns.
func ICChart(points []backtest.ICPoint) string {
	cfg := DefaultChartConfig()
	cfg.Title = "月度 RankIC"
	values := make([]float64, len(points))
	labels := make([]string, len(points))
	for i, p := range points {
		values[i], labels[i] = p.IC, p.Month
	}
	return ColumnChart(values, labels, cfg)
}

// WriteSVG saves a rendered chart, creating parent directories.
func WriteSVG(path, svg string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create chart directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(svg), 0o644); err != nil {
		return fmt.Errorf("write chart %s: %w", path, err)
	}
	return nil
}
