package backtest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"
)

type icRow struct {
	Month  string  `csv:"日期"`
	IC     float64 `csv:"RankIC"`
	PValue float64 `csv:"p值"`
	Count  int     `csv:"股票数量"`
}

type layerRow struct {
	Month      string  `csv:"月份"`
	Layer      int     `csv:"分层"`
	Excess     float64 `csv:"超额收益"`
	Cumulative float64 `csv:"累计超额收益"`
}

// WriteRankIC saves an IC series as CSV.
func WriteRankIC(path string, points []ICPoint) error {
	rows := make([]*icRow, len(points))
	for i, p := range points {
		rows[i] = &icRow{Month: p.Month, IC: p.IC, PValue: p.PValue, Count: p.Count}
	}
	return writeCSV(path, &rows)
}

// ReadRankIC loads a CSV written by WriteRankIC.
func ReadRankIC(path string) ([]ICPoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var rows []*icRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	out := make([]ICPoint, len(rows))
	for i, r := range rows {
		out[i] = ICPoint{Month: r.Month, IC: r.IC, PValue: r.PValue, Count: r.Count}
	}
	return out, nil
}

// WriteLayers saves the layered excess and cumulative series in long form,
// one row per (month, layer).
func WriteLayers(path string, res *LayerResult) error {
	rows := make([]*layerRow, 0, len(res.Months)*res.Layers)
	for j, m := range res.Months {
		for l := 0; l < res.Layers; l++ {
			rows = append(rows, &layerRow{
				Month:      m,
				Layer:      l + 1,
				Excess:     res.Excess[l][j],
				Cumulative: res.Cumulative[l][j],
			})
		}
	}
	return writeCSV(path, &rows)
}

func writeCSV(path string, rows any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	if err := gocsv.MarshalFile(rows, f); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
