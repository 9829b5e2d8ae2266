package report

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/seenimoa/reportalpha/internal/backtest"
)

// ════════════════════════════════════════════════════════════════════
// Line Chart
// ════════════════════════════════════════════════════════════════════

func TestLineChart_Basic(t *testing.T) {
	series := []LineChartSeries{
		{Name: "第1层", Values: []float64{0.01, 0.03, 0.02, 0.05}},
		{Name: "第5层", Values: []float64{-0.01, -0.02, 0, -0.03}},
	}
	cfg := DefaultChartConfig()
	cfg.Title = "Excess <cumulative>"
	cfg.Percent = true

	svg := LineChart(series, []string{"2024-01", "2024-02", "2024-03", "2024-04"}, cfg)
	if !strings.Contains(svg, "Excess &lt;cumulative&gt;") {
		t.Error("expected escaped title")
	}
	for _, want := range []string{"第1层", "第5层", "2024-01", "%</text>"} {
		if !strings.Contains(svg, want) {
			t.Errorf("expected %q in chart", want)
		}
	}
	if strings.Count(svg, "<path") != 2 {
		t.Errorf("expected one path per series, got %d", strings.Count(svg, "<path"))
	}
}

func TestLineChart_Empty(t *testing.T) {
	svg := LineChart(nil, nil, DefaultChartConfig())
	if !strings.Contains(svg, "No data") {
		t.Error("expected empty message")
	}
	svg = LineChart([]LineChartSeries{{Name: "A", Values: []float64{math.NaN()}}}, nil, DefaultChartConfig())
	if !strings.Contains(svg, "No data points") {
		t.Error("all-NaN series should render the empty message")
	}
}

func TestLineChart_SinglePoint(t *testing.T) {
	svg := LineChart([]LineChartSeries{{Name: "A", Values: []float64{0.42}}}, nil, ChartConfig{})
	if !strings.Contains(svg, "<circle") {
		t.Error("expected a marker for a single point")
	}
	if strings.Contains(svg, "NaN") || strings.Contains(svg, "Inf") {
		t.Error("single point produced invalid coordinates")
	}
}

func TestLineChart_NaNBreaksLine(t *testing.T) {
	series := []LineChartSeries{
		{Name: "Test", Values: []float64{10, 12, math.NaN(), 20, 30}},
	}
	svg := LineChart(series, nil, DefaultChartConfig())
	start := strings.Index(svg, `<path d="`)
	if start < 0 {
		t.Fatal("expected path")
	}
	d := svg[start:]
	d = d[:strings.Index(d, `"/>`)]
	if strings.Count(d, "M") != 2 {
		t.Errorf("expected the gap to start a new segment: %s", d)
	}
}

// ════════════════════════════════════════════════════════════════════
// Column Chart
// ════════════════════════════════════════════════════════════════════

func TestColumnChart(t *testing.T) {
	svg := ColumnChart([]float64{0.2, -0.1, math.NaN()}, []string{"a", "b", "c"}, DefaultChartConfig())
	if strings.Count(svg, `fill="#4caf50"`) != 1 || strings.Count(svg, `fill="#ef5350"`) != 1 {
		t.Error("expected one positive and one negative column")
	}
	if !strings.Contains(ColumnChart(nil, nil, ChartConfig{}), "No data") {
		t.Error("expected empty message")
	}
}

// ════════════════════════════════════════════════════════════════════
// Backtest charts
// ════════════════════════════════════════════════════════════════════

func TestLayerChart(t *testing.T) {
	res := &backtest.LayerResult{
		Layers: 2,
		Months: []string{"2024-02", "2024-03"},
		Cumulative: [][]float64{
			{0.04, 0.0504},
			{0, math.NaN()},
		},
	}
	svg := LayerChart(res)
	for _, want := range []string{"分层累计超额收益", "第1层", "第2层", "2024-02"} {
		if !strings.Contains(svg, want) {
			t.Errorf("expected %q in layer chart", want)
		}
	}
	if !strings.Contains(LayerChart(&backtest.LayerResult{}), "No months") {
		t.Error("empty result should render the empty message")
	}
}

func TestICChartAndWriteSVG(t *testing.T) {
	svg := ICChart([]backtest.ICPoint{{Month: "2024-01", IC: 0.3}, {Month: "2024-02", IC: -0.2}})
	path := filepath.Join(t.TempDir(), "charts", "ic.svg")
	if err := WriteSVG(path, svg); err != nil {
		t.Fatalf("WriteSVG() error: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(raw), "<svg") || !strings.Contains(string(raw), "月度 RankIC") {
		t.Errorf("unexpected chart file: %.80s", raw)
	}
}
