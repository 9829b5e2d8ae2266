package factor

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/seenimoa/reportalpha/pkg/models"
)

func score(v float64) *float64 { return &v }

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestBuildMatrix(t *testing.T) {
	m := BuildMatrix([]models.ProcessedReport{
		{Key: "a", StockCode: "600000", PublishDate: "2024-03-08", Score: score(0.1)},
		{Key: "b", StockCode: "600000", PublishDate: "2024-03-08", Score: score(0.3)},
		{Key: "c", StockCode: "000001", PublishDate: "2024-03-11", Score: score(-0.2)},
		{Key: "d", StockCode: "", PublishDate: "2024-03-12", Score: score(0.4)},
		{Key: "e", StockCode: "000002", PublishDate: "2024-03-13"},
	})

	if len(m.Codes) != 2 || m.Codes[0] != "000001" || m.Codes[1] != "600000" {
		t.Fatalf("codes = %v", m.Codes)
	}
	if len(m.Dates) != 2 || m.Dates[0] != "2024-03-08" || m.Dates[1] != "2024-03-11" {
		t.Fatalf("dates = %v", m.Dates)
	}
	if m.Values[1][0] != 0.3 {
		t.Errorf("600000@03-08 = %v, want last observation 0.3", m.Values[1][0])
	}
	if m.Values[0][0] != 0 || m.Values[0][1] != -0.2 {
		t.Errorf("000001 row = %v", m.Values[0])
	}
}

func TestWeightsFavorRecentPositions(t *testing.T) {
	w := Weights(90)
	if !approx(w[0], 1.0/90) || !approx(w[89], 1) {
		t.Errorf("w[0] = %v, w[89] = %v", w[0], w[89])
	}
	for i := 1; i < len(w); i++ {
		if w[i] <= w[i-1] {
			t.Fatalf("weights not increasing at %d", i)
		}
	}
}

func TestTrailing(t *testing.T) {
	m := &Matrix{
		Codes:  []string{"600000", "000001"},
		Dates:  []string{"d1", "d2", "d3"},
		Values: [][]float64{{0.6, 0, 0.3}, {0, 0, 0}},
	}

	t.Run("window of one is identity", func(t *testing.T) {
		out := Trailing(m, 1)
		for j, v := range m.Values[0] {
			if !approx(out.Values[0][j], v) {
				t.Errorf("col %d = %v, want %v", j, out.Values[0][j], v)
			}
		}
	})

	t.Run("window of three", func(t *testing.T) {
		out := Trailing(m, 3)
		total := 1.0/3 + 1.0/2 + 1
		want := []float64{
			0.6 / total,
			0.6 * 0.5 / total,
			(0.6/3 + 0.3) / total,
		}
		for j, w := range want {
			if !approx(out.Values[0][j], w) {
				t.Errorf("col %d = %v, want %v", j, out.Values[0][j], w)
			}
		}
	})

	t.Run("all zero history", func(t *testing.T) {
		out := Trailing(m, 90)
		for j, v := range out.Values[1] {
			if v != 0 {
				t.Errorf("col %d = %v, want 0", j, v)
			}
		}
	})
}

func TestMonthlyLast(t *testing.T) {
	points := []Point{
		{Date: "2024-03-20", Code: "600000", Value: 0.5},
		{Date: "2024-03-08", Code: "600000", Value: 0.1},
		{Date: "2024-03-29", Code: "600000", Value: 0},
		{Date: "2024-04-02", Code: "600000", Value: 0.2},
		{Date: "2024-03-11", Code: "000001", Value: -0.3},
	}

	got := MonthlyLast(points, true)
	want := []Point{
		{Date: "2024-03", Code: "000001", Value: -0.3},
		{Date: "2024-03", Code: "600000", Value: 0.5},
		{Date: "2024-04", Code: "600000", Value: 0.2},
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("point %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	if kept := MonthlyLast(points, false); kept[1].Value != 0 {
		t.Errorf("without dropping zeros the last March value is %v, want 0", kept[1].Value)
	}
}

func TestStandardize(t *testing.T) {
	got := Standardize([]Point{
		{Date: "2024-01", Code: "A", Value: 1},
		{Date: "2024-02", Code: "A", Value: 2},
		{Date: "2024-03", Code: "A", Value: 3},
		{Date: "2024-01", Code: "B", Value: 7},
		{Date: "2024-02", Code: "B", Value: 7},
	})
	z := math.Sqrt(1.5)
	want := []float64{-z, 0, z, 0, 0}
	for i, w := range want {
		if !approx(got[i].Value, w) {
			t.Errorf("point %d = %v, want %v", i, got[i].Value, w)
		}
	}
}

func TestWriteAndLoadFactor(t *testing.T) {
	dir := t.TempDir()
	m := &Matrix{
		Codes:  []string{"000001", "600000"},
		Dates:  []string{"2024-03-08", "2024-03-11"},
		Values: [][]float64{{0.25, -0.5}, {0, 0.125}},
	}
	path := filepath.Join(dir, "out", "pivoted.xlsx")
	if err := WriteFactor(path, m); err != nil {
		t.Fatalf("WriteFactor() error: %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	a1, _ := f.GetCellValue(FactorSheet, "A1")
	b1, _ := f.GetCellValue(FactorSheet, "B1")
	f.Close()
	if a1 != "Date" || b1 != "000001" {
		t.Errorf("header = %q, %q", a1, b1)
	}

	points, err := LoadFactor(path)
	if err != nil {
		t.Fatalf("LoadFactor() error: %v", err)
	}
	if len(points) != 4 {
		t.Fatalf("got %d points, want 4", len(points))
	}
	if p := points[3]; p.Date != "2024-03-11" || p.Code != "600000" || p.Value != 0.125 {
		t.Errorf("last point = %+v", p)
	}

	if err := WriteScores(filepath.Join(dir, "scores.xlsx"), m); err != nil {
		t.Fatalf("WriteScores() error: %v", err)
	}
}
