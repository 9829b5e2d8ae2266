// Package factor pivots composite report scores into a stock × date matrix
// and derives the trailing weighted sentiment factor from it.
package factor

import (
	"math"
	"slices"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/seenimoa/reportalpha/pkg/models"
	"github.com/seenimoa/reportalpha/pkg/utils"
)

// Matrix holds one value per (stock, date). Codes and Dates are sorted and
// a cell without an observation is 0.
type Matrix struct {
	Codes  []string
	Dates  []string
	Values [][]float64 // Values[code][date]
}

// Point is one long-form factor observation.
type Point struct {
	Date  string
	Code  string
	Value float64
}

func newMatrix(codes, dates []string) *Matrix {
	m := &Matrix{Codes: codes, Dates: dates, Values: make([][]float64, len(codes))}
	for i := range m.Values {
		m.Values[i] = make([]float64, len(dates))
	}
	return m
}

// BuildMatrix pivots scored reports into a matrix. Reports without a score
// or a stock code are ignored; within a cell the last report wins.
func BuildMatrix(reports []models.ProcessedReport) *Matrix {
	type cell struct{ code, date string }
	values := make(map[cell]float64)
	codeSet := make(map[string]struct{})
	dateSet := make(map[string]struct{})

	for _, r := range reports {
		if r.Score == nil || r.StockCode == "" {
			continue
		}
		values[cell{r.StockCode, r.PublishDate}] = *r.Score
		codeSet[r.StockCode] = struct{}{}
		dateSet[r.PublishDate] = struct{}{}
	}

	m := newMatrix(sortedKeys(codeSet), sortedKeys(dateSet))
	for i, code := range m.Codes {
		for j, date := range m.Dates {
			m.Values[i][j] = values[cell{code, date}]
		}
	}
	return m
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Weights returns the trailing window weights in chronological order:
// position i (0 oldest, window-1 newest) weighs 1/(window-i).
func Weights(window int) []float64 {
	w := make([]float64, window)
	for i := range w {
		w[i] = 1 / float64(window-i)
	}
	return w
}

// Trailing computes, for every stock and date column j, the weighted mean of
// the window columns ending at j. Columns before the first date score 0 but
// keep their weight.
func Trailing(m *Matrix, window int) *Matrix {
	out := newMatrix(slices.Clone(m.Codes), slices.Clone(m.Dates))
	if window < 1 {
		return out
	}
	weights := Weights(window)
	total := 0.0
	for _, w := range weights {
		total += w
	}

	for c, row := range m.Values {
		for j := range row {
			sum := 0.0
			for i, w := range weights {
				idx := j - (window - 1 - i)
				if idx >= 0 {
					sum += row[idx] * w
				}
			}
			out.Values[c][j] = sum / total
		}
	}
	return out
}

// Points flattens the matrix into long form ordered by date then code.
func (m *Matrix) Points() []Point {
	points := make([]Point, 0, len(m.Codes)*len(m.Dates))
	for j, date := range m.Dates {
		for i, code := range m.Codes {
			points = append(points, Point{Date: date, Code: code, Value: m.Values[i][j]})
		}
	}
	return points
}

// MonthlyLast keeps the last observation by date for each (stock, month).
// The returned points carry the month key ("2006-01") as their Date and are
// ordered by month then code.
func MonthlyLast(points []Point, dropZeros bool) []Point {
	type key struct{ code, month string }
	type obs struct {
		date  string
		value float64
	}
	last := make(map[key]obs)
	for _, p := range points {
		if dropZeros && p.Value == 0 {
			continue
		}
		k := key{p.Code, utils.MonthKey(p.Date)}
		if prev, ok := last[k]; !ok || p.Date >= prev.date {
			last[k] = obs{p.Date, p.Value}
		}
	}

	out := make([]Point, 0, len(last))
	for k, o := range last {
		out = append(out, Point{Date: k.month, Code: k.code, Value: o.value})
	}
	sortPoints(out)
	return out
}

// Standardize z-scores each stock's values with the population standard
// deviation. A stock whose values do not vary scores 0.
func Standardize(points []Point) []Point {
	byCode := make(map[string][]int)
	for i, p := range points {
		byCode[p.Code] = append(byCode[p.Code], i)
	}

	out := slices.Clone(points)
	for _, idx := range byCode {
		xs := make([]float64, len(idx))
		for k, i := range idx {
			xs[k] = points[i].Value
		}
		mean, variance := stat.PopMeanVariance(xs, nil)
		std := math.Sqrt(variance)
		for _, i := range idx {
			if std == 0 || math.IsNaN(std) {
				out[i].Value = 0
			} else {
				out[i].Value = (points[i].Value - mean) / std
			}
		}
	}
	return out
}

func sortPoints(ps []Point) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].Date != ps[j].Date {
			return ps[i].Date < ps[j].Date
		}
		return ps[i].Code < ps[j].Code
	})
}
