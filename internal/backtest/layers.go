package backtest

import (
	"fmt"
	"math"
	"sort"

	"github.com/seenimoa/reportalpha/internal/factor"
	"github.com/seenimoa/reportalpha/pkg/utils"
)

// LayerResult holds the monthly excess returns of each factor layer.
// Layer 1 holds the stocks with the largest absolute factor.
type LayerResult struct {
	Layers     int
	Months     []string
	Excess     [][]float64 // Excess[layer][month], NaN when the layer held nothing
	Cumulative [][]float64
	Tests      []LayerTest
}

// LayerTest summarizes one layer's excess return series.
type LayerTest struct {
	Layer int
	TTestResult
	MaxDrawdown float64
}

// LayerOptions tunes Layered.
type LayerOptions struct {
	Layers        int
	DropLastMonth bool
}

// Layered sorts stocks each month by the absolute value of their last
// factor value, splits them into equal buckets (the last bucket takes the
// remainder, and everything when there are fewer stocks than layers), holds
// each bucket through the next month and measures its average return in
// excess of the benchmark.
func Layered(points []factor.Point, returns Returns, benchmark map[string]float64, opts LayerOptions) (*LayerResult, error) {
	if opts.Layers < 1 {
		return nil, fmt.Errorf("layers must be positive, got %d", opts.Layers)
	}
	n := opts.Layers

	type acc struct {
		sum   []float64
		count []int
	}
	held := make(map[string]*acc)

	monthly := factor.MonthlyLast(points, false)
	for _, group := range groupByMonth(monthly) {
		next, err := utils.AddMonths(group[0].Date, 1)
		if err != nil {
			continue
		}
		for i, layer := range assignLayers(group, n) {
			r, ok := returns.Get(group[i].Code, next)
			if !ok {
				continue
			}
			a := held[next]
			if a == nil {
				a = &acc{sum: make([]float64, n), count: make([]int, n)}
				held[next] = a
			}
			a.sum[layer] += r
			a.count[layer]++
		}
	}

	months := make([]string, 0, len(held))
	for m := range held {
		months = append(months, m)
	}
	sort.Strings(months)
	if opts.DropLastMonth && len(months) > 0 {
		months = months[:len(months)-1]
	}
	common := months[:0]
	for _, m := range months {
		if _, ok := benchmark[m]; ok {
			common = append(common, m)
		}
	}

	res := &LayerResult{
		Layers:     n,
		Months:     common,
		Excess:     make([][]float64, n),
		Cumulative: make([][]float64, n),
		Tests:      make([]LayerTest, n),
	}
	for l := 0; l < n; l++ {
		excess := make([]float64, len(common))
		for j, m := range common {
			a := held[m]
			if a.count[l] == 0 {
				excess[j] = math.NaN()
				continue
			}
			excess[j] = a.sum[l]/float64(a.count[l]) - benchmark[m]
		}
		cum := cumulative(excess)
		res.Excess[l] = excess
		res.Cumulative[l] = cum
		res.Tests[l] = LayerTest{Layer: l + 1, TTestResult: TTest(excess), MaxDrawdown: MaxDrawdown(cum)}
	}
	return res, nil
}

// groupByMonth splits month-ordered points into one slice per month.
func groupByMonth(points []factor.Point) [][]factor.Point {
	var groups [][]factor.Point
	for i := 0; i < len(points); {
		j := i
		for j < len(points) && points[j].Date == points[i].Date {
			j++
		}
		groups = append(groups, points[i:j])
		i = j
	}
	return groups
}

// assignLayers returns the 0-based layer of every point of one month.
func assignLayers(group []factor.Point, layers int) []int {
	order := make([]int, len(group))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return math.Abs(group[order[a]].Value) > math.Abs(group[order[b]].Value)
	})

	size := len(group) / layers
	out := make([]int, len(group))
	for rank, i := range order {
		if size > 0 && rank < (layers-1)*size {
			out[i] = rank / size
		} else {
			out[i] = layers - 1
		}
	}
	return out
}

// cumulative compounds a return series, Π(1+r)-1. NaN entries stay NaN and
// do not move the running product.
func cumulative(xs []float64) []float64 {
	out := make([]float64, len(xs))
	growth := 1.0
	for i, x := range xs {
		if math.IsNaN(x) {
			out[i] = math.NaN()
			continue
		}
		growth *= 1 + x
		out[i] = growth - 1
	}
	return out
}
