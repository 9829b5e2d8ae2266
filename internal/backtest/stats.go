package backtest

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// ════════════════════════════════════════════════════════════════════
// Rank correlation
// ════════════════════════════════════════════════════════════════════

// Spearman returns the rank correlation of x and y. Tied values share their
// average rank. The result is NaN when either side does not vary or the
// slices hold fewer than two pairs.
func Spearman(x, y []float64) float64 {
	if len(x) != len(y) || len(x) < 2 || constant(x) || constant(y) {
		return math.NaN()
	}
	return stat.Correlation(ranks(x), ranks(y), nil)
}

// ranks assigns 1-based ranks, averaging over ties.
func ranks(xs []float64) []float64 {
	idx := make([]int, len(xs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return xs[idx[a]] < xs[idx[b]] })

	out := make([]float64, len(xs))
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && xs[idx[j+1]] == xs[idx[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			out[idx[k]] = avg
		}
		i = j + 1
	}
	return out
}

// correlationPValue is the two-sided p-value of a correlation r over n
// pairs under a Student t distribution with n-2 degrees of freedom.
func correlationPValue(r float64, n int) float64 {
	if n < 3 || math.IsNaN(r) {
		return math.NaN()
	}
	if math.Abs(r) >= 1 {
		return 0
	}
	df := float64(n - 2)
	t := r * math.Sqrt(df/(1-r*r))
	return twoSided(t, df)
}

func twoSided(t, df float64) float64 {
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	return 2 * dist.Survival(math.Abs(t))
}

// ════════════════════════════════════════════════════════════════════
// Significance
// ════════════════════════════════════════════════════════════════════

// TTestResult is a one-sample t-test of a mean against zero.
type TTestResult struct {
	T    float64
	P    float64
	Mean float64
	N    int
}

// TTest tests whether the mean of xs differs from zero. NaN values are
// ignored. T and P are NaN with fewer than two values or no variance.
func TTest(xs []float64) TTestResult {
	clean := dropNaN(xs)
	res := TTestResult{T: math.NaN(), P: math.NaN(), Mean: math.NaN(), N: len(clean)}
	if len(clean) == 0 {
		return res
	}
	if len(clean) == 1 {
		res.Mean = clean[0]
		return res
	}

	mean, sd := stat.MeanStdDev(clean, nil)
	res.Mean = mean
	if sd == 0 || math.IsNaN(sd) {
		return res
	}
	res.T = mean / (sd / math.Sqrt(float64(len(clean))))
	res.P = twoSided(res.T, float64(len(clean)-1))
	return res
}

// ────────────────────────────────────────────────────────────────────
// Maximum Drawdown
// ────────────────────────────────────────────────────────────────────

// MaxDrawdown returns the largest peak-to-trough fall of the wealth curve
// 1+c over a cumulative return series, as a fraction of the peak.
func MaxDrawdown(cumulative []float64) float64 {
	peak := math.NaN()
	maxDD := 0.0
	for _, c := range cumulative {
		if math.IsNaN(c) {
			continue
		}
		wealth := 1 + c
		if math.IsNaN(peak) || wealth > peak {
			peak = wealth
		}
		if peak > 0 {
			if dd := (peak - wealth) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// ════════════════════════════════════════════════════════════════════
// Helpers
// ════════════════════════════════════════════════════════════════════

func dropNaN(xs []float64) []float64 {
	out := make([]float64, 0, len(xs))
	for _, x := range xs {
		if !math.IsNaN(x) {
			out = append(out, x)
		}
	}
	return out
}

func constant(xs []float64) bool {
	for _, x := range xs[1:] {
		if x != xs[0] {
			return false
		}
	}
	return true
}
