package backtest

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/seenimoa/reportalpha/internal/factor"
	"github.com/seenimoa/reportalpha/pkg/utils"
)

// ICPoint is the Rank-IC of one factor month.
type ICPoint struct {
	Month  string
	IC     float64
	PValue float64
	Count  int
}

// ICSummary aggregates a Rank-IC series.
type ICSummary struct {
	Mean             float64
	Std              float64
	SignificantRatio float64
	Max              float64
	Min              float64
	Months           int
}

// MonthlyFactor prepares daily factor points for the IC study: the last
// nonzero value per (stock, month), z-scored per stock.
func MonthlyFactor(points []factor.Point) []factor.Point {
	return factor.Standardize(factor.MonthlyLast(points, true))
}

// RankIC pairs the monthly factor of month t with each stock's return in
// month t+1 and computes the cross-sectional Spearman correlation for every
// month with at least two stocks. Points are ordered by month.
func RankIC(monthly []factor.Point, returns Returns) []ICPoint {
	type pair struct{ f, r float64 }
	byMonth := make(map[string][]pair)
	for _, p := range monthly {
		if math.IsNaN(p.Value) {
			continue
		}
		next, err := utils.AddMonths(p.Date, 1)
		if err != nil {
			continue
		}
		r, ok := returns.Get(p.Code, next)
		if !ok {
			continue
		}
		byMonth[p.Date] = append(byMonth[p.Date], pair{p.Value, r})
	}

	months := make([]string, 0, len(byMonth))
	for m, pairs := range byMonth {
		if len(pairs) >= 2 {
			months = append(months, m)
		}
	}
	sort.Strings(months)

	out := make([]ICPoint, 0, len(months))
	for _, m := range months {
		pairs := byMonth[m]
		fs := make([]float64, len(pairs))
		rs := make([]float64, len(pairs))
		for i, p := range pairs {
			fs[i], rs[i] = p.f, p.r
		}
		ic := Spearman(fs, rs)
		out = append(out, ICPoint{
			Month:  m,
			IC:     ic,
			PValue: correlationPValue(ic, len(pairs)),
			Count:  len(pairs),
		})
	}
	return out
}

// Summarize reports the moments of an IC series. NaN ICs are left out of
// the moments; SignificantRatio counts months with p below significance
// over all months.
func Summarize(points []ICPoint, significance float64) ICSummary {
	s := ICSummary{
		Mean: math.NaN(), Std: math.NaN(), Max: math.NaN(), Min: math.NaN(),
		SignificantRatio: math.NaN(), Months: len(points),
	}
	if len(points) == 0 {
		return s
	}

	var ics []float64
	significant := 0
	for _, p := range points {
		if !math.IsNaN(p.IC) {
			ics = append(ics, p.IC)
		}
		if p.PValue < significance {
			significant++
		}
	}
	s.SignificantRatio = float64(significant) / float64(len(points))
	if len(ics) == 0 {
		return s
	}

	s.Mean = stat.Mean(ics, nil)
	if len(ics) > 1 {
		s.Std = stat.StdDev(ics, nil)
	}
	s.Max, s.Min = ics[0], ics[0]
	for _, v := range ics[1:] {
		s.Max = math.Max(s.Max, v)
		s.Min = math.Min(s.Min, v)
	}
	return s
}
