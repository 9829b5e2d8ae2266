// Package backtest evaluates the sentiment factor against realized monthly
// returns: a monthly Rank-IC study and a layered excess-return backtest.
package backtest

import (
	"math"
	"sort"

	"github.com/seenimoa/reportalpha/pkg/models"
	"github.com/seenimoa/reportalpha/pkg/utils"
)

// Returns maps stock code to month key ("2006-01") to the simple return
// realized over that month.
type Returns map[string]map[string]float64

// Get returns the monthly return of code in month.
func (r Returns) Get(code, month string) (float64, bool) {
	v, ok := r[code][month]
	if !ok || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// CompoundMonthly folds each stock's periodic percent changes into one
// return per month, Π(1+r/100)-1. Monthly history yields one factor per
// month; daily history compounds every trading day of the month.
func CompoundMonthly(history map[string][]models.ReturnPoint) Returns {
	out := make(Returns, len(history))
	for code, points := range history {
		growth := make(map[string]float64)
		for _, p := range points {
			if math.IsNaN(p.PctChange) {
				continue
			}
			month := utils.MonthKey(p.Date)
			g, ok := growth[month]
			if !ok {
				g = 1
			}
			growth[month] = g * (1 + p.PctChange/100)
		}
		months := make(map[string]float64, len(growth))
		for m, g := range growth {
			months[m] = g - 1
		}
		out[code] = months
	}
	return out
}

// BenchmarkMonthly converts an index price series into monthly returns from
// the month-end closes. The first month has no prior close and is omitted.
func BenchmarkMonthly(points []models.ReturnPoint) map[string]float64 {
	sorted := make([]models.ReturnPoint, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date < sorted[j].Date })

	closes := make(map[string]float64)
	var months []string
	for _, p := range sorted {
		m := utils.MonthKey(p.Date)
		if _, ok := closes[m]; !ok {
			months = append(months, m)
		}
		closes[m] = p.Close
	}

	out := make(map[string]float64, len(months))
	for i := 1; i < len(months); i++ {
		prev := closes[months[i-1]]
		if prev == 0 {
			continue
		}
		out[months[i]] = closes[months[i]]/prev - 1
	}
	return out
}
