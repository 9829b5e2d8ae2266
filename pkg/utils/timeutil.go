package utils

import (
	"fmt"
	"time"
)

// DateLayout is the canonical day format used across stores and files.
const DateLayout = "2006-01-02"

// MonthLayout is the canonical month key format.
const MonthLayout = "2006-01"

// CST is China Standard Time (UTC+8), the exchange and publisher time zone.
var CST *time.Location

func init() {
	var err error
	CST, err = time.LoadLocation("Asia/Shanghai")
	if err != nil {
		// Fallback: create fixed zone if tz database is not available
		CST = time.FixedZone("CST", 8*60*60)
	}
}

// NowCST returns the current time in China Standard Time.
func NowCST() time.Time {
	return time.Now().In(CST)
}

// IsWorkingDay reports whether t falls on Monday to Friday in CST.
func IsWorkingDay(t time.Time) bool {
	wd := t.In(CST).Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// PrevWorkingDay returns the working day before from (Monday → previous Friday).
func PrevWorkingDay(from time.Time) time.Time {
	prev := from.In(CST).AddDate(0, 0, -1)
	for !IsWorkingDay(prev) {
		prev = prev.AddDate(0, 0, -1)
	}
	return time.Date(prev.Year(), prev.Month(), prev.Day(), 0, 0, 0, 0, CST)
}

// ParseDateCST parses a "2006-01-02" date in CST.
func ParseDateCST(dateStr string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, dateStr, CST)
}

// FormatDateCST formats t as "2006-01-02" in CST.
func FormatDateCST(t time.Time) string {
	return t.In(CST).Format(DateLayout)
}

// DateRange resolves an inclusive [start, end] pair of "2006-01-02" strings.
// Empty bounds default to the previous working day relative to now.
func DateRange(start, end string, now time.Time) (time.Time, time.Time, error) {
	def := PrevWorkingDay(now)
	from, to := def, def

	var err error
	if start != "" {
		if from, err = ParseDateCST(start); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start date %q: %w", start, err)
		}
		if end == "" {
			to = from
		}
	}
	if end != "" {
		if to, err = ParseDateCST(end); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end date %q: %w", end, err)
		}
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("end date %s before start date %s", FormatDateCST(to), FormatDateCST(from))
	}
	return from, to, nil
}

// EachDay calls fn for every calendar day in [from, to].
func EachDay(from, to time.Time, fn func(day time.Time) error) error {
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if err := fn(d); err != nil {
			return err
		}
	}
	return nil
}

// MonthKey returns the "2006-01" key for a "2006-01-02..." date string.
// Strings shorter than a month key are returned unchanged.
func MonthKey(date string) string {
	if len(date) < len(MonthLayout) {
		return date
	}
	return date[:len(MonthLayout)]
}

// AddMonths shifts a "2006-01" month key by n months.
func AddMonths(month string, n int) (string, error) {
	t, err := time.Parse(MonthLayout, month)
	if err != nil {
		return "", fmt.Errorf("invalid month %q: %w", month, err)
	}
	return t.AddDate(0, n, 0).Format(MonthLayout), nil
}
