package utils

import (
	"strings"
)

// Exchange market ids used by the Eastmoney quote APIs.
const (
	MarketShenzhen = 0
	MarketShanghai = 1
)

// Common index aliases resolved to their quote secid.
var indexSecIDs = map[string]string{
	"SH000001":  "1.000001",
	"000001.SH": "1.000001",
	"上证指数":      "1.000001",
	"SH000300":  "1.000300",
	"000300.SH": "1.000300",
	"沪深300":     "1.000300",
	"SZ399001":  "0.399001",
	"399001.SZ": "0.399001",
	"深证成指":      "0.399001",
	"SZ399006":  "0.399006",
	"399006.SZ": "0.399006",
	"创业板指":      "0.399006",
}

// NormalizeCode converts user or file input to a bare 6-digit A-share code.
// It strips whitespace, exchange prefixes and suffixes, and left-pads numeric
// codes that lost their leading zeros in a spreadsheet ("1" → "000001").
func NormalizeCode(code string) string {
	code = strings.TrimSpace(strings.ToUpper(code))
	code = strings.TrimPrefix(code, "$")
	code = strings.TrimSuffix(code, ".0")

	for _, p := range []string{"SH", "SZ", "BJ"} {
		code = strings.TrimPrefix(code, p)
		code = strings.TrimSuffix(code, "."+p)
	}

	if code == "" || !isDigits(code) || len(code) > 6 {
		return code
	}
	return strings.Repeat("0", 6-len(code)) + code
}

// IsValidCode reports whether code is exactly six ASCII digits.
func IsValidCode(code string) bool {
	return len(code) == 6 && isDigits(code)
}

// MarketOf returns the exchange market id for a normalized stock code.
// Shanghai listings start with 6 or 9; everything else routes to Shenzhen.
func MarketOf(code string) int {
	if strings.HasPrefix(code, "6") || strings.HasPrefix(code, "9") {
		return MarketShanghai
	}
	return MarketShenzhen
}

// SecID returns the "{market}.{code}" quote identifier for a stock code or a
// known index alias.
func SecID(code string) string {
	if id, ok := indexSecIDs[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return id
	}
	code = NormalizeCode(code)
	if MarketOf(code) == MarketShanghai {
		return "1." + code
	}
	return "0." + code
}

// IsIndex reports whether the input names a known index alias.
func IsIndex(code string) bool {
	_, ok := indexSecIDs[strings.ToUpper(strings.TrimSpace(code))]
	return ok
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
