package models

// ReturnPoint is one periodic price observation for a stock or index.
// PctChange is expressed in percent (1.5 means +1.5%).
type ReturnPoint struct {
	Code      string  `json:"code"       csv:"股票代码"`
	Date      string  `json:"date"       csv:"日期"` // "2006-01-02"
	Close     float64 `json:"close"      csv:"收盘"`
	PctChange float64 `json:"pct_change" csv:"涨跌幅"`
}
