// Package models defines the core data structures shared by the reportalpha stages.
package models

// Source identifies the crawler that produced a report.
type Source string

const (
	SourceEastmoney Source = "eastmoney"
	SourceSina      Source = "sina"
)

// ReportRecord is one broker research report as persisted by a crawler.
// Key is the report URL (Sina) or info code (Eastmoney) and never repeats.
type ReportRecord struct {
	Key         string `json:"key"                  badgerhold:"key"`
	Source      Source `json:"source"`
	StockCode   string `json:"stock_code,omitempty" badgerhold:"index"` // empty when unresolved
	Org         string `json:"org"`
	Title       string `json:"title"`
	Category    string `json:"category"`     // industry name or raw type label
	PublishDate string `json:"publish_date"` // "2006-01-02"
	Researcher  string `json:"researcher,omitempty"`
	Text        string `json:"text,omitempty"`
	FilePath    string `json:"file_path,omitempty"` // downloaded PDF
	Pages       int    `json:"pages,omitempty"`
	Period      string `json:"period"` // "2006-01"
}

// ProcessedReport is the cleaned corpus entry derived from a ReportRecord.
// A nil Sentences slice means the report had no usable text; such reports
// never carry a Score.
type ProcessedReport struct {
	Key         string   `json:"key"                  badgerhold:"key"`
	Source      Source   `json:"source"`
	StockCode   string   `json:"stock_code,omitempty" badgerhold:"index"`
	Org         string   `json:"org"`
	Title       string   `json:"title"`
	Category    string   `json:"category"`
	PublishDate string   `json:"publish_date"`
	Period      string   `json:"period"`
	Sentences   []string `json:"sentences,omitempty"`
	Score       *float64 `json:"score,omitempty"`
}

// FromRecord copies the report metadata into a processed entry.
func FromRecord(r ReportRecord, sentences []string) ProcessedReport {
	return ProcessedReport{
		Key:         r.Key,
		Source:      r.Source,
		StockCode:   r.StockCode,
		Org:         r.Org,
		Title:       r.Title,
		Category:    r.Category,
		PublishDate: r.PublishDate,
		Period:      r.Period,
		Sentences:   sentences,
	}
}

// SentimentLabel is the classifier's decision for one sentence.
type SentimentLabel string

const (
	LabelPositive SentimentLabel = "positive"
	LabelNegative SentimentLabel = "negative"
)

// SentimentPrediction is the immutable per-sentence classifier output.
type SentimentPrediction struct {
	ID            string         `json:"id"                   badgerhold:"key"`
	ReportKey     string         `json:"report_key"           badgerhold:"index"`
	Index         int            `json:"index"` // sentence position within the report
	StockCode     string         `json:"stock_code,omitempty"`
	PublishDate   string         `json:"publish_date"`
	Title         string         `json:"title"`
	Sentence      string         `json:"sentence"`
	Label         SentimentLabel `json:"label"`
	PositiveProb  float64        `json:"positive_prob"`  // 0..1
	AdjustedScore float64        `json:"adjusted_score"` // PositiveProb - 0.5
}
