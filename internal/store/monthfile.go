package store

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gocarina/gocsv"

	"github.com/seenimoa/reportalpha/pkg/models"
	"github.com/seenimoa/reportalpha/pkg/utils"
)

// MonthRow is one line of a monthly report file. Column order is fixed:
// stock code, broker, publish date, title, URL, full text, researcher.
type MonthRow struct {
	StockCode   string `csv:"股票代码"`
	Org         string `csv:"券商简称"`
	PublishDate string `csv:"发布日期"`
	Title       string `csv:"研报标题"`
	URL         string `csv:"报告链接"`
	Text        string `csv:"研报文本"`
	Researcher  string `csv:"研究员"`
}

// ToRecord converts a row into a report record of the given source.
func (r MonthRow) ToRecord(source models.Source, category string) models.ReportRecord {
	return models.ReportRecord{
		Key:         r.URL,
		Source:      source,
		StockCode:   r.StockCode,
		Org:         r.Org,
		Title:       r.Title,
		Category:    category,
		PublishDate: r.PublishDate,
		Researcher:  r.Researcher,
		Text:        r.Text,
		Period:      utils.MonthKey(r.PublishDate),
	}
}

// MonthFile is an append-only CSV file of one month's reports, keyed by URL.
type MonthFile struct {
	mu   sync.Mutex
	path string
}

// MonthFilePath returns {dir}/{category}/{YYYY-MM}.csv.
func MonthFilePath(dir, category, month string) string {
	return filepath.Join(dir, category, month+".csv")
}

// NewMonthFile binds a month file at path. The file is created lazily.
func NewMonthFile(path string) *MonthFile {
	return &MonthFile{path: path}
}

// Path returns the file location.
func (m *MonthFile) Path() string { return m.path }

// Rows reads every row. A missing file yields no rows; a UTF-8 BOM is skipped.
func (m *MonthFile) Rows() ([]*MonthRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return readMonthRows(m.path)
}

// Keys returns the set of URLs already persisted.
func (m *MonthFile) Keys() (map[string]struct{}, error) {
	rows, err := m.Rows()
	if err != nil {
		return nil, err
	}
	keys := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		keys[r.URL] = struct{}{}
	}
	return keys, nil
}

// Append writes one row, creating the file with its header when needed.
func (m *MonthFile) Append(row MonthRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}

	_, statErr := os.Stat(m.path)
	exists := statErr == nil

	f, err := os.OpenFile(m.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", m.path, err)
	}
	defer f.Close()

	rows := []*MonthRow{&row}
	if exists {
		err = gocsv.MarshalWithoutHeaders(&rows, f)
	} else {
		err = gocsv.Marshal(&rows, f)
	}
	if err != nil {
		return fmt.Errorf("append to %s: %w", m.path, err)
	}
	return nil
}

// ReadMonthFile reads rows from a month file at path.
func ReadMonthFile(path string) ([]*MonthRow, error) {
	return readMonthRows(path)
}

func readMonthRows(path string) ([]*MonthRow, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	data = bytes.TrimPrefix(data, []byte("\ufeff"))
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var rows []*MonthRow
	if err := gocsv.UnmarshalBytes(data, &rows); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return rows, nil
}

// MonthFromPath extracts "2006-01" from a month file name.
func MonthFromPath(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}
