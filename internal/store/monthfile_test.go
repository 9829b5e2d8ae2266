package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/seenimoa/reportalpha/internal/config"
	"github.com/seenimoa/reportalpha/pkg/models"
)

func storeConfig(driver string) config.StoreConfig {
	return config.StoreConfig{Driver: driver}
}

func TestMonthFileAppendAndKeys(t *testing.T) {
	path := MonthFilePath(t.TempDir(), "分析师个股报告", "2024-03")
	mf := NewMonthFile(path)

	keys, err := mf.Keys()
	if err != nil || len(keys) != 0 {
		t.Fatalf("Keys() on missing file = %v, %v; want empty", keys, err)
	}

	rows := []MonthRow{
		{StockCode: "600000", Org: "中信证券", PublishDate: "2024-03-08", Title: "点评,含逗号", URL: "https://x/1", Text: "第一段\n第二段", Researcher: "张三"},
		{StockCode: "", Org: "华泰证券", PublishDate: "2024-03-09", Title: "行业周报", URL: "https://x/2"},
	}
	for _, r := range rows {
		if err := mf.Append(r); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	header := strings.SplitN(string(data), "\n", 2)[0]
	if header != "股票代码,券商简称,发布日期,研报标题,报告链接,研报文本,研究员" {
		t.Errorf("header = %q", header)
	}
	if strings.Count(string(data), "股票代码") != 1 {
		t.Error("header written more than once")
	}

	got, err := mf.Rows()
	if err != nil {
		t.Fatalf("Rows() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Rows() = %d rows, want 2", len(got))
	}
	if got[0].Title != "点评,含逗号" || got[0].Text != "第一段\n第二段" {
		t.Errorf("quoted fields not preserved: %+v", got[0])
	}

	keys, _ = mf.Keys()
	if _, ok := keys["https://x/1"]; !ok || len(keys) != 2 {
		t.Errorf("Keys() = %v", keys)
	}
}

func TestReadMonthFileSkipsBOM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "2023-09.csv")
	content := "\ufeff股票代码,券商简称,发布日期,研报标题,报告链接,研报文本,研究员\n" +
		"000001,国泰君安,2023-09-01,平安银行点评,https://x/9,正文,李四\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	rows, err := ReadMonthFile(path)
	if err != nil {
		t.Fatalf("ReadMonthFile() error: %v", err)
	}
	if len(rows) != 1 || rows[0].StockCode != "000001" {
		t.Fatalf("rows = %+v", rows)
	}

	rec := rows[0].ToRecord(models.SourceSina, "个股")
	if rec.Key != "https://x/9" || rec.Period != "2023-09" || rec.Category != "个股" {
		t.Errorf("ToRecord() = %+v", rec)
	}
	if MonthFromPath(path) != "2023-09" {
		t.Errorf("MonthFromPath() = %q", MonthFromPath(path))
	}
}
