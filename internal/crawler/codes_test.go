package crawler

import (
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestResolve(t *testing.T) {
	r := NewCodeResolver([][2]string{
		{"600519", "贵州茅台"},
		{"000858", "五粮液"},
		{"600036", "招商银行"},
		{"001", "平安银行"},
	}, []string{"公司", "创业板"})

	tests := []struct {
		name     string
		title    string
		category string
		want     string
		wantOK   bool
	}{
		{"embedded code wins", "五粮液(000858)：提价落地", "公司", "000858", true},
		{"code beats name", "贵州茅台对标600036估值", "公司", "600036", true},
		{"seven digits are not a code", "贵州茅台营收1234567万元", "公司", "600519", true},
		{"first name in table order", "五粮液与贵州茅台对比", "公司", "600519", true},
		{"zero padded table code", "平安银行季报点评", "创业板", "000001", true},
		{"unknown company", "某公司深度报告", "公司", "", false},
		{"non-company type", "贵州茅台(600519)", "行业", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := r.Resolve(tt.title, tt.category)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("Resolve(%q, %q) = %q, %v; want %q, %v", tt.title, tt.category, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestNilResolverOnlyExtractsCodes(t *testing.T) {
	var r *CodeResolver
	if code, ok := r.ResolveTitle("点评 300750 出货"); !ok || code != "300750" {
		t.Errorf("ResolveTitle() = %q, %v", code, ok)
	}
	if _, ok := r.Resolve("点评 300750 出货", "公司"); ok {
		t.Error("nil resolver knows no company types")
	}
	if r.Len() != 0 {
		t.Error("nil resolver should be empty")
	}
}

func TestLoadCodeResolverFromWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "basicInfo.xlsx")

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]any{
		{"股票代码", "公司名称"},
		{600519, "贵州茅台"},
		{1, "平安银行"},
		{"", "缺少代码"},
	}
	for i, row := range rows {
		for j, v := range row {
			cell, err := excelize.CoordinatesToCellName(j+1, i+1)
			if err != nil {
				t.Fatal(err)
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("SaveAs() error: %v", err)
	}
	f.Close()

	r, err := LoadCodeResolver(path, []string{"公司"})
	if err != nil {
		t.Fatalf("LoadCodeResolver() error: %v", err)
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2 (header and blank code skipped)", r.Len())
	}
	if code, ok := r.Resolve("平安银行年报点评", "公司"); !ok || code != "000001" {
		t.Errorf("Resolve() = %q, %v; want 000001", code, ok)
	}
}

func TestLoadCodeResolverWithoutTable(t *testing.T) {
	r, err := LoadCodeResolver("", []string{"公司"})
	if err != nil {
		t.Fatalf("LoadCodeResolver(\"\") error: %v", err)
	}
	if r.Len() != 0 || !r.IsCompanyType("公司") {
		t.Errorf("resolver = %+v", r)
	}
}
