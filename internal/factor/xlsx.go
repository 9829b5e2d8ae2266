package factor

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/seenimoa/reportalpha/pkg/utils"
)

const (
	// FactorSheet holds the date × stock trailing factor.
	FactorSheet = "factor"
	// ScoreSheet holds the raw stock × date composite scores.
	ScoreSheet = "scores"
)

// WriteFactor saves m as a date × stock sheet with "Date" in A1.
func WriteFactor(path string, m *Matrix) error {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName(f.GetSheetName(0), FactorSheet); err != nil {
		return err
	}

	header := make([]any, 0, len(m.Codes)+1)
	header = append(header, "Date")
	for _, c := range m.Codes {
		header = append(header, c)
	}
	if err := f.SetSheetRow(FactorSheet, "A1", &header); err != nil {
		return fmt.Errorf("write factor header: %w", err)
	}

	for j, date := range m.Dates {
		row := make([]any, 0, len(m.Codes)+1)
		row = append(row, date)
		for i := range m.Codes {
			row = append(row, m.Values[i][j])
		}
		cell, err := excelize.CoordinatesToCellName(1, j+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(FactorSheet, cell, &row); err != nil {
			return fmt.Errorf("write factor row %s: %w", date, err)
		}
	}
	return save(f, path)
}

// WriteScores saves m as a stock × date sheet with "股票代码" in A1.
func WriteScores(path string, m *Matrix) error {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName(f.GetSheetName(0), ScoreSheet); err != nil {
		return err
	}

	header := make([]any, 0, len(m.Dates)+1)
	header = append(header, "股票代码")
	for _, d := range m.Dates {
		header = append(header, d)
	}
	if err := f.SetSheetRow(ScoreSheet, "A1", &header); err != nil {
		return fmt.Errorf("write score header: %w", err)
	}

	for i, code := range m.Codes {
		row := make([]any, 0, len(m.Dates)+1)
		row = append(row, code)
		for _, v := range m.Values[i] {
			row = append(row, v)
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(ScoreSheet, cell, &row); err != nil {
			return fmt.Errorf("write score row %s: %w", code, err)
		}
	}
	return save(f, path)
}

func save(f *excelize.File, path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// LoadFactor reads a date × stock factor sheet in long form. Stock codes in
// the header are normalized to six digits and empty cells are skipped.
func LoadFactor(path string) ([]Point, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open factor file %s: %w", path, err)
	}
	defer f.Close()

	sheet := FactorSheet
	if idx, _ := f.GetSheetIndex(sheet); idx < 0 {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read factor sheet: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	codes := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		if i > 0 {
			codes[i] = utils.NormalizeCode(h)
		}
	}

	var points []Point
	for r, row := range rows[1:] {
		if len(row) == 0 {
			continue
		}
		date := strings.TrimSpace(row[0])
		if len(date) > len(utils.DateLayout) {
			date = date[:len(utils.DateLayout)]
		}
		for i := 1; i < len(row) && i < len(codes); i++ {
			cell := strings.TrimSpace(row[i])
			if cell == "" {
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("factor row %d column %d: %w", r+2, i+1, err)
			}
			points = append(points, Point{Date: date, Code: codes[i], Value: v})
		}
	}
	sortPoints(points)
	return points, nil
}
