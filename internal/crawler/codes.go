package crawler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/seenimoa/reportalpha/pkg/utils"
)

// codePattern matches a standalone six-digit run.
var codePattern = regexp.MustCompile(`(?:^|\D)(\d{6})(?:\D|$)`)

type listedCompany struct {
	code string
	name string
}

// CodeResolver maps a report title to a stock code, first by an embedded
// six-digit code and then by company name substring in table order.
// A nil resolver only extracts embedded codes.
type CodeResolver struct {
	companies    []listedCompany
	companyTypes map[string]struct{}
}

// NewCodeResolver builds a resolver from (code, name) pairs. companyTypes
// lists the report type labels that describe a single listed company.
func NewCodeResolver(pairs [][2]string, companyTypes []string) *CodeResolver {
	r := &CodeResolver{companyTypes: make(map[string]struct{}, len(companyTypes))}
	for _, t := range companyTypes {
		r.companyTypes[strings.TrimSpace(t)] = struct{}{}
	}
	for _, p := range pairs {
		code := utils.NormalizeCode(p[0])
		name := strings.TrimSpace(p[1])
		if !utils.IsValidCode(code) || name == "" {
			continue
		}
		r.companies = append(r.companies, listedCompany{code: code, name: name})
	}
	return r
}

// LoadCodeResolver reads the first sheet of an xlsx table whose rows hold a
// stock code in column A and a company name in column B. Rows whose first
// cell is not a code, such as a header, are ignored.
func LoadCodeResolver(path string, companyTypes []string) (*CodeResolver, error) {
	if path == "" {
		return NewCodeResolver(nil, companyTypes), nil
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open stock table %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("stock table %s has no sheets", path)
	}
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read stock table %s: %w", path, err)
	}

	pairs := make([][2]string, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		pairs = append(pairs, [2]string{row[0], row[1]})
	}
	return NewCodeResolver(pairs, companyTypes), nil
}

// Len returns the number of known companies.
func (r *CodeResolver) Len() int {
	if r == nil {
		return 0
	}
	return len(r.companies)
}

// IsCompanyType reports whether a report type label names a single company.
func (r *CodeResolver) IsCompanyType(category string) bool {
	if r == nil {
		return false
	}
	_, ok := r.companyTypes[strings.TrimSpace(category)]
	return ok
}

// Resolve returns the stock code of a company report. Reports of any other
// type never resolve.
func (r *CodeResolver) Resolve(title, category string) (string, bool) {
	if !r.IsCompanyType(category) {
		return "", false
	}
	return r.ResolveTitle(title)
}

// ResolveTitle returns the stock code named by a title, or false when none is found.
func (r *CodeResolver) ResolveTitle(title string) (string, bool) {
	if m := codePattern.FindStringSubmatch(title); m != nil {
		return m[1], true
	}
	if r == nil {
		return "", false
	}
	for _, c := range r.companies {
		if strings.Contains(title, c.name) {
			return c.code, true
		}
	}
	return "", false
}
