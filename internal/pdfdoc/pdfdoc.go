// Package pdfdoc validates downloaded report PDFs and extracts their text.
package pdfdoc

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrNotPDF is returned when a payload lacks the PDF magic header, which
// happens when a server answers a document URL with an HTML error page.
var ErrNotPDF = errors.New("payload is not a PDF document")

// MaxTextLen caps extracted text per document.
const MaxTextLen = 200_000

var disableConfigDir sync.Once

// Validate checks that body is a well-formed PDF and returns its page count.
func Validate(body []byte) (int, error) {
	if !bytes.HasPrefix(bytes.TrimLeft(body, "\x00\t\r\n "), []byte("%PDF")) {
		return 0, ErrNotPDF
	}

	disableConfigDir.Do(api.DisableConfigDir)

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	pages, err := api.PageCount(bytes.NewReader(body), conf)
	if err != nil {
		return 0, fmt.Errorf("validate pdf: %w", err)
	}
	if pages == 0 {
		return 0, fmt.Errorf("validate pdf: document has no pages")
	}
	return pages, nil
}

// ExtractText returns the plain text of every page in the file at path.
// Panics raised by malformed streams are recovered and returned as errors.
func ExtractText(path string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("panic during PDF extraction: %v", r)
		}
	}()

	f, r, openErr := pdf.Open(path)
	if openErr != nil {
		return "", fmt.Errorf("open pdf %s: %w", path, openErr)
	}
	defer f.Close()

	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, pageErr := page.GetPlainText(nil)
		if pageErr != nil {
			continue
		}
		sb.WriteString(pageText)
		sb.WriteString("\n")
		if sb.Len() > MaxTextLen {
			break
		}
	}

	out := sb.String()
	if len(out) > MaxTextLen {
		out = truncateUTF8(out, MaxTextLen)
	}
	return out, nil
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }
