// Package crawler discovers broker research reports and fetches their bodies.
//
// Two sources are supported. Eastmoney exposes a paginated JSONP listing API
// and serves each report as a PDF; Sina lists reports on paginated HTML pages
// and serves each report body as an HTML text fragment. Both crawlers check a
// report's key against the persisted store before fetching its body.
package crawler

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/net/html/charset"
)

// --- Sentinel errors ---

// ErrPageUnavailable is returned when a listing page still fails after every
// retry. It is distinct from a legitimately empty page.
var ErrPageUnavailable = errors.New("listing page unavailable")

// ErrEmptyText is returned when a text fragment page contains no paragraphs.
var ErrEmptyText = errors.New("empty report text")

// RunStats summarizes one crawl run.
type RunStats struct {
	Days        int `json:"days,omitempty"`
	Pages       int `json:"pages"`
	FailedPages int `json:"failed_pages"`
	Discovered  int `json:"discovered"`
	Fetched     int `json:"fetched"`
	Skipped     int `json:"skipped"`
	Filtered    int `json:"filtered,omitempty"`
	Failed      int `json:"failed"`

	mu sync.Mutex
}

func (s *RunStats) add(f func(*RunStats)) {
	s.mu.Lock()
	f(s)
	s.mu.Unlock()
}

// Summary renders the counters as a one-line notification message.
func (s *RunStats) Summary(source string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("%s crawl finished: %d pages (%d failed), %d reports discovered, %d fetched, %d skipped, %d failed",
		source, s.Pages, s.FailedPages, s.Discovered, s.Fetched, s.Skipped, s.Failed)
}

// reservedChars cannot appear in file names on common filesystems.
const reservedChars = `/\:*?"<>|`

// maxNamePart bounds each file name component in bytes.
const maxNamePart = 120

// SanitizeFileName removes reserved characters from s.
func SanitizeFileName(s string) string {
	s = strings.Map(func(r rune) rune {
		if strings.ContainsRune(reservedChars, r) || r < 0x20 {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(truncateBytes(s, maxNamePart))
}

func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n]
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// writeFileAtomic writes data to a temp file beside path and renames it into
// place, so an interrupted download never leaves a partial file behind.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}

// decodeHTML converts a page to UTF-8 using its BOM or meta charset.
// Sina serves GB2312 pages.
func decodeHTML(body []byte) ([]byte, error) {
	enc, name, _ := charset.DetermineEncoding(body, "")
	if name == "utf-8" {
		return body, nil
	}
	out, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return nil, fmt.Errorf("decode %s page: %w", name, err)
	}
	return bytes.TrimPrefix(out, []byte("\ufeff")), nil
}
