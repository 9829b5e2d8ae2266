package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/seenimoa/reportalpha/internal/config"
	"github.com/seenimoa/reportalpha/internal/infra"
	"github.com/seenimoa/reportalpha/internal/pdfdoc"
	"github.com/seenimoa/reportalpha/internal/store"
	"github.com/seenimoa/reportalpha/pkg/models"
)

// eastmoneyFixture serves the listing API and PDF endpoint.
type eastmoneyFixture struct {
	pages     map[int]string // page number -> JSON payload
	failPages map[int]int    // page number -> remaining failures (-1 = always)
	pdfBody   []byte
	pdfDenied atomic.Int32 // 403 responses before the PDF is served
	listCalls atomic.Int32
	pdfCalls  atomic.Int32
	mu        sync.Mutex
	callbacks []string
}

func (f *eastmoneyFixture) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/report/list", func(w http.ResponseWriter, r *http.Request) {
		f.listCalls.Add(1)
		var page int
		fmt.Sscanf(r.URL.Query().Get("pageNo"), "%d", &page)
		cb := r.URL.Query().Get("cb")

		f.mu.Lock()
		f.callbacks = append(f.callbacks, cb)
		remaining := f.failPages[page]
		if remaining > 0 {
			f.failPages[page] = remaining - 1
		}
		f.mu.Unlock()

		if remaining != 0 {
			http.Error(w, "busy", http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "%s(%s)", cb, f.pages[page])
	})
	mux.HandleFunc("/pdf/", func(w http.ResponseWriter, r *http.Request) {
		f.pdfCalls.Add(1)
		if f.pdfDenied.Add(-1) >= 0 {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		w.Write(f.pdfBody)
	})
	return mux
}

func fakeValidate(body []byte) (int, error) {
	if !bytes.HasPrefix(body, []byte("%PDF")) {
		return 0, pdfdoc.ErrNotPDF
	}
	return 3, nil
}

func newTestEastmoney(t *testing.T, f *eastmoneyFixture) (*EastmoneyCrawler, *store.BadgerStore) {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	st, err := store.OpenBadger(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("OpenBadger() error: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.EastmoneyConfig{
		ListURL:          srv.URL + "/report/list",
		PDFURLTemplate:   srv.URL + "/pdf/H3_%s_1.pdf",
		PageSize:         50,
		Workers:          2,
		ListAttempts:     3,
		DownloadAttempts: 2,
		OutputDir:        t.TempDir(),
	}
	rng := infra.NewRand(7)
	fetcher := infra.NewFetcher(5*time.Second, nil, rng, infra.NewPacer(0))
	resolver := NewCodeResolver([][2]string{{"600036", "招商银行"}}, []string{"公司", "创业板"})

	c := NewEastmoneyCrawler(cfg, fetcher, st, resolver, rng, zap.NewNop())
	c.validate = fakeValidate
	return c, st
}

const listingPage1 = `{"TotalPage":2,"data":[
 {"title":"浦发银行：息差企稳","stockName":"浦发银行","stockCode":"600000","orgSName":"中信证券","industryName":"银行","infoCode":"AP001","publishDate":"2024-03-08 00:00:00.000","researcher":"张三"},
 {"title":"招商银行年报点评","stockName":"","stockCode":"","orgSName":"华泰证券","industryName":"银行","infoCode":"AP002","publishDate":"2024-03-08 00:00:00.000","researcher":"李四"}]}`

const listingPage2 = `{"TotalPage":2,"data":[
 {"title":"宁德时代：出货超预期","stockName":"宁德时代","stockCode":"300750","orgSName":"国泰君安","industryName":"电池","infoCode":"AP003","publishDate":"2024-03-08 00:00:00.000","researcher":"王五"}]}`

func TestEastmoneyRunDownloadsEveryReportOnce(t *testing.T) {
	f := &eastmoneyFixture{
		pages:   map[int]string{1: listingPage1, 2: listingPage2},
		pdfBody: []byte("%PDF-1.4 fake"),
	}
	c, st := newTestEastmoney(t, f)
	ctx := context.Background()

	stats, err := c.Run(ctx, "2024-03-08", "2024-03-08")
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if stats.Pages != 2 || stats.Discovered != 3 || stats.Fetched != 3 || stats.Failed != 0 {
		t.Errorf("stats = %+v, want 2 pages, 3 discovered, 3 fetched", stats)
	}

	recs, err := st.Reports(ctx, store.Query{})
	if err != nil {
		t.Fatalf("Reports() error: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	byKey := map[string]models.ReportRecord{}
	for _, r := range recs {
		byKey[r.Key] = r
	}
	if got := byKey["AP002"].StockCode; got != "600036" {
		t.Errorf("AP002 stock code resolved from title = %q, want 600036", got)
	}
	ap1 := byKey["AP001"]
	if ap1.PublishDate != "2024-03-08" || ap1.Period != "2024-03" || ap1.Pages != 3 {
		t.Errorf("AP001 = %+v", ap1)
	}
	if filepath.Base(ap1.FilePath) != "银行-浦发银行：息差企稳-中信证券.pdf" {
		t.Errorf("AP001 file = %q", ap1.FilePath)
	}
	if _, err := os.Stat(ap1.FilePath); err != nil {
		t.Errorf("PDF not written: %v", err)
	}

	// A second run must not fetch any body again.
	before := f.pdfCalls.Load()
	stats, err = c.Run(ctx, "2024-03-08", "2024-03-08")
	if err != nil {
		t.Fatalf("second Run() error: %v", err)
	}
	if stats.Skipped != 3 || stats.Fetched != 0 {
		t.Errorf("second run stats = %+v, want 3 skipped", stats)
	}
	if f.pdfCalls.Load() != before {
		t.Errorf("second run downloaded %d PDFs", f.pdfCalls.Load()-before)
	}
}

func TestListPageRetriesWithFreshCallback(t *testing.T) {
	f := &eastmoneyFixture{
		pages:     map[int]string{1: listingPage1},
		failPages: map[int]int{1: 1},
	}
	c, _ := newTestEastmoney(t, f)

	l, err := c.ListPage(context.Background(), "2024-03-08", "2024-03-08", 1)
	if err != nil {
		t.Fatalf("ListPage() error: %v", err)
	}
	if len(l.Data) != 2 || l.TotalPage != 2 {
		t.Errorf("listing = %+v", l)
	}
	if f.listCalls.Load() != 2 {
		t.Errorf("list calls = %d, want 2", f.listCalls.Load())
	}
	if len(f.callbacks) != 2 || f.callbacks[0] == f.callbacks[1] {
		t.Errorf("callbacks = %v, want two distinct tokens", f.callbacks)
	}
	for _, cb := range f.callbacks {
		if !strings.HasPrefix(cb, "datatable") || len(cb) != len("datatable")+7 {
			t.Errorf("callback %q is not datatable + 7 digits", cb)
		}
	}
}

func TestListPageExhaustedIsUnavailable(t *testing.T) {
	f := &eastmoneyFixture{failPages: map[int]int{1: -1}}
	c, _ := newTestEastmoney(t, f)

	_, err := c.ListPage(context.Background(), "2024-03-08", "2024-03-08", 1)
	if !errors.Is(err, ErrPageUnavailable) {
		t.Fatalf("ListPage() error = %v, want ErrPageUnavailable", err)
	}
	if f.listCalls.Load() != 3 {
		t.Errorf("list calls = %d, want 3 attempts", f.listCalls.Load())
	}
}

func TestRunCountsFailedLaterPage(t *testing.T) {
	f := &eastmoneyFixture{
		pages:     map[int]string{1: listingPage1},
		failPages: map[int]int{2: -1},
		pdfBody:   []byte("%PDF-1.4 fake"),
	}
	c, _ := newTestEastmoney(t, f)

	stats, err := c.Run(context.Background(), "2024-03-08", "2024-03-08")
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if stats.FailedPages != 1 || stats.Pages != 1 || stats.Fetched != 2 {
		t.Errorf("stats = %+v, want 1 failed page and 2 fetched", stats)
	}
}

func TestRunFailsWhenFirstPageUnavailable(t *testing.T) {
	f := &eastmoneyFixture{failPages: map[int]int{1: -1}}
	c, _ := newTestEastmoney(t, f)

	_, err := c.Run(context.Background(), "2024-03-08", "2024-03-08")
	if !errors.Is(err, ErrPageUnavailable) {
		t.Fatalf("Run() error = %v, want ErrPageUnavailable", err)
	}
}

func TestDownloadRejectsNonPDF(t *testing.T) {
	f := &eastmoneyFixture{pdfBody: []byte("<html>error</html>")}
	c, st := newTestEastmoney(t, f)
	ctx := context.Background()

	rep := ListedReport{Title: "t", OrgSName: "o", IndustryName: "i", InfoCode: "AP009", PublishDate: "2024-03-08"}
	fetched, err := c.Download(ctx, rep)
	if err == nil || fetched {
		t.Fatalf("Download() = %v, %v; want failure", fetched, err)
	}
	if !errors.Is(err, pdfdoc.ErrNotPDF) {
		t.Errorf("error = %v, want ErrNotPDF", err)
	}
	if f.pdfCalls.Load() != 2 {
		t.Errorf("pdf calls = %d, want 2 attempts", f.pdfCalls.Load())
	}
	entries, _ := os.ReadDir(c.cfg.OutputDir)
	if len(entries) != 0 {
		t.Errorf("failed download left %d files behind", len(entries))
	}
	if ok, _ := st.HasReport(ctx, "AP009"); ok {
		t.Error("failed download must not persist a record")
	}
}

func TestDownloadRetriesForbidden(t *testing.T) {
	f := &eastmoneyFixture{pdfBody: []byte("%PDF-1.4 body")}
	f.pdfDenied.Store(1)
	c, st := newTestEastmoney(t, f)
	ctx := context.Background()

	rep := ListedReport{Title: "t", OrgSName: "o", IndustryName: "i", InfoCode: "AP011", PublishDate: "2024-03-08"}
	fetched, err := c.Download(ctx, rep)
	if err != nil || !fetched {
		t.Fatalf("Download() = %v, %v; want fetched after a 403", fetched, err)
	}
	if f.pdfCalls.Load() != 2 {
		t.Errorf("pdf calls = %d, want 2", f.pdfCalls.Load())
	}
	if ok, _ := st.HasReport(ctx, "AP011"); !ok {
		t.Error("record should be persisted")
	}
}

func TestDownloadReusesExistingFile(t *testing.T) {
	f := &eastmoneyFixture{pdfBody: []byte("%PDF-1.4 fresh")}
	c, st := newTestEastmoney(t, f)
	ctx := context.Background()

	rep := ListedReport{Title: "t", OrgSName: "o", IndustryName: "i", InfoCode: "AP010", PublishDate: "2024-03-08"}
	path := filepath.Join(c.cfg.OutputDir, PDFFileName(rep))
	if err := os.WriteFile(path, []byte("%PDF-1.4 old"), 0o644); err != nil {
		t.Fatal(err)
	}

	fetched, err := c.Download(ctx, rep)
	if err != nil || fetched {
		t.Fatalf("Download() = %v, %v; want skipped", fetched, err)
	}
	if f.pdfCalls.Load() != 0 {
		t.Errorf("existing file was downloaded again")
	}
	if ok, _ := st.HasReport(ctx, "AP010"); !ok {
		t.Error("record for existing file should be persisted")
	}
}

func TestDecodeListing(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantItems int
		wantPages int
		wantErr   bool
	}{
		{"jsonp", `datatable1234567({"TotalPage":4,"data":[{"infoCode":"A"}]})`, 1, 4, false},
		{"raw json", `{"TotalPage":2,"data":[]}`, 0, 2, false},
		{"missing total page", `cb({"data":[{"infoCode":"A"},{"infoCode":"B"}]})`, 2, 1, false},
		{"repaired trailing comma", `cb({"TotalPage":1,"data":[{"infoCode":"A"},]})`, 1, 1, false},
		{"html error page", `<html>blocked</html>`, 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := decodeListing([]byte(tt.body))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeListing() error: %v", err)
			}
			if len(l.Data) != tt.wantItems || l.TotalPage != tt.wantPages {
				t.Errorf("got %d items / %d pages, want %d / %d", len(l.Data), l.TotalPage, tt.wantItems, tt.wantPages)
			}
		})
	}
}

func TestPDFFileNameStripsReservedCharacters(t *testing.T) {
	rep := ListedReport{IndustryName: "银行/保险", Title: `A:B*C?"D"<E>|F\G`, OrgSName: "中信"}
	if got := PDFFileName(rep); got != "银行保险-ABCDEFG-中信.pdf" {
		t.Errorf("PDFFileName() = %q", got)
	}
}
