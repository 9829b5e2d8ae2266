package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/reportalpha/internal/config"
	"github.com/seenimoa/reportalpha/internal/infra"
	"github.com/seenimoa/reportalpha/internal/pdfdoc"
	"github.com/seenimoa/reportalpha/internal/store"
	"github.com/seenimoa/reportalpha/pkg/models"
	"github.com/seenimoa/reportalpha/pkg/utils"
)

const eastmoneyReferer = "https://data.eastmoney.com/report/"

// ListedReport is one entry of the Eastmoney listing API.
type ListedReport struct {
	Title        string `json:"title"`
	StockName    string `json:"stockName"`
	StockCode    string `json:"stockCode"`
	OrgSName     string `json:"orgSName"`
	IndustryName string `json:"industryName"`
	InfoCode     string `json:"infoCode"`
	PublishDate  string `json:"publishDate"`
	Researcher   string `json:"researcher"`
}

// Listing is one decoded listing page.
type Listing struct {
	TotalPage int            `json:"TotalPage"`
	Data      []ListedReport `json:"data"`
}

// EastmoneyCrawler lists reports through the JSONP API and downloads their PDFs.
type EastmoneyCrawler struct {
	cfg      config.EastmoneyConfig
	fetcher  *infra.Fetcher
	store    store.ReportStore
	resolver *CodeResolver
	rng      *infra.Rand
	logger   *zap.Logger

	validate func([]byte) (int, error)
	now      func() time.Time
}

// NewEastmoneyCrawler wires a crawler. resolver may be nil.
func NewEastmoneyCrawler(cfg config.EastmoneyConfig, fetcher *infra.Fetcher, st store.ReportStore,
	resolver *CodeResolver, rng *infra.Rand, logger *zap.Logger) *EastmoneyCrawler {
	return &EastmoneyCrawler{
		cfg:      cfg,
		fetcher:  fetcher,
		store:    st,
		resolver: resolver,
		rng:      rng,
		logger:   logger.Named("eastmoney"),
		validate: pdfdoc.Validate,
		now:      utils.NowCST,
	}
}

// ListPage fetches one listing page for the inclusive date range. Every
// attempt uses a fresh callback token. When all attempts fail the error
// wraps ErrPageUnavailable.
func (c *EastmoneyCrawler) ListPage(ctx context.Context, from, to string, page int) (*Listing, error) {
	policy := infra.NewRetryPolicy(c.cfg.ListAttempts,
		infra.Exponential(c.cfg.ListBackoff, c.cfg.ListMaxBackoff, 2, 0.25, c.rng))

	var listing *Listing
	err := policy.Do(ctx, c.logger, "eastmoney list", func(attempt int) error {
		u, err := c.listURL(from, to, page)
		if err != nil {
			return infra.Permanent(err)
		}
		body, err := c.fetcher.Get(ctx, u, map[string]string{"Referer": eastmoneyReferer})
		if err != nil {
			return err
		}
		l, err := decodeListing(body)
		if err != nil {
			c.logger.Warn("unparseable listing page",
				zap.Int("page", page), zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		listing = l
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("page %d: %w: %w", page, ErrPageUnavailable, err)
	}
	return listing, nil
}

func (c *EastmoneyCrawler) listURL(from, to string, page int) (string, error) {
	u, err := url.Parse(c.cfg.ListURL)
	if err != nil {
		return "", fmt.Errorf("parse list url: %w", err)
	}
	q := u.Query()
	q.Set("cb", fmt.Sprintf("datatable%d", 1000000+c.rng.IntN(9000000)))
	q.Set("industryCode", "*")
	q.Set("pageSize", strconv.Itoa(c.cfg.PageSize))
	q.Set("industry", "*")
	q.Set("rating", "*")
	q.Set("ratingChange", "*")
	q.Set("beginTime", from)
	q.Set("endTime", to)
	q.Set("pageNo", strconv.Itoa(page))
	q.Set("fields", "")
	q.Set("qType", "0")
	q.Set("orgCode", "*")
	q.Set("code", "*")
	q.Set("rcode", "*")
	q.Set("_", strconv.FormatInt(c.now().UnixMilli(), 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// decodeListing strips the JSONP padding and parses the payload, repairing
// malformed JSON once before giving up.
func decodeListing(body []byte) (*Listing, error) {
	s := strings.TrimSpace(string(body))
	if !strings.HasPrefix(s, "{") {
		open := strings.IndexByte(s, '(')
		if open < 0 || !strings.HasSuffix(s, ")") {
			return nil, fmt.Errorf("listing payload is not JSONP: %.64q", s)
		}
		s = s[open+1 : len(s)-1]
	}

	var l Listing
	err := json.Unmarshal([]byte(s), &l)
	if err != nil {
		var syntaxErr *json.SyntaxError
		if !errors.As(err, &syntaxErr) {
			return nil, fmt.Errorf("decode listing: %w", err)
		}
		repaired, repairErr := jsonrepair.JSONRepair(s)
		if repairErr != nil {
			return nil, fmt.Errorf("decode listing: %w", err)
		}
		l = Listing{}
		if err := json.Unmarshal([]byte(repaired), &l); err != nil {
			return nil, fmt.Errorf("decode repaired listing: %w", err)
		}
	}
	if l.TotalPage < 1 {
		l.TotalPage = 1
	}
	return &l, nil
}

// Discover walks every listing page of the range and passes each entry to
// yield. A failure on page 1 aborts; later failed pages are counted in stats.
func (c *EastmoneyCrawler) Discover(ctx context.Context, from, to string, stats *RunStats, yield func(ListedReport)) error {
	first, err := c.ListPage(ctx, from, to, 1)
	if err != nil {
		return err
	}
	total := first.TotalPage
	c.logger.Info("listing discovered",
		zap.String("from", from), zap.String("to", to), zap.Int("total_pages", total))

	emit := func(l *Listing) {
		stats.add(func(s *RunStats) {
			s.Pages++
			s.Discovered += len(l.Data)
		})
		for _, rep := range l.Data {
			yield(rep)
		}
	}
	emit(first)

	for page := 2; page <= total; page++ {
		l, err := c.ListPage(ctx, from, to, page)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			c.logger.Error("listing page skipped", zap.Int("page", page), zap.Error(err))
			stats.add(func(s *RunStats) { s.FailedPages++ })
			continue
		}
		emit(l)
	}
	return nil
}

// Run discovers every report of the range and downloads the PDFs through a
// bounded worker pool. Individual download failures are counted, not returned.
func (c *EastmoneyCrawler) Run(ctx context.Context, from, to string) (*RunStats, error) {
	stats := &RunStats{}

	var g errgroup.Group
	g.SetLimit(max(c.cfg.Workers, 1))

	discoverErr := c.Discover(ctx, from, to, stats, func(rep ListedReport) {
		g.Go(func() error {
			fetched, err := c.Download(ctx, rep)
			switch {
			case err != nil:
				c.logger.Error("download failed",
					zap.String("info_code", rep.InfoCode), zap.String("title", rep.Title), zap.Error(err))
				stats.add(func(s *RunStats) { s.Failed++ })
			case fetched:
				stats.add(func(s *RunStats) { s.Fetched++ })
			default:
				stats.add(func(s *RunStats) { s.Skipped++ })
			}
			return nil
		})
	})
	_ = g.Wait()

	if discoverErr != nil {
		return stats, fmt.Errorf("eastmoney crawl %s..%s: %w", from, to, discoverErr)
	}
	c.logger.Info("eastmoney crawl finished",
		zap.Int("pages", stats.Pages), zap.Int("failed_pages", stats.FailedPages),
		zap.Int("discovered", stats.Discovered), zap.Int("fetched", stats.Fetched),
		zap.Int("skipped", stats.Skipped), zap.Int("failed", stats.Failed))
	return stats, ctx.Err()
}

// Download fetches the PDF of rep and persists its record. It returns false
// without error when the report is already persisted.
func (c *EastmoneyCrawler) Download(ctx context.Context, rep ListedReport) (bool, error) {
	if rep.InfoCode == "" {
		return false, fmt.Errorf("listing entry %q has no info code", rep.Title)
	}
	has, err := c.store.HasReport(ctx, rep.InfoCode)
	if err != nil {
		return false, err
	}
	if has {
		return false, nil
	}

	rec := c.record(rep)
	path := filepath.Join(c.cfg.OutputDir, PDFFileName(rep))

	if fileExists(path) {
		if pages, ok := c.existingPages(path); ok {
			rec.FilePath, rec.Pages = path, pages
			if _, err := c.store.InsertReport(ctx, rec); err != nil {
				return false, err
			}
			c.logger.Debug("file already on disk", zap.String("path", path))
			return false, nil
		}
	}

	pdfURL := fmt.Sprintf(c.cfg.PDFURLTemplate, rep.InfoCode)
	policy := infra.NewRetryPolicy(c.cfg.DownloadAttempts, infra.Fixed(c.cfg.DownloadBackoff))
	policy.RetryAllStatuses = true

	var pages int
	err = policy.Do(ctx, c.logger, "eastmoney pdf", func(int) error {
		body, err := c.fetcher.Get(ctx, pdfURL, map[string]string{"Referer": eastmoneyReferer})
		if err != nil {
			return err
		}
		n, err := c.validate(body)
		if err != nil {
			return fmt.Errorf("%s: %w", pdfURL, err)
		}
		if err := writeFileAtomic(path, body); err != nil {
			return infra.Permanent(err)
		}
		pages = n
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("download %s after %d attempts: %w", pdfURL, c.cfg.DownloadAttempts, err)
	}

	rec.FilePath, rec.Pages = path, pages
	inserted, err := c.store.InsertReport(ctx, rec)
	if err != nil {
		return false, err
	}
	return inserted, nil
}

func (c *EastmoneyCrawler) existingPages(path string) (int, bool) {
	body, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pages, err := c.validate(body)
	if err != nil {
		c.logger.Warn("existing file is not a valid PDF, downloading again",
			zap.String("path", path), zap.Error(err))
		return 0, false
	}
	return pages, true
}

func (c *EastmoneyCrawler) record(rep ListedReport) models.ReportRecord {
	date := strings.TrimSpace(rep.PublishDate)
	if len(date) >= len(utils.DateLayout) {
		date = date[:len(utils.DateLayout)]
	} else {
		date = utils.FormatDateCST(c.now())
	}

	code := utils.NormalizeCode(rep.StockCode)
	if !utils.IsValidCode(code) {
		code, _ = c.resolver.ResolveTitle(rep.Title)
	}

	return models.ReportRecord{
		Key:         rep.InfoCode,
		Source:      models.SourceEastmoney,
		StockCode:   code,
		Org:         rep.OrgSName,
		Title:       rep.Title,
		Category:    rep.IndustryName,
		PublishDate: date,
		Researcher:  rep.Researcher,
		Period:      utils.MonthKey(date),
	}
}

// PDFFileName returns "{industry}-{title}-{org}.pdf" with reserved
// characters removed from each part.
func PDFFileName(rep ListedReport) string {
	return SanitizeFileName(rep.IndustryName) + "-" +
		SanitizeFileName(rep.Title) + "-" +
		SanitizeFileName(rep.OrgSName) + ".pdf"
}
