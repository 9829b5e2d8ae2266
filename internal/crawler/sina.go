package crawler

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/seenimoa/reportalpha/internal/config"
	"github.com/seenimoa/reportalpha/internal/infra"
	"github.com/seenimoa/reportalpha/internal/store"
	"github.com/seenimoa/reportalpha/pkg/utils"
)

// StockReportDir is the month file directory for single-company reports.
const StockReportDir = "分析师个股报告"

const lastPageLabel = "最末页"

var lastPagePattern = regexp.MustCompile(`set_page_num\('(\d+)'\)`)

// SinaRow is one row of a Sina listing page.
type SinaRow struct {
	URL        string
	Title      string
	Type       string
	Broker     string
	Researcher string
}

// SinaCrawler walks the Sina listing day by day and appends each new company
// report, with its text, to the month file of its publish month.
type SinaCrawler struct {
	cfg      config.SinaConfig
	fetcher  *infra.Fetcher
	resolver *CodeResolver
	rng      *infra.Rand
	logger   *zap.Logger

	files map[string]*monthIndex
}

type monthIndex struct {
	file *store.MonthFile
	keys map[string]struct{}
}

// NewSinaCrawler wires a crawler. The resolver decides which report types
// are crawled and maps their titles to stock codes.
func NewSinaCrawler(cfg config.SinaConfig, fetcher *infra.Fetcher, resolver *CodeResolver,
	rng *infra.Rand, logger *zap.Logger) *SinaCrawler {
	return &SinaCrawler{
		cfg:      cfg,
		fetcher:  fetcher,
		resolver: resolver,
		rng:      rng,
		logger:   logger.Named("sina"),
		files:    make(map[string]*monthIndex),
	}
}

func (c *SinaCrawler) listURL(date string, page int) (string, error) {
	u, err := url.Parse(c.cfg.ListURL)
	if err != nil {
		return "", fmt.Errorf("parse list url: %w", err)
	}
	q := u.Query()
	q.Set("t1", "6")
	q.Set("symbol", "")
	q.Set("p", strconv.Itoa(page))
	q.Set("pubdate", date)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *SinaCrawler) fetchListing(ctx context.Context, date string, page int) (*goquery.Document, error) {
	u, err := c.listURL(date, page)
	if err != nil {
		return nil, err
	}
	policy := infra.NewRetryPolicy(c.cfg.PageAttempts, infra.Fixed(c.cfg.PageBackoff))

	var doc *goquery.Document
	err = policy.Do(ctx, c.logger, "sina list", func(int) error {
		body, err := c.fetcher.Get(ctx, u, nil)
		if err != nil {
			return err
		}
		d, err := parseHTML(body)
		if err != nil {
			return err
		}
		doc = d
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%s page %d: %w: %w", date, page, ErrPageUnavailable, err)
	}
	return doc, nil
}

// ListPage returns the rows of one listing page for a publish date.
func (c *SinaCrawler) ListPage(ctx context.Context, date string, page int) ([]SinaRow, error) {
	doc, err := c.fetchListing(ctx, date, page)
	if err != nil {
		return nil, err
	}
	return parseRows(doc), nil
}

// LastPage returns the number of listing pages for a publish date together
// with the rows of page 1. Without a last page link the day has one page when
// page 1 has rows and none otherwise.
func (c *SinaCrawler) LastPage(ctx context.Context, date string) (int, []SinaRow, error) {
	doc, err := c.fetchListing(ctx, date, 1)
	if err != nil {
		return 0, nil, err
	}
	rows := parseRows(doc)
	if n, ok := parseLastPage(doc); ok {
		return n, rows, nil
	}
	if len(rows) > 0 {
		return 1, rows, nil
	}
	return 0, nil, nil
}

// FetchText downloads a report page and returns its paragraphs joined by
// newlines. It gives up with an empty string after the configured attempts.
func (c *SinaCrawler) FetchText(ctx context.Context, reportURL string) string {
	policy := &infra.RetryPolicy{
		MaxAttempts:      c.cfg.TextAttempts,
		Backoff:          infra.LinearJitter(c.cfg.TextBackoffMin, c.cfg.TextBackoffMax, c.rng),
		RetryAllStatuses: true,
	}

	var text string
	err := policy.Do(ctx, c.logger, "sina text", func(int) error {
		body, err := c.fetcher.Get(ctx, reportURL, nil)
		if err != nil {
			return err
		}
		doc, err := parseHTML(body)
		if err != nil {
			return err
		}
		t := parseText(doc)
		if t == "" {
			return fmt.Errorf("%s: %w", reportURL, ErrEmptyText)
		}
		text = t
		return nil
	})
	if err != nil {
		c.logger.Warn("report text not fetched", zap.String("url", reportURL), zap.Error(err))
		return ""
	}
	return text
}

// Run crawls every day of the inclusive range. A day that fails is logged
// and skipped.
func (c *SinaCrawler) Run(ctx context.Context, from, to string) (*RunStats, error) {
	start, err := utils.ParseDateCST(from)
	if err != nil {
		return nil, fmt.Errorf("parse start date: %w", err)
	}
	end, err := utils.ParseDateCST(to)
	if err != nil {
		return nil, fmt.Errorf("parse end date: %w", err)
	}

	stats := &RunStats{}
	err = utils.EachDay(start, end, func(day time.Time) error {
		date := utils.FormatDateCST(day)
		if err := c.CrawlDay(ctx, date, stats); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			c.logger.Error("day skipped", zap.String("date", date), zap.Error(err))
		}
		stats.add(func(s *RunStats) { s.Days++ })
		return nil
	})

	c.logger.Info("sina crawl finished",
		zap.Int("days", stats.Days), zap.Int("pages", stats.Pages),
		zap.Int("failed_pages", stats.FailedPages), zap.Int("fetched", stats.Fetched),
		zap.Int("skipped", stats.Skipped), zap.Int("filtered", stats.Filtered))
	return stats, err
}

// CrawlDay processes every listing page of one publish date.
func (c *SinaCrawler) CrawlDay(ctx context.Context, date string, stats *RunStats) error {
	total, first, err := c.LastPage(ctx, date)
	if err != nil {
		return err
	}
	if total == 0 {
		c.logger.Info("no reports published", zap.String("date", date))
		return nil
	}
	c.logger.Info("processing day", zap.String("date", date), zap.Int("pages", total))

	for page := 1; page <= total; page++ {
		rows := first
		if page > 1 {
			rows, err = c.ListPage(ctx, date, page)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				c.logger.Error("listing page skipped",
					zap.String("date", date), zap.Int("page", page), zap.Error(err))
				stats.add(func(s *RunStats) { s.FailedPages++ })
				continue
			}
		}
		stats.add(func(s *RunStats) {
			s.Pages++
			s.Discovered += len(rows)
		})

		for _, row := range rows {
			if err := c.persist(ctx, date, row, stats); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *SinaCrawler) persist(ctx context.Context, date string, row SinaRow, stats *RunStats) error {
	if !c.resolver.IsCompanyType(row.Type) {
		stats.add(func(s *RunStats) { s.Filtered++ })
		return nil
	}

	idx, err := c.monthIndex(utils.MonthKey(date))
	if err != nil {
		return err
	}
	if _, ok := idx.keys[row.URL]; ok {
		stats.add(func(s *RunStats) { s.Skipped++ })
		return nil
	}

	code, _ := c.resolver.Resolve(row.Title, row.Type)
	text := c.FetchText(ctx, row.URL)
	if err := ctx.Err(); err != nil {
		return err
	}

	err = idx.file.Append(store.MonthRow{
		StockCode:   code,
		Org:         row.Broker,
		PublishDate: date,
		Title:       row.Title,
		URL:         row.URL,
		Text:        text,
		Researcher:  row.Researcher,
	})
	if err != nil {
		return err
	}
	idx.keys[row.URL] = struct{}{}
	stats.add(func(s *RunStats) { s.Fetched++ })

	return infra.Sleep(ctx, c.rng.Between(c.cfg.DelayMin, c.cfg.DelayMax))
}

func (c *SinaCrawler) monthIndex(month string) (*monthIndex, error) {
	path := store.MonthFilePath(c.cfg.OutputDir, StockReportDir, month)
	if idx, ok := c.files[path]; ok {
		return idx, nil
	}
	f := store.NewMonthFile(path)
	keys, err := f.Keys()
	if err != nil {
		return nil, err
	}
	idx := &monthIndex{file: f, keys: keys}
	c.files[path] = idx
	return idx, nil
}

func parseHTML(body []byte) (*goquery.Document, error) {
	utf8Body, err := decodeHTML(body)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(utf8Body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

func parseRows(doc *goquery.Document) []SinaRow {
	var rows []SinaRow
	doc.Find("div.main table tr").Each(func(_ int, tr *goquery.Selection) {
		link := tr.Find("td.tal.f14 a").First()
		if link.Length() == 0 {
			return
		}
		href := strings.TrimSpace(link.AttrOr("href", ""))
		if href == "" {
			return
		}
		if strings.HasPrefix(href, "//") {
			href = "https:" + href
		}
		title := strings.TrimSpace(link.AttrOr("title", ""))
		if title == "" {
			title = strings.TrimSpace(link.Text())
		}

		cells := tr.ChildrenFiltered("td")
		rows = append(rows, SinaRow{
			URL:        href,
			Title:      title,
			Type:       strings.TrimSpace(cells.Eq(2).Text()),
			Broker:     strings.TrimSpace(cells.Eq(4).Find("a div span").Text()),
			Researcher: strings.TrimSpace(cells.Eq(5).Find("div span").Text()),
		})
	})
	return rows
}

func parseLastPage(doc *goquery.Document) (int, bool) {
	var onclick string
	doc.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if strings.TrimSpace(a.Text()) == lastPageLabel {
			onclick = a.AttrOr("onclick", "")
			return false
		}
		return true
	})
	m := lastPagePattern.FindStringSubmatch(onclick)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func parseText(doc *goquery.Document) string {
	var parts []string
	doc.Find("div.blk_container p").Each(func(_ int, p *goquery.Selection) {
		if t := strings.TrimSpace(p.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	return strings.Join(parts, "\n")
}
