// Package market downloads periodic price history from the Eastmoney kline
// API and stores it as one CSV file per stock.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"go.uber.org/zap"

	"github.com/seenimoa/reportalpha/internal/config"
	"github.com/seenimoa/reportalpha/internal/infra"
	"github.com/seenimoa/reportalpha/pkg/models"
	"github.com/seenimoa/reportalpha/pkg/utils"
)

// ErrNoHistory is returned when the API knows no bars for a security.
var ErrNoHistory = errors.New("no price history")

const (
	fetchAttempts   = 3
	fetchBackoff    = time.Second
	fetchMaxBackoff = 10 * time.Second

	openEndDate = "20500101"
)

// Period codes of the kline API.
var periodCodes = map[string]string{
	"monthly": "103",
	"daily":   "101",
}

// Client fetches kline history.
type Client struct {
	cfg     config.MarketConfig
	fetcher *infra.Fetcher
	rng     *infra.Rand
	logger  *zap.Logger
}

// NewClient creates a kline client.
func NewClient(cfg config.MarketConfig, fetcher *infra.Fetcher, rng *infra.Rand, logger *zap.Logger) *Client {
	return &Client{cfg: cfg, fetcher: fetcher, rng: rng, logger: logger.Named("market")}
}

func (c *Client) klineURL(secid string) (string, error) {
	u, err := url.Parse(c.cfg.KlineURL)
	if err != nil {
		return "", fmt.Errorf("parse kline url: %w", err)
	}
	klt, ok := periodCodes[c.cfg.Period]
	if !ok {
		klt = periodCodes["monthly"]
	}
	beg := strings.ReplaceAll(c.cfg.StartDate, "-", "")
	if beg == "" {
		beg = "0"
	}
	end := strings.ReplaceAll(c.cfg.EndDate, "-", "")
	if end == "" {
		end = openEndDate
	}

	q := u.Query()
	q.Set("secid", secid)
	q.Set("fields1", "f1,f2,f3,f4,f5,f6")
	q.Set("fields2", "f51,f52,f53,f54,f55,f56,f57,f58,f59,f60,f61")
	q.Set("klt", klt)
	q.Set("fqt", "0")
	q.Set("beg", beg)
	q.Set("end", end)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Fetch returns the bars of secid labelled with code.
func (c *Client) Fetch(ctx context.Context, secid, code string) ([]models.ReturnPoint, error) {
	u, err := c.klineURL(secid)
	if err != nil {
		return nil, err
	}
	policy := infra.NewRetryPolicy(fetchAttempts,
		infra.Exponential(fetchBackoff, fetchMaxBackoff, 2, 0.25, c.rng))

	var points []models.ReturnPoint
	err = policy.Do(ctx, c.logger, "kline "+secid, func(int) error {
		body, err := c.fetcher.Get(ctx, u, nil)
		if err != nil {
			return err
		}
		p, err := parseKlines(code, body)
		if err != nil {
			return infra.Permanent(err)
		}
		points = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", secid, err)
	}
	return points, nil
}

type klineResponse struct {
	Data *struct {
		Code   string   `json:"code"`
		Klines []string `json:"klines"`
	} `json:"data"`
}

// parseKlines decodes "date,open,close,high,low,volume,amount,amplitude,
// pct_change,change,turnover" bars.
func parseKlines(code string, body []byte) ([]models.ReturnPoint, error) {
	var resp klineResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode kline response: %w", err)
	}
	if resp.Data == nil || len(resp.Data.Klines) == 0 {
		return nil, ErrNoHistory
	}

	points := make([]models.ReturnPoint, 0, len(resp.Data.Klines))
	for _, line := range resp.Data.Klines {
		fields := strings.Split(line, ",")
		if len(fields) < 9 {
			return nil, fmt.Errorf("kline %q: want 11 fields, got %d", line, len(fields))
		}
		closePrice, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, fmt.Errorf("kline %q close: %w", line, err)
		}
		pct, err := strconv.ParseFloat(fields[8], 64)
		if err != nil {
			return nil, fmt.Errorf("kline %q pct change: %w", line, err)
		}
		points = append(points, models.ReturnPoint{
			Code:      code,
			Date:      fields[0],
			Close:     closePrice,
			PctChange: pct,
		})
	}
	return points, nil
}

// Stats summarizes a history collection run.
type Stats struct {
	Codes   int `json:"codes"`
	Written int `json:"written"`
	Invalid int `json:"invalid"`
	Failed  int `json:"failed"`
}

// Collect fetches and writes the history of every valid code to
// {history_dir}/{code}.csv. Invalid codes are logged and skipped.
func (c *Client) Collect(ctx context.Context, codes []string) (*Stats, error) {
	stats := &Stats{Codes: len(codes)}
	for _, raw := range codes {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		code := utils.NormalizeCode(raw)
		if !utils.IsValidCode(code) {
			c.logger.Warn("invalid stock code skipped", zap.String("code", raw))
			stats.Invalid++
			continue
		}
		points, err := c.Fetch(ctx, utils.SecID(code), code)
		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			c.logger.Error("history not fetched", zap.String("code", code), zap.Error(err))
			stats.Failed++
			continue
		}
		if err := WriteHistory(filepath.Join(c.cfg.HistoryDir, code+".csv"), points); err != nil {
			return stats, err
		}
		stats.Written++
	}
	c.logger.Info("history collected",
		zap.Int("written", stats.Written), zap.Int("invalid", stats.Invalid), zap.Int("failed", stats.Failed))
	return stats, nil
}

// CollectBenchmark fetches the benchmark index into its own file.
func (c *Client) CollectBenchmark(ctx context.Context) error {
	code := c.cfg.BenchmarkSecID
	if i := strings.IndexByte(code, '.'); i >= 0 {
		code = code[i+1:]
	}
	points, err := c.Fetch(ctx, c.cfg.BenchmarkSecID, code)
	if err != nil {
		return err
	}
	return WriteHistory(c.cfg.BenchmarkFile, points)
}

// DistinctCodes returns the sorted distinct valid stock codes of the corpus
// and, separately, the raw codes that could not be normalized.
func DistinctCodes(reports []models.ProcessedReport) (valid, invalid []string) {
	seen := make(map[string]struct{})
	bad := make(map[string]struct{})
	for _, r := range reports {
		if r.StockCode == "" {
			continue
		}
		code := utils.NormalizeCode(r.StockCode)
		if utils.IsValidCode(code) {
			seen[code] = struct{}{}
		} else {
			bad[r.StockCode] = struct{}{}
		}
	}
	for c := range seen {
		valid = append(valid, c)
	}
	for c := range bad {
		invalid = append(invalid, c)
	}
	sort.Strings(valid)
	sort.Strings(invalid)
	return valid, invalid
}

// WriteHistory saves points as a CSV with columns 股票代码,日期,收盘,涨跌幅.
func WriteHistory(path string, points []models.ReturnPoint) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create history directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	rows := make([]*models.ReturnPoint, len(points))
	for i := range points {
		rows[i] = &points[i]
	}
	if err := gocsv.MarshalFile(&rows, f); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// ReadHistory loads a history CSV. Codes are normalized to six digits.
func ReadHistory(path string) ([]models.ReturnPoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var rows []*models.ReturnPoint
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	points := make([]models.ReturnPoint, len(rows))
	for i, r := range rows {
		points[i] = *r
		points[i].Code = utils.NormalizeCode(r.Code)
	}
	return points, nil
}

// LoadHistoryDir reads every CSV in dir keyed by the stock code taken from
// the file name ("600000.csv" or "600000_2008_history.csv").
func LoadHistoryDir(dir string) (map[string][]models.ReturnPoint, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read history directory: %w", err)
	}
	out := make(map[string][]models.ReturnPoint)
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		code := utils.NormalizeCode(strings.SplitN(stem, "_", 2)[0])
		if !utils.IsValidCode(code) {
			continue
		}
		points, err := ReadHistory(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		for i := range points {
			points[i].Code = code
		}
		out[code] = points
	}
	return out, nil
}
