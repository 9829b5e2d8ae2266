// Package etl moves reports between the crawl outputs, the report store and
// the processed corpus: importing month files, extracting PDF text, cleaning
// text in place and splitting it into sentences.
package etl

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/seenimoa/reportalpha/internal/pdfdoc"
	"github.com/seenimoa/reportalpha/internal/store"
	"github.com/seenimoa/reportalpha/internal/textproc"
	"github.com/seenimoa/reportalpha/pkg/models"
	"github.com/seenimoa/reportalpha/pkg/utils"
)

// Stats counts the records a stage touched.
type Stats struct {
	Read    int `json:"read"`
	Written int `json:"written"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Pipeline runs the corpus preparation stages against one store.
type Pipeline struct {
	store      store.Store
	normalizer *textproc.Normalizer
	flushSize  int
	logger     *zap.Logger

	extract func(path string) (string, error)
}

// New creates a pipeline. Writes are flushed every flushSize records.
func New(st store.Store, normalizer *textproc.Normalizer, flushSize int, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		store:      st,
		normalizer: normalizer,
		flushSize:  max(flushSize, 1),
		logger:     logger.Named("etl"),
		extract:    pdfdoc.ExtractText,
	}
}

// batch buffers values and flushes them in groups.
type batch[T any] struct {
	size  int
	buf   []T
	flush func([]T) error
}

func (b *batch[T]) add(v T) error {
	b.buf = append(b.buf, v)
	if len(b.buf) >= b.size {
		return b.drain()
	}
	return nil
}

func (b *batch[T]) drain() error {
	if len(b.buf) == 0 {
		return nil
	}
	err := b.flush(b.buf)
	b.buf = b.buf[:0]
	return err
}

// CategoryFromDir maps a month file directory such as "分析师个股报告" to its
// category label "个股".
func CategoryFromDir(dir string) string {
	name := filepath.Base(dir)
	return strings.TrimSuffix(strings.TrimPrefix(name, "分析师"), "报告")
}

// Import loads every month file below dir into the report store. Rows whose
// URL is already stored are counted as skipped.
func (p *Pipeline) Import(ctx context.Context, dir string) (*Stats, error) {
	stats := &Stats{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".csv") {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		return p.importFile(ctx, path, stats)
	})
	if err != nil {
		return stats, fmt.Errorf("import %s: %w", dir, err)
	}
	p.logger.Info("import finished", zap.String("dir", dir),
		zap.Int("read", stats.Read), zap.Int("written", stats.Written),
		zap.Int("skipped", stats.Skipped), zap.Int("failed", stats.Failed))
	return stats, nil
}

func (p *Pipeline) importFile(ctx context.Context, path string, stats *Stats) error {
	rows, err := store.ReadMonthFile(path)
	if err != nil {
		p.logger.Error("month file unreadable", zap.String("path", path), zap.Error(err))
		stats.Failed++
		return nil
	}
	category := CategoryFromDir(filepath.Dir(path))
	period := store.MonthFromPath(path)
	if _, err := time.Parse(utils.MonthLayout, period); err != nil {
		period = ""
	}

	for _, row := range rows {
		stats.Read++
		if row.URL == "" {
			stats.Failed++
			continue
		}
		rec := row.ToRecord(models.SourceSina, category)
		if period != "" {
			rec.Period = period
		}
		inserted, err := p.store.InsertReport(ctx, rec)
		if err != nil {
			return err
		}
		if inserted {
			stats.Written++
		} else {
			stats.Skipped++
		}
	}
	p.logger.Debug("month file imported", zap.String("path", path), zap.Int("rows", len(rows)))
	return nil
}

// Extract fills the text of downloaded Eastmoney reports from their PDFs.
// Reports that already have text are left alone.
func (p *Pipeline) Extract(ctx context.Context, q store.Query) (*Stats, error) {
	q.Source = models.SourceEastmoney
	reports, err := p.store.Reports(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("load reports: %w", err)
	}

	stats := &Stats{}
	b := &batch[models.ReportRecord]{size: p.flushSize, flush: func(rs []models.ReportRecord) error {
		return p.store.PutReports(ctx, rs)
	}}

	for _, r := range reports {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Read++
		if r.Text != "" || r.FilePath == "" {
			stats.Skipped++
			continue
		}
		text, err := p.extract(r.FilePath)
		if err != nil {
			p.logger.Error("pdf text extraction failed",
				zap.String("key", r.Key), zap.String("path", r.FilePath), zap.Error(err))
			stats.Failed++
			continue
		}
		r.Text = text
		if err := b.add(r); err != nil {
			return stats, err
		}
		stats.Written++
	}
	if err := b.drain(); err != nil {
		return stats, err
	}
	p.logger.Info("extraction finished", zap.Int("written", stats.Written), zap.Int("failed", stats.Failed))
	return stats, nil
}

// Clean replaces each report's text with its normalized form.
func (p *Pipeline) Clean(ctx context.Context, q store.Query) (*Stats, error) {
	reports, err := p.store.Reports(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("load reports: %w", err)
	}

	stats := &Stats{}
	b := &batch[models.ReportRecord]{size: p.flushSize, flush: func(rs []models.ReportRecord) error {
		p.logger.Debug("flushing cleaned reports", zap.Int("count", len(rs)))
		return p.store.PutReports(ctx, rs)
	}}

	for _, r := range reports {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Read++
		cleaned := p.normalizer.Normalize(r.Text)
		if cleaned == r.Text {
			stats.Skipped++
			continue
		}
		r.Text = cleaned
		if err := b.add(r); err != nil {
			return stats, err
		}
		stats.Written++
	}
	if err := b.drain(); err != nil {
		return stats, err
	}
	p.logger.Info("cleaning finished", zap.Int("read", stats.Read), zap.Int("written", stats.Written))
	return stats, nil
}

// Split writes a processed entry per report holding its non-boilerplate
// sentences. A report with none left gets nil sentences. An existing score survives when the
// sentences are unchanged.
func (p *Pipeline) Split(ctx context.Context, q store.Query) (*Stats, error) {
	reports, err := p.store.Reports(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("load reports: %w", err)
	}
	existing, err := p.store.Processed(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("load processed reports: %w", err)
	}
	byKey := make(map[string]models.ProcessedReport, len(existing))
	for _, e := range existing {
		byKey[e.Key] = e
	}

	stats := &Stats{}
	b := &batch[models.ProcessedReport]{size: p.flushSize, flush: func(ps []models.ProcessedReport) error {
		return p.store.PutProcessed(ctx, ps)
	}}

	for _, r := range reports {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Read++
		sentences := p.normalizer.Sentences(r.Text)
		if len(sentences) == 0 {
			sentences = nil
		}

		if e, ok := byKey[r.Key]; ok && slices.Equal(e.Sentences, sentences) {
			stats.Skipped++
			continue
		}
		if err := b.add(models.FromRecord(r, sentences)); err != nil {
			return stats, err
		}
		stats.Written++
	}
	if err := b.drain(); err != nil {
		return stats, err
	}
	p.logger.Info("splitting finished", zap.Int("read", stats.Read), zap.Int("written", stats.Written))
	return stats, nil
}
