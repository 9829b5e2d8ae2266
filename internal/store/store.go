// Package store persists reports, the cleaned corpus and sentence predictions.
//
// Two backends implement Store: an embedded badger database (the default)
// and PostgreSQL. Both key reports by URL or info code so that repeated
// inserts of the same report are no-ops.
package store

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/seenimoa/reportalpha/internal/config"
	"github.com/seenimoa/reportalpha/pkg/models"
)

// ErrNotFound is returned when a keyed lookup has no match.
var ErrNotFound = errors.New("record not found")

// ErrUnknownDriver is returned by Open for an unsupported driver name.
var ErrUnknownDriver = errors.New("unknown store driver")

// Query scopes a scan by inclusive publish date bounds ("2006-01-02").
// Empty bounds are open.
type Query struct {
	From string
	To   string
	// Source restricts the scan to one crawler when non-empty.
	Source models.Source
}

// Match reports whether a publish date and source satisfy q.
func (q Query) Match(date string, source models.Source) bool {
	if q.From != "" && date < q.From {
		return false
	}
	if q.To != "" && date > q.To {
		return false
	}
	return q.Source == "" || q.Source == source
}

// ReportStore holds raw crawled reports.
type ReportStore interface {
	// HasReport reports whether key is already persisted.
	HasReport(ctx context.Context, key string) (bool, error)
	// InsertReport persists r and returns false when its key already exists.
	InsertReport(ctx context.Context, r models.ReportRecord) (bool, error)
	// Reports returns reports matching q ordered by publish date then key.
	Reports(ctx context.Context, q Query) ([]models.ReportRecord, error)
	// PutReports replaces reports by key in one batch.
	PutReports(ctx context.Context, rs []models.ReportRecord) error
}

// ProcessedStore holds the cleaned, sentence-split corpus.
type ProcessedStore interface {
	// PutProcessed upserts processed entries by key in one batch.
	PutProcessed(ctx context.Context, ps []models.ProcessedReport) error
	// Processed returns entries matching q ordered by publish date then key.
	Processed(ctx context.Context, q Query) ([]models.ProcessedReport, error)
	// SetScore writes the composite score back onto an entry.
	SetScore(ctx context.Context, key string, score float64) error
}

// PredictionStore holds per-sentence classifier output.
type PredictionStore interface {
	// ReplacePredictions swaps every prediction of reportKey for ps in one
	// write. ps must all belong to reportKey.
	ReplacePredictions(ctx context.Context, reportKey string, ps []models.SentimentPrediction) error
	Predictions(ctx context.Context, reportKey string) ([]models.SentimentPrediction, error)
}

// Store combines every collection.
type Store interface {
	ReportStore
	ProcessedStore
	PredictionStore
	Close() error
}

// Open connects the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Driver {
	case "", "badger":
		return OpenBadger(cfg.BadgerPath, logger)
	case "postgres":
		return OpenPostgres(ctx, cfg.PostgresDSN, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

func checkPredictionKeys(reportKey string, ps []models.SentimentPrediction) error {
	if reportKey == "" {
		return fmt.Errorf("report key is required")
	}
	for _, p := range ps {
		if p.ReportKey != reportKey {
			return fmt.Errorf("prediction %s belongs to %q, not %q", p.ID, p.ReportKey, reportKey)
		}
	}
	return nil
}
