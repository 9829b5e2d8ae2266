package store

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
	"go.uber.org/zap"

	"github.com/seenimoa/reportalpha/pkg/models"
)

// BadgerStore implements Store on an embedded badgerhold database.
type BadgerStore struct {
	store  *badgerhold.Store
	logger *zap.Logger
}

// OpenBadger opens (or creates) the database directory at path.
func OpenBadger(path string, logger *zap.Logger) (*BadgerStore, error) {
	if path == "" {
		return nil, fmt.Errorf("badger path is required")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = path
	options.ValueDir = path
	options.Logger = nil // badger's own logger is noisy; errors surface through zap

	s, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	logger.Debug("badger store opened", zap.String("path", path))
	return &BadgerStore{store: s, logger: logger}, nil
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// ── Reports ──

func (s *BadgerStore) HasReport(ctx context.Context, key string) (bool, error) {
	var r models.ReportRecord
	err := s.store.Get(key, &r)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, badgerhold.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("failed to look up report %s: %w", key, err)
	}
}

func (s *BadgerStore) InsertReport(ctx context.Context, r models.ReportRecord) (bool, error) {
	if r.Key == "" {
		return false, fmt.Errorf("report key is required")
	}
	err := s.store.Insert(r.Key, r)
	if errors.Is(err, badgerhold.ErrKeyExists) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert report %s: %w", r.Key, err)
	}
	return true, nil
}

func (s *BadgerStore) Reports(ctx context.Context, q Query) ([]models.ReportRecord, error) {
	var out []models.ReportRecord
	if err := s.store.Find(&out, dateQuery(q)); err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	return out, nil
}

func (s *BadgerStore) PutReports(ctx context.Context, rs []models.ReportRecord) error {
	return s.batch(len(rs), func(tx *badger.Txn, i int) error {
		return s.store.TxUpsert(tx, rs[i].Key, rs[i])
	}, func(i int) error {
		return s.store.Upsert(rs[i].Key, rs[i])
	})
}

// ── Processed corpus ──

func (s *BadgerStore) PutProcessed(ctx context.Context, ps []models.ProcessedReport) error {
	return s.batch(len(ps), func(tx *badger.Txn, i int) error {
		return s.store.TxUpsert(tx, ps[i].Key, ps[i])
	}, func(i int) error {
		return s.store.Upsert(ps[i].Key, ps[i])
	})
}

func (s *BadgerStore) Processed(ctx context.Context, q Query) ([]models.ProcessedReport, error) {
	var out []models.ProcessedReport
	if err := s.store.Find(&out, dateQuery(q)); err != nil {
		return nil, fmt.Errorf("failed to query processed reports: %w", err)
	}
	return out, nil
}

func (s *BadgerStore) SetScore(ctx context.Context, key string, score float64) error {
	var p models.ProcessedReport
	if err := s.store.Get(key, &p); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("processed report %s: %w", key, ErrNotFound)
		}
		return fmt.Errorf("failed to get processed report %s: %w", key, err)
	}
	p.Score = &score
	if err := s.store.Update(key, p); err != nil {
		return fmt.Errorf("failed to update score for %s: %w", key, err)
	}
	return nil
}

// ── Predictions ──

func (s *BadgerStore) ReplacePredictions(ctx context.Context, reportKey string, ps []models.SentimentPrediction) error {
	if err := checkPredictionKeys(reportKey, ps); err != nil {
		return err
	}
	match := badgerhold.Where("ReportKey").Eq(reportKey)
	err := s.store.Badger().Update(func(tx *badger.Txn) error {
		if err := s.store.TxDeleteMatching(tx, &models.SentimentPrediction{}, match); err != nil {
			return err
		}
		for _, p := range ps {
			if err := s.store.TxUpsert(tx, p.ID, p); err != nil {
				return err
			}
		}
		return nil
	})
	if !errors.Is(err, badger.ErrTxnTooBig) {
		if err != nil {
			return fmt.Errorf("failed to replace predictions for %s: %w", reportKey, err)
		}
		return nil
	}

	s.logger.Debug("predictions too large for one transaction, writing individually",
		zap.String("report_key", reportKey), zap.Int("records", len(ps)))
	if err := s.store.DeleteMatching(&models.SentimentPrediction{}, match); err != nil {
		return fmt.Errorf("failed to replace predictions for %s: %w", reportKey, err)
	}
	for _, p := range ps {
		if err := s.store.Upsert(p.ID, p); err != nil {
			return fmt.Errorf("failed to replace predictions for %s: %w", reportKey, err)
		}
	}
	return nil
}

func (s *BadgerStore) Predictions(ctx context.Context, reportKey string) ([]models.SentimentPrediction, error) {
	var out []models.SentimentPrediction
	if err := s.store.Find(&out, badgerhold.Where("ReportKey").Eq(reportKey).SortBy("Index")); err != nil {
		return nil, fmt.Errorf("failed to query predictions for %s: %w", reportKey, err)
	}
	return out, nil
}

// batch writes n records in one transaction, falling back to one write per
// record when the transaction grows past badger's size limit.
func (s *BadgerStore) batch(n int, inTx func(tx *badger.Txn, i int) error, single func(i int) error) error {
	if n == 0 {
		return nil
	}
	err := s.store.Badger().Update(func(tx *badger.Txn) error {
		for i := 0; i < n; i++ {
			if err := inTx(tx, i); err != nil {
				return err
			}
		}
		return nil
	})
	if !errors.Is(err, badger.ErrTxnTooBig) {
		if err != nil {
			return fmt.Errorf("batch write: %w", err)
		}
		return nil
	}

	s.logger.Debug("batch too large for one transaction, writing records individually", zap.Int("records", n))
	for i := 0; i < n; i++ {
		if err := single(i); err != nil {
			return fmt.Errorf("batch write: %w", err)
		}
	}
	return nil
}

// dateQuery builds a publish-date range scan sorted by date then key.
func dateQuery(q Query) *badgerhold.Query {
	query := badgerhold.Where("PublishDate").Ge(q.From)
	if q.To != "" {
		query = query.And("PublishDate").Le(q.To)
	}
	if q.Source != "" {
		query = query.And("Source").Eq(q.Source)
	}
	return query.SortBy("PublishDate", "Key")
}
