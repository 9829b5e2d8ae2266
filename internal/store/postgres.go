package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/seenimoa/reportalpha/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS reports (
	key          TEXT PRIMARY KEY,
	source       TEXT NOT NULL,
	stock_code   TEXT,
	org          TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL DEFAULT '',
	category     TEXT NOT NULL DEFAULT '',
	publish_date TEXT NOT NULL,
	researcher   TEXT NOT NULL DEFAULT '',
	body         TEXT NOT NULL DEFAULT '',
	file_path    TEXT NOT NULL DEFAULT '',
	pages        INTEGER NOT NULL DEFAULT 0,
	period       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS reports_publish_date_idx ON reports (publish_date);

CREATE TABLE IF NOT EXISTS processed_reports (
	key          TEXT PRIMARY KEY,
	source       TEXT NOT NULL,
	stock_code   TEXT,
	org          TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL DEFAULT '',
	category     TEXT NOT NULL DEFAULT '',
	publish_date TEXT NOT NULL,
	period       TEXT NOT NULL DEFAULT '',
	sentences    TEXT[],
	score        DOUBLE PRECISION
);
CREATE INDEX IF NOT EXISTS processed_reports_publish_date_idx ON processed_reports (publish_date);

CREATE TABLE IF NOT EXISTS sentence_predictions (
	id             TEXT PRIMARY KEY,
	report_key     TEXT NOT NULL,
	idx            INTEGER NOT NULL,
	stock_code     TEXT,
	publish_date   TEXT NOT NULL,
	title          TEXT NOT NULL DEFAULT '',
	sentence       TEXT NOT NULL,
	label          TEXT NOT NULL,
	positive_prob  DOUBLE PRECISION NOT NULL,
	adjusted_score DOUBLE PRECISION NOT NULL
);
CREATE INDEX IF NOT EXISTS sentence_predictions_report_idx ON sentence_predictions (report_key);
`

// PostgresStore implements Store on PostgreSQL through a pgx pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// OpenPostgres connects to dsn and creates the tables when missing.
func OpenPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	logger.Debug("postgres store opened", zap.String("host", cfg.ConnConfig.Host))
	return &PostgresStore{pool: pool, logger: logger}, nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// ── Reports ──

const reportColumns = `key, source, stock_code, org, title, category, publish_date, researcher, body, file_path, pages, period`

func (s *PostgresStore) HasReport(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM reports WHERE key = $1)`, key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to look up report %s: %w", key, err)
	}
	return exists, nil
}

func (s *PostgresStore) InsertReport(ctx context.Context, r models.ReportRecord) (bool, error) {
	if r.Key == "" {
		return false, fmt.Errorf("report key is required")
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO reports (`+reportColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		 ON CONFLICT (key) DO NOTHING`,
		reportArgs(r)...)
	if err != nil {
		return false, fmt.Errorf("failed to insert report %s: %w", r.Key, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) Reports(ctx context.Context, q Query) ([]models.ReportRecord, error) {
	where, args := dateWhere(q)
	rows, err := s.pool.Query(ctx, `SELECT `+reportColumns+` FROM reports`+where+` ORDER BY publish_date, key`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	var out []models.ReportRecord
	for rows.Next() {
		var r models.ReportRecord
		var code *string
		if err := rows.Scan(&r.Key, &r.Source, &code, &r.Org, &r.Title, &r.Category, &r.PublishDate,
			&r.Researcher, &r.Text, &r.FilePath, &r.Pages, &r.Period); err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		if code != nil {
			r.StockCode = *code
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) PutReports(ctx context.Context, rs []models.ReportRecord) error {
	b := &pgx.Batch{}
	for _, r := range rs {
		b.Queue(`INSERT INTO reports (`+reportColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
			ON CONFLICT (key) DO UPDATE SET
				source = EXCLUDED.source, stock_code = EXCLUDED.stock_code, org = EXCLUDED.org,
				title = EXCLUDED.title, category = EXCLUDED.category, publish_date = EXCLUDED.publish_date,
				researcher = EXCLUDED.researcher, body = EXCLUDED.body, file_path = EXCLUDED.file_path,
				pages = EXCLUDED.pages, period = EXCLUDED.period`,
			reportArgs(r)...)
	}
	return s.sendBatch(ctx, b)
}

// ── Processed corpus ──

const processedColumns = `key, source, stock_code, org, title, category, publish_date, period, sentences, score`

func (s *PostgresStore) PutProcessed(ctx context.Context, ps []models.ProcessedReport) error {
	b := &pgx.Batch{}
	for _, p := range ps {
		b.Queue(`INSERT INTO processed_reports (`+processedColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			ON CONFLICT (key) DO UPDATE SET
				source = EXCLUDED.source, stock_code = EXCLUDED.stock_code, org = EXCLUDED.org,
				title = EXCLUDED.title, category = EXCLUDED.category, publish_date = EXCLUDED.publish_date,
				period = EXCLUDED.period, sentences = EXCLUDED.sentences, score = EXCLUDED.score`,
			p.Key, string(p.Source), nullable(p.StockCode), p.Org, p.Title, p.Category,
			p.PublishDate, p.Period, p.Sentences, p.Score)
	}
	return s.sendBatch(ctx, b)
}

func (s *PostgresStore) Processed(ctx context.Context, q Query) ([]models.ProcessedReport, error) {
	where, args := dateWhere(q)
	rows, err := s.pool.Query(ctx, `SELECT `+processedColumns+` FROM processed_reports`+where+` ORDER BY publish_date, key`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query processed reports: %w", err)
	}
	defer rows.Close()

	var out []models.ProcessedReport
	for rows.Next() {
		var p models.ProcessedReport
		var code *string
		if err := rows.Scan(&p.Key, &p.Source, &code, &p.Org, &p.Title, &p.Category,
			&p.PublishDate, &p.Period, &p.Sentences, &p.Score); err != nil {
			return nil, fmt.Errorf("failed to scan processed report: %w", err)
		}
		if code != nil {
			p.StockCode = *code
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetScore(ctx context.Context, key string, score float64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE processed_reports SET score = $2 WHERE key = $1`, key, score)
	if err != nil {
		return fmt.Errorf("failed to update score for %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("processed report %s: %w", key, ErrNotFound)
	}
	return nil
}

// ── Predictions ──

func (s *PostgresStore) ReplacePredictions(ctx context.Context, reportKey string, ps []models.SentimentPrediction) error {
	if err := checkPredictionKeys(reportKey, ps); err != nil {
		return err
	}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		b := &pgx.Batch{}
		b.Queue(`DELETE FROM sentence_predictions WHERE report_key = $1`, reportKey)
		for _, p := range ps {
			b.Queue(`INSERT INTO sentence_predictions
				(id, report_key, idx, stock_code, publish_date, title, sentence, label, positive_prob, adjusted_score)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
				ON CONFLICT (id) DO UPDATE SET
					report_key = EXCLUDED.report_key, idx = EXCLUDED.idx, stock_code = EXCLUDED.stock_code,
					publish_date = EXCLUDED.publish_date, title = EXCLUDED.title, sentence = EXCLUDED.sentence,
					label = EXCLUDED.label, positive_prob = EXCLUDED.positive_prob,
					adjusted_score = EXCLUDED.adjusted_score`,
				p.ID, p.ReportKey, p.Index, nullable(p.StockCode), p.PublishDate, p.Title,
				p.Sentence, string(p.Label), p.PositiveProb, p.AdjustedScore)
		}
		return tx.SendBatch(ctx, b).Close()
	})
	if err != nil {
		return fmt.Errorf("failed to replace predictions for %s: %w", reportKey, err)
	}
	return nil
}

func (s *PostgresStore) Predictions(ctx context.Context, reportKey string) ([]models.SentimentPrediction, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, report_key, idx, stock_code, publish_date, title, sentence, label, positive_prob, adjusted_score
		FROM sentence_predictions WHERE report_key = $1 ORDER BY idx`, reportKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query predictions for %s: %w", reportKey, err)
	}
	defer rows.Close()

	var out []models.SentimentPrediction
	for rows.Next() {
		var p models.SentimentPrediction
		var code *string
		if err := rows.Scan(&p.ID, &p.ReportKey, &p.Index, &code, &p.PublishDate, &p.Title,
			&p.Sentence, &p.Label, &p.PositiveProb, &p.AdjustedScore); err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		if code != nil {
			p.StockCode = *code
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// sendBatch executes every queued statement and reports the first failure.
func (s *PostgresStore) sendBatch(ctx context.Context, b *pgx.Batch) error {
	if b.Len() == 0 {
		return nil
	}
	br := s.pool.SendBatch(ctx, b)
	var first error
	for i := 0; i < b.Len(); i++ {
		if _, err := br.Exec(); err != nil && first == nil {
			first = err
		}
	}
	if err := br.Close(); err != nil && first == nil {
		first = err
	}
	if first != nil {
		return fmt.Errorf("batch write: %w", first)
	}
	return nil
}

func reportArgs(r models.ReportRecord) []any {
	return []any{r.Key, string(r.Source), nullable(r.StockCode), r.Org, r.Title, r.Category,
		r.PublishDate, r.Researcher, r.Text, r.FilePath, r.Pages, r.Period}
}

// nullable maps the empty stock code to SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func dateWhere(q Query) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if q.From != "" {
		add("publish_date >= $%d", q.From)
	}
	if q.To != "" {
		add("publish_date <= $%d", q.To)
	}
	if q.Source != "" {
		add("source = $%d", string(q.Source))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	where := " WHERE " + clauses[0]
	for _, c := range clauses[1:] {
		where += " AND " + c
	}
	return where, args
}

