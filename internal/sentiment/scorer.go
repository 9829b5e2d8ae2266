package sentiment

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seenimoa/reportalpha/internal/store"
	"github.com/seenimoa/reportalpha/internal/textproc"
	"github.com/seenimoa/reportalpha/pkg/models"
)

// ScoreStore is the subset of the store used by the scorer.
type ScoreStore interface {
	store.ProcessedStore
	store.PredictionStore
}

// RunStats summarizes one scoring run.
type RunStats struct {
	Reports   int `json:"reports"`
	Scored    int `json:"scored"`
	Sentences int `json:"sentences"`
	Skipped   int `json:"skipped"`
	Existing  int `json:"existing"`
	Failed    int `json:"failed"`
}

// Scorer turns processed reports into sentence predictions and a composite
// score per report.
type Scorer struct {
	classifier Classifier
	store      ScoreStore
	normalizer *textproc.Normalizer
	maxLength  int
	logger     *zap.Logger
}

// NewScorer wires a scorer. normalizer supplies the boilerplate filter.
func NewScorer(c Classifier, st ScoreStore, normalizer *textproc.Normalizer, maxLength int, logger *zap.Logger) *Scorer {
	return &Scorer{
		classifier: c,
		store:      st,
		normalizer: normalizer,
		maxLength:  maxLength,
		logger:     logger.Named("sentiment"),
	}
}

// PredictionID is the stable id of the prediction for sentence index of a
// report, so rescoring overwrites rather than duplicates.
func PredictionID(reportKey string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(reportKey+"#"+strconv.Itoa(index))).String()
}

// ScoreReport classifies the non-boilerplate sentences of p and returns the
// predictions with their mean adjusted score. ok is false when no sentence
// survives filtering; such a report has no score.
func (s *Scorer) ScoreReport(ctx context.Context, p models.ProcessedReport) (preds []models.SentimentPrediction, composite float64, ok bool, err error) {
	sentences := s.normalizer.Filter(p.Sentences)
	if len(sentences) == 0 {
		return nil, 0, false, nil
	}

	logits, err := s.classifier.Logits(ctx, sentences, s.maxLength)
	if err != nil {
		return nil, 0, false, fmt.Errorf("classify %s: %w", p.Key, err)
	}
	if len(logits) != len(sentences) {
		return nil, 0, false, fmt.Errorf("classify %s: %w: %d logits for %d sentences",
			p.Key, ErrClassifier, len(logits), len(sentences))
	}

	preds = make([]models.SentimentPrediction, len(sentences))
	sum := 0.0
	for i, sentence := range sentences {
		probs := Softmax(logits[i])
		label := models.LabelNegative
		if probs[1] > probs[0] {
			label = models.LabelPositive
		}
		adjusted := probs[1] - 0.5
		sum += adjusted

		preds[i] = models.SentimentPrediction{
			ID:            PredictionID(p.Key, i),
			ReportKey:     p.Key,
			Index:         i,
			StockCode:     p.StockCode,
			PublishDate:   p.PublishDate,
			Title:         p.Title,
			Sentence:      sentence,
			Label:         label,
			PositiveProb:  probs[1],
			AdjustedScore: adjusted,
		}
	}
	return preds, sum / float64(len(sentences)), true, nil
}

// Run scores every unscored processed report matching q in publish date
// order. A failing report is logged and skipped.
func (s *Scorer) Run(ctx context.Context, q store.Query) (*RunStats, error) {
	reports, err := s.store.Processed(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("load processed reports: %w", err)
	}

	stats := &RunStats{Reports: len(reports)}
	day, dayCount := "", 0
	flushDay := func() {
		if day != "" {
			s.logger.Info("day scored", zap.String("date", day), zap.Int("reports", dayCount))
		}
	}

	for _, p := range reports {
		if err := ctx.Err(); err != nil {
			flushDay()
			return stats, err
		}
		if p.PublishDate != day {
			flushDay()
			day, dayCount = p.PublishDate, 0
		}

		if p.Score != nil {
			stats.Existing++
			continue
		}

		preds, composite, ok, err := s.ScoreReport(ctx, p)
		if err != nil {
			s.logger.Error("scoring failed", zap.String("key", p.Key), zap.Error(err))
			stats.Failed++
			continue
		}
		if !ok {
			// Drop predictions left from sentences a re-split removed.
			if err := s.store.ReplacePredictions(ctx, p.Key, nil); err != nil {
				s.logger.Error("clearing predictions failed", zap.String("key", p.Key), zap.Error(err))
			}
			stats.Skipped++
			continue
		}

		if err := s.store.ReplacePredictions(ctx, p.Key, preds); err != nil {
			s.logger.Error("saving predictions failed", zap.String("key", p.Key), zap.Error(err))
			stats.Failed++
			continue
		}
		if err := s.store.SetScore(ctx, p.Key, composite); err != nil {
			s.logger.Error("saving score failed", zap.String("key", p.Key), zap.Error(err))
			stats.Failed++
			continue
		}

		stats.Scored++
		stats.Sentences += len(preds)
		dayCount++
	}
	flushDay()

	s.logger.Info("scoring finished",
		zap.Int("reports", stats.Reports), zap.Int("scored", stats.Scored),
		zap.Int("skipped", stats.Skipped), zap.Int("failed", stats.Failed))
	return stats, nil
}
