package sentiment

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/seenimoa/reportalpha/internal/store"
	"github.com/seenimoa/reportalpha/internal/textproc"
	"github.com/seenimoa/reportalpha/pkg/models"
)

func TestSoftmax(t *testing.T) {
	p := Softmax([2]float64{0, 0})
	if p[0] != 0.5 || p[1] != 0.5 {
		t.Errorf("Softmax(0, 0) = %v, want [0.5 0.5]", p)
	}
	p = Softmax([2]float64{1000, 1001})
	if math.IsNaN(p[1]) || math.Abs(p[0]+p[1]-1) > 1e-12 || p[1] <= p[0] {
		t.Errorf("Softmax(1000, 1001) = %v", p)
	}
	p = Softmax([2]float64{0, math.Log(3)})
	if math.Abs(p[1]-0.75) > 1e-12 {
		t.Errorf("Softmax(0, ln3)[1] = %v, want 0.75", p[1])
	}
}

func TestScoreSentence(t *testing.T) {
	tests := []struct {
		sentence string
		sign     int
	}{
		{"公司营收增长超预期,维持买入评级。", 1},
		{"三季度业绩低于预期,毛利率下滑。", -1},
		{"公司召开股东大会。", 0},
	}
	for _, tt := range tests {
		got := ScoreSentence(tt.sentence)
		if got < -1 || got > 1 {
			t.Errorf("ScoreSentence(%q) = %v out of range", tt.sentence, got)
		}
		switch {
		case tt.sign > 0 && got <= 0, tt.sign < 0 && got >= 0, tt.sign == 0 && got != 0:
			t.Errorf("ScoreSentence(%q) = %v, want sign %d", tt.sentence, got, tt.sign)
		}
	}
}

func TestLexiconClassifierLabels(t *testing.T) {
	logits, err := LexiconClassifier{}.Logits(context.Background(),
		[]string{"维持买入评级。", "业绩不及预期。", "公告。"}, 500)
	if err != nil {
		t.Fatalf("Logits() error: %v", err)
	}
	if logits[0][1] <= logits[0][0] {
		t.Errorf("bullish sentence logits = %v", logits[0])
	}
	if logits[1][1] >= logits[1][0] {
		t.Errorf("bearish sentence logits = %v", logits[1])
	}
	if logits[2][0] != logits[2][1] {
		t.Errorf("neutral sentence logits = %v", logits[2])
	}
}

func TestHTTPClassifier(t *testing.T) {
	var got classifyRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		logits := make([][]float64, len(got.Inputs))
		for i := range logits {
			logits[i] = []float64{0.1, 0.9}
		}
		json.NewEncoder(w).Encode(map[string]any{"logits": logits})
	}))
	defer srv.Close()

	c := NewHTTPClassifier(srv.URL, "secret", 5*time.Second)
	logits, err := c.Logits(context.Background(), []string{"甲。", "乙。"}, 500)
	if err != nil {
		t.Fatalf("Logits() error: %v", err)
	}
	if len(logits) != 2 || logits[1] != [2]float64{0.1, 0.9} {
		t.Errorf("logits = %v", logits)
	}
	if auth != "Bearer secret" {
		t.Errorf("Authorization = %q", auth)
	}
	if got.MaxLength != 500 || !got.Truncation || !got.Padding {
		t.Errorf("request = %+v", got)
	}
}

func TestHTTPClassifierRejectsShortResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"logits":[[0.1,0.9]]}`))
	}))
	defer srv.Close()

	_, err := NewHTTPClassifier(srv.URL, "", time.Second).Logits(context.Background(), []string{"a", "b"}, 10)
	if !errors.Is(err, ErrClassifier) {
		t.Errorf("Logits() error = %v, want ErrClassifier", err)
	}
}

// stubClassifier returns p(positive) = 0.75 for every sentence and records
// its inputs.
type stubClassifier struct {
	seen  []string
	calls int
	fail  string
}

func (c *stubClassifier) Logits(_ context.Context, sentences []string, _ int) ([][2]float64, error) {
	c.calls++
	for _, s := range sentences {
		if c.fail != "" && strings.Contains(s, c.fail) {
			return nil, errors.New("model unavailable")
		}
	}
	c.seen = append(c.seen, sentences...)
	out := make([][2]float64, len(sentences))
	for i := range out {
		out[i] = [2]float64{0, math.Log(3)}
	}
	return out, nil
}

func seedProcessed(t *testing.T, ps ...models.ProcessedReport) *store.BadgerStore {
	t.Helper()
	st, err := store.OpenBadger(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("OpenBadger() error: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.PutProcessed(context.Background(), ps); err != nil {
		t.Fatalf("PutProcessed() error: %v", err)
	}
	return st
}

func TestScorerRun(t *testing.T) {
	st := seedProcessed(t,
		models.ProcessedReport{Key: "r1", StockCode: "600000", PublishDate: "2024-03-08",
			Sentences: []string{"业绩稳健。", "数据来源Wind。", "维持评级。"}},
		models.ProcessedReport{Key: "r2", StockCode: "600000", PublishDate: "2024-03-09"},
		models.ProcessedReport{Key: "r3", StockCode: "000001", PublishDate: "2024-03-09",
			Sentences: []string{"免责声明本报告仅供参考。"}},
	)
	clf := &stubClassifier{}
	s := NewScorer(clf, st, textproc.New(nil, nil), 500, zap.NewNop())
	ctx := context.Background()

	stats, err := s.Run(ctx, store.Query{})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if stats.Reports != 3 || stats.Scored != 1 || stats.Skipped != 2 || stats.Sentences != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if slices.Contains(clf.seen, "数据来源Wind。") {
		t.Error("boilerplate sentence reached the classifier")
	}

	ps, err := st.Processed(ctx, store.Query{})
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range ps {
		switch p.Key {
		case "r1":
			if p.Score == nil || math.Abs(*p.Score-0.25) > 1e-9 {
				t.Errorf("r1 score = %v, want 0.25", p.Score)
			}
		default:
			if p.Score != nil {
				t.Errorf("%s has score %v, want none", p.Key, *p.Score)
			}
		}
	}

	preds, err := st.Predictions(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(preds) != 2 {
		t.Fatalf("got %d predictions, want 2", len(preds))
	}
	for i, p := range preds {
		if p.Index != i || p.Label != models.LabelPositive || math.Abs(p.AdjustedScore-0.25) > 1e-9 || p.ID == "" {
			t.Errorf("prediction %d = %+v", i, p)
		}
	}

	// Scored reports are not classified again.
	calls := clf.calls
	stats, err = s.Run(ctx, store.Query{})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Existing != 1 || clf.calls != calls {
		t.Errorf("rerun stats = %+v, classifier calls %d -> %d", stats, calls, clf.calls)
	}
}

// flakyScoreStore fails the first SetScore call.
type flakyScoreStore struct {
	*store.BadgerStore
	failed bool
}

func (f *flakyScoreStore) SetScore(ctx context.Context, key string, score float64) error {
	if !f.failed {
		f.failed = true
		return errors.New("write timeout")
	}
	return f.BadgerStore.SetScore(ctx, key, score)
}

func TestScorerRerunAfterFailedScoreWrite(t *testing.T) {
	st := &flakyScoreStore{BadgerStore: seedProcessed(t,
		models.ProcessedReport{Key: "r1", PublishDate: "2024-03-08", Sentences: []string{"业绩稳健。", "维持评级。"}},
	)}
	s := NewScorer(&stubClassifier{}, st, textproc.New(nil, nil), 500, zap.NewNop())
	ctx := context.Background()

	stats, err := s.Run(ctx, store.Query{})
	if err != nil || stats.Failed != 1 {
		t.Fatalf("first Run() = %+v, %v; want 1 failed", stats, err)
	}
	stats, err = s.Run(ctx, store.Query{})
	if err != nil || stats.Scored != 1 {
		t.Fatalf("second Run() = %+v, %v; want 1 scored", stats, err)
	}

	preds, err := st.Predictions(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(preds) != 2 {
		t.Fatalf("got %d predictions, want 2", len(preds))
	}
	for i, p := range preds {
		if p.ID != PredictionID("r1", i) {
			t.Errorf("prediction %d id = %s, want %s", i, p.ID, PredictionID("r1", i))
		}
	}
}

func TestRescoreReplacesPredictions(t *testing.T) {
	st := seedProcessed(t,
		models.ProcessedReport{Key: "r1", PublishDate: "2024-03-08", Sentences: []string{"业绩稳健。", "维持评级。"}},
	)
	s := NewScorer(&stubClassifier{}, st, textproc.New(nil, nil), 500, zap.NewNop())
	ctx := context.Background()

	if _, err := s.Run(ctx, store.Query{}); err != nil {
		t.Fatal(err)
	}
	// A re-split rewrites the entry without a score.
	resplit := []models.ProcessedReport{{Key: "r1", PublishDate: "2024-03-08", Sentences: []string{"业绩稳健。"}}}
	if err := st.PutProcessed(ctx, resplit); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Run(ctx, store.Query{}); err != nil {
		t.Fatal(err)
	}
	preds, _ := st.Predictions(ctx, "r1")
	if len(preds) != 1 || preds[0].Sentence != "业绩稳健。" {
		t.Errorf("predictions after re-split = %+v", preds)
	}

	// No sentence left clears the report's predictions.
	resplit[0].Sentences = nil
	if err := st.PutProcessed(ctx, resplit); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Run(ctx, store.Query{}); err != nil {
		t.Fatal(err)
	}
	if preds, _ := st.Predictions(ctx, "r1"); len(preds) != 0 {
		t.Errorf("got %d predictions for an empty report, want 0", len(preds))
	}
}

func TestPredictionIDIsStable(t *testing.T) {
	if PredictionID("r1", 0) != PredictionID("r1", 0) {
		t.Error("PredictionID is not deterministic")
	}
	if PredictionID("r1", 0) == PredictionID("r1", 1) || PredictionID("r1", 1) == PredictionID("r11", 0) {
		t.Error("PredictionID collides")
	}
}

func TestScorerRunIsolatesFailures(t *testing.T) {
	st := seedProcessed(t,
		models.ProcessedReport{Key: "bad", PublishDate: "2024-03-08", Sentences: []string{"坏句子。"}},
		models.ProcessedReport{Key: "good", PublishDate: "2024-03-08", Sentences: []string{"好句子。"}},
	)
	s := NewScorer(&stubClassifier{fail: "坏"}, st, textproc.New(nil, nil), 500, zap.NewNop())

	stats, err := s.Run(context.Background(), store.Query{})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if stats.Failed != 1 || stats.Scored != 1 {
		t.Errorf("stats = %+v, want 1 failed and 1 scored", stats)
	}
}

func TestScoreReportCompositeInRange(t *testing.T) {
	s := NewScorer(LexiconClassifier{}, nil, textproc.New(nil, nil), 500, zap.NewNop())
	p := models.ProcessedReport{Key: "k", Sentences: []string{"维持买入评级。", "业绩不及预期。", "公告。"}}

	preds, composite, ok, err := s.ScoreReport(context.Background(), p)
	if err != nil || !ok {
		t.Fatalf("ScoreReport() = %v, %v", ok, err)
	}
	if composite < -0.5 || composite > 0.5 {
		t.Errorf("composite %v outside [-0.5, 0.5]", composite)
	}
	mean := 0.0
	for _, pr := range preds {
		mean += pr.AdjustedScore
	}
	if math.Abs(mean/float64(len(preds))-composite) > 1e-12 {
		t.Errorf("composite %v is not the mean of adjusted scores", composite)
	}
}
