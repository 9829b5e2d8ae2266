// Package sentiment classifies report sentences and scores each report.
package sentiment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

// ErrClassifier is returned when the classifier endpoint answers with an
// unusable payload.
var ErrClassifier = errors.New("classifier returned an invalid response")

// Classifier maps sentences to two-class logits: index 0 is negative and
// index 1 is positive.
type Classifier interface {
	Logits(ctx context.Context, sentences []string, maxLength int) ([][2]float64, error)
}

// ── Remote classifier ──

// HTTPClassifier calls a fine-tuned sequence classification model served
// over HTTP.
type HTTPClassifier struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPClassifier creates a client for endpoint. apiKey is sent as a
// bearer token when set.
func NewHTTPClassifier(endpoint, apiKey string, timeout time.Duration) *HTTPClassifier {
	return &HTTPClassifier{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

type classifyRequest struct {
	Inputs     []string `json:"inputs"`
	MaxLength  int      `json:"max_length"`
	Truncation bool     `json:"truncation"`
	Padding    bool     `json:"padding"`
}

type classifyResponse struct {
	Logits [][]float64 `json:"logits"`
}

// Logits classifies one document's sentences in a single batch.
func (c *HTTPClassifier) Logits(ctx context.Context, sentences []string, maxLength int) ([][2]float64, error) {
	data, err := json.Marshal(classifyRequest{
		Inputs:     sentences,
		MaxLength:  maxLength,
		Truncation: true,
		Padding:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal classify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create classify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("classify request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read classify response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("classifier HTTP %d: %s", resp.StatusCode, string(body))
	}

	var out classifyResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode classify response: %w", err)
	}
	if len(out.Logits) != len(sentences) {
		return nil, fmt.Errorf("%w: %d logits for %d sentences", ErrClassifier, len(out.Logits), len(sentences))
	}

	logits := make([][2]float64, len(out.Logits))
	for i, l := range out.Logits {
		if len(l) != 2 {
			return nil, fmt.Errorf("%w: sentence %d has %d classes", ErrClassifier, i, len(l))
		}
		logits[i] = [2]float64{l[0], l[1]}
	}
	return logits, nil
}

// ── Offline lexicon classifier ──

// Keyword weights for broker report language.
var bullishWords = map[string]float64{
	"超预期": 0.7, "买入": 0.6, "增持": 0.6, "推荐": 0.5, "强烈推荐": 0.7,
	"增长": 0.4, "提升": 0.4, "改善": 0.5, "上调": 0.6, "景气": 0.5,
	"受益": 0.4, "突破": 0.5, "稳健": 0.3, "领先": 0.4, "新高": 0.6,
	"向好": 0.5, "回升": 0.5, "扩张": 0.4, "高增": 0.6, "优于": 0.4,
}

var bearishWords = map[string]float64{
	"低于预期": 0.7, "不及预期": 0.7, "减持": 0.6, "卖出": 0.6, "下调": 0.6,
	"下滑": 0.5, "下降": 0.4, "亏损": 0.6, "承压": 0.5, "放缓": 0.4,
	"萎缩": 0.5, "回落": 0.4, "拖累": 0.5, "恶化": 0.6, "减少": 0.3,
	"压力": 0.3, "不确定": 0.4, "低迷": 0.5, "疲软": 0.5, "弱于": 0.4,
}

// lexiconScale maps the net keyword score in [-1, 1] to a logit margin.
const lexiconScale = 3.0

// LexiconClassifier is a deterministic keyword classifier used when no
// model endpoint is configured.
type LexiconClassifier struct{}

// Logits implements Classifier. maxLength truncates each sentence in runes.
func (LexiconClassifier) Logits(ctx context.Context, sentences []string, maxLength int) ([][2]float64, error) {
	out := make([][2]float64, len(sentences))
	for i, s := range sentences {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if maxLength > 0 {
			if r := []rune(s); len(r) > maxLength {
				s = string(r[:maxLength])
			}
		}
		score := ScoreSentence(s)
		out[i] = [2]float64{-score * lexiconScale / 2, score * lexiconScale / 2}
	}
	return out, nil
}

// ScoreSentence returns a net keyword score from -1.0 (bearish) to +1.0
// (bullish). A bearish phrase masks any bullish word it contains.
func ScoreSentence(s string) float64 {
	bear := 0.0
	masked := s
	for word, weight := range bearishWords {
		if strings.Contains(masked, word) {
			bear += weight
			masked = strings.ReplaceAll(masked, word, " ")
		}
	}

	bull := 0.0
	for word, weight := range bullishWords {
		if strings.Contains(masked, word) {
			bull += weight
		}
	}

	total := bull + bear
	if total == 0 {
		return 0
	}
	return (bull - bear) / total
}

// Softmax converts two-class logits to probabilities.
func Softmax(logits [2]float64) [2]float64 {
	m := math.Max(logits[0], logits[1])
	e0 := math.Exp(logits[0] - m)
	e1 := math.Exp(logits[1] - m)
	sum := e0 + e1
	return [2]float64{e0 / sum, e1 / sum}
}
