package infra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// --- Sentinel errors ---

// ErrRateLimited is matched by HTTP 429 responses.
var ErrRateLimited = errors.New("rate limited by remote source")

// ErrHTTP wraps an HTTP error with status code.
type ErrHTTP struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("HTTP %d %s: %s", e.StatusCode, e.Status, e.Body)
}

// Is lets errors.Is(err, ErrRateLimited) match throttling responses.
func (e *ErrHTTP) Is(target error) bool {
	return target == ErrRateLimited && e.StatusCode == http.StatusTooManyRequests
}

// --- Shared HTTP client helpers ---

// DefaultUserAgent is used when no header pool is configured.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// maxBodySize caps any single response body.
const maxBodySize = 64 << 20

// Fetcher performs paced GET requests with a rotating User-Agent header.
type Fetcher struct {
	Client *http.Client
	Agents []string
	Rand   *Rand
	Pacer  *Pacer
}

// NewFetcher builds a fetcher with the given timeout, header pool and pacing.
func NewFetcher(timeout time.Duration, agents []string, rng *Rand, pacer *Pacer) *Fetcher {
	return &Fetcher{
		Client: &http.Client{Timeout: timeout},
		Agents: agents,
		Rand:   rng,
		Pacer:  pacer,
	}
}

// Get fetches url and returns the full body. Responses with status >= 400
// are returned as *ErrHTTP.
func (f *Fetcher) Get(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	if err := f.Pacer.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	ua := DefaultUserAgent
	if f.Rand != nil {
		ua = f.Rand.UserAgent(f.Agents)
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "application/json, text/html, */*")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &ErrHTTP{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(body),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body %s: %w", url, err)
	}
	return body, nil
}
