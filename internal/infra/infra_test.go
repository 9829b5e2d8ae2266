package infra

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

// ── Header pool ──

func TestPickUserAgentDeterministic(t *testing.T) {
	pool := []string{"ua-a", "ua-b", "ua-c"}

	r1 := rand.New(rand.NewPCG(7, 9))
	r2 := rand.New(rand.NewPCG(7, 9))
	for i := 0; i < 20; i++ {
		a, b := PickUserAgent(pool, r1), PickUserAgent(pool, r2)
		if a != b {
			t.Fatalf("draw %d differs for equal seeds: %q vs %q", i, a, b)
		}
	}

	if got := PickUserAgent(nil, r1); got != DefaultUserAgent {
		t.Errorf("empty pool should yield DefaultUserAgent, got %q", got)
	}
}

func TestRandBetween(t *testing.T) {
	r := NewRand(42)
	for i := 0; i < 100; i++ {
		d := r.Between(time.Second, 3500*time.Millisecond)
		if d < time.Second || d > 3500*time.Millisecond {
			t.Fatalf("Between() = %v, outside [1s, 3.5s]", d)
		}
	}
	if d := r.Between(2*time.Second, time.Second); d != 2*time.Second {
		t.Errorf("inverted bounds should return min, got %v", d)
	}
}

// ── Pacer ──

func TestPacerSpacesRequests(t *testing.T) {
	p := NewPacer(20 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := p.Wait(ctx); err != nil {
			t.Fatalf("Wait() error: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 35*time.Millisecond {
		t.Errorf("3 paced requests took %v, want >= ~40ms", elapsed)
	}
}

func TestPacerCancelled(t *testing.T) {
	p := NewPacer(time.Hour)
	_ = p.Wait(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Wait(ctx); err == nil {
		t.Error("Wait() on cancelled context should fail")
	}
}

// ── Fetcher ──

func TestFetcherGet(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		switch r.URL.Path {
		case "/ok":
			w.Write([]byte("hello"))
		case "/throttled":
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte("slow down"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewFetcher(5*time.Second, []string{"test-agent"}, NewRand(1), NewPacer(0))
	ctx := context.Background()

	body, err := f.Get(ctx, srv.URL+"/ok", nil)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if string(body) != "hello" {
		t.Errorf("body = %q, want hello", body)
	}
	if gotUA != "test-agent" {
		t.Errorf("User-Agent = %q, want test-agent", gotUA)
	}

	_, err = f.Get(ctx, srv.URL+"/throttled", nil)
	var httpErr *ErrHTTP
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected ErrHTTP 429, got %v", err)
	}
	if !errors.Is(err, ErrRateLimited) {
		t.Error("429 should match ErrRateLimited")
	}

	_, err = f.Get(ctx, srv.URL+"/missing", nil)
	if errors.Is(err, ErrRateLimited) {
		t.Error("404 should not match ErrRateLimited")
	}
}

// ── Retry ──

func TestRetryPolicyShouldRetry(t *testing.T) {
	p := NewRetryPolicy(3, Fixed(0))
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), true},
		{"503", &ErrHTTP{StatusCode: 503}, true},
		{"429", &ErrHTTP{StatusCode: 429}, true},
		{"403", &ErrHTTP{StatusCode: 403}, true},
		{"404", &ErrHTTP{StatusCode: 404}, false},
		{"permanent", Permanent(errors.New("bad input")), false},
		{"cancelled", context.Canceled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.ShouldRetry(tt.err); got != tt.want {
				t.Errorf("ShouldRetry(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetryAllStatuses(t *testing.T) {
	p := &RetryPolicy{MaxAttempts: 3, RetryAllStatuses: true}
	for _, code := range []int{400, 403, 404, 503} {
		if !p.ShouldRetry(&ErrHTTP{StatusCode: code}) {
			t.Errorf("ShouldRetry(%d) = false, want true", code)
		}
	}
	if p.ShouldRetry(Permanent(&ErrHTTP{StatusCode: 404})) {
		t.Error("Permanent should still stop retries")
	}
}

func TestRetryPolicyDo(t *testing.T) {
	log := zap.NewNop()
	ctx := context.Background()

	t.Run("succeeds after failures", func(t *testing.T) {
		calls := 0
		err := NewRetryPolicy(3, Fixed(time.Millisecond)).Do(ctx, log, "op", func(attempt int) error {
			calls++
			if attempt < 3 {
				return errors.New("transient")
			}
			return nil
		})
		if err != nil || calls != 3 {
			t.Errorf("Do() = %v after %d calls, want nil after 3", err, calls)
		}
	})

	t.Run("exhausted", func(t *testing.T) {
		calls := 0
		sentinel := errors.New("still failing")
		err := NewRetryPolicy(4, Fixed(0)).Do(ctx, log, "op", func(int) error {
			calls++
			return sentinel
		})
		if !errors.Is(err, sentinel) || calls != 4 {
			t.Errorf("Do() = %v after %d calls, want sentinel after 4", err, calls)
		}
	})

	t.Run("permanent stops immediately", func(t *testing.T) {
		calls := 0
		sentinel := errors.New("bad request")
		err := NewRetryPolicy(5, Fixed(0)).Do(ctx, log, "op", func(int) error {
			calls++
			return Permanent(sentinel)
		})
		if err != sentinel || calls != 1 {
			t.Errorf("Do() = %v after %d calls, want unwrapped sentinel after 1", err, calls)
		}
	})
}

func TestBackoffShapes(t *testing.T) {
	exp := Exponential(time.Second, 5*time.Second, 2, 0, nil)
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := exp(i + 1); got != w {
			t.Errorf("Exponential attempt %d = %v, want %v", i+1, got, w)
		}
	}

	jittered := Exponential(time.Second, time.Minute, 2, 0.25, NewRand(3))
	for i := 0; i < 50; i++ {
		if d := jittered(2); d < 1500*time.Millisecond || d > 2500*time.Millisecond {
			t.Fatalf("jittered backoff %v outside ±25%% of 2s", d)
		}
	}

	lin := LinearJitter(2*time.Second, 5*time.Second, NewRand(5))
	for attempt := 1; attempt <= 4; attempt++ {
		d := lin(attempt)
		lo, hi := time.Duration(attempt)*2*time.Second, time.Duration(attempt)*5*time.Second
		if d < lo || d > hi {
			t.Errorf("LinearJitter attempt %d = %v, want within [%v, %v]", attempt, d, lo, hi)
		}
	}
}
