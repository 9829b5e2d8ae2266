// Package infra provides shared infrastructure components used across
// the pipeline: request pacing, header rotation, retry policies, and HTTP
// fetch helpers.
package infra

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// --- Request pacing ---

// Pacer spaces outbound requests at a minimum interval.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer creates a pacer that admits one request per interval.
// A zero interval disables pacing.
func NewPacer(interval time.Duration) *Pacer {
	if interval <= 0 {
		return &Pacer{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait blocks until a request may proceed or ctx is cancelled.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil {
		return ctx.Err()
	}
	return p.limiter.Wait(ctx)
}

// --- Random source ---

// Rand is a goroutine-safe wrapper over a seeded random source.
type Rand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRand seeds a random source. A zero seed draws from the clock.
func NewRand(seed int64) *Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Rand{r: rand.New(rand.NewPCG(uint64(seed), uint64(seed)>>1|1))}
}

// Float64 returns a value in [0, 1).
func (r *Rand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.r.Float64()
}

// IntN returns a value in [0, n).
func (r *Rand) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.r.IntN(n)
}

// Between returns a uniformly distributed duration in [min, max].
func (r *Rand) Between(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(r.Float64()*float64(max-min))
}

// UserAgent picks a header from pool.
func (r *Rand) UserAgent(pool []string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return PickUserAgent(pool, r.r)
}

// PickUserAgent selects one entry of pool using rng.
// An empty pool yields DefaultUserAgent.
func PickUserAgent(pool []string, rng *rand.Rand) string {
	if len(pool) == 0 {
		return DefaultUserAgent
	}
	return pool[rng.IntN(len(pool))]
}

// Sleep waits for d or until ctx is cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
