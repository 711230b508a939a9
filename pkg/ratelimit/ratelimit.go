// Package ratelimit paces outbound calls: paid fetcher APIs per fetcher and
// gatherer downloads per host.
package ratelimit

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket with optional jitter added after each wait. It is
// safe for concurrent use.
type Limiter struct {
	limiter  *rate.Limiter
	jitter   float64 // 0.0 to 1.0
	interval time.Duration
}

// NewLimiter creates a limiter allowing rps operations per second with a burst
// of one. If rps is <= 0, the limiter does not block.
func NewLimiter(rps float64, jitter float64) *Limiter {
	if rps <= 0 {
		return &Limiter{}
	}
	jitter = min(max(jitter, 0), 1)
	return &Limiter{
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
		jitter:   jitter,
		interval: time.Duration(float64(time.Second) / rps),
	}
}

// Wait blocks until the next operation is allowed or ctx is done. A positive
// jitter sleeps up to jitter*interval longer.
func (l *Limiter) Wait(ctx context.Context) error {
	if l.limiter == nil {
		return nil
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	if l.jitter <= 0 {
		return nil
	}
	extra := time.Duration(float64(l.interval) * l.jitter * rand.Float64())
	if extra <= 0 {
		return nil
	}
	t := time.NewTimer(extra)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Keyed holds one Limiter per key, created on first use.
type Keyed struct {
	mu       sync.Mutex
	rps      float64
	jitter   float64
	limiters map[string]*Limiter
}

// NewKeyed returns limiters sharing rps and jitter.
func NewKeyed(rps, jitter float64) *Keyed {
	return &Keyed{rps: rps, jitter: jitter, limiters: map[string]*Limiter{}}
}

// Wait paces the operation for key.
func (k *Keyed) Wait(ctx context.Context, key string) error {
	return k.get(key).Wait(ctx)
}

func (k *Keyed) get(key string) *Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.limiters[key]
	if !ok {
		l = NewLimiter(k.rps, k.jitter)
		k.limiters[key] = l
	}
	return l
}
