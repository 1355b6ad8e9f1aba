// Package ratelimit implements token bucket rate limiting per marketplace platform.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/marketplace-insignia/internal/insights"
	"github.com/JakeFAU/marketplace-insignia/internal/metrics"
)

// Limiter manages one token bucket per platform.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[insights.Platform]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
}

// Config holds rate limiter configuration.
type Config struct {
	// RatePerSecond is the sustained call rate per platform. Zero or less means unlimited.
	RatePerSecond float64
	Burst         int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RatePerSecond)
	if cfg.RatePerSecond <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[insights.Platform]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// Wait blocks until a token is available for platform, respecting the context.
func (l *Limiter) Wait(ctx context.Context, platform insights.Platform) error {
	limiter := l.bucket(platform)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// Immediate grants are not delays.
	if d := time.Since(start); d > time.Millisecond {
		metrics.ObserveRateLimitDelay(platform, d)
	}
	return nil
}

func (l *Limiter) bucket(platform insights.Platform) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[platform]
	if !ok {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[platform] = limiter
	}
	return limiter
}
