package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

const DefaultLimitPerSec = 50

// RateLimiter controls delivery throughput per channel.
type RateLimiter interface {
	Allow(ctx context.Context, channel string) (bool, error)
	Wait(ctx context.Context, channel string) error
}

var _ RateLimiter = (*LocalRateLimiter)(nil)

// LocalRateLimiter is an in-process token bucket per channel. It is used when
// no shared Redis is configured, so limits hold per worker process only.
type LocalRateLimiter struct {
	mu          sync.Mutex
	limitPerSec int
	overrides   map[string]int
	limiters    map[string]*rate.Limiter
}

func NewLocalRateLimiter(limitPerSec int, overrides map[string]int) *LocalRateLimiter {
	if limitPerSec <= 0 {
		limitPerSec = DefaultLimitPerSec
	}

	normalized := make(map[string]int, len(overrides))
	for channel, limit := range overrides {
		normalized[NormalizeChannel(channel)] = limit
	}

	return &LocalRateLimiter{
		limitPerSec: limitPerSec,
		overrides:   normalized,
		limiters:    make(map[string]*rate.Limiter),
	}
}

func (l *LocalRateLimiter) Allow(_ context.Context, channel string) (bool, error) {
	limiter, err := l.limiter(channel)
	if err != nil {
		return false, err
	}
	return limiter.Allow(), nil
}

func (l *LocalRateLimiter) Wait(ctx context.Context, channel string) error {
	limiter, err := l.limiter(channel)
	if err != nil {
		return err
	}
	return limiter.Wait(ctx)
}

func (l *LocalRateLimiter) limiter(channel string) (*rate.Limiter, error) {
	name := NormalizeChannel(channel)
	if name == "" {
		return nil, fmt.Errorf("channel is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if limiter, ok := l.limiters[name]; ok {
		return limiter, nil
	}

	limit := l.limitPerSec
	if override, ok := l.overrides[name]; ok && override > 0 {
		limit = override
	}
	limiter := rate.NewLimiter(rate.Limit(limit), limit)
	l.limiters[name] = limiter

	return limiter, nil
}

func NormalizeChannel(channel string) string {
	return strings.ToLower(strings.TrimSpace(channel))
}
