package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	limiter "github.com/ulule/limiter/v3"
)

// FixedWindow delegates counting to a ulule limiter store, one limiter per rate.
type FixedWindow struct {
	Store limiter.Store

	mu       sync.Mutex
	limiters map[limiter.Rate]*limiter.Limiter
}

// NewFixedWindow wraps store.
func NewFixedWindow(store limiter.Store) *FixedWindow {
	return &FixedWindow{Store: store, limiters: make(map[limiter.Rate]*limiter.Limiter)}
}

// Allow increments key's counter for the current window.
func (f *FixedWindow) Allow(ctx context.Context, key string, window time.Duration, max int) (Result, error) {
	if f == nil || f.Store == nil || max <= 0 || window <= 0 {
		return unlimited(window, max), nil
	}
	lctx, err := f.limiterFor(window, max).Get(ctx, key)
	if err != nil {
		return Result{Limit: max, ResetAt: time.Now().Add(window)}, fmt.Errorf("ratelimit: fixed window: %w", err)
	}
	return Result{
		Allowed:   !lctx.Reached,
		Limit:     int(lctx.Limit),
		Remaining: int(lctx.Remaining),
		ResetAt:   time.Unix(lctx.Reset, 0),
	}, nil
}

func (f *FixedWindow) limiterFor(window time.Duration, max int) *limiter.Limiter {
	rate := limiter.Rate{Period: window, Limit: int64(max)}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.limiters == nil {
		f.limiters = make(map[limiter.Rate]*limiter.Limiter)
	}
	l, ok := f.limiters[rate]
	if !ok {
		l = limiter.New(f.Store, rate)
		f.limiters[rate] = l
	}
	return l
}
