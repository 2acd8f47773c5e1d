package ratelimit

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type localEntry struct {
	limiter  *rate.Limiter
	window   time.Duration
	lastSeen time.Time
}

// Local is an in-process token bucket per key. Buckets refill at max/window and
// burst up to max. It is meant for single-instance deployments and tests.
type Local struct {
	// IdleTTL evicts buckets not touched for this long. Zero keeps them for ten windows.
	IdleTTL time.Duration

	mu      sync.Mutex
	buckets map[string]*localEntry
	now     func() time.Time
}

// NewLocal builds an empty Local limiter.
func NewLocal() *Local {
	return &Local{buckets: make(map[string]*localEntry), now: time.Now}
}

// Allow takes one token from key's bucket.
func (l *Local) Allow(_ context.Context, key string, window time.Duration, max int) (Result, error) {
	if max <= 0 || window <= 0 {
		return unlimited(window, max), nil
	}
	now := l.clock()
	every := rate.Every(window / time.Duration(max))

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.buckets == nil {
		l.buckets = make(map[string]*localEntry)
	}
	l.evict(now)
	bucketKey := key + "|" + window.String() + "|" + strconv.Itoa(max)
	entry, ok := l.buckets[bucketKey]
	if !ok {
		entry = &localEntry{limiter: rate.NewLimiter(every, max), window: window}
		l.buckets[bucketKey] = entry
	}
	entry.lastSeen = now

	allowed := entry.limiter.AllowN(now, 1)
	tokens := entry.limiter.TokensAt(now)
	remaining := int(math.Floor(tokens))
	if remaining < 0 {
		remaining = 0
	}
	missing := float64(max) - tokens
	resetAt := now
	if missing > 0 {
		resetAt = now.Add(time.Duration(missing * float64(window) / float64(max)))
	}
	return Result{Allowed: allowed, Limit: max, Remaining: remaining, ResetAt: resetAt}, nil
}

func (l *Local) clock() time.Time {
	if l.now != nil {
		return l.now()
	}
	return time.Now()
}

func (l *Local) evict(now time.Time) {
	for k, e := range l.buckets {
		ttl := l.IdleTTL
		if ttl <= 0 {
			ttl = 10 * e.window
		}
		if now.Sub(e.lastSeen) > ttl {
			delete(l.buckets, k)
		}
	}
}
