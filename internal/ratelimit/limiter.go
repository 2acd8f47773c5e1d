package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Result is the outcome of one rate limit check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter decides whether one more event for key fits within max events per window.
type Limiter interface {
	Allow(ctx context.Context, key string, window time.Duration, max int) (Result, error)
}

// Strategy names a Limiter implementation selectable from configuration.
type Strategy string

const (
	StrategySliding Strategy = "sliding"
	StrategyFixed   Strategy = "fixed"
	StrategyLocal   Strategy = "local"
)

// ParseStrategy maps a configuration value onto a Strategy. Empty means sliding.
func ParseStrategy(v string) (Strategy, error) {
	switch s := Strategy(strings.ToLower(strings.TrimSpace(v))); s {
	case "":
		return StrategySliding, nil
	case StrategySliding, StrategyFixed, StrategyLocal:
		return s, nil
	default:
		return "", fmt.Errorf("ratelimit: unknown strategy %q", v)
	}
}

func unlimited(window time.Duration, max int) Result {
	return Result{Allowed: true, Limit: max, Remaining: max, ResetAt: time.Now().Add(window)}
}
