package ratelimit

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// New builds the Limiter for strategy. The Redis-backed strategies need rdb.
func New(strategy Strategy, rdb redis.UniversalClient, prefix string) (Limiter, error) {
	switch strategy {
	case StrategyLocal:
		return NewLocal(), nil
	case StrategyFixed:
		if rdb == nil {
			return nil, fmt.Errorf("ratelimit: %s strategy requires redis", strategy)
		}
		store, err := limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: prefix + "fixed"})
		if err != nil {
			return nil, fmt.Errorf("ratelimit: limiter store: %w", err)
		}
		return NewFixedWindow(store), nil
	case StrategySliding, "":
		if rdb == nil {
			return nil, fmt.Errorf("ratelimit: %s strategy requires redis", strategy)
		}
		return SlidingWindow{Client: rdb, Prefix: prefix + "sliding:"}, nil
	default:
		return nil, fmt.Errorf("ratelimit: unknown strategy %q", strategy)
	}
}
