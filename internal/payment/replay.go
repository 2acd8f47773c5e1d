package payment

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// ReplayGuard makes sure a gateway payment id is consumed by at most one confirmation.
type ReplayGuard interface {
	Claim(ctx context.Context, paymentID, orderID string) (bool, error)
	Release(ctx context.Context, paymentID string) error
}

// RedisReplayGuard claims payment ids with SETNX and lets them expire after TTL.
type RedisReplayGuard struct {
	Client redis.UniversalClient
	Prefix string
	TTL    time.Duration
}

func (g RedisReplayGuard) key(paymentID string) string {
	prefix := g.Prefix
	if prefix == "" {
		prefix = "pay"
	}
	return prefix + ":" + paymentID
}

// Claim returns false when the payment id is already held.
func (g RedisReplayGuard) Claim(ctx context.Context, paymentID, orderID string) (bool, error) {
	ttl := g.TTL
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return g.Client.SetNX(ctx, g.key(paymentID), orderID, ttl).Result()
}

// Release drops a claim so a failed confirmation can be retried.
func (g RedisReplayGuard) Release(ctx context.Context, paymentID string) error {
	return g.Client.Del(ctx, g.key(paymentID)).Err()
}
