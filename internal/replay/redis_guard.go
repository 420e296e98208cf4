package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const jtiPrefix = "oauth:jti:"

// RedisGuard implements Guard on Redis so single-use holds across instances.
// SET NX with the code's remaining TTL makes check-and-record atomic.
type RedisGuard struct {
	client redis.UniversalClient
}

var _ Guard = (*RedisGuard)(nil)

// NewRedisGuard constructs a Redis-backed guard.
func NewRedisGuard(client redis.UniversalClient) *RedisGuard {
	return &RedisGuard{client: client}
}

// Consume marks the jti consumed, reporting whether this call won.
func (g *RedisGuard) Consume(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = time.Second
	}
	ok, err := g.client.SetNX(ctx, jtiPrefix+jti, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("record jti: %w", err)
	}
	return ok, nil
}
