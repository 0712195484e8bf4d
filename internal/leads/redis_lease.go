package leads

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lease only when the caller still holds it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLeaser keeps lead leases in Redis with SET NX PX.
type RedisLeaser struct {
	client *redis.Client
	prefix string
}

var _ Leaser = (*RedisLeaser)(nil)

// NewRedisLeaser creates a leaser. An empty prefix defaults to "lead:lease:".
func NewRedisLeaser(client *redis.Client, prefix string) *RedisLeaser {
	if client == nil {
		panic("leads: redis client required")
	}
	if prefix == "" {
		prefix = "lead:lease:"
	}
	return &RedisLeaser{client: client, prefix: prefix}
}

func (l *RedisLeaser) key(leadKey string) string {
	return l.prefix + leadKey
}

func (l *RedisLeaser) AcquireLease(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := newLeaseToken()
	ok, err := l.client.SetNX(ctx, l.key(key), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("leads: redis acquire lease: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (l *RedisLeaser) ReleaseLease(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key(key)}, token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("leads: redis release lease: %w", err)
	}
	return nil
}
