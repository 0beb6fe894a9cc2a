// internal/slotlock/redis.go
package slotlock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// releaseScript deletes the key only while it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker leases keys with SET NX PX. Keys expire after ttl if the holder disappears.
type RedisLocker struct {
	client       redis.UniversalClient
	ttl          time.Duration
	prefix       string
	pollInterval time.Duration
}

func NewRedisLocker(client redis.UniversalClient, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		client:       client,
		ttl:          ttl,
		prefix:       "courtside:lock:",
		pollInterval: defaultPollInterval,
	}
}

func (r *RedisLocker) Acquire(ctx context.Context, key string, timeout time.Duration) (Handle, error) {
	token := newToken()
	err := poll(ctx, timeout, r.pollInterval, func() (bool, error) {
		ok, err := r.client.SetNX(ctx, r.prefix+key, token, r.ttl).Result()
		if err != nil {
			return false, fmt.Errorf("redis setnx: %w", err)
		}
		return ok, nil
	})
	if err != nil {
		return Handle{}, err
	}
	return Handle{Key: key, Token: token}, nil
}

func (r *RedisLocker) Release(ctx context.Context, h Handle) error {
	deleted, err := releaseScript.Run(ctx, r.client, []string{r.prefix + h.Key}, h.Token).Int64()
	if err != nil {
		return fmt.Errorf("redis release: %w", err)
	}
	if deleted == 0 {
		return ErrNotHeld
	}
	return nil
}

// NewRedisClient connects and pings within timeout.
func NewRedisClient(ctx context.Context, addr, password string, database int, timeout time.Duration) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       database,
	})

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}
