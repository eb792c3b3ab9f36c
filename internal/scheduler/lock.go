package scheduler

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// Lock is a Redis SetNX lease so only one gateway instance runs a sweep
// cycle at a time. Holder identity is checked on release.
type Lock struct {
	Client *redis.Client
	Key    string
	TTL    time.Duration
	holder string
}

func NewLock(client *redis.Client, key, holder string, ttl time.Duration) *Lock {
	return &Lock{Client: client, Key: key, TTL: ttl, holder: holder}
}

func (l *Lock) Acquire(ctx context.Context) (bool, error) {
	return l.Client.SetNX(ctx, l.Key, l.holder, l.TTL).Result()
}

func (l *Lock) Release(ctx context.Context) error {
	val, err := l.Client.Get(ctx, l.Key).Result()
	if err == redis.Nil {
		return nil // already released or expired
	}
	if err != nil {
		return err
	}
	if val == l.holder {
		return l.Client.Del(ctx, l.Key).Err()
	}
	return nil
}
