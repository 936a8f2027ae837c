package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRegistry implements Registry on Redis. Locks are SET NX PX keys so a
// crashed holder cannot block a key past its TTL.
type RedisRegistry struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisRegistry(client redis.UniversalClient, prefix string) *RedisRegistry {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "funds:idem"
	}
	return &RedisRegistry{client: client, prefix: trimmedPrefix}
}

func (r *RedisRegistry) lockKey(key string) string { return r.prefix + ":lock:" + key }
func (r *RedisRegistry) resultKey(key string) string { return r.prefix + ":result:" + key }

func (r *RedisRegistry) TryAcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, r.lockKey(key), "1", ttl).Result()
}

func (r *RedisRegistry) GetCachedResult(ctx context.Context, key string) (string, bool, error) {
	payload, err := r.client.Get(ctx, r.resultKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return payload, true, nil
}

// StoreResult writes the result and deletes the lock in one MULTI/EXEC.
func (r *RedisRegistry) StoreResult(ctx context.Context, key, payload string, ttl time.Duration) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.resultKey(key), payload, ttl)
		pipe.Del(ctx, r.lockKey(key))
		return nil
	})
	return err
}

func (r *RedisRegistry) ReleaseLock(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.lockKey(key)).Err()
}

func (r *RedisRegistry) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
