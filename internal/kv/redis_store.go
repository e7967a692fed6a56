package kv

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// decrClampedScript mirrors the counter-service sibling's Decrement
// Lua script: read, subtract, clamp at zero, write — all inside Redis
// so a racing Incr can't be lost between the read and the write.
var decrClampedScript = redis.NewScript(`
local key = KEYS[1]
local decr = tonumber(ARGV[1])
local current = redis.call('GET', key)
if not current then
	current = 0
else
	current = tonumber(current)
end
local new_val = current - decr
if new_val < 0 then
	new_val = 0
end
redis.call('SET', key, new_val)
return new_val
`)

// RedisStore implements Store over github.com/redis/go-redis/v9.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an already-constructed redis.Client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// Scan uses SCAN/MATCH rather than KEYS, since KEYS blocks Redis's
// single-threaded event loop on large keyspaces.
func (s *RedisStore) Scan(ctx context.Context, prefix string) ([]string, error) {
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

func (s *RedisStore) Incr(ctx context.Context, key string, delta int64) (int64, error) {
	return s.client.IncrBy(ctx, key, delta).Result()
}

func (s *RedisStore) DecrClamped(ctx context.Context, key string, delta int64) (int64, error) {
	result, err := decrClampedScript.Run(ctx, s.client, []string{key}, delta).Result()
	if err != nil {
		return 0, err
	}
	return result.(int64), nil
}

func (s *RedisStore) SAdd(ctx context.Context, key string, member string) (int64, error) {
	return s.client.SAdd(ctx, key, member).Result()
}

func (s *RedisStore) SCard(ctx context.Context, key string) (int64, error) {
	return s.client.SCard(ctx, key).Result()
}

func (s *RedisStore) Expire(ctx context.Context, key string, at time.Time) error {
	return s.client.ExpireAt(ctx, key, at).Err()
}

// WatchUpdate retries the read-modify-write under WATCH/MULTI/EXEC,
// same shape as the counter-service sibling's optimistic-lock usage,
// bounded to a handful of attempts since the spec only promises
// eventually-consistent final state, not a blocking CAS loop.
func (s *RedisStore) WatchUpdate(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) error {
	const maxAttempts = 10

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := tx.Get(ctx, key).Bytes()
			if err != nil && err != redis.Nil {
				return err
			}
			if err == redis.Nil {
				current = nil
			}

			next, err := fn(current)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, next, 0)
				return nil
			})
			return err
		}, key)

		if err == nil {
			return nil
		}
		if err == redis.TxFailedErr {
			continue
		}
		return err
	}

	return redis.TxFailedErr
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// NewRedisClient builds a redis.Client from the pool/timeout
// parameters conventionally threaded through config.RedisConfig.
func NewRedisClient(addr, password string, db, poolSize, minIdleConns, maxRetries int, readTimeout, writeTimeout time.Duration) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     poolSize,
		MinIdleConns: minIdleConns,
		MaxRetries:   maxRetries,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})
}
