package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tcriess/burnbox/config"
)

const (
	scanBatchSize    = 100
	maxUpdateRetries = 5
)

// addCappedScript inserts a member and rolls the insert back in the same
// round-trip if it pushed the set over the cap. Returns -1 on a rejected
// insert, 1 on a new member, 0 if the member was already present.
var addCappedScript = redis.NewScript(`
local added = redis.call('SADD', KEYS[1], ARGV[1])
local count = redis.call('SCARD', KEYS[1])
if added == 1 and count > tonumber(ARGV[2]) then
	redis.call('SREM', KEYS[1], ARGV[1])
	return -1
end
if added == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return added
`)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(cfg *config.Config) (Store, error) {
	if cfg.StoreConfig.Address == "" {
		return nil, fmt.Errorf("no redis address configured")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.StoreConfig.Address,
		Password: cfg.StoreConfig.Password,
		DB:       cfg.StoreConfig.Database,
	})
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrKeyNotFound
		}
		return "", err
	}
	return val, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, value, ttl).Result()
}

func (s *RedisStore) Update(ctx context.Context, key string, fn func(current string) (string, error)) error {
	for i := 0; i < maxUpdateRetries; i++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := tx.Get(ctx, key).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return ErrKeyNotFound
				}
				return err
			}
			next, err := fn(current)
			if err != nil {
				return err
			}
			remaining, err := tx.PTTL(ctx, key).Result()
			if err != nil {
				return err
			}
			if remaining == -2 {
				return ErrKeyNotFound
			}
			if remaining < 0 {
				remaining = 0
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, next, remaining)
				return nil
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("update of %s: too much contention", key)
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if d == -2 {
		return 0, ErrKeyNotFound
	}
	if d == -1 {
		return 0, nil
	}
	return d, nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *RedisStore) ListPush(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, value)
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	return err
}

func (s *RedisStore) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return s.client.LRange(ctx, key, start, stop).Result()
}

func (s *RedisStore) ListSet(ctx context.Context, key string, index int64, value string) error {
	return s.client.LSet(ctx, key, index, value).Err()
}

func (s *RedisStore) ListLen(ctx context.Context, key string) (int64, error) {
	return s.client.LLen(ctx, key).Result()
}

func (s *RedisStore) SetAddCapped(ctx context.Context, key, member string, limit int64, ttl time.Duration) (bool, error) {
	res, err := addCappedScript.Run(ctx, s.client, []string{key}, member, limit, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	if res == -1 {
		return false, ErrCapExceeded
	}
	return res == 1, nil
}

func (s *RedisStore) SetRemove(ctx context.Context, key, member string) error {
	return s.client.SRem(ctx, key, member).Err()
}

func (s *RedisStore) SetCard(ctx context.Context, key string) (int64, error) {
	return s.client.SCard(ctx, key).Result()
}

func (s *RedisStore) Scan(ctx context.Context, pattern string, fn func(key string) bool) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return err
		}
		for _, key := range keys {
			if !fn(key) {
				return nil
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
