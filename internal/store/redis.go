package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// redisStore backs the Store interface with a Redis connection. Each call
// retries once after a transient connection failure.
type redisStore struct {
	client *redis.Client
}

// NewRedis connects to the given URL (redis://host:port/db).
func NewRedis(url string) (Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("store: invalid STORE_URL: %w", err)
	}
	return &redisStore{client: redis.NewClient(opts)}, nil
}

// NewRedisClient wraps an existing client; used by tests with redismock.
func NewRedisClient(client *redis.Client) Store {
	return &redisStore{client: client}
}

// retryable reports whether an error looks like a transient connection loss
// worth one reconnect attempt.
func retryable(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// withRetry runs op, retrying once on transient failure.
func withRetry(ctx context.Context, op func() error) error {
	err := op()
	if !retryable(err) {
		return err
	}
	log.Warn().Err(err).Msg("Store call failed, retrying once")
	select {
	case <-time.After(50 * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}
	return op()
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	err := withRetry(ctx, func() error {
		b, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return out, err
}

func (s *redisStore) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return withRetry(ctx, func() error {
		return s.client.Set(ctx, key, val, ttl).Err()
	})
}

func (s *redisStore) Del(ctx context.Context, key string) error {
	return withRetry(ctx, func() error {
		return s.client.Del(ctx, key).Err()
	})
}

func (s *redisStore) Exists(ctx context.Context, key string) (bool, error) {
	var n int64
	err := withRetry(ctx, func() error {
		v, err := s.client.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		n = v
		return nil
	})
	return n > 0, err
}

func (s *redisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	var ttl time.Duration
	err := withRetry(ctx, func() error {
		v, err := s.client.TTL(ctx, key).Result()
		if err != nil {
			return err
		}
		ttl = v
		return nil
	})
	return ttl, err
}

func (s *redisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	err := withRetry(ctx, func() error {
		v, err := s.client.Keys(ctx, pattern).Result()
		if err != nil {
			return err
		}
		keys = v
		return nil
	})
	return keys, err
}

func (s *redisStore) Incr(ctx context.Context, key string) (int64, error) {
	var n int64
	err := withRetry(ctx, func() error {
		v, err := s.client.Incr(ctx, key).Result()
		if err != nil {
			return err
		}
		n = v
		return nil
	})
	return n, err
}

func (s *redisStore) SetNX(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error) {
	var set bool
	err := withRetry(ctx, func() error {
		v, err := s.client.SetNX(ctx, key, val, ttl).Result()
		if err != nil {
			return err
		}
		set = v
		return nil
	})
	return set, err
}

func (s *redisStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	var ok bool
	err := withRetry(ctx, func() error {
		v, err := s.client.Expire(ctx, key, ttl).Result()
		if err != nil {
			return err
		}
		ok = v
		return nil
	})
	return ok, err
}

func (s *redisStore) Push(ctx context.Context, key string, val []byte) error {
	return withRetry(ctx, func() error {
		return s.client.RPush(ctx, key, val).Err()
	})
}

func (s *redisStore) BlockPop(ctx context.Context, timeout time.Duration, keys ...string) (string, []byte, error) {
	res, err := s.client.BLPop(ctx, timeout, keys...).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil, ErrNotFound
	}
	if err != nil {
		return "", nil, err
	}
	if len(res) != 2 {
		return "", nil, fmt.Errorf("store: unexpected BLPOP reply of %d elements", len(res))
	}
	return res[0], []byte(res[1]), nil
}

func (s *redisStore) ListLen(ctx context.Context, key string) (int64, error) {
	var n int64
	err := withRetry(ctx, func() error {
		v, err := s.client.LLen(ctx, key).Result()
		if err != nil {
			return err
		}
		n = v
		return nil
	})
	return n, err
}

func (s *redisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
