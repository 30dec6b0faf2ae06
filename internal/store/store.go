// Package store is the typed key/value layer every cross-process state goes
// through: candidate payloads, job records, heartbeat and the discovery
// lock. Redis in production, an in-process map for dev and tests.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a key is absent or expired.
var ErrNotFound = errors.New("store: key not found")

// Store is the cross-process state surface. All methods are safe for
// concurrent use and tolerate one transient reconnect per call.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	Incr(ctx context.Context, key string) (int64, error)

	// SetNX sets the key only when absent; reports whether it was set.
	SetNX(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error)
	// Expire refreshes a key's TTL; reports whether the key existed.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Push/Pop back a FIFO list; BlockPop waits cooperatively.
	Push(ctx context.Context, key string, val []byte) error
	BlockPop(ctx context.Context, timeout time.Duration, keys ...string) (string, []byte, error)
	ListLen(ctx context.Context, key string) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// GetJSON reads a key and unmarshals it; ErrNotFound passes through.
func GetJSON(ctx context.Context, s Store, key string, dst interface{}) error {
	b, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("store: decode %s: %w", key, err)
	}
	return nil
}

// SetJSON marshals a value and writes it with the given TTL.
func SetJSON(ctx context.Context, s Store, key string, val interface{}, ttl time.Duration) error {
	b, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", key, err)
	}
	return s.Set(ctx, key, b, ttl)
}
