package store

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrLockHeld is returned when another run already holds the strategy lock.
var ErrLockHeld = errors.New("store: discovery lock held by another run")

// Lock is a distributed single-writer lock acquired via set-if-absent. The
// holder refreshes it periodically; losing the refresh means losing the
// right to write.
type Lock struct {
	store Store
	key   string
	owner string
	ttl   time.Duration
}

// AcquireLock takes the strategy lock or fails fast with ErrLockHeld.
func AcquireLock(ctx context.Context, s Store, strategy string, ttl time.Duration) (*Lock, error) {
	l := &Lock{
		store: s,
		key:   LockKey(strategy),
		owner: uuid.New().String(),
		ttl:   ttl,
	}
	ok, err := s.SetNX(ctx, l.key, []byte(l.owner), ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return l, nil
}

// Refresh extends the lock TTL. Fails when the lock was lost or stolen;
// the holder must abort its run in that case.
func (l *Lock) Refresh(ctx context.Context) error {
	cur, err := l.store.Get(ctx, l.key)
	if err != nil {
		return err
	}
	if !bytes.Equal(cur, []byte(l.owner)) {
		return errors.New("store: lock owner changed")
	}
	ok, err := l.store.Expire(ctx, l.key, l.ttl)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("store: lock expired before refresh")
	}
	return nil
}

// Release drops the lock when still owned; releasing someone else's lock is
// a no-op.
func (l *Lock) Release(ctx context.Context) {
	cur, err := l.store.Get(ctx, l.key)
	if err != nil {
		return
	}
	if !bytes.Equal(cur, []byte(l.owner)) {
		log.Warn().Str("key", l.key).Msg("Lock no longer owned at release")
		return
	}
	if err := l.store.Del(ctx, l.key); err != nil {
		log.Warn().Err(err).Str("key", l.key).Msg("Lock release failed")
	}
}

// KeepRefreshed refreshes the lock every interval until ctx ends; the
// returned channel closes if a refresh fails.
func (l *Lock) KeepRefreshed(ctx context.Context, interval time.Duration) <-chan struct{} {
	lost := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := l.Refresh(ctx); err != nil {
					log.Error().Err(err).Str("key", l.key).Msg("Lock refresh failed, aborting run")
					close(lost)
					return
				}
			}
		}
	}()
	return lost
}
