package store

import (
	"context"
	"path"
	"strconv"
	"sync"
	"time"
)

// memoryStore is the in-process fallback used when STORE_URL is unset: the
// one-shot scan command and the test suite run against it. Lock semantics
// are single-process but contract-identical.
type memoryStore struct {
	mu    sync.Mutex
	m     map[string]memEntry
	lists map[string][][]byte
	wake  chan struct{}
}

type memEntry struct {
	b   []byte
	exp time.Time
}

// NewMemory creates an empty in-process store.
func NewMemory() Store {
	return &memoryStore{
		m:     make(map[string]memEntry),
		lists: make(map[string][][]byte),
		wake:  make(chan struct{}, 1),
	}
}

// NewAuto picks redis when a URL is configured and memory otherwise.
func NewAuto(storeURL string) (Store, error) {
	if storeURL == "" {
		return NewMemory(), nil
	}
	return NewRedis(storeURL)
}

func (s *memoryStore) alive(e memEntry) bool {
	return e.exp.IsZero() || time.Now().Before(e.exp)
}

func (s *memoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[key]
	if !ok || !s.alive(e) {
		delete(s.m, key)
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.b...), nil
}

func (s *memoryStore) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := memEntry{b: append([]byte(nil), val...)}
	if ttl > 0 {
		e.exp = time.Now().Add(ttl)
	}
	s.m[key] = e
	return nil
}

func (s *memoryStore) Del(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

func (s *memoryStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[key]
	if ok && !s.alive(e) {
		delete(s.m, key)
		return false, nil
	}
	return ok, nil
}

func (s *memoryStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[key]
	if !ok || !s.alive(e) {
		return -2 * time.Second, nil // mirrors the redis convention for missing keys
	}
	if e.exp.IsZero() {
		return -1 * time.Second, nil
	}
	return time.Until(e.exp), nil
}

func (s *memoryStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k, e := range s.m {
		if !s.alive(e) {
			continue
		}
		if ok, _ := path.Match(pattern, k); ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *memoryStore) Incr(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	if e, ok := s.m[key]; ok && s.alive(e) {
		if v, err := strconv.ParseInt(string(e.b), 10, 64); err == nil {
			n = v
		}
	}
	n++
	s.m[key] = memEntry{b: []byte(strconv.FormatInt(n, 10))}
	return n, nil
}

func (s *memoryStore) SetNX(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.m[key]; ok && s.alive(e) {
		return false, nil
	}
	e := memEntry{b: append([]byte(nil), val...)}
	if ttl > 0 {
		e.exp = time.Now().Add(ttl)
	}
	s.m[key] = e
	return true, nil
}

func (s *memoryStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[key]
	if !ok || !s.alive(e) {
		return false, nil
	}
	e.exp = time.Now().Add(ttl)
	s.m[key] = e
	return true, nil
}

func (s *memoryStore) Push(ctx context.Context, key string, val []byte) error {
	s.mu.Lock()
	s.lists[key] = append(s.lists[key], append([]byte(nil), val...))
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

func (s *memoryStore) BlockPop(ctx context.Context, timeout time.Duration, keys ...string) (string, []byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		s.mu.Lock()
		for _, k := range keys {
			if items := s.lists[k]; len(items) > 0 {
				s.lists[k] = items[1:]
				s.mu.Unlock()
				return k, items[0], nil
			}
		}
		s.mu.Unlock()

		wait := time.Until(deadline)
		if timeout <= 0 {
			wait = time.Second
		} else if wait <= 0 {
			return "", nil, ErrNotFound
		}

		select {
		case <-s.wake:
		case <-time.After(wait):
			if timeout > 0 {
				return "", nil, ErrNotFound
			}
		case <-ctx.Done():
			return "", nil, ctx.Err()
		}
	}
}

func (s *memoryStore) ListLen(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.lists[key])), nil
}

func (s *memoryStore) Ping(ctx context.Context) error { return nil }

func (s *memoryStore) Close() error { return nil }
