package kv

import (
	"context"
	"path"
	"sync"
	"time"
)

// MemoryStore is an in-process Store with TTL support.
//
// Expired entries are invisible immediately and swept in the background.
type MemoryStore struct {
	mu    sync.RWMutex
	data  map[string]*memEntry
	now   func() time.Time
	stop  chan struct{}
	close sync.Once
}

type memEntry struct {
	value     []byte
	list      [][]byte
	expiresAt time.Time
}

func (e *memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock replaces time.Now, letting tests move time forward.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates a store and starts its cleanup goroutine. Call Close to stop it.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		data: make(map[string]*memEntry),
		now:  time.Now,
		stop: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.backgroundCleanup()
	return s
}

func (s *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

// live returns the entry at key if present and not expired. Caller holds the lock.
func (s *MemoryStore) live(key string) (*memEntry, bool) {
	e, ok := s.data[key]
	if !ok || e.expired(s.now()) {
		return nil, false
	}
	return e, true
}

// Get returns a copy of the value stored at key.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.live(key)
	if !ok || e.list != nil {
		return nil, ErrNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// Set stores a copy of value.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := make([]byte, len(value))
	copy(v, value)
	s.data[key] = &memEntry{value: v, expiresAt: s.expiry(ttl)}
	return nil
}

// Delete removes keys. Missing keys are ignored.
func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

// Exists reports whether key is present and not expired.
func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.live(key)
	return ok, nil
}

// Keys returns live keys matching pattern.
func (s *MemoryStore) Keys(_ context.Context, pattern string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	var keys []string
	for k, e := range s.data {
		if e.expired(now) {
			continue
		}
		ok, err := path.Match(pattern, k)
		if err != nil {
			return nil, err
		}
		if ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Expire resets the TTL of key. Missing keys yield ErrNotFound.
func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		return ErrNotFound
	}
	e.expiresAt = s.expiry(ttl)
	return nil
}

// AppendList appends values and trims to the newest maxLen items.
func (s *MemoryStore) AppendList(_ context.Context, key string, maxLen int, ttl time.Duration, values ...[]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		e = &memEntry{list: [][]byte{}}
		s.data[key] = e
	}
	for _, v := range values {
		c := make([]byte, len(v))
		copy(c, v)
		e.list = append(e.list, c)
	}
	if maxLen > 0 && len(e.list) > maxLen {
		e.list = append([][]byte(nil), e.list[len(e.list)-maxLen:]...)
	}
	e.expiresAt = s.expiry(ttl)
	return nil
}

// List returns copies of the list items, oldest first.
func (s *MemoryStore) List(_ context.Context, key string) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.live(key)
	if !ok {
		return [][]byte{}, nil
	}
	out := make([][]byte, len(e.list))
	for i, v := range e.list {
		out[i] = append([]byte(nil), v...)
	}
	return out, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close stops the cleanup goroutine. The store remains readable.
func (s *MemoryStore) Close() error {
	s.close.Do(func() { close(s.stop) })
	return nil
}

func (s *MemoryStore) backgroundCleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stop:
			return
		}
	}
}

func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, e := range s.data {
		if e.expired(now) {
			delete(s.data, k)
		}
	}
}
