package kv

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by unit tests so component
// logic can be exercised without a running Redis instance. It
// implements the same semantics (clamped decrement, dedup-counting
// SAdd, prefix scan) as RedisStore.
type MemoryStore struct {
	mu      sync.Mutex
	values  map[string][]byte
	sets    map[string]map[string]struct{}
	expires map[string]time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:  make(map[string][]byte),
		sets:    make(map[string]map[string]struct{}),
		expires: make(map[string]time.Time),
	}
}

func (s *MemoryStore) expireLocked(key string) {
	if at, ok := s.expires[key]; ok && time.Now().After(at) {
		delete(s.values, key)
		delete(s.sets, key)
		delete(s.expires, key)
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)

	val, ok := s.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	s.values[key] = stored

	if ttl > 0 {
		s.expires[key] = time.Now().Add(ttl)
	} else {
		delete(s.expires, key)
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	delete(s.sets, key)
	delete(s.expires, key)
	return nil
}

func (s *MemoryStore) Scan(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for key := range s.values {
		s.expireLocked(key)
		if strings.HasPrefix(key, prefix) {
			if _, ok := s.values[key]; ok {
				keys = append(keys, key)
			}
		}
	}
	return keys, nil
}

func (s *MemoryStore) Incr(_ context.Context, key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)

	current := parseInt(s.values[key])
	next := current + delta
	s.values[key] = []byte(strconv.FormatInt(next, 10))
	return next, nil
}

func (s *MemoryStore) DecrClamped(_ context.Context, key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)

	current := parseInt(s.values[key])
	next := current - delta
	if next < 0 {
		next = 0
	}
	s.values[key] = []byte(strconv.FormatInt(next, 10))
	return next, nil
}

func (s *MemoryStore) SAdd(_ context.Context, key string, member string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)

	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	if _, exists := set[member]; exists {
		return 0, nil
	}
	set[member] = struct{}{}
	return 1, nil
}

func (s *MemoryStore) SCard(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	return int64(len(s.sets[key])), nil
}

func (s *MemoryStore) Expire(_ context.Context, key string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	_, isValue := s.values[key]
	_, isSet := s.sets[key]
	if !isValue && !isSet {
		return nil
	}
	s.expires[key] = at
	return nil
}

func (s *MemoryStore) WatchUpdate(_ context.Context, key string, fn func(current []byte) ([]byte, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)

	next, err := fn(s.values[key])
	if err != nil {
		return err
	}
	stored := make([]byte, len(next))
	copy(stored, next)
	s.values[key] = stored
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func parseInt(b []byte) int64 {
	if len(b) == 0 {
		return 0
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
