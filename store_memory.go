package refreshcache

import (
	"bytes"
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// memoryStore serializes every mutation so compare operations observe a stable value.
type memoryStore struct {
	cache      *gocache.Cache
	defaultTTL time.Duration
	mu         sync.Mutex
}

func newMemoryStore(defaultTTL, cleanupInterval time.Duration) Store {
	if defaultTTL <= 0 {
		defaultTTL = defaultStoreTTL
	}
	if cleanupInterval <= 0 {
		cleanupInterval = defaultMemoryCleanupInterval
	}
	return &memoryStore{
		cache:      gocache.New(defaultTTL, cleanupInterval),
		defaultTTL: defaultTTL,
	}
}

func (s *memoryStore) Driver() Driver {
	return DriverMemory
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	body, ok := s.lookup(key)
	if !ok {
		return nil, false, nil
	}
	return cloneBytes(body), true, nil
}

func (s *memoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Set(key, cloneBytes(value), s.resolveTTL(ttl))
	return nil
}

func (s *memoryStore) Add(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.cache.Add(key, cloneBytes(value), s.resolveTTL(ttl)); err != nil {
		// go-cache only fails Add for a live key.
		return false, nil
	}
	return true, nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Delete(key)
	return nil
}

func (s *memoryStore) CompareAndDelete(_ context.Context, key string, expected []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, ok := s.lookup(key)
	if !ok || !bytes.Equal(body, expected) {
		return false, nil
	}
	s.cache.Delete(key)
	return true, nil
}

func (s *memoryStore) CompareAndExpire(_ context.Context, key string, expected []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, ok := s.lookup(key)
	if !ok || !bytes.Equal(body, expected) {
		return false, nil
	}
	s.cache.Set(key, body, s.resolveTTL(ttl))
	return true, nil
}

func (s *memoryStore) lookup(key string) ([]byte, bool) {
	item, ok := s.cache.Get(key)
	if !ok {
		return nil, false
	}
	body, ok := item.([]byte)
	return body, ok
}

func (s *memoryStore) resolveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return s.defaultTTL
	}
	return ttl
}

func cloneBytes(in []byte) []byte {
	if in == nil {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}
