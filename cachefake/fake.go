// Package cachefake provides an in-memory refreshcache.Cache that records
// store traffic for assertions in tests.
package cachefake

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goforj/refreshcache"
)

// Op identifies a store operation for assertions.
type Op string

const (
	OpGet              Op = "get"
	OpSet              Op = "set"
	OpAdd              Op = "add"
	OpDelete           Op = "delete"
	OpCompareAndDelete Op = "compare_and_delete"
	OpCompareAndExpire Op = "compare_and_expire"
)

// Fake exposes a deterministic in-memory store plus assertion helpers for tests.
type Fake struct {
	cache  *refreshcache.Cache
	store  *countingStore
	counts map[Op]map[string]int
	mu     sync.Mutex
}

// New creates a Fake using an in-memory store. opts configure the cache as
// refreshcache.NewCache does.
func New(opts ...refreshcache.CacheOption) *Fake {
	store := &countingStore{inner: refreshcache.NewMemoryStore(context.Background())}
	f := &Fake{
		store:  store,
		counts: make(map[Op]map[string]int),
	}
	store.onCount = f.record
	f.cache = refreshcache.NewCache(store, opts...)
	return f
}

// Cache returns the cache to inject into code under test.
func (f *Fake) Cache() *refreshcache.Cache { return f.cache }

// Store returns the counting store behind the cache.
func (f *Fake) Store() refreshcache.Store { return f.store }

// Reset clears recorded counts.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts = make(map[Op]map[string]int)
}

// AssertCalled verifies key was touched by op the expected number of times.
func (f *Fake) AssertCalled(t *testing.T, op Op, key string, times int) {
	t.Helper()
	if got := f.Count(op, key); got != times {
		t.Fatalf("expected %s %q called %d times, got %d", op, key, times, got)
	}
}

// AssertNotCalled ensures key was never touched by op.
func (f *Fake) AssertNotCalled(t *testing.T, op Op, key string) {
	t.Helper()
	if got := f.Count(op, key); got != 0 {
		t.Fatalf("expected %s %q not called, got %d", op, key, got)
	}
}

// AssertTotal ensures the total call count for an op matches times.
func (f *Fake) AssertTotal(t *testing.T, op Op, times int) {
	t.Helper()
	if got := f.Total(op); got != times {
		t.Fatalf("expected %s total=%d, got %d", op, times, got)
	}
}

// AssertPopulated verifies a value is cached for key.
func (f *Fake) AssertPopulated(t *testing.T, key string) {
	t.Helper()
	if _, ok, err := f.store.inner.Get(context.Background(), refreshcache.CacheKey(key)); err != nil || !ok {
		t.Fatalf("expected %q populated, ok=%v err=%v", key, ok, err)
	}
}

// AssertUnlocked verifies no population lock is held for key.
func (f *Fake) AssertUnlocked(t *testing.T, key string) {
	t.Helper()
	if _, ok, err := f.store.inner.Get(context.Background(), refreshcache.LockKey(key)); err != nil || ok {
		t.Fatalf("expected %q unlocked, ok=%v err=%v", key, ok, err)
	}
}

// Count returns calls for op+key.
func (f *Fake) Count(op Op, key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts[op] == nil {
		return 0
	}
	return f.counts[op][key]
}

// Total returns total calls for an op across keys.
func (f *Fake) Total(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sum int
	for _, v := range f.counts[op] {
		sum += v
	}
	return sum
}

func (f *Fake) record(op Op, key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts[op] == nil {
		f.counts[op] = make(map[string]int)
	}
	f.counts[op][key]++
}

// countingStore wraps a Store to record calls.
type countingStore struct {
	inner   refreshcache.Store
	onCount func(Op, string)
}

func (s *countingStore) Driver() refreshcache.Driver { return s.inner.Driver() }

func (s *countingStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.bump(OpGet, key)
	return s.inner.Get(ctx, key)
}

func (s *countingStore) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	s.bump(OpSet, key)
	return s.inner.Set(ctx, key, val, ttl)
}

func (s *countingStore) Add(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error) {
	s.bump(OpAdd, key)
	return s.inner.Add(ctx, key, val, ttl)
}

func (s *countingStore) Delete(ctx context.Context, key string) error {
	s.bump(OpDelete, key)
	return s.inner.Delete(ctx, key)
}

func (s *countingStore) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	s.bump(OpCompareAndDelete, key)
	return s.inner.CompareAndDelete(ctx, key, expected)
}

func (s *countingStore) CompareAndExpire(ctx context.Context, key string, expected []byte, ttl time.Duration) (bool, error) {
	s.bump(OpCompareAndExpire, key)
	return s.inner.CompareAndExpire(ctx, key, expected, ttl)
}

func (s *countingStore) bump(op Op, key string) {
	if s.onCount != nil {
		s.onCount(op, key)
	}
}
