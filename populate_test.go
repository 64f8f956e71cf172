package refreshcache

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newCountingRegistry(calls *atomic.Int32, delay time.Duration) *Registry {
	reg := NewRegistry()
	reg.Register("report", "total", func(ctx context.Context, args Args) (any, error) {
		calls.Add(1)
		if delay > 0 {
			time.Sleep(delay)
		}
		var n int
		if args.Len() > 0 {
			if err := args.Decode(0, &n); err != nil {
				return nil, err
			}
		}
		return map[string]int{"total": n}, nil
	})
	return reg
}

func TestPopulateStoresJSONAndReleasesLock(t *testing.T) {
	var calls atomic.Int32
	store := newMemoryStore(0, 0)
	p := NewPopulator(store, Config{Registry: newCountingRegistry(&calls, 0)})
	ctx := context.Background()

	res, err := p.Populate(ctx, "r:1", MustTask("report", "total", 7))
	if err != nil {
		t.Fatalf("populate failed: %v", err)
	}
	if !res.Computed || res.Skipped || string(res.Value) != `{"total":7}` {
		t.Fatalf("unexpected result %+v", res)
	}
	body, ok, _ := store.Get(ctx, CacheKey("r:1"))
	if !ok || string(body) != `{"total":7}` {
		t.Fatalf("expected stored value, got %q ok=%v", body, ok)
	}
	if _, ok, _ := store.Get(ctx, LockKey("r:1")); ok {
		t.Fatalf("lock should be released")
	}
}

func TestPopulateConcurrentCallsComputeOnce(t *testing.T) {
	var calls atomic.Int32
	store := newMemoryStore(0, 0)
	p := NewPopulator(store, Config{Registry: newCountingRegistry(&calls, 50*time.Millisecond)})
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		skipped atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := p.Populate(ctx, "hot", MustTask("report", "total", 1))
			if err != nil {
				t.Errorf("populate failed: %v", err)
				return
			}
			if res.Skipped {
				skipped.Add(1)
			}
		}()
	}
	wg.Wait()
	if calls.Load() != 1 {
		t.Fatalf("expected exactly one computation, got %d", calls.Load())
	}
	if skipped.Load() != 15 {
		t.Fatalf("expected 15 skipped populates, got %d", skipped.Load())
	}
}

func TestPopulateSkipsWithoutComputingWhenLocked(t *testing.T) {
	var calls atomic.Int32
	store := newMemoryStore(0, 0)
	p := NewPopulator(store, Config{Registry: newCountingRegistry(&calls, 0)})
	ctx := context.Background()
	if _, ok, _ := p.locker.TryAcquire(ctx, "k", time.Minute); !ok {
		t.Fatalf("setup acquire failed")
	}

	res, err := p.Populate(ctx, "k", MustTask("report", "total"))
	if err != nil || !res.Skipped || res.Computed {
		t.Fatalf("expected skip, res=%+v err=%v", res, err)
	}
	if calls.Load() != 0 {
		t.Fatalf("task must not run while locked")
	}
}

func TestPopulateComputationErrorReleasesLock(t *testing.T) {
	boom := errors.New("upstream down")
	reg := NewRegistry()
	reg.Register("r", "fail", func(context.Context, Args) (any, error) { return nil, boom })
	store := newMemoryStore(0, 0)
	p := NewPopulator(store, Config{Registry: reg})
	ctx := context.Background()

	_, err := p.Populate(ctx, "k", MustTask("r", "fail"))
	var cerr *ComputationError
	if !errors.As(err, &cerr) || !errors.Is(err, boom) {
		t.Fatalf("expected computation error, got %v", err)
	}
	if cerr.Key != "k" || cerr.Task.String() != "r.fail" {
		t.Fatalf("unexpected computation error %+v", cerr)
	}
	if _, ok, _ := store.Get(ctx, LockKey("k")); ok {
		t.Fatalf("lock should be released after failure")
	}
	if _, ok, _ := store.Get(ctx, CacheKey("k")); ok {
		t.Fatalf("nothing should be cached after failure")
	}
}

func TestPopulateSerializationError(t *testing.T) {
	reg := NewRegistry()
	reg.Register("r", "nan", func(context.Context, Args) (any, error) { return math.NaN(), nil })
	store := newMemoryStore(0, 0)
	p := NewPopulator(store, Config{Registry: reg})
	ctx := context.Background()

	_, err := p.Populate(ctx, "k", MustTask("r", "nan"))
	var serr *SerializationError
	if !errors.As(err, &serr) {
		t.Fatalf("expected serialization error, got %v", err)
	}
	if _, ok, _ := store.Get(ctx, CacheKey("k")); ok {
		t.Fatalf("nothing should be cached after serialization failure")
	}
	if _, ok, _ := store.Get(ctx, LockKey("k")); ok {
		t.Fatalf("lock should be released after serialization failure")
	}
}

func TestPopulateRejectsUnknownAndNilTasks(t *testing.T) {
	store := newMemoryStore(0, 0)
	p := NewPopulator(store, Config{})
	ctx := context.Background()

	if _, err := p.Populate(ctx, "k", Task{}); !errors.Is(err, ErrNilTask) {
		t.Fatalf("expected ErrNilTask, got %v", err)
	}
	if _, err := p.Populate(ctx, "k", MustTask("missing", "fn")); !errors.Is(err, ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask, got %v", err)
	}
	if _, ok, _ := store.Get(ctx, LockKey("k")); ok {
		t.Fatalf("lock should be released after unknown task")
	}
}

func TestPopulateUsesCacheTTL(t *testing.T) {
	var calls atomic.Int32
	store := newMemoryStore(0, 0)
	p := NewPopulator(store, Config{Registry: newCountingRegistry(&calls, 0), CacheTTL: 30 * time.Millisecond})
	ctx := context.Background()
	if _, err := p.Populate(ctx, "k", MustTask("report", "total")); err != nil {
		t.Fatalf("populate failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, ok, _ := store.Get(ctx, CacheKey("k")); ok {
		t.Fatalf("expected cached value to expire with CacheTTL")
	}
}

func TestPopulateExpiredLockIsNotDeleted(t *testing.T) {
	store := newMemoryStore(0, 0)
	reg := NewRegistry()
	started := make(chan struct{})
	proceed := make(chan struct{})
	reg.Register("r", "slow", func(context.Context, Args) (any, error) {
		close(started)
		<-proceed
		return "v", nil
	})
	p := NewPopulator(store, Config{Registry: reg, LockTTL: 30 * time.Millisecond})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := p.Populate(ctx, "k", MustTask("r", "slow"))
		done <- err
	}()
	<-started
	time.Sleep(50 * time.Millisecond)
	other, ok, err := p.locker.TryAcquire(ctx, "k", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected expired lock to be taken over: ok=%v err=%v", ok, err)
	}
	close(proceed)

	if err := <-done; err != nil {
		t.Fatalf("lost lock on release should only be logged, got %v", err)
	}
	body, found, _ := store.Get(ctx, LockKey("k"))
	if !found || string(body) != other.Token() {
		t.Fatalf("new owner's lock must survive, got %q", body)
	}
}

func TestPopulateRenewIntervalKeepsLock(t *testing.T) {
	store := newMemoryStore(0, 0)
	reg := NewRegistry()
	release := make(chan struct{})
	reg.Register("r", "slow", func(context.Context, Args) (any, error) {
		<-release
		return "v", nil
	})
	p := NewPopulator(store, Config{Registry: reg, LockTTL: 30 * time.Millisecond, RenewInterval: 10 * time.Millisecond})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := p.Populate(ctx, "k", MustTask("r", "slow"))
		done <- err
	}()
	time.Sleep(100 * time.Millisecond)
	if _, ok, _ := p.locker.TryAcquire(ctx, "k", time.Minute); ok {
		t.Fatalf("renewed lock should not be acquirable")
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("populate failed: %v", err)
	}
	if _, ok, _ := store.Get(ctx, LockKey("k")); ok {
		t.Fatalf("lock should be released")
	}
}

func TestPopulateStoreFailure(t *testing.T) {
	boom := errors.New("down")
	p := NewPopulator(&errorStore{driver: DriverRedis, err: boom}, Config{})
	_, err := p.Populate(context.Background(), "k", MustTask("r", "m"))
	var se *StoreError
	if !errors.As(err, &se) || !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
}
