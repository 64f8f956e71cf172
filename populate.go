package refreshcache

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

const cacheKeySuffix = ":cache"

// CacheKey returns the store key holding the value cached for key.
func CacheKey(key string) string { return key + cacheKeySuffix }

// PopulateResult describes the outcome of a populate run.
type PopulateResult struct {
	// Value is the serialized value written to the store when Computed is true.
	Value []byte
	// Computed is true when this call ran the task and stored the result.
	Computed bool
	// Skipped is true when another populate held the lock.
	Skipped bool
}

// Populator recomputes cache entries under the per-key population lock.
type Populator struct {
	store    Store
	locker   *Locker
	registry *Registry
	observer Observer

	cacheTTL      time.Duration
	lockTTL       time.Duration
	renewInterval time.Duration
}

// NewPopulator returns a Populator writing to store.
func NewPopulator(store Store, cfg Config) *Populator {
	cfg = cfg.withDefaults()
	return &Populator{
		store:         store,
		locker:        NewLocker(store, WithLockRetryInterval(cfg.LockRetryInterval), WithLockObserver(cfg.Observer)),
		registry:      cfg.Registry,
		observer:      cfg.Observer,
		cacheTTL:      cfg.CacheTTL,
		lockTTL:       cfg.LockTTL,
		renewInterval: cfg.RenewInterval,
	}
}

// Populate takes the lock for key, runs task and stores its JSON under
// CacheKey(key). When the lock is held elsewhere it returns Skipped without
// running the task. The lock is released on every path; a lock that expired
// mid-run is logged and never deleted on someone else's behalf.
func (p *Populator) Populate(ctx context.Context, key string, task Task) (res PopulateResult, err error) {
	start := time.Now()
	defer func() {
		observe(ctx, p.observer, OpPopulate, key, res.Computed, err, start, p.store.Driver())
	}()
	if err := validateTask(task); err != nil {
		return res, err
	}

	h, ok, err := p.locker.TryAcquire(ctx, key, p.lockTTL)
	if err != nil {
		return res, err
	}
	if !ok {
		log.Debugw("Populate already in flight", "key", key, "task", task.String())
		return PopulateResult{Skipped: true}, nil
	}
	defer func() {
		relErr := h.Release(context.WithoutCancel(ctx))
		if errors.Is(relErr, ErrLockLost) {
			log.Warnw("Population lock expired before release", "key", key, "task", task.String(), "lock_ttl", p.lockTTL)
			relErr = nil
		}
		err = joinErrors(err, relErr)
	}()
	if p.renewInterval > 0 {
		stop := h.KeepAlive(ctx, p.renewInterval)
		defer stop()
	}

	body, err := p.compute(ctx, key, task)
	if err != nil {
		return res, err
	}
	log.Debugw("Populated cache entry", "key", key, "task", task.String(), "bytes", len(body), "took", time.Since(start))
	return PopulateResult{Value: body, Computed: true}, nil
}

// compute runs task and stores the result without taking the lock.
func (p *Populator) compute(ctx context.Context, key string, task Task) ([]byte, error) {
	v, err := p.registry.Invoke(ctx, task)
	if err != nil {
		return nil, &ComputationError{Key: key, Task: task, Err: err}
	}
	body, err := json.Marshal(v)
	if err != nil {
		return nil, &SerializationError{Key: key, Err: err}
	}
	ck := CacheKey(key)
	if err := p.store.Set(ctx, ck, body, p.cacheTTL); err != nil {
		return nil, storeErr("set", ck, err)
	}
	return body, nil
}

func validateTask(task Task) error {
	if task.Receiver == "" || task.Method == "" {
		return ErrNilTask
	}
	return nil
}
