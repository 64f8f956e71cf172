package refreshcache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goforj/refreshcache/queue"
	"golang.org/x/sync/singleflight"
)

// PopulateWorker is the queue worker name of populate jobs.
const PopulateWorker = "refreshcache.populate"

// Cache serves the last known value for a key and refreshes it in the
// background.
//
// A hit returns the stored value immediately and schedules a populate job; a
// miss computes the value in the caller's goroutine. Readers never take the
// lock, so a hit may return a value that is being replaced.
type Cache struct {
	store     Store
	cfg       Config
	populator *Populator
	locker    *Locker

	group   singleflight.Group
	pending sync.WaitGroup
}

// NewCache returns a Cache over store.
//
// Example: refresh-ahead with an in-process worker
//
//	ctx := context.Background()
//	reg := refreshcache.NewRegistry()
//	reg.Register("reports", "monthly", func(ctx context.Context, args refreshcache.Args) (any, error) {
//		return map[string]int{"total": 42}, nil
//	})
//	c := refreshcache.NewCache(refreshcache.NewMemoryStore(ctx), refreshcache.WithRegistry(reg))
//	body, err := c.Fetch(ctx, "reports:2024", refreshcache.MustTask("reports", "monthly"))
//	fmt.Println(string(body), err) // {"total":42} <nil>
func NewCache(store Store, opts ...CacheOption) *Cache {
	var cfg Config
	for _, opt := range opts {
		if opt != nil {
			cfg = opt(cfg)
		}
	}
	cfg = cfg.withDefaults()
	p := NewPopulator(store, cfg)
	return &Cache{
		store:     store,
		cfg:       cfg,
		populator: p,
		locker:    p.locker,
	}
}

// Store returns the underlying store.
func (c *Cache) Store() Store { return c.store }

// Registry returns the task registry used to resolve tasks.
func (c *Cache) Registry() *Registry { return c.cfg.Registry }

// Locker returns the Locker guarding population, usable for other critical sections.
func (c *Cache) Locker() *Locker { return c.locker }

// Populator returns the populator shared by the miss path and HandleJob.
func (c *Cache) Populator() *Populator { return c.populator }

// Fetch returns the JSON value cached for key.
//
// On a hit the stored bytes are returned and a refresh is scheduled; a failure
// to schedule is logged and reported to the Observer but does not fail the
// call. On a miss task runs synchronously and its result is stored and returned.
func (c *Cache) Fetch(ctx context.Context, key string, task Task) (body []byte, err error) {
	start := time.Now()
	hit := false
	defer func() {
		observe(ctx, c.cfg.Observer, OpFetch, key, hit, err, start, c.store.Driver())
	}()
	if err := validateTask(task); err != nil {
		return nil, err
	}

	ck := CacheKey(key)
	body, ok, err := c.store.Get(ctx, ck)
	if err != nil {
		return nil, storeErr("get", ck, err)
	}
	if ok {
		hit = true
		if derr := c.schedule(ctx, key, task); derr != nil {
			log.Errorw("Failed to schedule refresh, serving stale value", "key", key, "task", task.String(), "err", derr)
		}
		return body, nil
	}
	return c.populateMiss(ctx, key, task)
}

// FetchValue is Fetch decoding the cached JSON into T.
func FetchValue[T any](ctx context.Context, c *Cache, key string, task Task) (T, error) {
	var out T
	body, err := c.Fetch(ctx, key, task)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, &SerializationError{Key: key, Err: err}
	}
	return out, nil
}

// Warm schedules a populate job for key without reading the cache.
func (c *Cache) Warm(ctx context.Context, key string, task Task) error {
	if err := validateTask(task); err != nil {
		return err
	}
	return c.schedule(ctx, key, task)
}

// Forget removes the cached value for key. A running populate may write it again.
func (c *Cache) Forget(ctx context.Context, key string) error {
	ck := CacheKey(key)
	return storeErr("delete", ck, c.store.Delete(ctx, ck))
}

// HandleJob implements queue.Handler for populate jobs.
func (c *Cache) HandleJob(ctx context.Context, job queue.Job) error {
	if job.Worker != PopulateWorker {
		return queue.Permanent(fmt.Errorf("%w %q", queue.ErrNoHandler, job.Worker))
	}
	var (
		key  string
		task Task
	)
	if err := job.Arg(0, &key); err != nil {
		return queue.Permanent(err)
	}
	if err := job.Arg(1, &task); err != nil {
		return queue.Permanent(err)
	}
	res, err := c.populator.Populate(ctx, key, task)
	if err != nil {
		if errors.Is(err, ErrUnknownTask) || errors.Is(err, ErrNilTask) {
			return queue.Permanent(err)
		}
		return err
	}
	if res.Skipped {
		log.Debugw("Skipped populate job", "job", job.ID, "key", key)
	}
	return nil
}

// Wait blocks until refreshes started without a Dispatcher have finished.
func (c *Cache) Wait() { c.pending.Wait() }

// NewPopulateJob returns the queue job that refreshes key with task.
func NewPopulateJob(key string, task Task) (queue.Job, error) {
	return queue.NewJob(PopulateWorker, key, task)
}

func (c *Cache) populateMiss(ctx context.Context, key string, task Task) ([]byte, error) {
	v, err, _ := c.group.Do(key, func() (any, error) {
		res, err := c.populator.Populate(ctx, key, task)
		if err != nil {
			return nil, err
		}
		if res.Computed {
			return res.Value, nil
		}
		// A refresh holds the lock; compute anyway rather than wait for it.
		return c.populator.compute(ctx, key, task)
	})
	if err != nil {
		return nil, err
	}
	return bytes.Clone(v.([]byte)), nil
}

func (c *Cache) schedule(ctx context.Context, key string, task Task) (err error) {
	start := time.Now()
	defer func() {
		observe(ctx, c.cfg.Observer, OpDispatch, key, false, err, start, c.store.Driver())
	}()
	if c.cfg.Dispatcher == nil {
		c.pending.Add(1)
		go func() {
			defer c.pending.Done()
			if _, err := c.populator.Populate(context.WithoutCancel(ctx), key, task); err != nil {
				log.Errorw("Background refresh failed", "key", key, "task", task.String(), "err", err)
			}
		}()
		return nil
	}
	job, err := NewPopulateJob(key, task)
	if err != nil {
		return err
	}
	return c.cfg.Dispatcher.Enqueue(ctx, job)
}
