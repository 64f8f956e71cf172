package refreshcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

const lockKeySuffix = ":lock"

// LockKey returns the store key holding the token of the named lock.
func LockKey(name string) string { return name + lockKeySuffix }

// Locker hands out named, expiring locks backed by a shared Store.
//
// Each acquisition writes a random owner token; release and refresh only act
// while the stored token is still the one written by the handle.
type Locker struct {
	store         Store
	retryInterval time.Duration
	observer      Observer
}

// LockerOption customizes a Locker.
type LockerOption func(*Locker)

// WithLockRetryInterval sets the polling interval of Acquire.
func WithLockRetryInterval(d time.Duration) LockerOption {
	return func(l *Locker) {
		if d > 0 {
			l.retryInterval = d
		}
	}
}

// WithLockObserver reports lock and unlock operations to o.
func WithLockObserver(o Observer) LockerOption {
	return func(l *Locker) { l.observer = o }
}

// NewLocker returns a Locker over store.
//
// Example: serialize a double submit
//
//	ctx := context.Background()
//	locker := refreshcache.NewLocker(refreshcache.NewMemoryStore(ctx))
//	err := locker.WithLock(ctx, "checkout:42", 10*time.Second, time.Second, func(ctx context.Context) error {
//		// charge once
//		return nil
//	})
//	fmt.Println(err) // <nil>
func NewLocker(store Store, opts ...LockerOption) *Locker {
	l := &Locker{store: store, retryInterval: DefaultLockRetryInterval}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// TryAcquire makes a single attempt to take the named lock.
// The bool is false, with a nil handle, when somebody else holds it.
func (l *Locker) TryAcquire(ctx context.Context, name string, expiration time.Duration) (*LockHandle, bool, error) {
	key := LockKey(name)
	token := uuid.NewString()
	start := time.Now()
	ok, err := l.store.Add(ctx, key, []byte(token), expiration)
	observe(ctx, l.observer, OpLock, name, ok, err, start, l.store.Driver())
	if err != nil {
		return nil, false, storeErr("add", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	h := &LockHandle{
		locker: l,
		name:   name,
		key:    key,
		token:  []byte(token),
		ttl:    expiration,
	}
	h.held.Store(true)
	return h, true, nil
}

// Acquire polls for the named lock until it is obtained or timeout elapses,
// in which case ErrLockTimeout is returned. Cancellation of ctx returns ctx.Err().
func (l *Locker) Acquire(ctx context.Context, name string, expiration, timeout time.Duration) (*LockHandle, error) {
	deadline := time.Now().Add(timeout)
	for {
		h, ok, err := l.TryAcquire(ctx, name, expiration)
		if err != nil {
			return nil, err
		}
		if ok {
			return h, nil
		}
		wait := time.Until(deadline)
		if wait <= 0 {
			return nil, ErrLockTimeout
		}
		if wait > l.retryInterval {
			wait = l.retryInterval
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// WithLock acquires the named lock, runs fn and releases the lock on every
// exit path, panics included. When the lock cannot be acquired fn does not run
// and the acquisition error is returned.
func (l *Locker) WithLock(ctx context.Context, name string, expiration, timeout time.Duration, fn func(context.Context) error) (err error) {
	if fn == nil {
		return errors.New("refreshcache: WithLock requires a callback")
	}
	h, err := l.Acquire(ctx, name, expiration, timeout)
	if err != nil {
		return err
	}
	defer func() {
		err = joinErrors(err, h.Release(context.WithoutCancel(ctx)))
	}()
	return fn(ctx)
}

// ForceRelease deletes the named lock regardless of owner.
// It is meant for operators clearing a lock left by a crashed holder.
func (l *Locker) ForceRelease(ctx context.Context, name string) error {
	key := LockKey(name)
	start := time.Now()
	err := l.store.Delete(ctx, key)
	observe(ctx, l.observer, OpUnlock, name, false, err, start, l.store.Driver())
	return storeErr("delete", key, err)
}

// LockHandle is an acquired lock. Release is idempotent.
type LockHandle struct {
	locker *Locker
	name   string
	key    string
	token  []byte
	ttl    time.Duration
	held   atomic.Bool
}

// Name returns the lock name.
func (h *LockHandle) Name() string { return h.name }

// Token returns the owner token written at acquisition.
func (h *LockHandle) Token() string { return string(h.token) }

// Held reports whether the handle still believes it owns the lock.
func (h *LockHandle) Held() bool { return h.held.Load() }

// Release deletes the lock if the stored token is still ours.
// ErrLockLost means the lock expired and may now belong to someone else;
// nothing was deleted in that case.
func (h *LockHandle) Release(ctx context.Context) error {
	if !h.held.CompareAndSwap(true, false) {
		return nil
	}
	start := time.Now()
	ok, err := h.locker.store.CompareAndDelete(ctx, h.key, h.token)
	observe(ctx, h.locker.observer, OpUnlock, h.name, ok, err, start, h.locker.store.Driver())
	if err != nil {
		h.held.Store(true)
		return storeErr("compare_and_delete", h.key, err)
	}
	if !ok {
		return ErrLockLost
	}
	return nil
}

// Refresh resets the lock expiration while the token is still ours.
func (h *LockHandle) Refresh(ctx context.Context) error {
	if !h.held.Load() {
		return ErrLockLost
	}
	start := time.Now()
	ok, err := h.locker.store.CompareAndExpire(ctx, h.key, h.token, h.ttl)
	observe(ctx, h.locker.observer, OpRefresh, h.name, ok, err, start, h.locker.store.Driver())
	if err != nil {
		return storeErr("compare_and_expire", h.key, err)
	}
	if !ok {
		h.held.Store(false)
		return ErrLockLost
	}
	return nil
}

// KeepAlive refreshes the lock every interval until stop is called, ctx ends
// or the lock is lost. stop waits for the heartbeat goroutine to exit.
func (h *LockHandle) KeepAlive(ctx context.Context, interval time.Duration) (stop func()) {
	if interval <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			if err := h.Refresh(ctx); err != nil {
				if errors.Is(err, ErrLockLost) {
					log.Warnw("Lock lost during keepalive", "lock", h.name)
					return
				}
				if ctx.Err() != nil {
					return
				}
				log.Errorw("Failed to refresh lock", "lock", h.name, "err", err)
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}
}

func joinErrors(primary, secondary error) error {
	if secondary == nil {
		return primary
	}
	if primary == nil {
		return secondary
	}
	return multierror.Append(primary, secondary)
}
