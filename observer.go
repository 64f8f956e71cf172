package refreshcache

import (
	"context"
	"time"

	"github.com/goforj/refreshcache/cachecore"
)

// Operation names reported to an Observer.
const (
	OpFetch    = "fetch"
	OpPopulate = "populate"
	OpDispatch = "dispatch"
	OpLock     = "lock"
	OpUnlock   = "unlock"
	OpRefresh  = "refresh"
)

// Observer receives events for cache and lock operations.
// It is called synchronously after each operation completes, so implementations
// should return quickly.
type Observer interface {
	OnCacheOp(ctx context.Context, op string, key string, hit bool, err error, dur time.Duration, driver cachecore.Driver)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, op string, key string, hit bool, err error, dur time.Duration, driver cachecore.Driver)

// OnCacheOp implements Observer.
func (f ObserverFunc) OnCacheOp(ctx context.Context, op string, key string, hit bool, err error, dur time.Duration, driver cachecore.Driver) {
	if f == nil {
		return
	}
	f(ctx, op, key, hit, err, dur, driver)
}

func observe(ctx context.Context, o Observer, op, key string, hit bool, err error, start time.Time, driver Driver) {
	if o == nil {
		return
	}
	o.OnCacheOp(ctx, op, key, hit, err, time.Since(start), driver)
}
