package refreshcache

import (
	"time"

	"github.com/goforj/refreshcache/queue"
)

// Config controls Cache and Populator behavior.
type Config struct {
	// CacheTTL is the lifetime of a populated value. Defaults to DefaultCacheTTL.
	CacheTTL time.Duration
	// LockTTL bounds a population lock. Defaults to DefaultLockTTL.
	LockTTL time.Duration
	// RenewInterval, when positive, keeps the population lock alive while a
	// task runs longer than LockTTL.
	RenewInterval time.Duration
	// LockRetryInterval is the polling interval of the cache's Locker.
	LockRetryInterval time.Duration

	// Dispatcher receives populate jobs on cache hits. When nil, refreshes
	// run on a goroutine of the calling process.
	Dispatcher queue.Dispatcher
	Observer   Observer
	Registry   *Registry
}

// CacheOption mutates a Config.
type CacheOption func(Config) Config

func (c Config) withDefaults() Config {
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.LockTTL <= 0 {
		c.LockTTL = DefaultLockTTL
	}
	if c.LockRetryInterval <= 0 {
		c.LockRetryInterval = DefaultLockRetryInterval
	}
	if c.Registry == nil {
		c.Registry = NewRegistry()
	}
	return c
}

// WithCacheTTL sets how long populated values live.
func WithCacheTTL(ttl time.Duration) CacheOption {
	return func(c Config) Config {
		c.CacheTTL = ttl
		return c
	}
}

// WithLockTTL sets the population lock expiration.
func WithLockTTL(ttl time.Duration) CacheOption {
	return func(c Config) Config {
		c.LockTTL = ttl
		return c
	}
}

// WithRenewInterval enables lock renewal while a task runs.
func WithRenewInterval(d time.Duration) CacheOption {
	return func(c Config) Config {
		c.RenewInterval = d
		return c
	}
}

// WithDispatcher routes refresh jobs through d.
func WithDispatcher(d queue.Dispatcher) CacheOption {
	return func(c Config) Config {
		c.Dispatcher = d
		return c
	}
}

// WithObserver reports cache and lock operations to o.
func WithObserver(o Observer) CacheOption {
	return func(c Config) Config {
		c.Observer = o
		return c
	}
}

// WithRegistry resolves tasks through r.
func WithRegistry(r *Registry) CacheOption {
	return func(c Config) Config {
		c.Registry = r
		return c
	}
}
