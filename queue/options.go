package queue

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultWorkers         = 4
	defaultMaxAttempts     = 5
	defaultInitialInterval = 100 * time.Millisecond
	defaultMaxInterval     = 5 * time.Second
	defaultPollTimeout     = time.Second
)

type config struct {
	workers     int
	maxAttempts int
	pollTimeout time.Duration
	newBackOff  func() backoff.BackOff
}

// Option configures a Pool, RedisQueue or NATSQueue.
type Option func(*config)

// WithWorkers sets the number of concurrent job handlers.
func WithWorkers(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithMaxAttempts bounds how many times a failing job is delivered.
func WithMaxAttempts(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBackOff sets the redelivery delay policy. fn is called once per job.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(c *config) {
		if fn != nil {
			c.newBackOff = fn
		}
	}
}

// WithPollTimeout sets how long a broker-backed consumer blocks waiting for work.
func WithPollTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.pollTimeout = d
		}
	}
}

func newConfig(opts []Option) config {
	c := config{
		workers:     defaultWorkers,
		maxAttempts: defaultMaxAttempts,
		pollTimeout: defaultPollTimeout,
		newBackOff:  defaultBackOff,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&c)
		}
	}
	return c
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = defaultInitialInterval
	b.MaxInterval = defaultMaxInterval
	b.MaxElapsedTime = 0
	return b
}
