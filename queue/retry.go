package queue

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// run delivers job to h until it succeeds, maxAttempts is reached or ctx ends.
// It returns the last handler error.
func run(ctx context.Context, h Handler, job Job, cfg config) error {
	b := backoff.WithContext(backoff.WithMaxRetries(cfg.newBackOff(), uint64(cfg.maxAttempts-1)), ctx)
	op := func() error {
		job.Attempt++
		return h.HandleJob(ctx, job)
	}
	notify := func(err error, next time.Duration) {
		log.Warnw("Job failed, retrying", "job", job.ID, "worker", job.Worker, "attempt", job.Attempt, "next", next, "err", err)
	}
	return backoff.RetryNotify(op, b, notify)
}

// Permanent marks err as not worth redelivering.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

func isPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}
