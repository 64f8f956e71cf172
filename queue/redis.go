package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of go-redis used by RedisQueue.
// *redis.Client and *redis.ClusterClient satisfy it.
type RedisClient interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	BLMove(ctx context.Context, source, destination, srcpos, destpos string, timeout time.Duration) *redis.StringCmd
	LMove(ctx context.Context, source, destination, srcpos, destpos string) *redis.StringCmd
	LRem(ctx context.Context, key string, count int64, value interface{}) *redis.IntCmd
}

// RedisQueue is a Dispatcher backed by a Redis list.
//
// Consumers move each job into a processing list while it runs, so jobs held by
// a crashed consumer can be put back with Recover. Jobs that exhaust their
// attempts are pushed to a dead list.
type RedisQueue struct {
	client     RedisClient
	key        string
	processing string
	dead       string
	cfg        config
}

// NewRedisQueue returns a queue stored under the list named name.
func NewRedisQueue(client RedisClient, name string, opts ...Option) *RedisQueue {
	return &RedisQueue{
		client:     client,
		key:        name,
		processing: name + ":processing",
		dead:       name + ":dead",
		cfg:        newConfig(opts),
	}
}

// Enqueue implements Dispatcher.
func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	body, err := encodeJob(job)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, body).Err()
}

// Recover moves every job left in the processing list back onto the queue and
// returns how many were moved.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	var n int
	for {
		err := q.client.LMove(ctx, q.processing, q.key, "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}

// Consume runs jobs with h until ctx is cancelled.
func (q *RedisQueue) Consume(ctx context.Context, h Handler) error {
	var wg sync.WaitGroup
	for i := 0; i < q.cfg.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.consume(ctx, h)
		}()
	}
	wg.Wait()
	return nil
}

func (q *RedisQueue) consume(ctx context.Context, h Handler) {
	idle := q.cfg.newBackOff()
	for ctx.Err() == nil {
		raw, err := q.client.BLMove(ctx, q.key, q.processing, "RIGHT", "LEFT", q.cfg.pollTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := idle.NextBackOff()
			log.Errorw("Failed to read redis queue", "queue", q.key, "retry_in", wait, "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		idle.Reset()
		q.handle(ctx, h, raw)
	}
}

func (q *RedisQueue) handle(ctx context.Context, h Handler, raw string) {
	// Cleanup must survive consumer shutdown.
	bg := context.WithoutCancel(ctx)
	job, err := decodeJob([]byte(raw))
	if err == nil {
		err = run(ctx, h, job, q.cfg)
		if err != nil {
			log.Errorw("Job exhausted attempts", "queue", q.key, "job", job.ID, "worker", job.Worker, "err", err)
		}
	} else {
		log.Errorw("Discarding malformed job", "queue", q.key, "err", err)
	}
	if err != nil {
		if ctx.Err() != nil {
			// Leave it in the processing list for Recover.
			return
		}
		if perr := q.client.LPush(bg, q.dead, raw).Err(); perr != nil {
			log.Errorw("Failed to dead-letter job", "queue", q.key, "err", perr)
		}
	}
	if rerr := q.client.LRem(bg, q.processing, 1, raw).Err(); rerr != nil {
		log.Errorw("Failed to ack job", "queue", q.key, "err", rerr)
	}
}
