package queue

import (
	"context"
	"sync"
	"time"

	"github.com/gammazero/channelqueue"
)

// Pool is an in-process Dispatcher. Enqueued jobs are buffered without bound
// and run by a fixed set of worker goroutines.
type Pool struct {
	handler Handler
	cfg     config
	cq      *channelqueue.ChannelQueue[Job]

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool starts a pool delivering jobs to h.
func NewPool(h Handler, opts ...Option) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		handler: h,
		cfg:     newConfig(opts),
		cq:      channelqueue.New[Job](-1),
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := 0; i < p.cfg.workers; i++ {
		p.wg.Add(1)
		go p.work()
	}
	return p
}

// Enqueue implements Dispatcher.
func (p *Pool) Enqueue(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.cq.In() <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of buffered jobs not yet picked up by a worker.
func (p *Pool) Len() int { return p.cq.Len() }

// Close stops accepting jobs, lets the workers drain the buffer and waits for them.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.cq.Close()
	p.mu.Unlock()
	p.wg.Wait()
	p.cancel()
}

// Abort stops accepting jobs and cancels pending retries and running handlers.
func (p *Pool) Abort() {
	p.cancel()
	p.Close()
}

func (p *Pool) work() {
	defer p.wg.Done()
	for job := range p.cq.Out() {
		if err := run(p.ctx, p.handler, job, p.cfg); err != nil {
			log.Errorw("Dropping job after failed deliveries", "job", job.ID, "worker", job.Worker, "err", err)
		}
	}
}
