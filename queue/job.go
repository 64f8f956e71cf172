// Package queue dispatches background jobs to workers with at-least-once
// delivery. Jobs are JSON documents naming a worker and carrying positional
// JSON arguments.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("refreshcache/queue")

// ErrClosed is returned when enqueueing to a dispatcher that has been closed.
var ErrClosed = errors.New("queue: closed")

// ErrNoHandler is returned by a Mux for jobs naming an unregistered worker.
var ErrNoHandler = errors.New("queue: no handler for worker")

// Job is a unit of background work.
type Job struct {
	ID         string            `json:"id"`
	Worker     string            `json:"worker"`
	Args       []json.RawMessage `json:"args,omitempty"`
	Attempt    int               `json:"attempt"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
}

// NewJob encodes args and returns a job for the named worker with a fresh ID.
func NewJob(worker string, args ...any) (Job, error) {
	job := Job{
		ID:     uuid.NewString(),
		Worker: worker,
		Args:   make([]json.RawMessage, 0, len(args)),
	}
	for i, arg := range args {
		raw, err := json.Marshal(arg)
		if err != nil {
			return Job{}, fmt.Errorf("queue: encode arg %d of %s: %w", i, worker, err)
		}
		job.Args = append(job.Args, raw)
	}
	return job, nil
}

// Arg decodes argument i into v.
func (j Job) Arg(i int, v any) error {
	if i < 0 || i >= len(j.Args) {
		return fmt.Errorf("queue: job %s has no arg %d", j.ID, i)
	}
	if err := json.Unmarshal(j.Args[i], v); err != nil {
		return fmt.Errorf("queue: decode arg %d of job %s: %w", i, j.ID, err)
	}
	return nil
}

// Dispatcher accepts jobs for background execution.
type Dispatcher interface {
	Enqueue(ctx context.Context, job Job) error
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, job Job) error

// Enqueue implements Dispatcher.
func (f DispatcherFunc) Enqueue(ctx context.Context, job Job) error { return f(ctx, job) }

// Handler executes jobs. A returned error asks for redelivery.
type Handler interface {
	HandleJob(ctx context.Context, job Job) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, job Job) error

// HandleJob implements Handler.
func (f HandlerFunc) HandleJob(ctx context.Context, job Job) error { return f(ctx, job) }

// Mux routes jobs to handlers by worker name.
type Mux struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewMux returns an empty Mux.
func NewMux() *Mux {
	return &Mux{handlers: make(map[string]Handler)}
}

// Handle registers h for the named worker.
func (m *Mux) Handle(worker string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[worker] = h
}

// HandleJob implements Handler.
func (m *Mux) HandleJob(ctx context.Context, job Job) error {
	m.mu.RLock()
	h, ok := m.handlers[job.Worker]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w %q", ErrNoHandler, job.Worker)
	}
	return h.HandleJob(ctx, job)
}

func encodeJob(job Job) ([]byte, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	return json.Marshal(job)
}

func decodeJob(data []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return Job{}, fmt.Errorf("queue: decode job: %w", err)
	}
	if job.Worker == "" {
		return Job{}, errors.New("queue: job without worker")
	}
	return job, nil
}
