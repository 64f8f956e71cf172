package refreshcache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Task is a serializable reference to a recomputation: a registered receiver,
// one of its methods and JSON-encoded arguments.
//
// Tasks may run more than once for the same key, so the referenced functions
// must be idempotent.
type Task struct {
	Receiver string `json:"receiver"`
	Method   string `json:"method"`
	Args     Args   `json:"args,omitempty"`
}

// NewTask encodes args and returns a task referencing receiver.method.
//
// Example: reference a registered method
//
//	task, err := refreshcache.NewTask("reports", "monthly", 2024, "eu")
//	fmt.Println(err == nil, task) // true reports.monthly
func NewTask(receiver, method string, args ...any) (Task, error) {
	encoded := make(Args, 0, len(args))
	for i, arg := range args {
		raw, err := json.Marshal(arg)
		if err != nil {
			return Task{}, fmt.Errorf("encode task arg %d: %w", i, err)
		}
		encoded = append(encoded, raw)
	}
	return Task{Receiver: receiver, Method: method, Args: encoded}, nil
}

// MustTask is NewTask for arguments that are known to encode.
func MustTask(receiver, method string, args ...any) Task {
	task, err := NewTask(receiver, method, args...)
	if err != nil {
		panic(err)
	}
	return task
}

func (t Task) String() string {
	return t.Receiver + "." + t.Method
}

// Args holds the positional JSON arguments of a task.
type Args []json.RawMessage

// Len returns the number of arguments.
func (a Args) Len() int { return len(a) }

// Decode unmarshals argument i into v.
func (a Args) Decode(i int, v any) error {
	if i < 0 || i >= len(a) {
		return fmt.Errorf("task arg %d out of range (%d args)", i, len(a))
	}
	if err := json.Unmarshal(a[i], v); err != nil {
		return fmt.Errorf("decode task arg %d: %w", i, err)
	}
	return nil
}

// TaskFunc computes a value from task arguments.
type TaskFunc func(ctx context.Context, args Args) (any, error)

// taskName keys the registry by receiver and method separately so that
// dotted names cannot collide.
type taskName struct {
	receiver string
	method   string
}

// Registry resolves tasks to functions. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	funcs map[taskName]TaskFunc
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[taskName]TaskFunc)}
}

// Register binds receiver.method to fn, replacing any previous binding.
func (r *Registry) Register(receiver, method string, fn TaskFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.funcs == nil {
		r.funcs = make(map[taskName]TaskFunc)
	}
	r.funcs[taskName{receiver: receiver, method: method}] = fn
}

// Lookup returns the function bound to the task.
func (r *Registry) Lookup(task Task) (TaskFunc, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[taskName{receiver: task.Receiver, method: task.Method}]
	return fn, ok && fn != nil
}

// Invoke runs the function bound to the task. It never retries.
func (r *Registry) Invoke(ctx context.Context, task Task) (any, error) {
	fn, ok := r.Lookup(task)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, task)
	}
	return fn(ctx, task.Args)
}

// Names lists registered receiver.method names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name.receiver+"."+name.method)
	}
	sort.Strings(names)
	return names
}
