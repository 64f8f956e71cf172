package refreshcache

import (
	"errors"
	"fmt"
)

var (
	// ErrLockTimeout is returned when a lock could not be acquired before the wait deadline.
	ErrLockTimeout = errors.New("refreshcache: lock acquisition timed out")
	// ErrLockLost is returned when the stored token no longer belongs to the handle.
	ErrLockLost = errors.New("refreshcache: lock no longer owned")
	// ErrUnknownTask is returned when a task does not resolve to a registered function.
	ErrUnknownTask = errors.New("refreshcache: unknown task")
	// ErrNilTask is returned when a fetch or populate is requested without a task.
	ErrNilTask = errors.New("refreshcache: nil task")
)

// StoreError wraps a failure of the shared store.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("refreshcache: store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// ComputationError wraps a failure returned by a recomputation task.
type ComputationError struct {
	Key  string
	Task Task
	Err  error
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("refreshcache: compute %q via %s: %v", e.Key, e.Task, e.Err)
}

func (e *ComputationError) Unwrap() error { return e.Err }

// SerializationError wraps a failure to encode a computed value. Nothing is cached.
type SerializationError struct {
	Key string
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("refreshcache: serialize %q: %v", e.Key, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

func storeErr(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Key: key, Err: err}
}
