package refreshcache

import (
	"context"
	"time"
)

// errorStore is returned when a driver fails to initialize; it preserves the driver
// identity while surfacing the construction error on every call.
type errorStore struct {
	driver Driver
	err    error
}

func (e *errorStore) Driver() Driver                                    { return e.driver }
func (e *errorStore) Get(context.Context, string) ([]byte, bool, error) { return nil, false, e.err }
func (e *errorStore) Set(context.Context, string, []byte, time.Duration) error {
	return e.err
}
func (e *errorStore) Add(context.Context, string, []byte, time.Duration) (bool, error) {
	return false, e.err
}
func (e *errorStore) Delete(context.Context, string) error { return e.err }
func (e *errorStore) CompareAndDelete(context.Context, string, []byte) (bool, error) {
	return false, e.err
}
func (e *errorStore) CompareAndExpire(context.Context, string, []byte, time.Duration) (bool, error) {
	return false, e.err
}
