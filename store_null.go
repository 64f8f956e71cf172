package refreshcache

import (
	"context"
	"time"
)

// nullStore keeps nothing: reads always miss and writes always succeed.
type nullStore struct{}

func newNullStore() Store { return &nullStore{} }

func (s *nullStore) Driver() Driver { return DriverNull }

func (s *nullStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, nil
}

func (s *nullStore) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

func (s *nullStore) Add(context.Context, string, []byte, time.Duration) (bool, error) {
	return true, nil
}

func (s *nullStore) Delete(context.Context, string) error { return nil }

func (s *nullStore) CompareAndDelete(context.Context, string, []byte) (bool, error) {
	return true, nil
}

func (s *nullStore) CompareAndExpire(context.Context, string, []byte, time.Duration) (bool, error) {
	return true, nil
}
