package cachecore

import (
	"context"
	"time"
)

// Store is the shared key-value contract used for cached values and lock tokens.
//
// Implementations propagate backend failures unchanged and never retry.
type Store interface {
	Driver() Driver
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Add writes value only when key is absent and reports whether it did.
	Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	// CompareAndDelete removes key only when its current value equals expected.
	CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error)
	// CompareAndExpire resets the ttl of key only when its current value equals expected.
	CompareAndExpire(ctx context.Context, key string, expected []byte, ttl time.Duration) (bool, error)
}
