package refreshcache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// NewStore returns a concrete store for the requested driver.
// Construction failures are surfaced by a store that returns the error from every call.
//
// Example: select driver explicitly
//
//	ctx := context.Background()
//	store := refreshcache.NewStore(ctx, refreshcache.StoreConfig{
//		Driver: refreshcache.DriverMemory,
//	})
//	fmt.Println(store.Driver()) // memory
func NewStore(ctx context.Context, cfg StoreConfig) Store {
	cfg = cfg.withDefaults()
	switch cfg.Driver {
	case DriverRedis:
		client := cfg.RedisClient
		if client == nil && cfg.RedisURL != "" {
			opts, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				return &errorStore{driver: DriverRedis, err: fmt.Errorf("parse redis url: %w", err)}
			}
			client = redis.NewClient(opts)
		}
		return newRedisStore(client, cfg.DefaultTTL, cfg.Prefix)
	case DriverNATS:
		return newNATSStore(cfg.NATSKeyValue, cfg.DefaultTTL, cfg.Prefix)
	case DriverMemcached:
		return newMemcachedStore(cfg.MemcachedAddresses, cfg.DefaultTTL, cfg.Prefix)
	case DriverSQL:
		store, err := newSQLStore(cfg)
		if err != nil {
			return &errorStore{driver: DriverSQL, err: err}
		}
		return store
	case DriverDynamo:
		store, err := newDynamoStore(ctx, cfg)
		if err != nil {
			return &errorStore{driver: DriverDynamo, err: err}
		}
		return store
	case DriverNull:
		return newNullStore()
	default:
		return newMemoryStore(cfg.DefaultTTL, cfg.MemoryCleanupInterval)
	}
}

// NewStoreWith builds a store using a driver and a set of functional options.
//
// Example: redis store (options)
//
//	store := refreshcache.NewStoreWith(ctx, refreshcache.DriverRedis,
//		refreshcache.WithRedisURL("redis://127.0.0.1:6379/0"),
//		refreshcache.WithPrefix("app"),
//	)
//	fmt.Println(store.Driver()) // redis
func NewStoreWith(ctx context.Context, driver Driver, opts ...StoreOption) Store {
	cfg := StoreConfig{Driver: driver}
	for _, opt := range opts {
		cfg = opt(cfg)
	}
	return NewStore(ctx, cfg)
}

// NewMemoryStore is a convenience for an in-process store.
func NewMemoryStore(ctx context.Context, opts ...StoreOption) Store {
	return NewStoreWith(ctx, DriverMemory, opts...)
}

// NewRedisStore is a convenience for a redis-backed store.
func NewRedisStore(ctx context.Context, client RedisClient, opts ...StoreOption) Store {
	return NewStoreWith(ctx, DriverRedis, append([]StoreOption{WithRedisClient(client)}, opts...)...)
}

// NewNATSStore is a convenience for a NATS JetStream key-value store.
func NewNATSStore(ctx context.Context, kv NATSKeyValue, opts ...StoreOption) Store {
	return NewStoreWith(ctx, DriverNATS, append([]StoreOption{WithNATSKeyValue(kv)}, opts...)...)
}

// NewMemcachedStore is a convenience for a memcached store.
func NewMemcachedStore(ctx context.Context, addrs []string, opts ...StoreOption) Store {
	return NewStoreWith(ctx, DriverMemcached, append([]StoreOption{WithMemcachedAddresses(addrs...)}, opts...)...)
}

// NewSQLStore is a convenience for a database/sql backed store.
func NewSQLStore(ctx context.Context, driverName, dsn string, opts ...StoreOption) Store {
	return NewStoreWith(ctx, DriverSQL, append([]StoreOption{WithSQL(driverName, dsn, "")}, opts...)...)
}

// NewDynamoStore is a convenience for a DynamoDB store.
func NewDynamoStore(ctx context.Context, opts ...StoreOption) Store {
	return NewStoreWith(ctx, DriverDynamo, opts...)
}

// NewNullStore returns a store that never holds values, so every Fetch computes synchronously.
func NewNullStore(ctx context.Context) Store {
	return NewStoreWith(ctx, DriverNull)
}
