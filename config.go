package refreshcache

import (
	"time"

	"github.com/goforj/refreshcache/cachecore"
)

const (
	defaultCachePrefix           = "app"
	defaultStoreTTL              = 5 * time.Minute
	defaultMemoryCleanupInterval = 10 * time.Minute
	defaultSQLTable              = "cache_entries"
	defaultDynamoTable           = "cache_entries"
	defaultDynamoRegion          = "us-east-1"

	// DefaultCacheTTL is how long a populated value stays in the store.
	DefaultCacheTTL = 30 * 24 * time.Hour
	// DefaultLockTTL bounds how long a population lock survives a crashed holder.
	DefaultLockTTL = 10 * time.Second
	// DefaultLockRetryInterval is the polling interval of blocking lock acquisition.
	DefaultLockRetryInterval = 25 * time.Millisecond
)

// StoreConfig controls how a Store is constructed.
type StoreConfig struct {
	cachecore.BaseConfig

	Driver Driver

	// MemoryCleanupInterval controls in-process cache eviction.
	MemoryCleanupInterval time.Duration

	// RedisClient is required when DriverRedis is used unless RedisURL is set.
	RedisClient RedisClient
	// RedisURL is parsed with redis.ParseURL when RedisClient is nil.
	RedisURL string

	// NATSKeyValue is required when DriverNATS is used.
	NATSKeyValue NATSKeyValue

	// MemcachedAddresses lists host:port servers for DriverMemcached.
	MemcachedAddresses []string

	// SQLDriverName is one of "pgx", "postgres", "mysql" or "sqlite".
	SQLDriverName string
	SQLDSN        string
	SQLTable      string

	DynamoClient   DynamoAPI
	DynamoEndpoint string
	DynamoRegion   string
	DynamoTable    string
}

func (c StoreConfig) withDefaults() StoreConfig {
	if c.Driver == "" {
		c.Driver = DriverMemory
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = defaultStoreTTL
	}
	if c.MemoryCleanupInterval <= 0 {
		c.MemoryCleanupInterval = defaultMemoryCleanupInterval
	}
	if c.Prefix == "" {
		c.Prefix = defaultCachePrefix
	}
	if c.SQLTable == "" {
		c.SQLTable = defaultSQLTable
	}
	if c.DynamoTable == "" {
		c.DynamoTable = defaultDynamoTable
	}
	if c.DynamoRegion == "" {
		c.DynamoRegion = defaultDynamoRegion
	}
	return c
}
