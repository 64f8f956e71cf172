package refreshcache

import "github.com/goforj/refreshcache/cachecore"

// Driver identifies cache backend.
type Driver = cachecore.Driver

// Store is the shared key-value contract backing cached values and locks.
type Store = cachecore.Store

const (
	DriverNull      = cachecore.DriverNull
	DriverMemory    = cachecore.DriverMemory
	DriverDynamo    = cachecore.DriverDynamo
	DriverSQL       = cachecore.DriverSQL
	DriverRedis     = cachecore.DriverRedis
	DriverNATS      = cachecore.DriverNATS
	DriverMemcached = cachecore.DriverMemcached
)
