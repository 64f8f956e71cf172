// Package cachetest provides a reusable contract suite for refreshcache stores.
//
// Example:
//
//	func TestRedisStoreContract(t *testing.T) {
//		store := refreshcache.NewRedisStore(ctx, newTestRedisClient(t), refreshcache.WithPrefix("test"))
//		cachetest.RunStoreContract(t, store, cachetest.Options{
//			CaseName: t.Name(),
//			TTL:      time.Second,
//			TTLWait:  1500 * time.Millisecond,
//		})
//	}
package cachetest
