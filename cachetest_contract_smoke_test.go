package refreshcache_test

import (
	"context"
	"testing"

	"github.com/goforj/refreshcache"
	"github.com/goforj/refreshcache/cachetest"
)

func TestCachetestRunStoreContract_MemoryStore(t *testing.T) {
	store := refreshcache.NewMemoryStore(context.Background())
	cachetest.RunStoreContract(t, store, cachetest.Options{})
}

func TestCachetestRunStoreContract_NullStore(t *testing.T) {
	store := refreshcache.NewNullStore(context.Background())
	cachetest.RunStoreContract(t, store, cachetest.Options{NullSemantics: true})
}

func TestCachetestRunStoreContract_SQLiteStore(t *testing.T) {
	store := refreshcache.NewSQLStore(context.Background(), "sqlite", "file:contract?mode=memory&cache=shared",
		refreshcache.WithPrefix("contract"))
	cachetest.RunStoreContract(t, store, cachetest.Options{})
}
