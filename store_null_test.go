package refreshcache

import (
	"context"
	"testing"
	"time"
)

func TestNullStoreNoOps(t *testing.T) {
	store := newNullStore()
	ctx := context.Background()

	if err := store.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set should be nil")
	}
	if _, ok, err := store.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("get should miss, err=%v ok=%v", err, ok)
	}
	if created, err := store.Add(ctx, "k", []byte("v"), time.Minute); err != nil || !created {
		t.Fatalf("add should succeed, err=%v created=%v", err, created)
	}
	if ok, err := store.CompareAndDelete(ctx, "k", []byte("v")); err != nil || !ok {
		t.Fatalf("compare-and-delete should succeed, err=%v ok=%v", err, ok)
	}
	if ok, err := store.CompareAndExpire(ctx, "k", []byte("v"), time.Minute); err != nil || !ok {
		t.Fatalf("compare-and-expire should succeed, err=%v ok=%v", err, ok)
	}
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete should be nil")
	}
}
