package cachetest

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/goforj/refreshcache/cachecore"
)

// Options configures shared store contract checks.
type Options struct {
	// CaseName is used to namespace keys. Defaults to t.Name().
	CaseName string
	// NullSemantics enables relaxed expectations for the null store.
	NullSemantics bool
	// SkipCloneCheck disables the "get returns a cloned value" assertion.
	SkipCloneCheck bool
	// TTL controls the expiry duration used in TTL tests.
	TTL time.Duration
	// TTLWait is how long the harness waits for expiry to occur.
	TTLWait time.Duration
}

// Store is the contract exercised by RunStoreContract.
type Store = cachecore.Store

// RunStoreContract runs a backend-agnostic store contract suite.
func RunStoreContract(t *testing.T, store Store, opts Options) {
	t.Helper()

	caseName := opts.CaseName
	if caseName == "" {
		caseName = t.Name()
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 50 * time.Millisecond
	}
	wait := opts.TTLWait
	if wait <= 0 {
		wait = 120 * time.Millisecond
	}

	ctx := context.Background()
	key := func(s string) string {
		return sanitize(caseName) + ":" + s
	}

	// Set/Get round-trip.
	if err := store.Set(ctx, key("alpha"), []byte("value"), time.Second); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	body, ok, err := store.Get(ctx, key("alpha"))
	if err != nil {
		t.Fatalf("get failed: ok=%v err=%v", ok, err)
	}
	if opts.NullSemantics {
		if ok {
			t.Fatalf("expected miss for null semantics")
		}
	} else {
		if !ok || string(body) != "value" {
			t.Fatalf("unexpected get result: ok=%v body=%q", ok, string(body))
		}
		if !opts.SkipCloneCheck {
			body[0] = 'X'
			body2, ok2, err2 := store.Get(ctx, key("alpha"))
			if err2 != nil || !ok2 || string(body2) != "value" {
				t.Fatalf("expected stored value unchanged, got ok=%v body=%q err=%v", ok2, string(body2), err2)
			}
		}
	}

	// TTL expiry.
	if err := store.Set(ctx, key("ttl"), []byte("v"), ttl); err != nil {
		t.Fatalf("set ttl failed: %v", err)
	}
	if err := waitForMiss(ctx, store, key("ttl"), wait); err != nil {
		t.Fatalf("expected ttl expiry: %v", err)
	}

	// Add only when missing.
	created, err := store.Add(ctx, key("once"), []byte("first"), time.Second)
	if err != nil || !created {
		t.Fatalf("add first failed: created=%v err=%v", created, err)
	}
	created, err = store.Add(ctx, key("once"), []byte("second"), time.Second)
	if err != nil {
		t.Fatalf("add duplicate failed: %v", err)
	}
	if opts.NullSemantics {
		if !created {
			t.Fatalf("expected null-like add duplicate to report created=true")
		}
		return
	}
	if created {
		t.Fatalf("expected duplicate add to return created=false")
	}
	if body, ok, err := store.Get(ctx, key("once")); err != nil || !ok || string(body) != "first" {
		t.Fatalf("expected first add to win, got ok=%v body=%q err=%v", ok, string(body), err)
	}

	// Add succeeds again once the previous entry expired.
	if _, err := store.Add(ctx, key("lease"), []byte("old"), ttl); err != nil {
		t.Fatalf("add lease failed: %v", err)
	}
	if err := waitForMiss(ctx, store, key("lease"), wait); err != nil {
		t.Fatalf("expected lease expiry: %v", err)
	}
	created, err = store.Add(ctx, key("lease"), []byte("new"), time.Second)
	if err != nil || !created {
		t.Fatalf("expected add over expired entry, created=%v err=%v", created, err)
	}

	// Compare-and-delete only removes a matching value.
	deleted, err := store.CompareAndDelete(ctx, key("lease"), []byte("old"))
	if err != nil || deleted {
		t.Fatalf("expected mismatched compare-and-delete to keep entry, deleted=%v err=%v", deleted, err)
	}
	if _, ok, err := store.Get(ctx, key("lease")); err != nil || !ok {
		t.Fatalf("expected lease to survive mismatch; ok=%v err=%v", ok, err)
	}
	deleted, err = store.CompareAndDelete(ctx, key("lease"), []byte("new"))
	if err != nil || !deleted {
		t.Fatalf("expected compare-and-delete, deleted=%v err=%v", deleted, err)
	}
	if _, ok, err := store.Get(ctx, key("lease")); err != nil || ok {
		t.Fatalf("expected lease deleted; ok=%v err=%v", ok, err)
	}
	deleted, err = store.CompareAndDelete(ctx, key("lease"), []byte("new"))
	if err != nil || deleted {
		t.Fatalf("expected compare-and-delete of missing key to report false, deleted=%v err=%v", deleted, err)
	}

	// Compare-and-expire extends only a matching value.
	if err := store.Set(ctx, key("renew"), []byte("tok"), ttl); err != nil {
		t.Fatalf("set renew failed: %v", err)
	}
	extended, err := store.CompareAndExpire(ctx, key("renew"), []byte("other"), time.Minute)
	if err != nil || extended {
		t.Fatalf("expected mismatched compare-and-expire to fail, extended=%v err=%v", extended, err)
	}
	extended, err = store.CompareAndExpire(ctx, key("renew"), []byte("tok"), time.Minute)
	if err != nil || !extended {
		t.Fatalf("expected compare-and-expire, extended=%v err=%v", extended, err)
	}
	time.Sleep(wait)
	if body, ok, err := store.Get(ctx, key("renew")); err != nil || !ok || string(body) != "tok" {
		t.Fatalf("expected renewed entry to outlive original ttl; ok=%v body=%q err=%v", ok, string(body), err)
	}
	extended, err = store.CompareAndExpire(ctx, key("absent"), []byte("tok"), time.Minute)
	if err != nil || extended {
		t.Fatalf("expected compare-and-expire of missing key to report false, extended=%v err=%v", extended, err)
	}

	// Delete.
	if err := store.Set(ctx, key("a"), []byte("1"), time.Second); err != nil {
		t.Fatalf("set a failed: %v", err)
	}
	if err := store.Delete(ctx, key("a")); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, ok, err := store.Get(ctx, key("a")); err != nil || ok {
		t.Fatalf("expected key a deleted; ok=%v err=%v", ok, err)
	}
	if err := store.Delete(ctx, key("a")); err != nil {
		t.Fatalf("delete of missing key failed: %v", err)
	}
}

func waitForMiss(ctx context.Context, store Store, key string, wait time.Duration) error {
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		_, ok, err := store.Get(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	_, ok, err := store.Get(ctx, key)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("key %q still present after %s", key, wait)
	}
	return nil
}

func sanitize(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
