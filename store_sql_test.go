package refreshcache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/goforj/refreshcache/cachecore"
)

func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	store, err := newSQLStore(StoreConfig{
		BaseConfig: cachecore.BaseConfig{
			DefaultTTL: time.Second,
			Prefix:     "p",
		},
		SQLDriverName: "sqlite",
		SQLDSN:        dsn,
		SQLTable:      "cache_entries",
	})
	if err != nil {
		t.Fatalf("sqlite store create failed: %v", err)
	}
	t.Cleanup(func() { _ = store.(*sqlStore).db.Close() })
	return store
}

func insertExpiredRow(t *testing.T, store Store, key, value string) {
	t.Helper()
	ss := store.(*sqlStore)
	expired := time.Now().Add(-time.Hour).UnixMilli()
	_, err := ss.db.ExecContext(context.Background(),
		fmt.Sprintf("INSERT INTO %s (k, v, ea) VALUES (?, ?, ?)", ss.table),
		ss.cacheKey(key), []byte(value), expired)
	if err != nil {
		t.Fatalf("insert expired: %v", err)
	}
}

func TestSQLStatementsPerDialect(t *testing.T) {
	pg := &sqlStore{driverName: "pgx", table: "t"}
	if got := pg.upsertSQL(); !strings.Contains(got, "ON CONFLICT (k)") || !strings.Contains(got, "$5") {
		t.Fatalf("unexpected postgres upsert %q", got)
	}
	if got := pg.casExpireSQL(); got != "UPDATE t SET ea = $1 WHERE k = $2 AND v = $3 AND ea >= $4" {
		t.Fatalf("unexpected postgres compare-and-expire %q", got)
	}
	mysql := &sqlStore{driverName: "mysql", table: "t"}
	if got := mysql.upsertSQL(); !strings.Contains(got, "ON DUPLICATE KEY UPDATE") {
		t.Fatalf("unexpected mysql upsert %q", got)
	}
	if got := mysql.addReuseExpiredSQL(); got != "UPDATE t SET v = ?, ea = ? WHERE k = ? AND ea < ?" {
		t.Fatalf("unexpected mysql add reuse %q", got)
	}
	sqlite := &sqlStore{driverName: "sqlite", table: "t"}
	if got := sqlite.upsertSQL(); !strings.Contains(got, "ON CONFLICT(k)") {
		t.Fatalf("unexpected sqlite upsert %q", got)
	}
	if got := sqlite.casDeleteSQL(); got != "DELETE FROM t WHERE k = ? AND v = ? AND ea >= ?" {
		t.Fatalf("unexpected sqlite compare-and-delete %q", got)
	}
}

func TestSQLDuplicateDetection(t *testing.T) {
	if !isDuplicateErr(errors.New("duplicate key value violates"), "pgx") {
		t.Fatalf("expected duplicate detection pg")
	}
	if !isDuplicateErr(errors.New("Error 1062: Duplicate entry 'k'"), "mysql") {
		t.Fatalf("expected duplicate detection mysql")
	}
	if !isDuplicateErr(errors.New("UNIQUE constraint failed: cache_entries.k"), "sqlite") {
		t.Fatalf("expected duplicate detection sqlite")
	}
	if isDuplicateErr(errors.New("other"), "sqlite") {
		t.Fatalf("unexpected duplicate detection")
	}
}

func TestMySQLDSNReportsFoundRows(t *testing.T) {
	dsn, err := mysqlFoundRowsDSN("user:pw@tcp(db:3306)/cache?parseTime=true")
	if err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}
	if !strings.Contains(dsn, "clientFoundRows=true") || !strings.Contains(dsn, "parseTime=true") {
		t.Fatalf("unexpected dsn %q", dsn)
	}
	if !strings.HasPrefix(dsn, "user:pw@tcp(db:3306)/cache?") {
		t.Fatalf("expected address and database kept, got %q", dsn)
	}

	if _, err := mysqlFoundRowsDSN("not a dsn"); err == nil {
		t.Fatalf("expected parse error for malformed dsn")
	}
	_, err = newSQLStore(StoreConfig{SQLDriverName: "mysql", SQLDSN: "not a dsn"})
	if err == nil || !strings.Contains(err.Error(), "parse mysql dsn") {
		t.Fatalf("expected store to reject malformed mysql dsn, got %v", err)
	}
}

func TestSQLStoreBasics(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	body, ok, err := store.Get(ctx, "k")
	if err != nil || !ok || string(body) != "v" {
		t.Fatalf("get failed: ok=%v err=%v val=%s", ok, err, string(body))
	}
	if err := store.Set(ctx, "k", []byte("v2"), time.Minute); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	body, _, _ = store.Get(ctx, "k")
	if string(body) != "v2" {
		t.Fatalf("expected overwrite, got %q", body)
	}

	created, err := store.Add(ctx, "k", []byte("v3"), time.Minute)
	if err != nil || created {
		t.Fatalf("add duplicate unexpected: created=%v err=%v", created, err)
	}

	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Fatalf("expected key deleted")
	}
}

func TestSQLStoreTTLExpiry(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	if err := store.Set(ctx, "ttl", []byte("x"), 50*time.Millisecond); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	time.Sleep(80 * time.Millisecond)
	_, ok, err := store.Get(ctx, "ttl")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if ok {
		t.Fatalf("expected ttl expiry")
	}
}

func TestSQLStoreAddReclaimsExpiredRow(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	insertExpiredRow(t, store, "lock", "stale")

	created, err := store.Add(ctx, "lock", []byte("fresh"), time.Minute)
	if err != nil || !created {
		t.Fatalf("expected add over expired row, created=%v err=%v", created, err)
	}
	body, ok, _ := store.Get(ctx, "lock")
	if !ok || string(body) != "fresh" {
		t.Fatalf("expected fresh value, got %q ok=%v", body, ok)
	}
}

func TestSQLStoreCompareOps(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	if err := store.Set(ctx, "k", []byte("tok"), time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	if ok, err := store.CompareAndExpire(ctx, "k", []byte("other"), time.Hour); err != nil || ok {
		t.Fatalf("mismatched expire: ok=%v err=%v", ok, err)
	}
	if ok, err := store.CompareAndExpire(ctx, "k", []byte("tok"), time.Hour); err != nil || !ok {
		t.Fatalf("expire failed: ok=%v err=%v", ok, err)
	}
	var exp int64
	ss := store.(*sqlStore)
	if err := ss.db.QueryRow("SELECT ea FROM cache_entries WHERE k = ?", ss.cacheKey("k")).Scan(&exp); err != nil {
		t.Fatalf("read expiry: %v", err)
	}
	if time.Until(time.UnixMilli(exp)) < 50*time.Minute {
		t.Fatalf("expected expiry pushed out, got %v", time.UnixMilli(exp))
	}

	if ok, err := store.CompareAndDelete(ctx, "k", []byte("other")); err != nil || ok {
		t.Fatalf("mismatched delete: ok=%v err=%v", ok, err)
	}
	if ok, err := store.CompareAndDelete(ctx, "k", []byte("tok")); err != nil || !ok {
		t.Fatalf("delete failed: ok=%v err=%v", ok, err)
	}
	if ok, err := store.CompareAndDelete(ctx, "k", []byte("tok")); err != nil || ok {
		t.Fatalf("second delete should report false: ok=%v err=%v", ok, err)
	}
}

func TestSQLStoreCompareOpsIgnoreExpiredRows(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	insertExpiredRow(t, store, "gone", "tok")

	if ok, err := store.CompareAndExpire(ctx, "gone", []byte("tok"), time.Minute); err != nil || ok {
		t.Fatalf("expired row must not be renewed: ok=%v err=%v", ok, err)
	}
	if ok, err := store.CompareAndDelete(ctx, "gone", []byte("tok")); err != nil || ok {
		t.Fatalf("expired row must not match: ok=%v err=%v", ok, err)
	}
}

func TestSQLStoreDefaultTableAndTTLFallback(t *testing.T) {
	store, err := newSQLStore(StoreConfig{
		SQLDriverName: "sqlite",
		SQLDSN:        "file:defaults?mode=memory&cache=shared",
	})
	if err != nil {
		t.Fatalf("store create failed: %v", err)
	}
	ss := store.(*sqlStore)
	defer ss.db.Close()
	if ss.table != defaultSQLTable {
		t.Fatalf("expected default table, got %s", ss.table)
	}
	if ss.defaultTTL != defaultStoreTTL {
		t.Fatalf("expected default ttl fallback")
	}
}

func TestSQLStoreAddZeroTTL(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	created, err := store.Add(ctx, "ttl0", []byte("v"), 0)
	if err != nil || !created {
		t.Fatalf("expected add success with default ttl, err=%v created=%v", err, created)
	}
}

func TestSQLStoreErrorsWhenDBClosed(t *testing.T) {
	store := newSQLiteStore(t)
	_ = store.(*sqlStore).db.Close()

	ctx := context.Background()
	if _, _, err := store.Get(ctx, "k"); err == nil {
		t.Fatalf("expected get error on closed db")
	}
	if err := store.Set(ctx, "k", []byte("v"), time.Minute); err == nil {
		t.Fatalf("expected set error on closed db")
	}
	if _, err := store.Add(ctx, "k", []byte("v"), time.Minute); err == nil {
		t.Fatalf("expected add error on closed db")
	}
	if _, err := store.CompareAndDelete(ctx, "k", []byte("v")); err == nil {
		t.Fatalf("expected compare-and-delete error on closed db")
	}
	if _, err := store.CompareAndExpire(ctx, "k", []byte("v"), time.Minute); err == nil {
		t.Fatalf("expected compare-and-expire error on closed db")
	}
}
