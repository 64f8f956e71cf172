package main

import (
	"context"
	"fmt"
	"time"

	"github.com/goforj/refreshcache"
	"github.com/goforj/refreshcache/queue"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type settings struct {
	Store          string
	Prefix         string
	RedisURL       string
	NATSURL        string
	NATSBucket     string
	MemcachedAddrs []string
	SQLDriver      string
	SQLDSN         string
	DynamoEndpoint string
	DynamoRegion   string
	DynamoTable    string
	Queue          string
	QueueName      string
	QueueGroup     string
	CacheTTL       time.Duration
	LockTTL        time.Duration
	RenewInterval  time.Duration
}

func loadSettings(v *viper.Viper) settings {
	return settings{
		Store:          v.GetString("store"),
		Prefix:         v.GetString("prefix"),
		RedisURL:       v.GetString("redis-url"),
		NATSURL:        v.GetString("nats-url"),
		NATSBucket:     v.GetString("nats-bucket"),
		MemcachedAddrs: v.GetStringSlice("memcached-addr"),
		SQLDriver:      v.GetString("sql-driver"),
		SQLDSN:         v.GetString("sql-dsn"),
		DynamoEndpoint: v.GetString("dynamo-endpoint"),
		DynamoRegion:   v.GetString("dynamo-region"),
		DynamoTable:    v.GetString("dynamo-table"),
		Queue:          v.GetString("queue"),
		QueueName:      v.GetString("queue-name"),
		QueueGroup:     v.GetString("queue-group"),
		CacheTTL:       v.GetDuration("cache-ttl"),
		LockTTL:        v.GetDuration("lock-ttl"),
		RenewInterval:  v.GetDuration("renew-interval"),
	}
}

// app holds the connections opened for one command run.
type app struct {
	settings settings
	store    refreshcache.Store
	redis    *redis.Client
	nats     *nats.Conn
	js       nats.JetStreamContext
}

func openApp(ctx context.Context, s settings) (*app, error) {
	a := &app{settings: s}
	if s.Store == string(refreshcache.DriverRedis) || s.Queue == "redis" {
		opts, err := redis.ParseURL(s.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		a.redis = redis.NewClient(opts)
	}
	if s.Store == string(refreshcache.DriverNATS) || s.Queue == "nats" {
		nc, err := nats.Connect(s.NATSURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		a.nats = nc
		js, err := nc.JetStream()
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("jetstream: %w", err)
		}
		a.js = js
	}

	opts := []refreshcache.StoreOption{refreshcache.WithPrefix(s.Prefix)}
	switch refreshcache.Driver(s.Store) {
	case refreshcache.DriverRedis:
		opts = append(opts, refreshcache.WithRedisClient(a.redis))
	case refreshcache.DriverNATS:
		kv, err := a.keyValue()
		if err != nil {
			a.Close()
			return nil, err
		}
		opts = append(opts, refreshcache.WithNATSKeyValue(kv))
	case refreshcache.DriverMemcached:
		opts = append(opts, refreshcache.WithMemcachedAddresses(s.MemcachedAddrs...))
	case refreshcache.DriverSQL:
		opts = append(opts, refreshcache.WithSQL(s.SQLDriver, s.SQLDSN, ""))
	case refreshcache.DriverDynamo:
		opts = append(opts,
			refreshcache.WithDynamoEndpoint(s.DynamoEndpoint),
			refreshcache.WithDynamoRegion(s.DynamoRegion),
			refreshcache.WithDynamoTable(s.DynamoTable),
		)
	case refreshcache.DriverMemory, refreshcache.DriverNull:
	default:
		a.Close()
		return nil, fmt.Errorf("unknown store %q", s.Store)
	}
	a.store = refreshcache.NewStoreWith(ctx, refreshcache.Driver(s.Store), opts...)
	return a, nil
}

func (a *app) keyValue() (nats.KeyValue, error) {
	kv, err := a.js.KeyValue(a.settings.NATSBucket)
	if err == nil {
		return kv, nil
	}
	kv, err = a.js.CreateKeyValue(&nats.KeyValueConfig{Bucket: a.settings.NATSBucket})
	if err != nil {
		return nil, fmt.Errorf("open kv bucket %q: %w", a.settings.NATSBucket, err)
	}
	return kv, nil
}

// dispatcher returns the broker-backed queue, or nil for in-process refreshes.
func (a *app) dispatcher() (consumer, error) {
	switch a.settings.Queue {
	case "":
		return nil, nil
	case "redis":
		return queue.NewRedisQueue(a.redis, a.settings.QueueName), nil
	case "nats":
		return queue.NewNATSQueue(a.js, a.settings.QueueName, a.settings.QueueGroup), nil
	default:
		return nil, fmt.Errorf("unknown queue %q", a.settings.Queue)
	}
}

func (a *app) cache(d queue.Dispatcher) *refreshcache.Cache {
	opts := []refreshcache.CacheOption{
		refreshcache.WithRegistry(builtinTasks()),
		refreshcache.WithCacheTTL(a.settings.CacheTTL),
		refreshcache.WithLockTTL(a.settings.LockTTL),
		refreshcache.WithRenewInterval(a.settings.RenewInterval),
	}
	if d != nil {
		opts = append(opts, refreshcache.WithDispatcher(d))
	}
	return refreshcache.NewCache(a.store, opts...)
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Debugw("Closing redis", "err", err)
		}
	}
	if a.nats != nil {
		a.nats.Close()
	}
}

// consumer is a Dispatcher whose jobs can be consumed by this process.
type consumer interface {
	queue.Dispatcher
	Consume(ctx context.Context, h queue.Handler) error
}
