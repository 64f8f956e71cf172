package refreshcache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// stubRedisClient is an in-memory RedisClient. Eval understands the two
// compare scripts used by the store.
type stubRedisClient struct {
	mu    sync.Mutex
	store map[string]string
	ttl   map[string]time.Time

	getErr   error
	setErr   error
	setNXErr error
	delErr   error
	evalErr  error
	evals    int
}

func newStubRedisClient() *stubRedisClient {
	return &stubRedisClient{
		store: make(map[string]string),
		ttl:   make(map[string]time.Time),
	}
}

func (c *stubRedisClient) expireIfNeeded(key string) {
	if deadline, ok := c.ttl[key]; ok && time.Now().After(deadline) {
		delete(c.ttl, key)
		delete(c.store, key)
	}
}

func (c *stubRedisClient) setTTL(key string, expiration time.Duration) {
	if expiration > 0 {
		c.ttl[key] = time.Now().Add(expiration)
	} else {
		delete(c.ttl, key)
	}
}

func (c *stubRedisClient) Get(ctx context.Context, key string) *redis.StringCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	cmd := redis.NewStringCmd(ctx)
	if c.getErr != nil {
		cmd.SetErr(c.getErr)
		return cmd
	}
	c.expireIfNeeded(key)
	if val, ok := c.store[key]; ok {
		cmd.SetVal(val)
		return cmd
	}
	cmd.SetErr(redis.Nil)
	return cmd
}

func (c *stubRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	cmd := redis.NewStatusCmd(ctx)
	if c.setErr != nil {
		cmd.SetErr(c.setErr)
		return cmd
	}
	bytes, _ := value.([]byte)
	c.store[key] = string(bytes)
	c.setTTL(key, expiration)
	cmd.SetVal("OK")
	return cmd
}

func (c *stubRedisClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	cmd := redis.NewBoolCmd(ctx)
	if c.setNXErr != nil {
		cmd.SetErr(c.setNXErr)
		return cmd
	}
	c.expireIfNeeded(key)
	if _, exists := c.store[key]; exists {
		cmd.SetVal(false)
		return cmd
	}
	bytes, _ := value.([]byte)
	c.store[key] = string(bytes)
	c.setTTL(key, expiration)
	cmd.SetVal(true)
	return cmd
}

func (c *stubRedisClient) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	cmd := redis.NewIntCmd(ctx)
	if c.delErr != nil {
		cmd.SetErr(c.delErr)
		return cmd
	}
	var n int64
	for _, key := range keys {
		if _, ok := c.store[key]; ok {
			n++
		}
		delete(c.store, key)
		delete(c.ttl, key)
	}
	cmd.SetVal(n)
	return cmd
}

func (c *stubRedisClient) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evals++
	if c.evalErr != nil {
		return redis.NewCmdResult(nil, c.evalErr)
	}
	key := keys[0]
	c.expireIfNeeded(key)
	expected, _ := args[0].([]byte)
	current, ok := c.store[key]
	if !ok || current != string(expected) {
		return redis.NewCmdResult(int64(0), nil)
	}
	switch script {
	case redisCompareAndDeleteScript:
		delete(c.store, key)
		delete(c.ttl, key)
	case redisCompareAndExpireScript:
		ms, _ := args[1].(int64)
		c.setTTL(key, time.Duration(ms)*time.Millisecond)
	default:
		return redis.NewCmdResult(nil, errUnknownScript)
	}
	return redis.NewCmdResult(int64(1), nil)
}

var errUnknownScript = errors.New("ERR unknown script")
