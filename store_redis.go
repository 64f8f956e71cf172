package refreshcache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisCompareAndDeleteScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

	redisCompareAndExpireScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`
)

var errRedisClientUnavailable = errors.New("redis cache client unavailable")

// RedisClient captures the subset of redis.Client used by the store.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

type redisStore struct {
	client     RedisClient
	defaultTTL time.Duration
	prefix     string
}

func newRedisStore(client RedisClient, defaultTTL time.Duration, prefix string) Store {
	if defaultTTL <= 0 {
		defaultTTL = defaultStoreTTL
	}
	if prefix == "" {
		prefix = defaultCachePrefix
	}
	return &redisStore{
		client:     client,
		defaultTTL: defaultTTL,
		prefix:     prefix,
	}
}

func (s *redisStore) Driver() Driver {
	return DriverRedis
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s.client == nil {
		return nil, false, errRedisClientUnavailable
	}
	value, err := s.client.Get(ctx, s.cacheKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	// Bytes shares memory with the reply string.
	return cloneBytes(value), true, nil
}

func (s *redisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s.client == nil {
		return errRedisClientUnavailable
	}
	return s.client.Set(ctx, s.cacheKey(key), value, s.resolveTTL(ttl)).Err()
}

func (s *redisStore) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if s.client == nil {
		return false, errRedisClientUnavailable
	}
	return s.client.SetNX(ctx, s.cacheKey(key), value, s.resolveTTL(ttl)).Result()
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	if s.client == nil {
		return errRedisClientUnavailable
	}
	return s.client.Del(ctx, s.cacheKey(key)).Err()
}

func (s *redisStore) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	if s.client == nil {
		return false, errRedisClientUnavailable
	}
	n, err := s.client.Eval(ctx, redisCompareAndDeleteScript, []string{s.cacheKey(key)}, expected).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *redisStore) CompareAndExpire(ctx context.Context, key string, expected []byte, ttl time.Duration) (bool, error) {
	if s.client == nil {
		return false, errRedisClientUnavailable
	}
	ms := s.resolveTTL(ttl).Milliseconds()
	n, err := s.client.Eval(ctx, redisCompareAndExpireScript, []string{s.cacheKey(key)}, expected, ms).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *redisStore) resolveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return s.defaultTTL
	}
	return ttl
}

func (s *redisStore) cacheKey(key string) string {
	return s.prefix + ":" + key
}
