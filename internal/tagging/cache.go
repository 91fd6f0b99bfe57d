package tagging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"samay/internal/config"
	"samay/internal/logger"
	"samay/internal/storage"
)

// Cache holds the most recently loaded rule set. Implementations report a
// miss rather than an error when the backing store is unavailable.
type Cache interface {
	Load(ctx context.Context) (*RuleSet, bool)
	Store(ctx context.Context, rules *RuleSet)
}

type memoryEntry struct {
	rules   *RuleSet
	expires time.Time
}

// MemoryCache keeps a single process-local snapshot. Readers never block.
type MemoryCache struct {
	ttl   time.Duration
	now   func() time.Time
	entry atomic.Pointer[memoryEntry]
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, now: time.Now}
}

// WithClock swaps the time source
func (c *MemoryCache) WithClock(now func() time.Time) *MemoryCache {
	c.now = now
	return c
}

func (c *MemoryCache) Load(_ context.Context) (*RuleSet, bool) {
	e := c.entry.Load()
	if e == nil || !c.now().Before(e.expires) {
		return nil, false
	}
	return e.rules, true
}

func (c *MemoryCache) Store(_ context.Context, rules *RuleSet) {
	c.entry.Store(&memoryEntry{rules: rules, expires: c.now().Add(c.ttl)})
}

// RedisCache shares the rule set between processes as a JSON blob
type RedisCache struct {
	rdb *goredis.Client
	key string
	ttl time.Duration
}

const redisRulesKey = "tags:rules"

// NewRedisCache connects and pings the configured server
func NewRedisCache(cfg config.RedisConfig, ttl time.Duration) (*RedisCache, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisCacheFromClient(rdb, cfg.KeyPrefix, ttl), nil
}

func NewRedisCacheFromClient(rdb *goredis.Client, prefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, key: prefix + redisRulesKey, ttl: ttl}
}

func (c *RedisCache) Load(ctx context.Context) (*RuleSet, bool) {
	raw, err := c.rdb.Get(ctx, c.key).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			logger.ForComponent("tags").Warnf("redis get %s: %v", c.key, err)
		}
		return nil, false
	}
	var tags []storage.Tag
	if err := json.Unmarshal(raw, &tags); err != nil {
		logger.ForComponent("tags").Warnf("decode cached rules: %v", err)
		return nil, false
	}
	return NewRuleSet(tags), true
}

func (c *RedisCache) Store(ctx context.Context, rules *RuleSet) {
	raw, err := json.Marshal(rules.Tags())
	if err != nil {
		logger.ForComponent("tags").Warnf("encode rules: %v", err)
		return
	}
	if err := c.rdb.Set(ctx, c.key, raw, c.ttl).Err(); err != nil {
		logger.ForComponent("tags").Warnf("redis set %s: %v", c.key, err)
	}
}

func (c *RedisCache) Close() error {
	return c.rdb.Close()
}

// NewCache builds the cache selected by configuration
func NewCache(tags config.TagsConfig, redis config.RedisConfig) (Cache, error) {
	switch tags.CacheBackend {
	case config.CacheRedis:
		return NewRedisCache(redis, tags.CacheTTL)
	case config.CacheMemory, "":
		return NewMemoryCache(tags.CacheTTL), nil
	default:
		return nil, fmt.Errorf("unknown tag cache backend %q", tags.CacheBackend)
	}
}
