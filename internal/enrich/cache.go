package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aegistrace/aegistrace/internal/intel"
	"github.com/aegistrace/aegistrace/internal/logging"
	"github.com/aegistrace/aegistrace/internal/metrics"
	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

// Cache stores enrichment results between runs.
type Cache interface {
	Get(ctx context.Context, key string) (intel.Enrichment, bool)
	Set(ctx context.Context, key string, res intel.Enrichment)
	Clear(ctx context.Context) error
	Close() error
}

// CacheKey identifies the cached enrichment of an indicator.
func CacheKey(ind intel.Indicator) string {
	return fmt.Sprintf("enrich:%s:%s", ind.Kind, ind.Value)
}

// MemoryCache is a size-bounded LRU whose entries expire after a TTL.
type MemoryCache struct {
	lru *expirable.LRU[string, intel.Enrichment]
}

func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	if size <= 0 {
		size = 1000
	}
	return &MemoryCache{lru: expirable.NewLRU[string, intel.Enrichment](size, nil, ttl)}
}

func (mc *MemoryCache) Get(_ context.Context, key string) (intel.Enrichment, bool) {
	return mc.lru.Get(key)
}

func (mc *MemoryCache) Set(_ context.Context, key string, res intel.Enrichment) {
	mc.lru.Add(key, res)
}

func (mc *MemoryCache) Clear(context.Context) error {
	mc.lru.Purge()
	return nil
}

func (mc *MemoryCache) Close() error {
	mc.lru.Purge()
	return nil
}

// RedisCache keeps enrichments as JSON strings under a key prefix.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.SugaredLogger
}

// DefaultCachePrefix namespaces cache keys in Redis.
const DefaultCachePrefix = "aegistrace:cache:"

// NewRedisCache connects to redisURL and verifies the connection.
func NewRedisCache(redisURL string, ttl time.Duration, logger *zap.SugaredLogger) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	c := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		c.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisCache{client: c, prefix: DefaultCachePrefix, ttl: ttl, logger: logging.OrNop(logger)}, nil
}

func (rc *RedisCache) Get(ctx context.Context, key string) (intel.Enrichment, bool) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	raw, err := rc.client.Get(ctx, rc.prefix+key).Result()
	if err != nil {
		if err != redis.Nil {
			rc.logger.Warnw("Redis cache get failed", "key", key, "error", err)
		}
		return intel.Enrichment{}, false
	}
	var res intel.Enrichment
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		rc.logger.Warnw("Dropping undecodable cache entry", "key", key, "error", err)
		_ = rc.client.Del(ctx, rc.prefix+key).Err()
		return intel.Enrichment{}, false
	}
	if res.Campaigns == nil {
		res.Campaigns = []string{}
	}
	return res, true
}

func (rc *RedisCache) Set(ctx context.Context, key string, res intel.Enrichment) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, err := json.Marshal(res)
	if err != nil {
		rc.logger.Warnw("Redis cache marshal failed", "key", key, "error", err)
		return
	}
	if err := rc.client.Set(ctx, rc.prefix+key, b, rc.ttl).Err(); err != nil {
		rc.logger.Warnw("Redis cache set failed", "key", key, "error", err)
	}
}

func (rc *RedisCache) Clear(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	var cursor uint64
	for {
		keys, next, err := rc.client.Scan(ctx, cursor, rc.prefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("scan cache keys: %w", err)
		}
		if len(keys) > 0 {
			if err := rc.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("delete cache keys: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (rc *RedisCache) Close() error {
	return rc.client.Close()
}

// CacheManager reads through a primary cache and an optional fallback,
// writing to both.
type CacheManager struct {
	primary  Cache
	fallback Cache
	logger   *zap.SugaredLogger

	mu     sync.RWMutex
	hits   int64
	misses int64
}

// NewCacheManager always has an in-memory layer. When redisURL is set and
// reachable Redis becomes the primary and memory the fallback.
func NewCacheManager(redisURL string, size int, ttl time.Duration, logger *zap.SugaredLogger) *CacheManager {
	logger = logging.OrNop(logger)
	mem := NewMemoryCache(size, ttl)
	cm := &CacheManager{primary: mem, logger: logger}
	if redisURL == "" {
		return cm
	}
	rc, err := NewRedisCache(redisURL, ttl, logger)
	if err != nil {
		logger.Warnw("Redis cache unavailable, using memory only", "error", err)
		return cm
	}
	cm.primary = rc
	cm.fallback = mem
	return cm
}

func (cm *CacheManager) Get(ctx context.Context, key string) (intel.Enrichment, bool) {
	if v, ok := cm.primary.Get(ctx, key); ok {
		cm.record(true)
		return v, true
	}
	if cm.fallback != nil {
		if v, ok := cm.fallback.Get(ctx, key); ok {
			cm.record(true)
			cm.primary.Set(ctx, key, v)
			return v, true
		}
	}
	cm.record(false)
	return intel.Enrichment{}, false
}

func (cm *CacheManager) Set(ctx context.Context, key string, res intel.Enrichment) {
	cm.primary.Set(ctx, key, res)
	if cm.fallback != nil {
		cm.fallback.Set(ctx, key, res)
	}
}

func (cm *CacheManager) Clear(ctx context.Context) error {
	if err := cm.primary.Clear(ctx); err != nil {
		return err
	}
	if cm.fallback != nil {
		return cm.fallback.Clear(ctx)
	}
	return nil
}

func (cm *CacheManager) Close() error {
	var err error
	if cm.fallback != nil {
		err = cm.fallback.Close()
	}
	if perr := cm.primary.Close(); perr != nil {
		err = perr
	}
	return err
}

// Stats returns hit and miss counts.
func (cm *CacheManager) Stats() (hits, misses int64) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.hits, cm.misses
}

func (cm *CacheManager) record(hit bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if hit {
		cm.hits++
		metrics.CacheLookups.WithLabelValues("hit").Inc()
	} else {
		cm.misses++
		metrics.CacheLookups.WithLabelValues("miss").Inc()
	}
}
