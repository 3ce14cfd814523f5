package entitlements

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/La-R19/fiverecruit/pkg/observability"
)

const (
	layerLocal = "local"
	layerRedis = "redis"

	redisKeyPrefix = "fiverecruit:entitlement:"
)

// cachedEntry carries its own deadline so a license expiring before the TTL
// is not served past its expiry
type cachedEntry struct {
	Entitlement Entitlement `json:"entitlement"`
	Until       time.Time   `json:"until"`
}

// CachedResolver memoizes entitlements for display. Quota enforcement must
// use Resolver directly.
type CachedResolver struct {
	resolver *Resolver
	local    *expirable.LRU[string, cachedEntry]
	redis    *redis.Client
	ttl      time.Duration
	metrics  *observability.Metrics
	now      func() time.Time
}

// CacheConfig configures the memo
type CacheConfig struct {
	TTL  time.Duration
	Size int
}

// NewCachedResolver wraps resolver with a local LRU and, when redisClient is
// non-nil, a shared Redis layer
func NewCachedResolver(resolver *Resolver, redisClient *redis.Client, cfg CacheConfig, metrics *observability.Metrics) *CachedResolver {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Minute
	}
	if cfg.Size <= 0 {
		cfg.Size = 1024
	}
	return &CachedResolver{
		resolver: resolver,
		local:    expirable.NewLRU[string, cachedEntry](cfg.Size, nil, cfg.TTL),
		redis:    redisClient,
		ttl:      cfg.TTL,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Get returns the memoized entitlement, resolving on a miss. Failed
// resolutions are returned as Free and not memoized.
func (c *CachedResolver) Get(ctx context.Context, serverID string) Entitlement {
	now := c.now()

	if entry, ok := c.local.Get(serverID); ok && now.Before(entry.Until) {
		c.hit(layerLocal)
		return entry.Entitlement
	}
	c.miss(layerLocal)

	if c.redis != nil {
		if entry, ok := c.getShared(ctx, serverID); ok && now.Before(entry.Until) {
			c.hit(layerRedis)
			c.local.Add(serverID, entry)
			return entry.Entitlement
		}
		c.miss(layerRedis)
	}

	ent, err := c.resolver.Resolve(ctx, serverID)
	if err != nil {
		observability.FromContext(ctx).WithError(err).WithField("server_id", serverID).
			Warn("entitlement resolution failed, falling back to free plan")
		return ent
	}

	entry := cachedEntry{Entitlement: ent, Until: now.Add(c.ttl)}
	if ent.ExpiresAt != nil && ent.ExpiresAt.Before(entry.Until) {
		entry.Until = *ent.ExpiresAt
	}
	c.local.Add(serverID, entry)
	c.setShared(ctx, serverID, entry, entry.Until.Sub(now))
	return ent
}

// Invalidate drops serverID from both layers. origin labels the metric.
func (c *CachedResolver) Invalidate(ctx context.Context, serverID, origin string) {
	c.local.Remove(serverID)
	if c.redis != nil {
		if err := c.redis.Del(ctx, redisKeyPrefix+serverID).Err(); err != nil {
			observability.FromContext(ctx).WithError(err).WithField("server_id", serverID).
				Warn("failed to invalidate shared entitlement memo")
		}
	}
	if c.metrics != nil {
		c.metrics.EntitlementInvalidations.WithLabelValues(origin).Inc()
	}
}

// Purge empties the local layer, after a lost notification connection
func (c *CachedResolver) Purge() {
	c.local.Purge()
}

// Len is the number of locally memoized servers
func (c *CachedResolver) Len() int {
	return c.local.Len()
}

func (c *CachedResolver) getShared(ctx context.Context, serverID string) (cachedEntry, bool) {
	data, err := c.redis.Get(ctx, redisKeyPrefix+serverID).Bytes()
	if err != nil {
		if err != redis.Nil {
			observability.FromContext(ctx).WithError(err).Debug("shared entitlement memo unavailable")
		}
		return cachedEntry{}, false
	}
	var entry cachedEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return cachedEntry{}, false
	}
	return entry, true
}

func (c *CachedResolver) setShared(ctx context.Context, serverID string, entry cachedEntry, ttl time.Duration) {
	if c.redis == nil || ttl <= 0 {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, redisKeyPrefix+serverID, data, ttl).Err(); err != nil {
		observability.FromContext(ctx).WithError(err).Debug("failed to store shared entitlement memo")
	}
}

func (c *CachedResolver) hit(layer string) {
	if c.metrics != nil {
		c.metrics.EntitlementCacheHitsTotal.WithLabelValues(layer).Inc()
	}
}

func (c *CachedResolver) miss(layer string) {
	if c.metrics != nil {
		c.metrics.EntitlementCacheMissesTotal.WithLabelValues(layer).Inc()
	}
}
