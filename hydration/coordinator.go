package hydration

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/memophor/scedge/cache"
	"github.com/memophor/scedge/types"
)

// Coordinator coalesces concurrent misses for the same key into a single
// upstream fetch. All waiters share the one result, success or failure, and
// the per-key state clears as soon as the fetch resolves so the next miss
// can retry immediately.
type Coordinator struct {
	group    singleflight.Group
	upstream *UpstreamClient
	cache    *cache.Manager
	logger   types.Logger
}

func NewCoordinator(upstream *UpstreamClient, cacheManager *cache.Manager, logger types.Logger) *Coordinator {
	return &Coordinator{
		upstream: upstream,
		cache:    cacheManager,
		logger:   logger,
	}
}

// Hydrate resolves a cache miss through the origin. An origin miss or
// failure caches nothing and surfaces as ErrNotFound or ErrUpstreamFailure.
func (c *Coordinator) Hydrate(key, tenant string) (*types.LookupResponse, error) {
	result, err, shared := c.group.Do(key, func() (interface{}, error) {
		return c.fetchAndStore(key, tenant)
	})
	if err != nil {
		return nil, err
	}

	if shared {
		c.logger.Debug("hydration result shared", zap.String("key", key))
	}

	return result.(*types.LookupResponse), nil
}

func (c *Coordinator) fetchAndStore(key, tenant string) (*types.LookupResponse, error) {
	fetched, err := c.upstream.Fetch(key, tenant)
	if err != nil {
		return nil, err
	}
	if fetched == nil {
		return nil, types.ErrNotFound
	}

	artifact := fetched.Artifact
	artifact.TTLSeconds = deriveTTL(fetched)

	if _, err := c.cache.Store(key, &artifact); err != nil {
		c.logger.Error("failed to cache hydrated artifact",
			zap.String("key", key),
			zap.Error(err))
		return nil, err
	}

	c.logger.Info("artifact hydrated from upstream",
		zap.String("key", key),
		zap.String("tenant", artifact.Policy.Tenant))

	return c.cache.Lookup(key)
}

// deriveTTL prefers the origin's remaining freshness window over the
// artifact's declared TTL so a re-cached artifact never outlives its origin
// copy. Zero falls through to the cache default.
func deriveTTL(fetched *types.LookupResponse) int64 {
	if fetched.TTLRemainingSeconds > 0 {
		return fetched.TTLRemainingSeconds
	}
	if fetched.Artifact.TTLSeconds > 0 {
		return fetched.Artifact.TTLSeconds
	}
	if !fetched.ExpiresAt.IsZero() {
		if remaining := int64(time.Until(fetched.ExpiresAt).Seconds()); remaining > 0 {
			return remaining
		}
	}
	return 0
}
