package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/memophor/scedge/types"
	"github.com/memophor/scedge/utils"
)

const (
	artifactKeyPrefix = "artifact"
	tenantIdxPrefix   = "idx:tenant"
	provIdxPrefix     = "idx:prov"
)

// RedisStore keeps entries as sonic-encoded blobs with a native Redis TTL as
// a backstop, plus set-based tenant and provenance indexes. Index membership
// of keys Redis already expired is reconciled lazily and by Sweep.
type RedisStore struct {
	ctx    context.Context
	logger types.Logger
	client *redis.Client
	prefix string
}

func NewRedisStore(ctx context.Context, logger types.Logger, config *types.RedisConfig) (*RedisStore, error) {
	rConfig := &types.RedisConfig{
		Host:               "localhost",
		Port:               6379,
		DB:                 0,
		PoolSize:           10,
		MinIdleConnections: 2,
		KeyPrefix:          "scedge",
	}

	if config != nil {
		if config.Host != "" {
			rConfig.Host = config.Host
		}
		if config.Port != 0 {
			rConfig.Port = config.Port
		}
		rConfig.Password = config.Password
		rConfig.DB = config.DB
		if config.PoolSize != 0 {
			rConfig.PoolSize = config.PoolSize
		}
		if config.MinIdleConnections != 0 {
			rConfig.MinIdleConnections = config.MinIdleConnections
		}
		if config.KeyPrefix != "" {
			rConfig.KeyPrefix = config.KeyPrefix
		}
	}

	store := &RedisStore{
		ctx:    ctx,
		logger: logger,
		prefix: rConfig.KeyPrefix,
		client: redis.NewClient(&redis.Options{
			Addr:         fmt.Sprintf("%s:%d", rConfig.Host, rConfig.Port),
			Password:     rConfig.Password,
			DB:           rConfig.DB,
			PoolSize:     rConfig.PoolSize,
			MinIdleConns: rConfig.MinIdleConnections,
		}),
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.client.Ping(pingCtx).Err(); err != nil {
		return nil, types.Errorf(types.ErrCacheConnectionFailed, "%v", err)
	}

	return store, nil
}

func (r *RedisStore) artifactKey(key string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, artifactKeyPrefix, key)
}

func (r *RedisStore) tenantIdxKey(tenant string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, tenantIdxPrefix, tenant)
}

func (r *RedisStore) provIdxKey(tenant, hash string) string {
	return fmt.Sprintf("%s:%s:%s:%s", r.prefix, provIdxPrefix, tenant, hash)
}

func (r *RedisStore) Put(entry *types.CacheEntry) error {
	if entry == nil || entry.Key == "" {
		return types.ErrCacheKeyEmpty
	}

	data, err := utils.Marshal(entry)
	if err != nil {
		return types.WrapError(err, "failed to marshal cache entry")
	}

	var ttl time.Duration
	if !entry.ExpiresAt.IsZero() {
		ttl = time.Until(entry.ExpiresAt)
		if ttl <= 0 {
			ttl = time.Second
		}
	}

	old, err := r.rawGet(entry.Key)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	if old != nil {
		r.dropIndexMembership(pipe, old)
	}
	pipe.Set(r.ctx, r.artifactKey(entry.Key), data, ttl)
	pipe.SAdd(r.ctx, r.tenantIdxKey(entry.Tenant), entry.Key)
	for _, hash := range entry.ProvenanceHashes {
		pipe.SAdd(r.ctx, r.provIdxKey(entry.Tenant, hash), entry.Key)
	}
	if _, err := pipe.Exec(r.ctx); err != nil {
		r.logger.Error("failed to store cache entry", zap.String("key", entry.Key), zap.Error(err))
		return types.Errorf(types.ErrCacheOperationFailed, "store %q: %v", entry.Key, err)
	}

	return nil
}

func (r *RedisStore) Get(key string) (*types.CacheEntry, error) {
	if key == "" {
		return nil, types.ErrCacheKeyEmpty
	}

	entry, err := r.rawGet(key)
	if err != nil || entry == nil {
		return nil, err
	}

	if entry.IsExpired(time.Now()) {
		if _, err := r.Remove(key); err != nil {
			r.logger.Error("failed to remove expired entry", zap.String("key", key), zap.Error(err))
		}
		return nil, nil
	}

	return entry, nil
}

func (r *RedisStore) rawGet(key string) (*types.CacheEntry, error) {
	result, err := r.client.Get(r.ctx, r.artifactKey(key)).Result()
	if err != nil {
		if types.IsError(err, redis.Nil) {
			return nil, nil
		}
		return nil, types.Errorf(types.ErrCacheOperationFailed, "get %q: %v", key, err)
	}

	var entry types.CacheEntry
	if err := utils.Unmarshal([]byte(result), &entry); err != nil {
		r.logger.Error("failed to unmarshal cache entry", zap.String("key", key), zap.Error(err))
		r.client.Del(r.ctx, r.artifactKey(key))
		return nil, nil
	}

	return &entry, nil
}

func (r *RedisStore) Remove(key string) (bool, error) {
	if key == "" {
		return false, types.ErrCacheKeyEmpty
	}

	entry, err := r.rawGet(key)
	if err != nil {
		return false, err
	}
	if entry == nil {
		return false, nil
	}

	pipe := r.client.TxPipeline()
	pipe.Del(r.ctx, r.artifactKey(key))
	r.dropIndexMembership(pipe, entry)
	if _, err := pipe.Exec(r.ctx); err != nil {
		return false, types.Errorf(types.ErrCacheOperationFailed, "delete %q: %v", key, err)
	}

	return true, nil
}

func (r *RedisStore) dropIndexMembership(pipe redis.Pipeliner, entry *types.CacheEntry) {
	pipe.SRem(r.ctx, r.tenantIdxKey(entry.Tenant), entry.Key)
	for _, hash := range entry.ProvenanceHashes {
		pipe.SRem(r.ctx, r.provIdxKey(entry.Tenant, hash), entry.Key)
	}
}

func (r *RedisStore) KeysForTenant(tenant string) ([]string, error) {
	keys, err := r.client.SMembers(r.ctx, r.tenantIdxKey(tenant)).Result()
	if err != nil {
		return nil, types.WrapError(err, "failed to read tenant index")
	}
	return keys, nil
}

func (r *RedisStore) KeysForProvenance(tenant, hash string) ([]string, error) {
	keys, err := r.client.SMembers(r.ctx, r.provIdxKey(tenant, hash)).Result()
	if err != nil {
		return nil, types.WrapError(err, "failed to read provenance index")
	}
	return keys, nil
}

func (r *RedisStore) Size() (int, error) {
	total := 0
	pattern := r.artifactKey("*")

	var cursor uint64
	for {
		keys, next, err := r.client.Scan(r.ctx, cursor, pattern, 200).Result()
		if err != nil {
			return 0, types.WrapError(err, "failed to scan cache keys")
		}
		total += len(keys)
		cursor = next
		if cursor == 0 {
			break
		}
	}

	return total, nil
}

// Sweep reconciles index sets with keys Redis expired on its own. The blob
// keys carry native TTLs, so the sweep only has to drop dangling index
// members.
func (r *RedisStore) Sweep(now time.Time) (int, error) {
	removed := 0
	pattern := fmt.Sprintf("%s:%s:*", r.prefix, tenantIdxPrefix)

	var cursor uint64
	for {
		idxKeys, next, err := r.client.Scan(r.ctx, cursor, pattern, 100).Result()
		if err != nil {
			return removed, types.WrapError(err, "failed to scan tenant indexes")
		}

		for _, idxKey := range idxKeys {
			members, err := r.client.SMembers(r.ctx, idxKey).Result()
			if err != nil {
				r.logger.Warn("failed to read index during sweep", zap.String("index", idxKey), zap.Error(err))
				continue
			}

			for _, key := range members {
				exists, err := r.client.Exists(r.ctx, r.artifactKey(key)).Result()
				if err != nil {
					continue
				}
				if exists == 0 {
					r.client.SRem(r.ctx, idxKey, key)
					removed++
					continue
				}

				entry, err := r.rawGet(key)
				if err != nil || entry == nil {
					continue
				}
				if entry.IsExpired(now) {
					if ok, _ := r.Remove(key); ok {
						removed++
					}
				}
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return removed, nil
}

func (r *RedisStore) Close() error {
	if err := r.client.Close(); err != nil {
		return types.WrapError(err, "failed to close redis client")
	}
	return nil
}

var _ types.ArtifactBackend = (*RedisStore)(nil)
