package cache

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/memophor/scedge/types"
)

const shardCount = 16

type shard struct {
	mu   sync.RWMutex
	data map[string]*types.CacheEntry
}

// provenanceIndex maps tenants and (tenant, provenance hash) pairs to the key
// sets sharing them. It is derived state, rebuildable from the shards, and
// exists so purges never scan the whole store.
type provenanceIndex struct {
	mu       sync.RWMutex
	byTenant map[string]map[string]struct{}
	byHash   map[string]map[string]map[string]struct{}
}

func newProvenanceIndex() *provenanceIndex {
	return &provenanceIndex{
		byTenant: make(map[string]map[string]struct{}),
		byHash:   make(map[string]map[string]map[string]struct{}),
	}
}

func (idx *provenanceIndex) add(key, tenant string, hashes []string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	keys := idx.byTenant[tenant]
	if keys == nil {
		keys = make(map[string]struct{})
		idx.byTenant[tenant] = keys
	}
	keys[key] = struct{}{}

	for _, hash := range hashes {
		tenantHashes := idx.byHash[tenant]
		if tenantHashes == nil {
			tenantHashes = make(map[string]map[string]struct{})
			idx.byHash[tenant] = tenantHashes
		}
		hashKeys := tenantHashes[hash]
		if hashKeys == nil {
			hashKeys = make(map[string]struct{})
			tenantHashes[hash] = hashKeys
		}
		hashKeys[key] = struct{}{}
	}
}

func (idx *provenanceIndex) remove(key, tenant string, hashes []string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if keys := idx.byTenant[tenant]; keys != nil {
		delete(keys, key)
		if len(keys) == 0 {
			delete(idx.byTenant, tenant)
		}
	}

	tenantHashes := idx.byHash[tenant]
	if tenantHashes == nil {
		return
	}
	for _, hash := range hashes {
		if hashKeys := tenantHashes[hash]; hashKeys != nil {
			delete(hashKeys, key)
			if len(hashKeys) == 0 {
				delete(tenantHashes, hash)
			}
		}
	}
	if len(tenantHashes) == 0 {
		delete(idx.byHash, tenant)
	}
}

func (idx *provenanceIndex) keysForTenant(tenant string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	keys := idx.byTenant[tenant]
	out := make([]string, 0, len(keys))
	for key := range keys {
		out = append(out, key)
	}
	return out
}

func (idx *provenanceIndex) keysForProvenance(tenant, hash string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	tenantHashes := idx.byHash[tenant]
	if tenantHashes == nil {
		return nil
	}
	keys := tenantHashes[hash]
	out := make([]string, 0, len(keys))
	for key := range keys {
		out = append(out, key)
	}
	return out
}

// MemoryStore is the in-memory ArtifactBackend: a sharded map so unrelated
// keys never contend on one lock, plus the shared provenance index.
type MemoryStore struct {
	shards [shardCount]*shard
	index  *provenanceIndex
	logger types.Logger
}

func NewMemoryStore(logger types.Logger) *MemoryStore {
	store := &MemoryStore{
		index:  newProvenanceIndex(),
		logger: logger,
	}
	for i := range store.shards {
		store.shards[i] = &shard{data: make(map[string]*types.CacheEntry)}
	}
	return store
}

func (m *MemoryStore) shardFor(key string) *shard {
	return m.shards[xxhash.Sum64String(key)%shardCount]
}

func (m *MemoryStore) Put(entry *types.CacheEntry) error {
	if entry == nil || entry.Key == "" {
		return types.ErrCacheKeyEmpty
	}

	s := m.shardFor(entry.Key)

	// Old index memberships are dropped and new ones installed while the
	// shard lock is held, so no reader observes the old entry with the new
	// memberships or vice versa.
	s.mu.Lock()
	if old, exists := s.data[entry.Key]; exists {
		m.index.remove(old.Key, old.Tenant, old.ProvenanceHashes)
	}
	s.data[entry.Key] = entry
	m.index.add(entry.Key, entry.Tenant, entry.ProvenanceHashes)
	s.mu.Unlock()

	return nil
}

func (m *MemoryStore) Get(key string) (*types.CacheEntry, error) {
	if key == "" {
		return nil, types.ErrCacheKeyEmpty
	}

	now := time.Now()
	s := m.shardFor(key)

	s.mu.RLock()
	entry, exists := s.data[key]
	if !exists {
		s.mu.RUnlock()
		return nil, nil
	}
	if !entry.IsExpired(now) {
		s.mu.RUnlock()
		return entry, nil
	}
	s.mu.RUnlock()

	// Lazily discovered expiry: upgrade to a write lock and re-check, the
	// entry may have been replaced in between.
	s.mu.Lock()
	if entry, exists := s.data[key]; exists && entry.IsExpired(now) {
		delete(s.data, key)
		m.index.remove(entry.Key, entry.Tenant, entry.ProvenanceHashes)
	}
	s.mu.Unlock()

	return nil, nil
}

func (m *MemoryStore) Remove(key string) (bool, error) {
	if key == "" {
		return false, types.ErrCacheKeyEmpty
	}

	s := m.shardFor(key)

	s.mu.Lock()
	entry, exists := s.data[key]
	if exists {
		delete(s.data, key)
		m.index.remove(entry.Key, entry.Tenant, entry.ProvenanceHashes)
	}
	s.mu.Unlock()

	return exists, nil
}

func (m *MemoryStore) KeysForTenant(tenant string) ([]string, error) {
	return m.index.keysForTenant(tenant), nil
}

func (m *MemoryStore) KeysForProvenance(tenant, hash string) ([]string, error) {
	return m.index.keysForProvenance(tenant, hash), nil
}

func (m *MemoryStore) Size() (int, error) {
	total := 0
	for _, s := range m.shards {
		s.mu.RLock()
		total += len(s.data)
		s.mu.RUnlock()
	}
	return total, nil
}

// Sweep walks one shard at a time so lookups on other shards are never
// blocked for longer than a single shard's eviction pass.
func (m *MemoryStore) Sweep(now time.Time) (int, error) {
	removed := 0
	for _, s := range m.shards {
		s.mu.Lock()
		for key, entry := range s.data {
			if entry.IsExpired(now) {
				delete(s.data, key)
				m.index.remove(entry.Key, entry.Tenant, entry.ProvenanceHashes)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed, nil
}

func (m *MemoryStore) Close() error {
	for _, s := range m.shards {
		s.mu.Lock()
		s.data = make(map[string]*types.CacheEntry)
		s.mu.Unlock()
	}
	return nil
}

var _ types.ArtifactBackend = (*MemoryStore)(nil)
