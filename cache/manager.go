package cache

import (
	"time"

	"go.uber.org/zap"

	"github.com/memophor/scedge/types"
)

// Manager layers the artifact semantics on top of a backend: TTL
// normalization, store outcome reporting, tenant-scoped purges and the
// metrics hooks around each operation.
type Manager struct {
	backend    types.ArtifactBackend
	metrics    types.MetricsRecorder
	logger     types.Logger
	defaultTTL time.Duration
}

func NewManager(backend types.ArtifactBackend, metrics types.MetricsRecorder, logger types.Logger, defaultTTL time.Duration) *Manager {
	if defaultTTL <= 0 {
		defaultTTL = types.DefaultTTLSeconds * time.Second
	}
	return &Manager{
		backend:    backend,
		metrics:    metrics,
		logger:     logger,
		defaultTTL: defaultTTL,
	}
}

// NormalizeTTL resolves the effective TTL for an artifact. Zero or negative
// declared TTLs fall back to the service default.
func (m *Manager) NormalizeTTL(declared int64) time.Duration {
	if declared <= 0 {
		return m.defaultTTL
	}
	return time.Duration(declared) * time.Second
}

// Store inserts or replaces the artifact under key and reports whether the
// key was newly created or updated. Replacement is atomic: index memberships
// of the displaced artifact never survive it.
func (m *Manager) Store(key string, artifact *types.Artifact) (*types.StoreResponse, error) {
	if key == "" {
		return nil, types.ErrCacheKeyEmpty
	}

	now := time.Now()
	ttl := m.NormalizeTTL(artifact.TTLSeconds)

	entry := &types.CacheEntry{
		Key:              key,
		Artifact:         *artifact,
		StoredAt:         now,
		ExpiresAt:        now.Add(ttl),
		Tenant:           artifact.Policy.Tenant,
		ProvenanceHashes: artifact.ProvenanceHashes(),
	}

	existing, err := m.backend.Get(key)
	if err != nil {
		return nil, err
	}

	if err := m.backend.Put(entry); err != nil {
		return nil, err
	}

	status := types.StoreStatusCreated
	if existing != nil {
		status = types.StoreStatusUpdated
	}

	m.metrics.RecordStore()
	m.refreshSizeGauge()

	m.logger.Debug("artifact stored",
		zap.String("key", key),
		zap.String("tenant", entry.Tenant),
		zap.String("status", status),
		zap.Duration("ttl", ttl))

	return &types.StoreResponse{
		Key:       key,
		Status:    status,
		Hash:      artifact.Hash,
		ExpiresAt: entry.ExpiresAt,
	}, nil
}

// Lookup returns the live entry for key or ErrNotFound. Expired entries are
// indistinguishable from absent ones.
func (m *Manager) Lookup(key string) (*types.LookupResponse, error) {
	if key == "" {
		return nil, types.ErrCacheKeyEmpty
	}

	entry, err := m.backend.Get(key)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		m.metrics.RecordMiss()
		return nil, types.ErrNotFound
	}

	m.metrics.RecordHit()

	return &types.LookupResponse{
		Key:                 key,
		Artifact:            entry.Artifact,
		ExpiresAt:           entry.ExpiresAt,
		TTLRemainingSeconds: entry.TTLRemainingSeconds(time.Now()),
	}, nil
}

// Entry exposes the raw entry for callers that enforce policy before shaping
// a response. Returns nil without error on a miss.
func (m *Manager) Entry(key string) (*types.CacheEntry, error) {
	return m.backend.Get(key)
}

// PurgeKeys removes the named keys, counting only the ones that were
// present. Repeating a purge is harmless.
func (m *Manager) PurgeKeys(keys []string) (int, error) {
	purged := 0
	for _, key := range keys {
		if key == "" {
			continue
		}
		removed, err := m.backend.Remove(key)
		if err != nil {
			return purged, err
		}
		if removed {
			purged++
		}
	}

	m.finishPurge(purged)
	return purged, nil
}

// PurgeTenantKeys removes the named keys only where they belong to tenant.
func (m *Manager) PurgeTenantKeys(tenant string, keys []string) (int, error) {
	purged := 0
	for _, key := range keys {
		if key == "" {
			continue
		}
		entry, err := m.backend.Get(key)
		if err != nil {
			return purged, err
		}
		if entry == nil || entry.Tenant != tenant {
			continue
		}
		removed, err := m.backend.Remove(key)
		if err != nil {
			return purged, err
		}
		if removed {
			purged++
		}
	}

	m.finishPurge(purged)
	return purged, nil
}

// PurgeTenant drops every artifact belonging to tenant.
func (m *Manager) PurgeTenant(tenant string) (int, error) {
	keys, err := m.backend.KeysForTenant(tenant)
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, key := range keys {
		removed, err := m.backend.Remove(key)
		if err != nil {
			return purged, err
		}
		if removed {
			purged++
		}
	}

	m.finishPurge(purged)

	if purged > 0 {
		m.logger.Info("tenant purged",
			zap.String("tenant", tenant),
			zap.Int("purged", purged))
	}

	return purged, nil
}

// PurgeProvenance drops every artifact of tenant whose lineage includes the
// provenance hash.
func (m *Manager) PurgeProvenance(tenant, hash string) (int, error) {
	keys, err := m.backend.KeysForProvenance(tenant, hash)
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, key := range keys {
		removed, err := m.backend.Remove(key)
		if err != nil {
			return purged, err
		}
		if removed {
			purged++
		}
	}

	m.finishPurge(purged)

	if purged > 0 {
		m.logger.Info("provenance purged",
			zap.String("tenant", tenant),
			zap.String("hash", hash),
			zap.Int("purged", purged))
	}

	return purged, nil
}

// Sweep evicts everything expired at now and refreshes the size gauge.
func (m *Manager) Sweep(now time.Time) (int, error) {
	removed, err := m.backend.Sweep(now)
	if err != nil {
		return removed, err
	}

	m.metrics.RecordExpired(removed)
	m.refreshSizeGauge()

	return removed, nil
}

func (m *Manager) Size() (int, error) {
	return m.backend.Size()
}

func (m *Manager) Close() error {
	return m.backend.Close()
}

func (m *Manager) finishPurge(purged int) {
	m.metrics.RecordPurge(purged)
	if purged > 0 {
		m.refreshSizeGauge()
	}
}

func (m *Manager) refreshSizeGauge() {
	size, err := m.backend.Size()
	if err != nil {
		m.logger.Warn("failed to read cache size", zap.Error(err))
		return
	}
	m.metrics.SetCacheSize(size)
}
