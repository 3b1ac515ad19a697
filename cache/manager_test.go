package cache

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/memophor/scedge/logger"
	"github.com/memophor/scedge/metrics"
	"github.com/memophor/scedge/types"
)

func newTestManager(defaultTTL time.Duration) *Manager {
	log := logger.NewZapWrapper(zap.NewNop())
	return NewManager(NewMemoryStore(log), metrics.NewNoop(), log, defaultTTL)
}

func makeArtifact(tenant, hash string, ttl int64, provHashes ...string) *types.Artifact {
	provenance := make([]types.ProvenanceInfo, 0, len(provHashes))
	for _, h := range provHashes {
		provenance = append(provenance, types.ProvenanceInfo{Source: "test", Hash: h})
	}
	if len(provenance) == 0 {
		provenance = append(provenance, types.ProvenanceInfo{Source: "manual-test"})
	}

	return &types.Artifact{
		Answer:     json.RawMessage(`"Hello, world!"`),
		Policy:     types.PolicyContext{Tenant: tenant},
		Provenance: provenance,
		TTLSeconds: ttl,
		Hash:       hash,
	}
}

func TestManagerStoreAndLookup(t *testing.T) {
	manager := newTestManager(0)

	response, err := manager.Store("demo:greeting:en-US", makeArtifact("demo", "v1", 0))
	require.NoError(t, err)
	assert.Equal(t, types.StoreStatusCreated, response.Status)
	assert.Equal(t, "v1", response.Hash)

	lookup, err := manager.Lookup("demo:greeting:en-US")
	require.NoError(t, err)
	assert.Equal(t, "demo:greeting:en-US", lookup.Key)
	assert.Equal(t, "v1", lookup.Artifact.Hash)

	// Default TTL applies when the artifact declares none.
	assert.InDelta(t, types.DefaultTTLSeconds, lookup.TTLRemainingSeconds, 5)
}

func TestManagerStoreUpdatedStatus(t *testing.T) {
	manager := newTestManager(0)

	first, err := manager.Store("k1", makeArtifact("demo", "v1", 60))
	require.NoError(t, err)
	assert.Equal(t, types.StoreStatusCreated, first.Status)

	second, err := manager.Store("k1", makeArtifact("demo", "v2", 60))
	require.NoError(t, err)
	assert.Equal(t, types.StoreStatusUpdated, second.Status)
	assert.Equal(t, "v2", second.Hash)

	lookup, err := manager.Lookup("k1")
	require.NoError(t, err)
	assert.Equal(t, "v2", lookup.Artifact.Hash)
}

func TestManagerLookupMiss(t *testing.T) {
	manager := newTestManager(0)

	_, err := manager.Lookup("absent")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestManagerDeclaredTTLWins(t *testing.T) {
	manager := newTestManager(time.Hour)

	response, err := manager.Store("k1", makeArtifact("demo", "v1", 120))
	require.NoError(t, err)

	remaining := time.Until(response.ExpiresAt)
	assert.InDelta(t, 120, remaining.Seconds(), 5)
}

func TestManagerPurgeKeysIdempotent(t *testing.T) {
	manager := newTestManager(0)

	_, err := manager.Store("a", makeArtifact("demo", "v1", 60))
	require.NoError(t, err)
	_, err = manager.Store("b", makeArtifact("demo", "v1", 60))
	require.NoError(t, err)

	purged, err := manager.PurgeKeys([]string{"a", "b", "absent", ""})
	require.NoError(t, err)
	assert.Equal(t, 2, purged)

	purged, err = manager.PurgeKeys([]string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 0, purged)
}

func TestManagerPurgeTenant(t *testing.T) {
	manager := newTestManager(0)

	_, err := manager.Store("demo:a", makeArtifact("demo", "v1", 60))
	require.NoError(t, err)
	_, err = manager.Store("demo:b", makeArtifact("demo", "v1", 60))
	require.NoError(t, err)
	_, err = manager.Store("other:a", makeArtifact("other", "v1", 60))
	require.NoError(t, err)

	purged, err := manager.PurgeTenant("demo")
	require.NoError(t, err)
	assert.Equal(t, 2, purged)

	_, err = manager.Lookup("demo:a")
	assert.ErrorIs(t, err, types.ErrNotFound)

	// Other tenants are untouched.
	_, err = manager.Lookup("other:a")
	assert.NoError(t, err)
}

func TestManagerPurgeProvenance(t *testing.T) {
	manager := newTestManager(0)

	_, err := manager.Store("a", makeArtifact("demo", "v1", 60, "H"))
	require.NoError(t, err)
	_, err = manager.Store("b", makeArtifact("demo", "v2", 60, "H"))
	require.NoError(t, err)
	_, err = manager.Store("c", makeArtifact("demo", "v3", 60, "other"))
	require.NoError(t, err)

	purged, err := manager.PurgeProvenance("demo", "H")
	require.NoError(t, err)
	assert.Equal(t, 2, purged)

	_, err = manager.Lookup("a")
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = manager.Lookup("b")
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = manager.Lookup("c")
	assert.NoError(t, err)
}

func TestManagerPurgeTenantKeys(t *testing.T) {
	manager := newTestManager(0)

	_, err := manager.Store("shared-key", makeArtifact("alpha", "v1", 60))
	require.NoError(t, err)

	// Wrong tenant cannot purge another tenant's entry.
	purged, err := manager.PurgeTenantKeys("beta", []string{"shared-key"})
	require.NoError(t, err)
	assert.Equal(t, 0, purged)

	purged, err = manager.PurgeTenantKeys("alpha", []string{"shared-key"})
	require.NoError(t, err)
	assert.Equal(t, 1, purged)
}

func TestManagerSweep(t *testing.T) {
	manager := newTestManager(0)

	_, err := manager.Store("live", makeArtifact("demo", "v1", 3600))
	require.NoError(t, err)

	expired := makeArtifact("demo", "v2", 1)
	_, err = manager.Store("dead", expired)
	require.NoError(t, err)

	removed, err := manager.Sweep(time.Now().Add(2 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	size, err := manager.Size()
	require.NoError(t, err)
	assert.Equal(t, 1, size)
}

func TestManagerStoreThenPurgeScenario(t *testing.T) {
	manager := newTestManager(0)

	_, err := manager.Store("demo:greeting:en-US", makeArtifact("demo", "v1", 0))
	require.NoError(t, err)

	lookup, err := manager.Lookup("demo:greeting:en-US")
	require.NoError(t, err)
	assert.InDelta(t, types.DefaultTTLSeconds, lookup.TTLRemainingSeconds, 5)

	purged, err := manager.PurgeTenant("demo")
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	_, err = manager.Lookup("demo:greeting:en-US")
	assert.ErrorIs(t, err, types.ErrNotFound)
}
