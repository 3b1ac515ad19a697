package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtifactUnmarshalCanonicalFields(t *testing.T) {
	payload := `{
		"answer": "Hello, world!",
		"policy": {"tenant": "demo", "phi": false, "pii": false},
		"provenance": [{"source": "manual-test", "hash": "abc"}],
		"ttl_seconds": 300,
		"hash": "v1"
	}`

	var artifact Artifact
	require.NoError(t, json.Unmarshal([]byte(payload), &artifact))

	assert.Equal(t, json.RawMessage(`"Hello, world!"`), artifact.Answer)
	assert.Equal(t, "demo", artifact.Policy.Tenant)
	assert.Equal(t, int64(300), artifact.TTLSeconds)
	assert.Equal(t, "v1", artifact.Hash)
}

func TestArtifactUnmarshalLegacyAliases(t *testing.T) {
	payload := `{
		"content": {"text": "cached"},
		"policy": {"tenant": "demo", "phi": false, "pii": false},
		"provenance": [{"source": "import"}],
		"ttl_sec": 120,
		"hash": "v2"
	}`

	var artifact Artifact
	require.NoError(t, json.Unmarshal([]byte(payload), &artifact))

	assert.JSONEq(t, `{"text": "cached"}`, string(artifact.Answer))
	assert.Equal(t, int64(120), artifact.TTLSeconds)
}

func TestArtifactUnmarshalCanonicalWinsOverAlias(t *testing.T) {
	payload := `{
		"answer": "primary",
		"content": "legacy",
		"policy": {"tenant": "demo"},
		"provenance": [{"source": "s"}],
		"ttl_seconds": 60,
		"ttl_sec": 999,
		"hash": "v1"
	}`

	var artifact Artifact
	require.NoError(t, json.Unmarshal([]byte(payload), &artifact))

	assert.Equal(t, json.RawMessage(`"primary"`), artifact.Answer)
	assert.Equal(t, int64(60), artifact.TTLSeconds)
}

func TestArtifactMetricsScoreDefaults(t *testing.T) {
	var m ArtifactMetrics
	require.NoError(t, json.Unmarshal([]byte(`{}`), &m))
	assert.Equal(t, DefaultArtifactScore, m.Score)

	require.NoError(t, json.Unmarshal([]byte(`{"score": 0.42}`), &m))
	assert.Equal(t, 0.42, m.Score)
}

func TestArtifactMetricsExtraRoundTrip(t *testing.T) {
	var m ArtifactMetrics
	require.NoError(t, json.Unmarshal([]byte(`{"score": 0.9, "tokens": 128, "model": "base"}`), &m))

	assert.Equal(t, float64(128), m.Extra["tokens"])
	assert.Equal(t, "base", m.Extra["model"])

	out, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"score": 0.9, "tokens": 128, "model": "base"}`, string(out))
}

func TestProvenanceHashesDeduplicates(t *testing.T) {
	artifact := Artifact{
		Provenance: []ProvenanceInfo{
			{Source: "a", Hash: "h1"},
			{Source: "b", Hash: "h2"},
			{Source: "c", Hash: "h1"},
			{Source: "d"},
		},
	}

	assert.ElementsMatch(t, []string{"h1", "h2"}, artifact.ProvenanceHashes())
}

func TestCacheEntryExpiry(t *testing.T) {
	now := time.Now()
	entry := &CacheEntry{
		StoredAt:  now,
		ExpiresAt: now.Add(10 * time.Second),
	}

	assert.False(t, entry.IsExpired(now))
	assert.True(t, entry.IsExpired(now.Add(10*time.Second)))
	assert.True(t, entry.IsExpired(now.Add(time.Minute)))

	assert.Equal(t, int64(10), entry.TTLRemainingSeconds(now))
	assert.Equal(t, int64(0), entry.TTLRemainingSeconds(now.Add(time.Minute)))
}

func TestCacheEntryNoExpiry(t *testing.T) {
	entry := &CacheEntry{StoredAt: time.Now()}
	assert.False(t, entry.IsExpired(time.Now().Add(time.Hour)))
}
