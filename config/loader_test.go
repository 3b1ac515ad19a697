package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memophor/scedge/types"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	defaults := NewLoader().Defaults()

	assert.Equal(t, "scedge", defaults.Name)
	assert.Equal(t, 8080, defaults.Server.Port)
	assert.Equal(t, "memory", defaults.Cache.Backend)
	assert.Equal(t, int64(types.DefaultTTLSeconds), defaults.Cache.DefaultTTLSeconds)
	assert.Equal(t, types.DefaultJanitorInterval, defaults.Cache.JanitorInterval)
	assert.False(t, defaults.Bus.Enabled)
	assert.True(t, defaults.Metrics.Enabled)
	assert.Equal(t, "/metrics", defaults.Metrics.Path)
}

func TestLoadFromFile(t *testing.T) {
	path := writeTempFile(t, "config.yml", `
name: edge-cache
version: 1.2.3
server:
  host: 127.0.0.1
  port: 9090
cache:
  backend: redis
  default_ttl_seconds: 600
  janitor_interval: 15s
  redis:
    host: cache.internal
    port: 6380
    key_prefix: edge
upstream:
  base_url: http://origin.internal:8000
  timeout_seconds: 3
`)

	config, err := NewLoader().LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "edge-cache", config.Name)
	assert.Equal(t, "1.2.3", config.Version)
	assert.Equal(t, "127.0.0.1", config.Server.Host)
	assert.Equal(t, 9090, config.Server.Port)
	assert.Equal(t, "redis", config.Cache.Backend)
	assert.Equal(t, int64(600), config.Cache.DefaultTTLSeconds)
	assert.Equal(t, "15s", config.Cache.JanitorInterval)
	assert.Equal(t, "cache.internal", config.Cache.Redis.Host)
	assert.Equal(t, "http://origin.internal:8000", config.Upstream.BaseURL)

	// Sections absent from the file keep their defaults.
	assert.Equal(t, "info", config.Logger.Level)
	assert.Equal(t, "/metrics", config.Metrics.Path)
}

func TestLoadFromFileErrors(t *testing.T) {
	loader := NewLoader()

	_, err := loader.LoadFromFile("")
	assert.ErrorIs(t, err, types.ErrConfigNotFound)

	_, err = loader.LoadFromFile(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)

	_, err = loader.LoadFromFile(writeTempFile(t, "bad.yml", "name: [unclosed"))
	assert.ErrorIs(t, err, types.ErrConfigParseFailed)
}

func TestLoadFromFileValidation(t *testing.T) {
	loader := NewLoader()

	// Unsupported backend.
	path := writeTempFile(t, "config.yml", `
name: edge-cache
server:
  port: 8080
cache:
  backend: memcached
`)
	_, err := loader.LoadFromFile(path)
	assert.ErrorIs(t, err, types.ErrConfigValidateFailed)

	// Port out of range.
	path = writeTempFile(t, "config.yml", `
name: edge-cache
server:
  port: 70000
cache:
  backend: memory
`)
	_, err = loader.LoadFromFile(path)
	assert.ErrorIs(t, err, types.ErrConfigValidateFailed)
}

func TestLoadTenants(t *testing.T) {
	path := writeTempFile(t, "tenants.yml", `
tenants:
  - tenant_id: demo
    api_key: secret
    max_ttl_seconds: 3600
  - tenant_id: clinic
    allowed_regions: [us-east-1, us-west-2]
    require_phi_compliance: true
    require_pii_compliance: true
`)

	records, err := NewLoader().LoadTenants(path)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "demo", records[0].TenantID)
	assert.Equal(t, "secret", records[0].APIKey)
	assert.Equal(t, int64(3600), records[0].MaxTTLSeconds)

	assert.Equal(t, "clinic", records[1].TenantID)
	assert.Equal(t, []string{"us-east-1", "us-west-2"}, records[1].AllowedRegions)
	assert.True(t, records[1].RequirePHICompliance)
	assert.True(t, records[1].RequirePIICompliance)
}

func TestLoadTenantsOpenMode(t *testing.T) {
	records, err := NewLoader().LoadTenants("")
	require.NoError(t, err)
	assert.Nil(t, records)
}

func TestLoadTenantsValidation(t *testing.T) {
	path := writeTempFile(t, "tenants.yml", `
tenants:
  - api_key: orphaned-key
`)

	_, err := NewLoader().LoadTenants(path)
	assert.ErrorIs(t, err, types.ErrConfigValidateFailed)
}
