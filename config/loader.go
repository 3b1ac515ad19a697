package config

import (
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/memophor/scedge/types"
)

type Loader struct {
	validator *validator.Validate
}

func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (l *Loader) LoadFromFile(configPath string) (*types.ServiceConfig, error) {
	if configPath == "" {
		return nil, types.ErrConfigNotFound
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, types.WrapError(err, "failed to read config file")
	}

	config := l.Defaults()

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, types.Errorf(types.ErrConfigParseFailed, "%v", err)
	}

	if err := l.validator.Struct(config); err != nil {
		return nil, types.Errorf(types.ErrConfigValidateFailed, "%v", err)
	}

	return config, nil
}

func (l *Loader) Defaults() *types.ServiceConfig {
	return &types.ServiceConfig{
		Name:    "scedge",
		Version: "0.1.0",
		Server: &types.HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10,
			WriteTimeout:    10,
			IdleTimeout:     60,
			ShutdownTimeout: 10,
		},
		Logger: &types.LoggerConfig{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
		Cache: &types.CacheConfig{
			Backend:           "memory",
			DefaultTTLSeconds: types.DefaultTTLSeconds,
			JanitorInterval:   types.DefaultJanitorInterval,
		},
		Bus: &types.BusConfig{
			Enabled:   false,
			Transport: "redis",
			Channel:   "scedge.invalidation",
		},
		Metrics: &types.MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

type tenantsFile struct {
	Tenants []types.TenantPolicyRecord `yaml:"tenants" validate:"dive"`
}

// LoadTenants reads the tenant policy record set. A missing path is the open
// development mode: no records, no credential enforcement.
func (l *Loader) LoadTenants(path string) ([]types.TenantPolicyRecord, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.WrapError(err, "failed to read tenants file")
	}

	var file tenantsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, types.Errorf(types.ErrConfigParseFailed, "%v", err)
	}

	for i := range file.Tenants {
		if err := l.validator.Struct(&file.Tenants[i]); err != nil {
			return nil, types.Errorf(types.ErrConfigValidateFailed, "%v", err)
		}
	}

	return file.Tenants, nil
}
