package types

import "time"

const (
	DefaultTTLSeconds      = 86400
	DefaultJanitorInterval = "30s"
	DefaultUpstreamTimeout = 5 * time.Second
)

type ServiceConfig struct {
	Name     string          `yaml:"name" json:"name" validate:"required"`
	Version  string          `yaml:"version" json:"version"`
	Server   *HTTPConfig     `yaml:"server" json:"server" validate:"required"`
	Logger   *LoggerConfig   `yaml:"logger" json:"logger"`
	Cache    *CacheConfig    `yaml:"cache" json:"cache" validate:"required"`
	Policy   *PolicyConfig   `yaml:"policy" json:"policy"`
	Bus      *BusConfig      `yaml:"bus" json:"bus"`
	Upstream *UpstreamConfig `yaml:"upstream" json:"upstream"`
	Metrics  *MetricsConfig  `yaml:"metrics" json:"metrics"`
}

type HTTPConfig struct {
	Host            string `yaml:"host" json:"host"`
	Port            int    `yaml:"port" json:"port" validate:"required,min=1,max=65535"`
	ReadTimeout     int    `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    int    `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     int    `yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout int    `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

type LoggerConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
	File   string `yaml:"file" json:"file"`
}

type CacheConfig struct {
	Backend           string       `yaml:"backend" json:"backend" validate:"required,oneof=memory redis"`
	DefaultTTLSeconds int64        `yaml:"default_ttl_seconds" json:"default_ttl_seconds" validate:"min=0"`
	JanitorInterval   string       `yaml:"janitor_interval" json:"janitor_interval"`
	Redis             *RedisConfig `yaml:"redis" json:"redis"`
}

type RedisConfig struct {
	Host               string        `yaml:"host" json:"host"`
	Port               int           `yaml:"port" json:"port"`
	Password           string        `yaml:"password" json:"password"`
	DB                 int           `yaml:"db" json:"db"`
	PoolSize           int           `yaml:"pool_size" json:"pool_size"`
	MinIdleConnections int           `yaml:"min_idle_connections" json:"min_idle_connections"`
	DialTimeout        time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	ReadTimeout        time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout" json:"write_timeout"`
	KeyPrefix          string        `yaml:"key_prefix" json:"key_prefix"`
}

type PolicyConfig struct {
	TenantsPath string `yaml:"tenants_path" json:"tenants_path"`
}

type BusConfig struct {
	Enabled   bool         `yaml:"enabled" json:"enabled"`
	Transport string       `yaml:"transport" json:"transport" validate:"omitempty,oneof=redis websocket"`
	Channel   string       `yaml:"channel" json:"channel"`
	URL       string       `yaml:"url" json:"url"`
	Redis     *RedisConfig `yaml:"redis" json:"redis"`
}

type UpstreamConfig struct {
	BaseURL        string `yaml:"base_url" json:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds" validate:"min=0"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

func (c *UpstreamConfig) Timeout() time.Duration {
	if c == nil || c.TimeoutSeconds <= 0 {
		return DefaultUpstreamTimeout
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c *CacheConfig) DefaultTTL() time.Duration {
	if c == nil || c.DefaultTTLSeconds <= 0 {
		return DefaultTTLSeconds * time.Second
	}
	return time.Duration(c.DefaultTTLSeconds) * time.Second
}
