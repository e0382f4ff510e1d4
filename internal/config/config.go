// Package config loads the draftsync agent configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultSyncInterval is the pending-set drain cadence.
	DefaultSyncInterval = 15 * time.Second
	// DefaultCallTimeout bounds a single remote draft call.
	DefaultCallTimeout = 15 * time.Second
	// DefaultRemoteTimeout is the drafts API client timeout.
	DefaultRemoteTimeout = 30 * time.Second
	// DefaultForceWaitStep is the busy-wait step used while a drain is in
	// flight during a forced sync.
	DefaultForceWaitStep = 100 * time.Millisecond
	// DefaultForceWaitMax is the number of busy-wait steps before a forced
	// sync gives up.
	DefaultForceWaitMax = 50
	// DefaultAdminAddress is the observability HTTP listen address.
	DefaultAdminAddress = ":8090"
)

// Config is the full agent configuration.
type Config struct {
	Debug  bool         `yaml:"debug"`
	UserID string       `yaml:"user_id"`
	Remote RemoteConfig `yaml:"remote"`
	Cache  CacheConfig  `yaml:"cache"`
	Sync   SyncConfig   `yaml:"sync"`
	Admin  AdminConfig  `yaml:"admin"`
}

// RemoteConfig points at the drafts API service.
type RemoteConfig struct {
	URL     string        `yaml:"url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// CacheConfig selects the local cache backend. "redis" is the durable
// production backend; "memory" exists for tests and ephemeral runs.
type CacheConfig struct {
	Backend string      `yaml:"backend"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig describes the Redis backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SyncConfig holds the scheduler policy knobs.
type SyncConfig struct {
	Interval      time.Duration `yaml:"interval"`
	CallTimeout   time.Duration `yaml:"call_timeout"`
	ForceWaitStep time.Duration `yaml:"force_wait_step"`
	ForceWaitMax  int           `yaml:"force_wait_max"`
}

// AdminConfig holds the observability HTTP surface settings.
type AdminConfig struct {
	Address string `yaml:"address"`
}

// Load reads the YAML file at path, applies defaults and environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	setDefaults(&cfg)
	overrideWithEnvVars(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.UserID == "" {
		return errors.New("user_id is required")
	}
	if c.Remote.URL == "" {
		return errors.New("remote.url is required")
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be positive, got %v", c.Sync.Interval)
	}
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.Redis.Addr == "" {
			return errors.New("cache.redis.addr is required when cache.backend is redis")
		}
	default:
		return fmt.Errorf("cache.backend must be redis or memory, got %q", c.Cache.Backend)
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Remote.Timeout == 0 {
		cfg.Remote.Timeout = DefaultRemoteTimeout
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "redis"
	}
	if cfg.Sync.Interval == 0 {
		cfg.Sync.Interval = DefaultSyncInterval
	}
	if cfg.Sync.CallTimeout == 0 {
		cfg.Sync.CallTimeout = DefaultCallTimeout
	}
	if cfg.Sync.ForceWaitStep == 0 {
		cfg.Sync.ForceWaitStep = DefaultForceWaitStep
	}
	if cfg.Sync.ForceWaitMax == 0 {
		cfg.Sync.ForceWaitMax = DefaultForceWaitMax
	}
	if cfg.Admin.Address == "" {
		cfg.Admin.Address = DefaultAdminAddress
	}
}

func overrideWithEnvVars(cfg *Config) {
	if v := os.Getenv("APP_DEBUG"); v != "" {
		cfg.Debug = parseBool(v)
	}
	if v := os.Getenv("DRAFTSYNC_USER_ID"); v != "" {
		cfg.UserID = v
	}
	if v := os.Getenv("DRAFTS_API_URL"); v != "" {
		cfg.Remote.URL = v
	}
	if v := os.Getenv("DRAFTS_API_TOKEN"); v != "" {
		cfg.Remote.Token = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Cache.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Cache.Redis.Password = v
	}
	if v := os.Getenv("ADMIN_PORT"); v != "" {
		cfg.Admin.Address = ":" + v
	}
}

// parseBool accepts the common truthy spellings: "true", "1", "yes".
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes"
}
