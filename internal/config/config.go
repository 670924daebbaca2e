// Package config loads settings. Precedence: defaults, then the YAML file,
// then ECOAGENT_MEMORY_* environment variables. Command-line flags are
// applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ECOAGENT_MEMORY_"

// Backend names.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config is the complete configuration.
type Config struct {
	// Backend stores memories and operations: memory or sqlite.
	Backend string `yaml:"backend"`
	// SessionBackend overrides Backend for sessions; it may also be redis.
	SessionBackend string          `yaml:"session_backend"`
	DBPath         string          `yaml:"db_path"`
	Redis          RedisConfig     `yaml:"redis"`
	Memory         MemoryConfig    `yaml:"memory"`
	Session        SessionConfig   `yaml:"session"`
	Context        ContextConfig   `yaml:"context"`
	Operations     OperationConfig `yaml:"operations"`
	Log            LogConfig       `yaml:"log"`
}

// RedisConfig configures the Redis session backend.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type MemoryConfig struct {
	MaxMemories int `yaml:"max_memories"`
}

type SessionConfig struct {
	// DefaultTTL is in seconds.
	DefaultTTL int `yaml:"default_ttl"`
}

type ContextConfig struct {
	MaxWindowSize int `yaml:"max_window_size"`
}

type OperationConfig struct {
	RetentionDays int `yaml:"retention_days"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Backend: BackendSQLite,
		DBPath:  DefaultDBPath(),
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "ecoagent:",
		},
		Memory:     MemoryConfig{MaxMemories: 1000},
		Session:    SessionConfig{DefaultTTL: 3600},
		Context:    ContextConfig{MaxWindowSize: 8000},
		Operations: OperationConfig{RetentionDays: 30},
		Log:        LogConfig{Level: "info", Format: "json"},
	}
}

// DefaultDBPath is ~/.ecoagent-memory/memory.db, or a relative path when
// the home directory is unknown.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".ecoagent-memory", "memory.db")
	}
	return filepath.Join(home, ".ecoagent-memory", "memory.db")
}

// Load reads path (or $ECOAGENT_MEMORY_CONFIG when path is empty) over the
// defaults and applies environment overrides. A missing file is only an
// error when it was asked for explicitly.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = os.Getenv(EnvPrefix + "CONFIG")
		explicit = path != ""
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
		return nil
	}

	str("BACKEND", &c.Backend)
	str("SESSION_BACKEND", &c.SessionBackend)
	str("DB", &c.DBPath)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	for name, dst := range map[string]*int{
		"REDIS_DB":        &c.Redis.DB,
		"MAX_MEMORIES":    &c.Memory.MaxMemories,
		"SESSION_TTL":     &c.Session.DefaultTTL,
		"MAX_WINDOW_SIZE": &c.Context.MaxWindowSize,
		"RETENTION_DAYS":  &c.Operations.RetentionDays,
	} {
		if err := num(name, dst); err != nil {
			return err
		}
	}
	return nil
}

// SessionStore is the effective session backend.
func (c *Config) SessionStore() string {
	if c.SessionBackend == "" {
		return c.Backend
	}
	return c.SessionBackend
}

// Validate rejects unknown backends and non-positive limits.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendSQLite:
	default:
		return fmt.Errorf("backend %q (want %s or %s)", c.Backend, BackendMemory, BackendSQLite)
	}
	switch c.SessionStore() {
	case BackendMemory, BackendSQLite, BackendRedis:
	default:
		return fmt.Errorf("session_backend %q (want %s, %s or %s)", c.SessionBackend, BackendMemory, BackendSQLite, BackendRedis)
	}
	if (c.Backend == BackendSQLite || c.SessionStore() == BackendSQLite) && c.DBPath == "" {
		return errors.New("db_path is required for the sqlite backend")
	}
	if c.SessionStore() == BackendRedis && c.Redis.Addr == "" {
		return errors.New("redis.addr is required for the redis session backend")
	}
	for name, v := range map[string]int{
		"memory.max_memories":       c.Memory.MaxMemories,
		"session.default_ttl":       c.Session.DefaultTTL,
		"context.max_window_size":   c.Context.MaxWindowSize,
		"operations.retention_days": c.Operations.RetentionDays,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}
	return nil
}
