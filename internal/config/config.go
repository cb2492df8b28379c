package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	logpkg "github.com/rzbill/flobus/pkg/log"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	Redis RedisConfig `json:"redis" yaml:"redis"`
	// Observer overrides connection parameters for the subscriber connection.
	// A nil Observer reuses Redis.
	Observer *RedisConfig `json:"observer,omitempty" yaml:"observer,omitempty"`
	// Prefix namespaces channels and idseq keys for multi-tenant deployments.
	Prefix       string        `json:"prefix" yaml:"prefix"`
	StreamBuffer int           `json:"streamBuffer" yaml:"streamBuffer"`
	IDSeq        IDSeqConfig   `json:"idseq" yaml:"idseq"`
	Log          logpkg.Config `json:"log" yaml:"log"`
	MetricsAddr  string        `json:"metricsAddr" yaml:"metricsAddr"`
}

// RedisConfig holds connection parameters for one Redis client.
type RedisConfig struct {
	Addr          string `json:"addr" yaml:"addr"`
	Username      string `json:"username,omitempty" yaml:"username,omitempty"`
	Password      string `json:"password,omitempty" yaml:"password,omitempty"`
	DB            int    `json:"db" yaml:"db"`
	DialTimeoutMs int    `json:"dialTimeoutMs" yaml:"dialTimeoutMs"`
	PoolSize      int    `json:"poolSize" yaml:"poolSize"`
}

// DialTimeout returns the dial timeout as a duration.
func (r RedisConfig) DialTimeout() time.Duration {
	return time.Duration(r.DialTimeoutMs) * time.Millisecond
}

// IDSeqConfig tunes the sequence allocator's claim-race backoff.
type IDSeqConfig struct {
	MaxJitterMs int `json:"maxJitterMs" yaml:"maxJitterMs"`
	// MaxAttempts bounds the claim loop; 0 retries until success.
	MaxAttempts int `json:"maxAttempts" yaml:"maxAttempts"`
}

// MaxJitter returns the jitter bound as a duration.
func (c IDSeqConfig) MaxJitter() time.Duration {
	return time.Duration(c.MaxJitterMs) * time.Millisecond
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Redis: RedisConfig{
			Addr:          "127.0.0.1:6379",
			DialTimeoutMs: 5000,
		},
		StreamBuffer: 1024,
		IDSeq: IDSeqConfig{
			MaxJitterMs: 10,
		},
		Log: logpkg.Config{Level: "info", Format: "text"},
	}
}

// ObserverRedis returns the effective observer connection parameters.
func (c Config) ObserverRedis() RedisConfig {
	if c.Observer == nil {
		return c.Redis
	}
	o := *c.Observer
	if o.Addr == "" {
		o.Addr = c.Redis.Addr
	}
	return o
}

// Validate reports configuration that cannot produce a working runtime.
func (c Config) Validate() error {
	if c.Redis.Addr == "" {
		return errors.New("config: redis.addr is required")
	}
	if c.StreamBuffer < 0 {
		return fmt.Errorf("config: streamBuffer must be >= 0, got %d", c.StreamBuffer)
	}
	if c.IDSeq.MaxJitterMs < 0 {
		return fmt.Errorf("config: idseq.maxJitterMs must be >= 0, got %d", c.IDSeq.MaxJitterMs)
	}
	if c.IDSeq.MaxAttempts < 0 {
		return fmt.Errorf("config: idseq.maxAttempts must be >= 0, got %d", c.IDSeq.MaxAttempts)
	}
	return nil
}

// Load reads configuration from a JSON or YAML file (by extension). If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return cfg, nil
}
