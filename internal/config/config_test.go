package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Redis.Addr != "127.0.0.1:6379" {
		t.Fatalf("default addr: %q", cfg.Redis.Addr)
	}
	if cfg.StreamBuffer != 1024 {
		t.Fatalf("stream buffer default")
	}
	if cfg.IDSeq.MaxJitterMs != 10 || cfg.IDSeq.MaxAttempts != 0 {
		t.Fatalf("idseq defaults: %+v", cfg.IDSeq)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "flobus.json")
	data := []byte(`{"redis":{"addr":"redis:6380","db":2},"prefix":"tenant-a","idseq":{"maxJitterMs":4}}`)
	if err := os.WriteFile(file, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Redis.Addr != "redis:6380" || cfg.Redis.DB != 2 {
		t.Fatalf("redis section: %+v", cfg.Redis)
	}
	if cfg.Prefix != "tenant-a" {
		t.Fatalf("expected prefix")
	}
	if cfg.IDSeq.MaxJitterMs != 4 {
		t.Fatalf("expected jitter 4")
	}
	// untouched fields keep defaults
	if cfg.StreamBuffer != 1024 {
		t.Fatalf("expected default buffer, got %d", cfg.StreamBuffer)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "flobus.yaml")
	data := []byte("redis:\n  addr: cache:6379\nobserver:\n  addr: cache-replica:6379\nstreamBuffer: 16\nlog:\n  level: debug\n  format: json\n")
	if err := os.WriteFile(file, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Redis.Addr != "cache:6379" {
		t.Fatalf("addr: %q", cfg.Redis.Addr)
	}
	if got := cfg.ObserverRedis().Addr; got != "cache-replica:6379" {
		t.Fatalf("observer addr: %q", got)
	}
	if cfg.StreamBuffer != 16 || cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadBadJSON(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "flobus.json")
	if err := os.WriteFile(file, []byte("{"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(file); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestObserverDefaultsToRedis(t *testing.T) {
	cfg := Default()
	cfg.Redis.Password = "secret"
	if got := cfg.ObserverRedis(); got != cfg.Redis {
		t.Fatalf("observer should mirror redis: %+v", got)
	}
}

func TestFromEnv(t *testing.T) {
	cfg := Default()
	t.Setenv("FLOBUS_REDIS_ADDR", "10.0.0.1:6379")
	t.Setenv("FLOBUS_OBSERVER_ADDR", "10.0.0.2:6379")
	t.Setenv("FLOBUS_PREFIX", "staging")
	t.Setenv("FLOBUS_IDSEQ_MAX_ATTEMPTS", "50")
	t.Setenv("FLOBUS_STREAM_BUFFER", "not-a-number")
	FromEnv(&cfg)
	if cfg.Redis.Addr != "10.0.0.1:6379" {
		t.Fatalf("env override addr")
	}
	if cfg.ObserverRedis().Addr != "10.0.0.2:6379" {
		t.Fatalf("env override observer")
	}
	if cfg.Prefix != "staging" {
		t.Fatalf("env override prefix")
	}
	if cfg.IDSeq.MaxAttempts != 50 {
		t.Fatalf("env override attempts")
	}
	if cfg.StreamBuffer != 1024 {
		t.Fatalf("invalid number should be ignored, got %d", cfg.StreamBuffer)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Redis.Addr = "" }},
		{"negative buffer", func(c *Config) { c.StreamBuffer = -1 }},
		{"negative jitter", func(c *Config) { c.IDSeq.MaxJitterMs = -1 }},
		{"negative attempts", func(c *Config) { c.IDSeq.MaxAttempts = -2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
