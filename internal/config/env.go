package config

import (
	"os"
	"strconv"
)

// FromEnv overlays FLOBUS_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("FLOBUS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("FLOBUS_REDIS_USERNAME"); v != "" {
		cfg.Redis.Username = v
	}
	if v := os.Getenv("FLOBUS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("FLOBUS_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}
	if v := os.Getenv("FLOBUS_OBSERVER_ADDR"); v != "" {
		if cfg.Observer == nil {
			o := cfg.Redis
			cfg.Observer = &o
		}
		cfg.Observer.Addr = v
	}
	if v, ok := os.LookupEnv("FLOBUS_PREFIX"); ok {
		cfg.Prefix = v
	}
	if v := os.Getenv("FLOBUS_STREAM_BUFFER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.StreamBuffer = n
		}
	}
	if v := os.Getenv("FLOBUS_IDSEQ_MAX_JITTER_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.IDSeq.MaxJitterMs = n
		}
	}
	if v := os.Getenv("FLOBUS_IDSEQ_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.IDSeq.MaxAttempts = n
		}
	}
	if v := os.Getenv("FLOBUS_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("FLOBUS_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("FLOBUS_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
}
