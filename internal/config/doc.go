// Package config provides loading and environment overlay for flobus
// configuration. It exposes a Default() baseline, file loading (JSON or
// YAML by extension) and a FLOBUS_* environment overlay.
//
// Example:
//
//	cfg := config.Default()
//	if fileCfg, err := config.Load("/etc/flobus.yaml"); err == nil {
//	    cfg = fileCfg
//	}
//	config.FromEnv(&cfg)
//	if err := cfg.Validate(); err != nil { /* handle */ }
//	rt, _ := runtime.Open(ctx, runtime.Options{Config: cfg})
//	defer rt.Close(ctx)
package config
