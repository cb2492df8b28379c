// Package serverrun runs a long-lived flobus process: it opens the runtime
// and serves Prometheus metrics and a health probe until the context is
// cancelled or the process receives SIGINT or SIGTERM.
//
// Example:
//
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = serverrun.Run(ctx, serverrun.Options{Config: config.Default()})
package serverrun
