// Package redisstore opens the pair of Redis clients flobus runs on: a
// command client for ordinary commands, scripts, bit operations and
// transactions, and an observer client reserved for channel subscriptions.
//
// Usage:
//
//	conns, err := redisstore.Open(redisstore.Options{
//	    Command: redisstore.ClientOptions{Addr: "127.0.0.1:6379"},
//	})
//	if err != nil { /* handle */ }
//	defer conns.Close()
//	_ = conns.CheckHealth(ctx)
//
// Caller-built clients can be adopted with Options.CommandClient and
// Options.ObserverClient. Close terminates the command client first and
// never attempts the observer if that fails.
package redisstore
