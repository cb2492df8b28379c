// Package keyspace builds the Redis key and channel names flobus uses, so
// every component agrees on one layout for a given tenant prefix.
package keyspace
