// Package metrics exposes flobus activity as Prometheus metrics.
package metrics
