package runtime

import (
	"context"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	cfgpkg "github.com/rzbill/flobus/internal/config"
	"github.com/rzbill/flobus/internal/idseq"
	"github.com/rzbill/flobus/internal/metrics"
	"github.com/rzbill/flobus/internal/pubsub"
	"github.com/rzbill/flobus/internal/redispubsub"
	redisstore "github.com/rzbill/flobus/internal/storage/redis"
	logpkg "github.com/rzbill/flobus/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	Config cfgpkg.Config
	Logger logpkg.Logger
	// Registry receives the flobus collectors. Nil uses a private registry.
	Registry *prometheus.Registry
	// CommandClient and ObserverClient adopt caller-built clients instead of
	// dialing Config.Redis.
	CommandClient  redis.UniversalClient
	ObserverClient redis.UniversalClient
	// OnError receives undecodable inbound messages.
	OnError func(error)
}

// Runtime owns one connection pair and everything built on it.
type Runtime struct {
	config    cfgpkg.Config
	logger    logpkg.Logger
	metrics   *metrics.Recorder
	conns     *redisstore.Conns
	transport *redispubsub.Transport
	hub       *pubsub.Hub
	idseq     *idseq.Allocator
}

func clientOptions(c cfgpkg.RedisConfig) redisstore.ClientOptions {
	return redisstore.ClientOptions{
		Addr:        c.Addr,
		Username:    c.Username,
		Password:    c.Password,
		DB:          c.DB,
		DialTimeout: c.DialTimeout(),
		PoolSize:    c.PoolSize,
	}
}

// Open validates the configuration, builds the connection pair and starts
// the transport's dispatch loop.
func Open(opts Options) (*Runtime, error) {
	cfg := opts.Config
	if opts.CommandClient == nil {
		if err := cfg.Validate(); err != nil {
			return nil, errors.Trace(err)
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger()
	}

	rec, err := metrics.Register(opts.Registry)
	if err != nil {
		return nil, errors.Trace(err)
	}

	storeOpts := redisstore.Options{
		Command:        clientOptions(cfg.Redis),
		CommandClient:  opts.CommandClient,
		ObserverClient: opts.ObserverClient,
		Metrics:        rec,
	}
	if cfg.Observer != nil {
		o := clientOptions(cfg.ObserverRedis())
		storeOpts.Observer = &o
	}
	conns, err := redisstore.Open(storeOpts)
	if err != nil {
		return nil, errors.Annotate(err, "open redis")
	}

	transport := redispubsub.New(conns, redispubsub.Options{
		Logger:  logger,
		Hooks:   rec,
		OnError: opts.OnError,
	})
	hub := pubsub.NewHub(transport, pubsub.Options{
		Prefix:       cfg.Prefix,
		StreamBuffer: cfg.StreamBuffer,
		Logger:       logger,
		Hooks:        rec,
	})
	if err := transport.Start(hub); err != nil {
		_ = conns.Close()
		return nil, errors.Trace(err)
	}
	alloc := idseq.New(conns.Command, idseq.Options{
		Prefix:      cfg.Prefix,
		Backoff:     idseq.JitterBackoff{Max: cfg.IDSeq.MaxJitter()},
		MaxAttempts: cfg.IDSeq.MaxAttempts,
		Logger:      logger,
		Hooks:       rec,
	})

	logger.Debug("runtime opened",
		logpkg.Str("redis", cfg.Redis.Addr),
		logpkg.Str("prefix", cfg.Prefix),
		logpkg.Bool("shared_clients", opts.CommandClient != nil),
	)
	return &Runtime{
		config:    cfg,
		logger:    logger,
		metrics:   rec,
		conns:     conns,
		transport: transport,
		hub:       hub,
		idseq:     alloc,
	}, nil
}

// Close tears down the registry, the dispatch loop and both clients in
// that order.
func (r *Runtime) Close() error {
	return r.transport.Close()
}

// CheckHealth pings both Redis connections.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	return r.conns.CheckHealth(ctx)
}

// Hub returns the pub/sub registry.
func (r *Runtime) Hub() *pubsub.Hub { return r.hub }

// IDSeq returns the sequence allocator.
func (r *Runtime) IDSeq() *idseq.Allocator { return r.idseq }

// Metrics returns the metrics recorder.
func (r *Runtime) Metrics() *metrics.Recorder { return r.metrics }

// Conns exposes the connection pair (internal use only).
func (r *Runtime) Conns() *redisstore.Conns { return r.conns }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
