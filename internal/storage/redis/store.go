package redisstore

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/redis/go-redis/v9"
)

// ClientOptions are the connection parameters for one client.
type ClientOptions struct {
	Addr        string
	Username    string
	Password    string
	DB          int
	DialTimeout time.Duration
	PoolSize    int
}

func (o ClientOptions) redisOptions() *redis.Options {
	return &redis.Options{
		Addr:        o.Addr,
		Username:    o.Username,
		Password:    o.Password,
		DB:          o.DB,
		DialTimeout: o.DialTimeout,
		PoolSize:    o.PoolSize,
	}
}

// Options configures the connection pair.
type Options struct {
	// Command configures the command client when CommandClient is nil.
	Command ClientOptions
	// Observer configures the subscriber client when ObserverClient is nil.
	// When both are nil the observer reuses the command client's options.
	Observer *ClientOptions
	// CommandClient and ObserverClient adopt caller-built clients.
	CommandClient  redis.UniversalClient
	ObserverClient redis.UniversalClient
	// Metrics observes command latency and failures. Optional.
	Metrics MetricsHook
}

// MetricsHook is a minimal hook surface for store observations.
type MetricsHook interface {
	ObserveCommand(name string, elapsed time.Duration, err error)
	ObservePipeline(numCmds int, elapsed time.Duration, err error)
}

// NoopMetrics is used when no metrics hook is provided.
type NoopMetrics struct{}

func (NoopMetrics) ObserveCommand(string, time.Duration, error) {}
func (NoopMetrics) ObservePipeline(int, time.Duration, error)   {}

// Conns is the command/observer client pair. Redis does not let a
// connection in subscriber mode issue ordinary commands, so subscriptions
// get a client of their own.
type Conns struct {
	Command  redis.UniversalClient
	Observer redis.UniversalClient

	ownsCommand  bool
	ownsObserver bool

	mu             sync.Mutex
	commandClosed  bool
	observerClosed bool
}

// Open builds or adopts the two clients.
func Open(opts Options) (*Conns, error) {
	c := &Conns{}
	switch {
	case opts.CommandClient != nil:
		c.Command = opts.CommandClient
	case opts.Command.Addr != "":
		c.Command = redis.NewClient(opts.Command.redisOptions())
		c.ownsCommand = true
	default:
		return nil, errors.New("redisstore: Options.Command.Addr or Options.CommandClient is required")
	}

	switch {
	case opts.ObserverClient != nil:
		c.Observer = opts.ObserverClient
	case opts.Observer != nil:
		c.Observer = redis.NewClient(opts.Observer.redisOptions())
		c.ownsObserver = true
	case c.ownsCommand:
		c.Observer = redis.NewClient(opts.Command.redisOptions())
		c.ownsObserver = true
	default:
		// Mirror the supplied command client when possible.
		rc, ok := opts.CommandClient.(*redis.Client)
		if !ok {
			return nil, errors.Errorf("redisstore: cannot derive observer from %T; set Options.ObserverClient", opts.CommandClient)
		}
		o := *rc.Options()
		c.Observer = redis.NewClient(&o)
		c.ownsObserver = true
	}

	metrics := opts.Metrics
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	c.Command.AddHook(metricsHook{m: metrics})
	return c, nil
}

// OwnsCommand reports whether the command client was created by Open.
func (c *Conns) OwnsCommand() bool { return c.ownsCommand }

// OwnsObserver reports whether the observer client was created by Open.
func (c *Conns) OwnsObserver() bool { return c.ownsObserver }

// CheckHealth pings both clients.
func (c *Conns) CheckHealth(ctx context.Context) error {
	if err := c.Command.Ping(ctx).Err(); err != nil {
		return errors.Annotate(err, "ping command connection")
	}
	if err := c.Observer.Ping(ctx).Err(); err != nil {
		return errors.Annotate(err, "ping observer connection")
	}
	return nil
}

// CloseCommand terminates the command client.
func (c *Conns) CloseCommand() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.commandClosed {
		return nil
	}
	if err := c.Command.Close(); err != nil {
		return errors.Annotate(err, "close command connection")
	}
	c.commandClosed = true
	return nil
}

// CloseObserver terminates the observer client.
func (c *Conns) CloseObserver() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.observerClosed {
		return nil
	}
	if err := c.Observer.Close(); err != nil {
		return errors.Annotate(err, "close observer connection")
	}
	c.observerClosed = true
	return nil
}

// Close closes the command client and then the observer client, stopping at
// the first failure.
func (c *Conns) Close() error {
	if err := c.CloseCommand(); err != nil {
		return err
	}
	return c.CloseObserver()
}
