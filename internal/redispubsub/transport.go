package redispubsub

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/redis/go-redis/v9"
	"gopkg.in/tomb.v2"

	redisstore "github.com/rzbill/flobus/internal/storage/redis"
	logpkg "github.com/rzbill/flobus/pkg/log"
)

const (
	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.ConstError("redispubsub: transport closed")
	// ErrNotStarted is returned by Subscribe and Unsubscribe before Start.
	ErrNotStarted = errors.ConstError("redispubsub: transport not started")
)

// publishScript publishes ARGV[1] to every channel in ARGV[2:] inside one
// script run, so no other client's command lands between the publishes.
// It returns the total receiver count.
const publishScript = `local n = 0
for i = 2, #ARGV do
  n = n + redis.call("publish", ARGV[i], ARGV[1])
end
return n`

const (
	defaultConfirmTimeout = 5 * time.Second
	defaultRetryPause     = 100 * time.Millisecond
)

// Registry receives decoded inbound messages and is shut down first on Close.
type Registry interface {
	Dispatch(channel string, data any)
	Close() error
}

// Hooks observes transport activity.
type Hooks interface {
	ObservePublish(channels int, receivers int64)
	ObserveReceived(channel string)
	ObserveDecodeError(channel string)
}

type noopHooks struct{}

func (noopHooks) ObservePublish(int, int64) {}
func (noopHooks) ObserveReceived(string)    {}
func (noopHooks) ObserveDecodeError(string) {}

// Options configures a Transport.
type Options struct {
	Logger logpkg.Logger
	Hooks  Hooks
	// Codec defaults to JSONCodec.
	Codec Codec
	// OnError receives every *DecodeError. The dispatch loop keeps running.
	OnError func(error)
	// ConfirmTimeout bounds the wait for a subscribe/unsubscribe reply.
	ConfirmTimeout time.Duration
	// RetryPause is the pause after a failed receive before trying again.
	RetryPause time.Duration
}

// Transport implements pubsub.Driver over a redisstore connection pair.
type Transport struct {
	conns          *redisstore.Conns
	script         *redis.Script
	ps             *redis.PubSub
	codec          Codec
	logger         logpkg.Logger
	hooks          Hooks
	onError        func(error)
	confirmTimeout time.Duration
	retryPause     time.Duration

	tomb tomb.Tomb

	// closeMu serializes Close. closeStep is the next teardown step to run.
	closeMu   sync.Mutex
	closeStep int

	mu       sync.Mutex
	registry Registry
	started  bool
	closing  bool
	closed   bool
	// stopped is set once the dispatch loop is told to exit. Until then
	// the registry may still unsubscribe during Close.
	stopped bool
	// waiters holds, per "kind channel", the callers waiting for a reply.
	waiters map[string][]chan struct{}
}

// New returns a Transport over conns. Call Start before subscribing.
func New(conns *redisstore.Conns, opts Options) *Transport {
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	hooks := opts.Hooks
	if hooks == nil {
		hooks = noopHooks{}
	}
	codec := opts.Codec
	if codec == nil {
		codec = JSONCodec{}
	}
	confirm := opts.ConfirmTimeout
	if confirm <= 0 {
		confirm = defaultConfirmTimeout
	}
	pause := opts.RetryPause
	if pause <= 0 {
		pause = defaultRetryPause
	}
	return &Transport{
		conns:          conns,
		script:         redis.NewScript(publishScript),
		ps:             conns.Observer.Subscribe(context.Background()),
		codec:          codec,
		logger:         logger.With(logpkg.Component("redispubsub")),
		hooks:          hooks,
		onError:        opts.OnError,
		confirmTimeout: confirm,
		retryPause:     pause,
		waiters:        map[string][]chan struct{}{},
	}
}

// Start begins delivering inbound messages to reg.
func (t *Transport) Start(reg Registry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closing {
		return ErrClosed
	}
	if t.started {
		return errors.New("redispubsub: already started")
	}
	t.registry = reg
	t.started = true
	t.tomb.Go(t.loop)
	return nil
}

// Subscribe starts receiving messages on channel. It returns once Redis
// confirms the subscription.
func (t *Transport) Subscribe(ctx context.Context, channel string) error {
	wait, err := t.expect("subscribe", channel)
	if err != nil {
		return err
	}
	if err := t.ps.Subscribe(ctx, channel); err != nil {
		t.forget("subscribe", channel, wait)
		t.abandon(channel)
		return errors.Annotatef(err, "subscribe %q", channel)
	}
	if err := t.await(ctx, "subscribe", channel, wait); err != nil {
		t.abandon(channel)
		return err
	}
	return nil
}

// abandon drops a channel whose subscribe failed. The session keeps the
// channel in its resubscribe set even when the command errors.
func (t *Transport) abandon(channel string) {
	if err := t.ps.Unsubscribe(context.Background(), channel); err != nil && !errors.Is(err, redis.ErrClosed) {
		t.logger.Warn("drop failed subscription",
			logpkg.Str("channel", channel),
			logpkg.Err(err),
		)
	}
}

// Unsubscribe stops receiving messages on channel.
func (t *Transport) Unsubscribe(ctx context.Context, channel string) error {
	wait, err := t.expect("unsubscribe", channel)
	if err != nil {
		return err
	}
	if err := t.ps.Unsubscribe(ctx, channel); err != nil {
		t.forget("unsubscribe", channel, wait)
		return errors.Annotatef(err, "unsubscribe %q", channel)
	}
	return t.await(ctx, "unsubscribe", channel, wait)
}

// Publish encodes data once and publishes it to every channel in a single
// script run on the command connection.
func (t *Transport) Publish(ctx context.Context, channels []string, data any) error {
	if len(channels) == 0 {
		return nil
	}
	payload, err := t.codec.Encode(data)
	if err != nil {
		return errors.Annotate(err, "encode message")
	}
	args := make([]interface{}, 0, len(channels)+1)
	args = append(args, payload)
	for _, ch := range channels {
		args = append(args, ch)
	}
	receivers, err := t.script.Run(ctx, t.conns.Command, nil, args...).Int64()
	if err != nil {
		return errors.Annotatef(err, "publish to %d channels", len(channels))
	}
	t.hooks.ObservePublish(len(channels), receivers)
	return nil
}

// Close shuts down the registry, stops the dispatch loop, then closes the
// command connection and the observer connection, returning the first
// failure. A step is not attempted when an earlier one failed. A failed
// step is not retried: calling Close again resumes with the next step.
func (t *Transport) Close() error {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.closing = true
	reg := t.registry
	t.mu.Unlock()

	steps := []func() error{
		func() error {
			if reg == nil {
				return nil
			}
			return errors.Annotate(reg.Close(), "close registry")
		},
		t.stopReceiving,
		t.conns.CloseCommand,
		t.conns.CloseObserver,
	}
	for t.closeStep < len(steps) {
		step := steps[t.closeStep]
		t.closeStep++
		if err := step(); err != nil {
			return err
		}
	}
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

// MustClose is Close for callers with no way to handle a teardown failure.
// A failed close panics.
func (t *Transport) MustClose() {
	if err := t.Close(); err != nil {
		panic(err)
	}
}

func (t *Transport) stopReceiving() error {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
	t.tomb.Kill(nil)
	err := t.ps.Close()
	t.mu.Lock()
	started := t.started
	for key, ws := range t.waiters {
		for _, w := range ws {
			close(w)
		}
		delete(t.waiters, key)
	}
	t.mu.Unlock()
	if started {
		if werr := t.tomb.Wait(); werr != nil {
			t.logger.Warn("dispatch loop exited with error", logpkg.Err(werr))
		}
	}
	if err != nil && !errors.Is(err, redis.ErrClosed) {
		return errors.Annotate(err, "close observer session")
	}
	return nil
}

func (t *Transport) loop() error {
	ctx := t.tomb.Context(context.Background())
	for {
		msg, err := t.ps.Receive(ctx)
		if err != nil {
			if !t.tomb.Alive() || errors.Is(err, redis.ErrClosed) {
				return nil
			}
			t.logger.Warn("receive failed", logpkg.Err(err))
			select {
			case <-t.tomb.Dying():
				return nil
			case <-time.After(t.retryPause):
			}
			continue
		}
		switch m := msg.(type) {
		case *redis.Message:
			t.dispatch(m)
		case *redis.Subscription:
			t.confirm(m.Kind, m.Channel)
		case *redis.Pong:
		}
	}
}

func (t *Transport) dispatch(m *redis.Message) {
	t.hooks.ObserveReceived(m.Channel)
	data, err := t.codec.Decode(m.Payload)
	if err != nil {
		derr := &DecodeError{Channel: m.Channel, Payload: m.Payload, Err: err}
		t.hooks.ObserveDecodeError(m.Channel)
		t.logger.Error("dropping undecodable message",
			logpkg.Str("channel", m.Channel),
			logpkg.Int("bytes", len(m.Payload)),
			logpkg.Err(err),
		)
		if t.onError != nil {
			t.onError(derr)
		}
		return
	}
	t.mu.Lock()
	reg := t.registry
	t.mu.Unlock()
	reg.Dispatch(m.Channel, data)
}

func (t *Transport) expect(kind, channel string) (chan struct{}, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return nil, ErrClosed
	}
	if !t.started {
		return nil, ErrNotStarted
	}
	w := make(chan struct{})
	key := kind + " " + channel
	t.waiters[key] = append(t.waiters[key], w)
	return w, nil
}

func (t *Transport) forget(kind, channel string, w chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := kind + " " + channel
	ws := t.waiters[key]
	for i, c := range ws {
		if c == w {
			t.waiters[key] = append(ws[:i:i], ws[i+1:]...)
			break
		}
	}
	if len(t.waiters[key]) == 0 {
		delete(t.waiters, key)
	}
}

// confirm releases the oldest waiter for a reply. Replies without a
// waiter come from reconnect resubscription and are ignored.
func (t *Transport) confirm(kind, channel string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := kind + " " + channel
	ws := t.waiters[key]
	if len(ws) == 0 {
		return
	}
	close(ws[0])
	if len(ws) == 1 {
		delete(t.waiters, key)
	} else {
		t.waiters[key] = ws[1:]
	}
}

func (t *Transport) await(ctx context.Context, kind, channel string, w chan struct{}) error {
	if err := ctx.Err(); err != nil {
		t.forget(kind, channel, w)
		return errors.Annotatef(err, "%s %q", kind, channel)
	}
	timer := time.NewTimer(t.confirmTimeout)
	defer timer.Stop()
	select {
	case <-w:
		select {
		case <-t.tomb.Dying():
			return ErrClosed
		default:
			return nil
		}
	case <-ctx.Done():
		t.forget(kind, channel, w)
		return errors.Annotatef(ctx.Err(), "%s %q", kind, channel)
	case <-timer.C:
		t.forget(kind, channel, w)
		return errors.Errorf("%s %q: no reply within %s", kind, channel, t.confirmTimeout)
	}
}
