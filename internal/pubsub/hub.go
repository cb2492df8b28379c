package pubsub

import (
	"context"
	"sync"

	"github.com/juju/errors"
	"github.com/juju/loggo"
	jujupubsub "github.com/juju/pubsub/v2"

	"github.com/rzbill/flobus/internal/keyspace"
	"github.com/rzbill/flobus/pkg/id"
	logpkg "github.com/rzbill/flobus/pkg/log"
)

// ErrClosed is returned by operations on a closed Hub.
const ErrClosed = errors.ConstError("pubsub: hub closed")

const defaultStreamBuffer = 1024

// Driver is the store-specific side of the hub. Channel names handed to a
// Driver are already prefixed.
type Driver interface {
	Subscribe(ctx context.Context, channel string) error
	Unsubscribe(ctx context.Context, channel string) error
	Publish(ctx context.Context, channels []string, data any) error
}

// Hooks observes local fan-out.
type Hooks interface {
	ObserveDelivered(channel string)
	ObserveDropped(channel string)
}

type noopHooks struct{}

func (noopHooks) ObserveDelivered(string) {}
func (noopHooks) ObserveDropped(string)   {}

// Options configures a Hub.
type Options struct {
	// Prefix is prepended to every channel name, separated by a space.
	Prefix string
	// StreamBuffer is the per-stream queue length. Zero means 1024.
	StreamBuffer int
	Logger       logpkg.Logger
	Hooks        Hooks
}

// Hub is the local channel registry. It reference-counts streams per
// channel, subscribing the driver on the first stream and unsubscribing on
// the last, and fans inbound messages out to streams.
type Hub struct {
	driver Driver
	prefix string
	bufLen int
	logger logpkg.Logger
	hooks  Hooks
	local  *jujupubsub.SimpleHub
	ids    *id.Generator

	// subMu serializes driver subscribe/unsubscribe transitions.
	subMu   sync.Mutex
	mu      sync.Mutex
	streams map[string]map[id.ID]*Stream
	closed  bool
}

// NewHub returns a Hub publishing and subscribing through driver.
func NewHub(driver Driver, opts Options) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	hooks := opts.Hooks
	if hooks == nil {
		hooks = noopHooks{}
	}
	bufLen := opts.StreamBuffer
	if bufLen <= 0 {
		bufLen = defaultStreamBuffer
	}
	return &Hub{
		driver: driver,
		prefix: opts.Prefix,
		bufLen: bufLen,
		logger: logger.With(logpkg.Component("pubsub")),
		hooks:  hooks,
		local: jujupubsub.NewSimpleHub(&jujupubsub.SimpleHubConfig{
			Logger: loggo.GetLogger("flobus.localhub"),
		}),
		ids:     id.NewGenerator(),
		streams: map[string]map[id.ID]*Stream{},
	}
}

// Subscribe opens a local stream on channel.
func (h *Hub) Subscribe(ctx context.Context, channel string, opts ...StreamOption) (*Stream, error) {
	so := streamOptions{buffer: h.bufLen}
	for _, o := range opts {
		o(&so)
	}
	filter, err := newCELFilter(so.filter)
	if err != nil {
		return nil, errors.Annotatef(err, "compile filter for %q", channel)
	}
	full := keyspace.Channel(h.prefix, channel)
	ctx = logpkg.ContextWith(ctx, logpkg.Str(logpkg.ChannelKey, full))

	h.subMu.Lock()
	defer h.subMu.Unlock()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	first := len(h.streams[full]) == 0
	h.mu.Unlock()

	if first {
		if err := h.driver.Subscribe(ctx, full); err != nil {
			return nil, errors.Annotatef(err, "subscribe %q", full)
		}
		h.logger.WithContext(ctx).Debug("channel subscribed")
	}

	s := &Stream{
		id:      h.ids.Next(),
		channel: full,
		hub:     h,
		filter:  filter,
		ch:      make(chan Message, so.buffer),
	}
	s.unsub = h.local.Subscribe(full, s.deliver)

	h.mu.Lock()
	set := h.streams[full]
	if set == nil {
		set = map[id.ID]*Stream{}
		h.streams[full] = set
	}
	set[s.id] = s
	h.mu.Unlock()
	return s, nil
}

// Publish sends data to every channel in one driver call.
func (h *Hub) Publish(ctx context.Context, channels []string, data any) error {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if len(channels) == 0 {
		return nil
	}
	if err := h.driver.Publish(ctx, keyspace.Channels(h.prefix, channels), data); err != nil {
		return errors.Trace(err)
	}
	return nil
}

// Dispatch hands an inbound message for a store channel to local streams.
func (h *Hub) Dispatch(channel string, data any) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return
	}
	h.local.Publish(channel, data)
}

// StreamCount returns the number of open streams on a store channel.
func (h *Hub) StreamCount(channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.streams[channel])
}

// Close closes every stream and unsubscribes every channel at the driver,
// returning the first driver error.
func (h *Hub) Close() error {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	h.closed = true
	streams := h.streams
	h.streams = map[string]map[id.ID]*Stream{}
	h.mu.Unlock()

	var first error
	for channel, set := range streams {
		for _, s := range set {
			s.shutdown()
		}
		if err := h.driver.Unsubscribe(context.Background(), channel); err != nil && first == nil {
			first = errors.Annotatef(err, "unsubscribe %q", channel)
		}
	}
	return first
}

func (h *Hub) remove(s *Stream) error {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	h.mu.Lock()
	set, ok := h.streams[s.channel]
	if !ok {
		h.mu.Unlock()
		s.shutdown()
		return nil
	}
	if _, ok := set[s.id]; !ok {
		h.mu.Unlock()
		s.shutdown()
		return nil
	}
	delete(set, s.id)
	last := len(set) == 0
	if last {
		delete(h.streams, s.channel)
	}
	h.mu.Unlock()

	s.shutdown()
	if !last {
		return nil
	}
	if err := h.driver.Unsubscribe(context.Background(), s.channel); err != nil {
		return errors.Annotatef(err, "unsubscribe %q", s.channel)
	}
	h.logger.Debug("channel unsubscribed", logpkg.Str("channel", s.channel))
	return nil
}
