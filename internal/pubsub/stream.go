package pubsub

import (
	"sync"

	"github.com/rzbill/flobus/pkg/id"
	logpkg "github.com/rzbill/flobus/pkg/log"
)

// Message is one delivered value. Channel is the store channel name.
type Message struct {
	Channel string `json:"channel"`
	Data    any    `json:"data"`
}

// StreamOption customizes a stream at Subscribe time.
type StreamOption func(*streamOptions)

type streamOptions struct {
	buffer int
	filter string
}

// WithBuffer overrides the per-stream queue length.
func WithBuffer(n int) StreamOption {
	return func(o *streamOptions) {
		if n > 0 {
			o.buffer = n
		}
	}
}

// WithFilter only delivers messages for which the CEL expression holds.
// The expression sees `channel` (string) and `data` (dyn).
func WithFilter(expr string) StreamOption {
	return func(o *streamOptions) { o.filter = expr }
}

// Stream is a local listener on one channel. Messages that arrive while
// its queue is full are dropped for this stream only.
type Stream struct {
	id      id.ID
	channel string
	hub     *Hub
	filter  celFilter
	unsub   func()

	mu     sync.Mutex
	ch     chan Message
	closed bool
}

// ID returns the stream's identifier.
func (s *Stream) ID() id.ID { return s.id }

// Channel returns the store channel name.
func (s *Stream) Channel() string { return s.channel }

// C returns the receive side of the stream. It is closed when the stream
// or its hub closes.
func (s *Stream) C() <-chan Message { return s.ch }

// Close detaches the stream, unsubscribing the channel when it was the
// last stream on it.
func (s *Stream) Close() error { return s.hub.remove(s) }

func (s *Stream) deliver(topic string, data interface{}) {
	if !s.filter.Eval(topic, data) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- Message{Channel: topic, Data: data}:
		s.hub.hooks.ObserveDelivered(topic)
	default:
		s.hub.hooks.ObserveDropped(topic)
		s.hub.logger.Warn("stream full, message dropped",
			logpkg.Str("channel", topic),
			logpkg.Str("stream", s.id.String()),
		)
	}
}

func (s *Stream) shutdown() {
	if s.unsub != nil {
		s.unsub()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
