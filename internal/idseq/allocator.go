package idseq

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/redis/go-redis/v9"

	"github.com/rzbill/flobus/internal/keyspace"
	logpkg "github.com/rzbill/flobus/pkg/log"
)

const (
	// ErrContended is returned when MaxAttempts claims all lost a race.
	ErrContended = errors.ConstError("idseq: allocation contended")
	// ErrInvalidSeq is returned by Release for a negative sequence number.
	ErrInvalidSeq = errors.ConstError("idseq: invalid sequence number")
)

const defaultMaxJitter = 10 * time.Millisecond

// Hooks observes allocator activity.
type Hooks interface {
	ObserveAllocate(attempts int)
	ObserveRace()
	ObserveRelease()
	ObserveGC()
}

type noopHooks struct{}

func (noopHooks) ObserveAllocate(int) {}
func (noopHooks) ObserveRace()        {}
func (noopHooks) ObserveRelease()     {}
func (noopHooks) ObserveGC()          {}

// Options configures an Allocator.
type Options struct {
	// Prefix namespaces the bitmap keys.
	Prefix string
	// Backoff defaults to JitterBackoff{Max: 10ms}.
	Backoff Backoff
	// MaxAttempts bounds Allocate. Zero retries until a claim succeeds.
	MaxAttempts int
	Logger      logpkg.Logger
	Hooks       Hooks
}

// Allocator allocates and releases sequence numbers.
type Allocator struct {
	client      redis.UniversalClient
	prefix      string
	backoff     Backoff
	maxAttempts int
	logger      logpkg.Logger
	hooks       Hooks
}

// New returns an Allocator issuing commands on client.
func New(client redis.UniversalClient, opts Options) *Allocator {
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	hooks := opts.Hooks
	if hooks == nil {
		hooks = noopHooks{}
	}
	backoff := opts.Backoff
	if backoff == nil {
		backoff = JitterBackoff{Max: defaultMaxJitter}
	}
	return &Allocator{
		client:      client,
		prefix:      opts.Prefix,
		backoff:     backoff,
		maxAttempts: opts.MaxAttempts,
		logger:      logger.With(logpkg.Component("idseq")),
		hooks:       hooks,
	}
}

// Key returns the bitmap key for id.
func (a *Allocator) Key(id string) string { return keyspace.IDSeqKey(a.prefix, id) }

// Allocate claims the lowest free sequence number for id. A claim that
// loses a race to another allocator is retried after a backoff pause.
func (a *Allocator) Allocate(ctx context.Context, id string) (int64, error) {
	key := a.Key(id)
	ctx = logpkg.ContextWith(ctx, logpkg.Str(logpkg.IDSeqKey, key))
	for attempt := 1; ; attempt++ {
		pos, err := a.client.BitPos(ctx, key, 0).Result()
		if err != nil {
			return 0, errors.Annotatef(err, "bitpos %q", key)
		}
		if pos < 0 {
			return 0, errors.Errorf("idseq: bitpos %q returned %d", key, pos)
		}
		prev, err := a.client.SetBit(ctx, key, pos, 1).Result()
		if err != nil {
			return 0, errors.Annotatef(err, "setbit %q %d", key, pos)
		}
		if prev == 0 {
			a.hooks.ObserveAllocate(attempt)
			return pos, nil
		}

		a.hooks.ObserveRace()
		a.logger.WithContext(ctx).Debug("sequence claim lost",
			logpkg.Int64("seq", pos),
			logpkg.Int("attempt", attempt),
		)
		if a.maxAttempts > 0 && attempt >= a.maxAttempts {
			return 0, errors.Annotatef(ErrContended, "%q after %d attempts", key, attempt)
		}
		if err := sleep(ctx, a.backoff.Delay(attempt)); err != nil {
			return 0, errors.Trace(err)
		}
	}
}

// Release frees seq for id. When no numbers remain the bitmap is deleted,
// unless another allocation lands first, in which case it is kept.
func (a *Allocator) Release(ctx context.Context, id string, seq int64) error {
	if seq < 0 {
		return errors.Annotatef(ErrInvalidSeq, "%d", seq)
	}
	key := a.Key(id)
	ctx = logpkg.ContextWith(ctx, logpkg.Str(logpkg.IDSeqKey, key))
	if err := a.client.SetBit(ctx, key, seq, 0).Err(); err != nil {
		return errors.Annotatef(err, "setbit %q %d", key, seq)
	}
	a.hooks.ObserveRelease()

	collected := false
	err := a.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.BitCount(ctx, key, nil).Result()
		if err != nil {
			return err
		}
		if n != 0 {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, key)
			return nil
		})
		if err == nil {
			collected = true
		}
		return err
	}, key)
	switch {
	case errors.Is(err, redis.TxFailedErr):
		a.logger.WithContext(ctx).Debug("bitmap changed during release, keeping it")
		return nil
	case err != nil:
		return errors.Annotatef(err, "collect %q", key)
	}
	if collected {
		a.hooks.ObserveGC()
	}
	return nil
}
