package idseq

import (
	"context"
	"math/rand"
	"time"
)

// Backoff picks the pause before retry number attempt (1-based).
type Backoff interface {
	Delay(attempt int) time.Duration
}

// JitterBackoff waits a uniformly random duration in [0, Max).
type JitterBackoff struct {
	Max time.Duration
	// Rand returns a value in [0, 1). Defaults to math/rand.Float64.
	Rand func() float64
}

func (b JitterBackoff) Delay(int) time.Duration {
	if b.Max <= 0 {
		return 0
	}
	r := b.Rand
	if r == nil {
		r = rand.Float64
	}
	return time.Duration(r() * float64(b.Max))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
