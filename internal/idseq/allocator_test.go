package idseq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	logpkg "github.com/rzbill/flobus/pkg/log"
)

// afterHook runs fn after every successful command named name, up to limit
// times. A limit of zero means no limit.
type afterHook struct {
	name  string
	limit int
	fn    func(ctx context.Context, cmd redis.Cmder)

	mu    sync.Mutex
	fired int
}

func (h *afterHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *afterHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		if err == nil && cmd.Name() == h.name && h.take() {
			h.fn(ctx, cmd)
		}
		return err
	}
}

func (h *afterHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func (h *afterHook) take() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.limit > 0 && h.fired >= h.limit {
		return false
	}
	h.fired++
	return true
}

type countingHooks struct {
	mu        sync.Mutex
	allocates int
	attempts  int
	races     int
	releases  int
	gcs       int
}

func (h *countingHooks) ObserveAllocate(attempts int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.allocates++
	h.attempts += attempts
}

func (h *countingHooks) ObserveRace() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.races++
}

func (h *countingHooks) ObserveRelease() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.releases++
}

func (h *countingHooks) ObserveGC() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.gcs++
}

type noDelay struct{}

func (noDelay) Delay(int) time.Duration { return 0 }

func newAllocatorForTest(t *testing.T, opts Options) (*Allocator, *redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	if opts.Backoff == nil {
		opts.Backoff = noDelay{}
	}
	return New(client, opts), client, mr
}

// competitor returns a second client used to simulate another process.
func competitor(t *testing.T, mr *miniredis.Miniredis) *redis.Client {
	t.Helper()
	c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestAllocateSequential(t *testing.T) {
	a, _, _ := newAllocatorForTest(t, Options{})
	ctx := context.Background()
	for want := int64(0); want < 5; want++ {
		got, err := a.Allocate(ctx, "doc")
		if err != nil {
			t.Fatalf("allocate: %v", err)
		}
		if got != want {
			t.Fatalf("allocate: got %d want %d", got, want)
		}
	}
}

func TestAllocateConcurrentUnique(t *testing.T) {
	a, _, _ := newAllocatorForTest(t, Options{Backoff: JitterBackoff{Max: time.Millisecond}})
	ctx := context.Background()
	const n = 20
	var wg sync.WaitGroup
	results := make(chan int64, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seq, err := a.Allocate(ctx, "doc")
			if err != nil {
				errs <- err
				return
			}
			results <- seq
		}()
	}
	wg.Wait()
	close(results)
	close(errs)
	for err := range errs {
		t.Fatalf("allocate: %v", err)
	}
	var got []int
	for seq := range results {
		got = append(got, int(seq))
	}
	sort.Ints(got)
	if len(got) != n {
		t.Fatalf("expected %d results, got %d", n, len(got))
	}
	for i, seq := range got {
		if seq != i {
			t.Fatalf("expected dense unique numbers 0..%d, got %v", n-1, got)
		}
	}
}

func TestReleasedNumberIsReused(t *testing.T) {
	a, _, _ := newAllocatorForTest(t, Options{})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := a.Allocate(ctx, "doc"); err != nil {
			t.Fatalf("allocate: %v", err)
		}
	}
	if err := a.Release(ctx, "doc", 1); err != nil {
		t.Fatalf("release: %v", err)
	}
	got, err := a.Allocate(ctx, "doc")
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if got != 1 {
		t.Fatalf("expected reuse of 1, got %d", got)
	}
}

func TestReleaseLastNumberDeletesKey(t *testing.T) {
	hooks := &countingHooks{}
	a, _, mr := newAllocatorForTest(t, Options{Hooks: hooks})
	ctx := context.Background()
	seq, err := a.Allocate(ctx, "doc")
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if !mr.Exists("idseq:doc") {
		t.Fatalf("bitmap should exist while a number is held")
	}
	if err := a.Release(ctx, "doc", seq); err != nil {
		t.Fatalf("release: %v", err)
	}
	if mr.Exists("idseq:doc") {
		t.Fatalf("bitmap should be deleted once empty")
	}
	if hooks.releases != 1 || hooks.gcs != 1 {
		t.Fatalf("hooks: releases=%d gcs=%d", hooks.releases, hooks.gcs)
	}
	again, err := a.Allocate(ctx, "doc")
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if again != 0 {
		t.Fatalf("expected 0 after collection, got %d", again)
	}
}

func TestReleaseKeepsNonEmptyBitmap(t *testing.T) {
	hooks := &countingHooks{}
	a, _, mr := newAllocatorForTest(t, Options{Hooks: hooks})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := a.Allocate(ctx, "doc"); err != nil {
			t.Fatalf("allocate: %v", err)
		}
	}
	if err := a.Release(ctx, "doc", 0); err != nil {
		t.Fatalf("release: %v", err)
	}
	if !mr.Exists("idseq:doc") {
		t.Fatalf("bitmap with a held number must be kept")
	}
	if hooks.gcs != 0 {
		t.Fatalf("unexpected collection")
	}
}

func TestAllocateRetriesAfterLostClaim(t *testing.T) {
	hooks := &countingHooks{}
	a, client, mr := newAllocatorForTest(t, Options{Hooks: hooks})
	other := competitor(t, mr)
	client.AddHook(&afterHook{name: "bitpos", limit: 1, fn: func(ctx context.Context, cmd redis.Cmder) {
		pos := cmd.(*redis.IntCmd).Val()
		if err := other.SetBit(ctx, "idseq:doc", pos, 1).Err(); err != nil {
			t.Errorf("competing setbit: %v", err)
		}
	}})

	got, err := a.Allocate(context.Background(), "doc")
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if got != 1 {
		t.Fatalf("expected 1 after losing 0, got %d", got)
	}
	if hooks.races != 1 || hooks.attempts != 2 {
		t.Fatalf("hooks: races=%d attempts=%d", hooks.races, hooks.attempts)
	}
}

func TestLostClaimLogCarriesContextFields(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(logpkg.DebugLevel),
		logpkg.WithOutput(logpkg.NewWriterOutput(buf)),
	)
	a, client, mr := newAllocatorForTest(t, Options{Prefix: "app", Logger: logger})
	other := competitor(t, mr)
	client.AddHook(&afterHook{name: "bitpos", limit: 1, fn: func(ctx context.Context, cmd redis.Cmder) {
		pos := cmd.(*redis.IntCmd).Val()
		if err := other.SetBit(ctx, "app:idseq:doc", pos, 1).Err(); err != nil {
			t.Errorf("competing setbit: %v", err)
		}
	}})

	ctx := logpkg.ContextWith(context.Background(), logpkg.Operation("flobus idseq allocate"))
	if _, err := a.Allocate(ctx, "doc"); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	line, _, _ := bytes.Cut(buf.Bytes(), []byte("\n"))
	var rec map[string]any
	if err := json.Unmarshal(line, &rec); err != nil {
		t.Fatalf("decode %q: %v", line, err)
	}
	if rec["msg"] != "sequence claim lost" {
		t.Fatalf("unexpected record: %v", rec)
	}
	if rec[logpkg.IDSeqKey] != "app:idseq:doc" || rec[logpkg.OperationKey] != "flobus idseq allocate" {
		t.Fatalf("missing context fields: %v", rec)
	}
}

func TestAllocateGivesUpAfterMaxAttempts(t *testing.T) {
	a, client, mr := newAllocatorForTest(t, Options{MaxAttempts: 3})
	other := competitor(t, mr)
	client.AddHook(&afterHook{name: "bitpos", fn: func(ctx context.Context, cmd redis.Cmder) {
		_ = other.SetBit(ctx, "idseq:doc", cmd.(*redis.IntCmd).Val(), 1).Err()
	}})

	_, err := a.Allocate(context.Background(), "doc")
	if !errors.Is(err, ErrContended) {
		t.Fatalf("expected ErrContended, got %v", err)
	}
}

func TestAllocateHonoursContextDuringBackoff(t *testing.T) {
	a, client, mr := newAllocatorForTest(t, Options{
		Backoff: JitterBackoff{Max: time.Hour, Rand: func() float64 { return 0.5 }},
	})
	other := competitor(t, mr)
	client.AddHook(&afterHook{name: "bitpos", fn: func(ctx context.Context, cmd redis.Cmder) {
		_ = other.SetBit(context.Background(), "idseq:doc", cmd.(*redis.IntCmd).Val(), 1).Err()
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := a.Allocate(ctx, "doc")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestReleaseKeepsKeyWhenClaimLandsDuringWatch(t *testing.T) {
	hooks := &countingHooks{}
	a, client, mr := newAllocatorForTest(t, Options{Hooks: hooks})
	ctx := context.Background()
	seq, err := a.Allocate(ctx, "doc")
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	other := competitor(t, mr)
	client.AddHook(&afterHook{name: "bitcount", limit: 1, fn: func(ctx context.Context, _ redis.Cmder) {
		if err := other.SetBit(ctx, "idseq:doc", 5, 1).Err(); err != nil {
			t.Errorf("competing setbit: %v", err)
		}
	}})

	if err := a.Release(ctx, "doc", seq); err != nil {
		t.Fatalf("release: %v", err)
	}
	if !mr.Exists("idseq:doc") {
		t.Fatalf("bitmap claimed by a competitor must survive release")
	}
	if hooks.gcs != 0 {
		t.Fatalf("unexpected collection")
	}
	n, err := client.BitCount(ctx, "idseq:doc", nil).Result()
	if err != nil {
		t.Fatalf("bitcount: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected only the competitor's bit, got count %d", n)
	}
}

func TestReleaseRejectsNegativeSeq(t *testing.T) {
	a, _, _ := newAllocatorForTest(t, Options{})
	if err := a.Release(context.Background(), "doc", -1); !errors.Is(err, ErrInvalidSeq) {
		t.Fatalf("expected ErrInvalidSeq, got %v", err)
	}
}

func TestPrefixedKey(t *testing.T) {
	a, _, mr := newAllocatorForTest(t, Options{Prefix: "app"})
	if _, err := a.Allocate(context.Background(), "doc"); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if !mr.Exists("app:idseq:doc") {
		t.Fatalf("expected key app:idseq:doc, have %v", mr.Keys())
	}
}

func TestAllocateReportsConnectionErrors(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer client.Close()
	a := New(client, Options{})
	if _, err := a.Allocate(context.Background(), "doc"); err == nil {
		t.Fatalf("expected connection error")
	}
}

func TestJitterBackoff(t *testing.T) {
	b := JitterBackoff{Max: 10 * time.Millisecond, Rand: func() float64 { return 0.5 }}
	if d := b.Delay(1); d != 5*time.Millisecond {
		t.Fatalf("delay: %v", d)
	}
	if d := (JitterBackoff{}).Delay(1); d != 0 {
		t.Fatalf("zero max should not wait, got %v", d)
	}
	for i := 0; i < 100; i++ {
		if d := (JitterBackoff{Max: time.Millisecond}).Delay(i); d < 0 || d >= time.Millisecond {
			t.Fatalf("delay out of range: %v", d)
		}
	}
}
