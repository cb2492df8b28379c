package client

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// syncBuffer lets a test read output written by a command goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func run(t *testing.T, mr *miniredis.Miniredis, args ...string) (string, error) {
	t.Helper()
	root := NewRoot()
	buf := &syncBuffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(append([]string{"--redis", mr.Addr(), "--log-level", "error"}, args...))
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestHealth(t *testing.T) {
	mr := miniredis.RunT(t)
	out, err := run(t, mr, "health")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "status: OK") {
		t.Fatalf("expected status, got: %s", out)
	}
}

func TestIDSeqAllocateAndRelease(t *testing.T) {
	mr := miniredis.RunT(t)
	for want := 0; want < 2; want++ {
		out, err := run(t, mr, "--prefix", "app", "idseq", "allocate", "--id", "doc")
		if err != nil {
			t.Fatalf("allocate: %v", err)
		}
		if strings.TrimSpace(out) != strconv.Itoa(want) {
			t.Fatalf("allocate %d: got %q", want, out)
		}
	}
	if !mr.Exists("app:idseq:doc") {
		t.Fatalf("expected prefixed key, have %v", mr.Keys())
	}
	for _, seq := range []string{"0", "1"} {
		if _, err := run(t, mr, "--prefix", "app", "idseq", "release", "--id", "doc", "--seq", seq); err != nil {
			t.Fatalf("release %s: %v", seq, err)
		}
	}
	if mr.Exists("app:idseq:doc") {
		t.Fatalf("empty bitmap should be deleted")
	}
}

func TestIDSeqReleaseRequiresSeq(t *testing.T) {
	mr := miniredis.RunT(t)
	if _, err := run(t, mr, "idseq", "release", "--id", "doc"); err == nil {
		t.Fatalf("expected error for missing --seq")
	}
}

func TestChannelPublishRejectsBadJSON(t *testing.T) {
	mr := miniredis.RunT(t)
	if _, err := run(t, mr, "channel", "publish", "--channel", "a", "--data", "{nope"); err == nil {
		t.Fatalf("expected JSON error")
	}
	if _, err := run(t, mr, "channel", "publish", "--data", "1"); err == nil {
		t.Fatalf("expected missing channel error")
	}
}

func TestChannelPublishReachesRawSubscriber(t *testing.T) {
	mr := miniredis.RunT(t)
	c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer c.Close()
	ps := c.Subscribe(context.Background(), "a", "b")
	defer ps.Close()
	if _, err := ps.Receive(context.Background()); err != nil {
		t.Fatalf("subscribe confirm: %v", err)
	}

	out, err := run(t, mr, "channel", "publish", "--channel", "a", "--channel", "b", "--data", `{"op":"insert"}`)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !strings.Contains(out, "published to 2 channels") {
		t.Fatalf("unexpected output: %s", out)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := ps.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if msg.Payload != `{"op":"insert"}` {
		t.Fatalf("unexpected payload %q", msg.Payload)
	}
}

func TestChannelSubscribePrintsJSONLines(t *testing.T) {
	mr := miniredis.RunT(t)
	root := NewRoot()
	buf := &syncBuffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs([]string{
		"--redis", mr.Addr(), "--log-level", "error",
		"channel", "subscribe", "--channel", "doc:1",
		"--filter", `data.op == "insert"`, "--limit", "1", "--timeout", "5s",
	})
	done := make(chan error, 1)
	go func() { done <- root.ExecuteContext(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for mr.PubSubNumSub("doc:1")["doc:1"] == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber never appeared")
		}
		time.Sleep(10 * time.Millisecond)
	}
	mr.Publish("doc:1", `{"op":"delete"}`)
	mr.Publish("doc:1", `{"op":"insert","seq":3}`)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("subscribe: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("subscribe did not stop after limit")
	}
	var line struct {
		Channel string         `json:"channel"`
		Data    map[string]any `json:"data"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &line); err != nil {
		t.Fatalf("output is not one JSON line: %q", buf.String())
	}
	if line.Channel != "doc:1" || line.Data["op"] != "insert" || line.Data["seq"] != float64(3) {
		t.Fatalf("unexpected line %+v", line)
	}
}

func TestResolveConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flobus.yaml")
	if err := os.WriteFile(path, []byte("redis:\n  addr: file:6379\nprefix: fromfile\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("FLOBUS_PREFIX", "fromenv")

	root := NewRoot()
	var got struct{ addr, prefix string }
	root.AddCommand(newResolveCommand(func(addr, prefix string) { got.addr, got.prefix = addr, prefix }))
	root.SetArgs([]string{"--config", path, "--redis", "flag:6379", "show-config"})
	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got.addr != "flag:6379" {
		t.Fatalf("flag should win for addr, got %q", got.addr)
	}
	if got.prefix != "fromenv" {
		t.Fatalf("env should override file for prefix, got %q", got.prefix)
	}
}
