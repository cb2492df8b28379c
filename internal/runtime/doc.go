// Package runtime wires configuration, the Redis connection pair, the
// pub/sub transport and registry, the sequence allocator and metrics into a
// single flobus instance.
//
// Example:
//
//	cfg := config.Default()
//	rt, _ := runtime.Open(runtime.Options{Config: cfg})
//	defer rt.Close()
//	_ = rt.CheckHealth(context.Background())
//	s, _ := rt.Hub().Subscribe(context.Background(), "doc:1")
//	_ = rt.Hub().Publish(context.Background(), []string{"doc:1"}, map[string]any{"op": "insert"})
//	msg := <-s.C()
//	seq, _ := rt.IDSeq().Allocate(context.Background(), "doc:1")
package runtime
