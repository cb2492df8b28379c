// Package pubsub is the local side of flobus publish/subscribe: a Hub that
// tracks listener streams per channel and drives a store-specific Driver.
//
// The Hub subscribes its Driver to a channel when the first Stream opens on
// it and unsubscribes when the last one closes. Inbound messages reach the
// Hub through Dispatch and fan out to streams through an in-process
// juju/pubsub SimpleHub, so each stream sees messages in arrival order.
//
//	hub := pubsub.NewHub(driver, pubsub.Options{Prefix: "app"})
//	s, _ := hub.Subscribe(ctx, "doc:1", pubsub.WithFilter(`data.op == "insert"`))
//	defer s.Close()
//	_ = hub.Publish(ctx, []string{"doc:1"}, map[string]any{"op": "insert"})
//	msg := <-s.C()
package pubsub
