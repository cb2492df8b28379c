// Package redispubsub carries pub/sub traffic over Redis.
//
// A Transport uses the command client for publishes and keeps one PubSub
// session open on the observer client. Publishing to several channels runs
// a single Lua script, so receivers on different channels see messages from
// one publisher in the same relative order. Inbound messages are decoded
// with a Codec and handed to a Registry, normally a *pubsub.Hub.
package redispubsub
