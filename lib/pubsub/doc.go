// Package pubsub implements the topic registry used for publish/subscribe
// notifications.
//
// A topic is created by its first Subscribe and removed together with its last
// subscription. Every subscription owns a bounded channel; Publish fans a value
// out to the subscriptions registered at the moment of the call.
//
// Backpressure: a full channel is retried for at most Config.PublishTimeout.
// A subscriber that stays full only fails its own delivery, the remaining
// subscribers of the topic are served in parallel. Closed subscriptions are
// dropped from the topic lazily by the next Publish.
//
// Usage:
//
//	reg := pubsub.NewRegistry(pubsub.DefaultConfig())
//	sub, _ := reg.Subscribe("news")
//	reg.Publish(ctx, "news", store.NewString("hello"))
//	v := <-sub.C()
//	_ = reg.Unsubscribe("news", sub.ID)
package pubsub
