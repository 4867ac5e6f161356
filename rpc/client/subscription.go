package client

import (
	"context"
	"sync"

	"github.com/ValentinKolb/sKV/lib/store"
)

// subscriptionBuffer is the number of events buffered per subscription
const subscriptionBuffer = 128

type subKey struct {
	topic string
	id    uint32
}

// Subscription receives the values published to a topic. Read C() promptly:
// while its buffer is full the client stops reading from the connection.
type Subscription struct {
	Topic string
	ID    uint32

	client *Client
	ch     chan store.Value
	done   chan struct{}
	once   sync.Once
}

func newSubscription(client *Client, topic string, id uint32) *Subscription {
	return &Subscription{
		Topic:  topic,
		ID:     id,
		client: client,
		ch:     make(chan store.Value, subscriptionBuffer),
		done:   make(chan struct{}),
	}
}

// C returns the channel the published values arrive on. The channel is
// never closed, select on Done() to detect the end of the subscription.
func (s *Subscription) C() <-chan store.Value { return s.ch }

// Done is closed after Unsubscribe or when the connection is gone
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Unsubscribe cancels the subscription on the server
func (s *Subscription) Unsubscribe(ctx context.Context) error {
	return s.client.Unsubscribe(ctx, s)
}

func (s *Subscription) end() {
	s.once.Do(func() { close(s.done) })
}

// deliver blocks until v is buffered, the subscription ended or the client
// is closed
func (s *Subscription) deliver(v store.Value, closed <-chan struct{}) {
	select {
	case s.ch <- v:
	case <-s.done:
	case <-closed:
	}
}
