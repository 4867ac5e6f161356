package pubsub

import (
	"context"
	"sync"
	"time"

	"github.com/ValentinKolb/sKV/lib/store"
)

// Subscription is one registered receiver of a topic. Values published to
// the topic are buffered in C() until the owner reads them.
//
// The value channel is never closed; owners select on Done() to learn that the
// subscription ended (Unsubscribe, Close or registry shutdown).
type Subscription struct {
	ID    uint32
	Topic string

	ch   chan store.Value
	done chan struct{}
	once sync.Once

	// mu is held by every sender for the duration of its send attempt.
	// Close takes it after signalling done, so no value is put into ch
	// once Close has returned.
	mu     sync.Mutex
	closed bool
}

func newSubscription(id uint32, topic string, buffer int) *Subscription {
	return &Subscription{
		ID:    id,
		Topic: topic,
		ch:    make(chan store.Value, buffer),
		done:  make(chan struct{}),
	}
}

// C returns the channel the published values are delivered on
func (s *Subscription) C() <-chan store.Value { return s.ch }

// Done is closed when the subscription ends
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close ends the subscription without touching the registry. The registry
// drops closed subscriptions the next time something is published to the topic.
func (s *Subscription) Close() {
	s.once.Do(func() { close(s.done) })
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Closed reports whether Close was called
func (s *Subscription) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// --------------------------------------------------------------------------
// Delivery
// --------------------------------------------------------------------------

type deliveryState uint8

const (
	deliveryOK deliveryState = iota
	deliveryFull
	deliveryClosed
	deliveryTimeout
)

// offer tries to deliver v without blocking
func (s *Subscription) offer(v store.Value) deliveryState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return deliveryClosed
	}
	select {
	case s.ch <- v:
		return deliveryOK
	case <-s.done:
		return deliveryClosed
	default:
		return deliveryFull
	}
}

// send blocks until v is delivered, the subscription is closed, ctx is done
// or timeout elapsed.
func (s *Subscription) send(ctx context.Context, v store.Value, timeout time.Duration) deliveryState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return deliveryClosed
	}
	if timeout <= 0 {
		select {
		case s.ch <- v:
			return deliveryOK
		default:
			return deliveryTimeout
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s.ch <- v:
		return deliveryOK
	case <-s.done:
		return deliveryClosed
	case <-timer.C:
		return deliveryTimeout
	case <-ctx.Done():
		return deliveryTimeout
	}
}
