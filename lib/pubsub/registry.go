package pubsub

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/sKV/lib/store"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("pubsub")

var (
	// ErrSubscriptionNotFound is returned by Unsubscribe if the id is not registered for the topic.
	// Unsubscribe is idempotent, so callers usually treat it as success.
	ErrSubscriptionNotFound = errors.New("pubsub: subscription not found")
	// ErrClosed is returned by Subscribe after Close was called
	ErrClosed = errors.New("pubsub: registry closed")
)

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

const (
	DefaultBufferSize     = 128
	DefaultPublishTimeout = time.Second
)

// maxSlowWaiters bounds the goroutines a single Publish starts for
// subscriptions with a full channel
const maxSlowWaiters = 64

// Config configures the delivery of published values
type Config struct {
	// BufferSize is the capacity of every subscription channel
	BufferSize int
	// PublishTimeout bounds how long Publish waits for a full subscription
	// channel. A value <= 0 fails full subscriptions immediately.
	PublishTimeout time.Duration
}

// DefaultConfig returns the default registry configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:     DefaultBufferSize,
		PublishTimeout: DefaultPublishTimeout,
	}
}

// PublishResult summarizes a single Publish call
type PublishResult struct {
	Delivered int // subscriptions that received the value
	Failed    int // subscriptions whose channel stayed full until the timeout
	Removed   int // closed subscriptions dropped from the topic
}

// --------------------------------------------------------------------------
// Registry
// --------------------------------------------------------------------------

// topic holds the subscriptions of one topic. The subscription set is
// guarded by mu, creation and removal of the topic itself by the
// Compute lock of the registry map.
type topic struct {
	mu     sync.RWMutex
	subs   map[uint32]*Subscription
	nextID uint32
}

// allocID returns the next free id, ids start at 1 and 0 is never used.
// Must be called with t.mu held.
func (t *topic) allocID() uint32 {
	for {
		id := t.nextID
		t.nextID++
		if t.nextID == 0 {
			t.nextID = 1
		}
		if _, used := t.subs[id]; !used {
			return id
		}
	}
}

// Registry maps topic names to their subscriptions. It is safe for
// concurrent use; different topics never contend on the same lock.
type Registry struct {
	cfg     Config
	topics  *xsync.MapOf[string, *topic]
	metrics *registryMetrics
	closed  atomic.Bool
}

// NewRegistry creates an empty registry. Zero fields of cfg are replaced by their defaults
// (except PublishTimeout, which must be negative to disable waiting).
func NewRegistry(cfg Config) *Registry {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.PublishTimeout == 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	return &Registry{
		cfg:     cfg,
		topics:  xsync.NewMapOf[string, *topic](),
		metrics: newRegistryMetrics(),
	}
}

// Config returns the effective configuration
func (r *Registry) Config() Config { return r.cfg }

// Subscribe registers a new subscription for name. The topic is created if it does not exist.
func (r *Registry) Subscribe(name string) (*Subscription, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}

	var sub *Subscription
	r.topics.Compute(name, func(t *topic, loaded bool) (*topic, bool) {
		// Close sets closed before it removes the topics, checking again
		// under the map lock keeps a racing Subscribe from recreating one
		if r.closed.Load() {
			return t, !loaded
		}
		if !loaded {
			t = &topic{subs: make(map[uint32]*Subscription), nextID: 1}
		}
		t.mu.Lock()
		sub = newSubscription(t.allocID(), name, r.cfg.BufferSize)
		t.subs[sub.ID] = sub
		r.metrics.subscribers.Inc(1)
		t.mu.Unlock()
		return t, false
	})
	if sub == nil {
		return nil, ErrClosed
	}

	Logger.Debugf("subscribed %d to topic %q", sub.ID, name)
	return sub, nil
}

// Unsubscribe removes subscription id from the topic and closes it. After
// Unsubscribe returns, nothing is delivered to the subscription anymore.
func (r *Registry) Unsubscribe(name string, id uint32) error {
	sub := r.detach(name, id, nil)
	if sub == nil {
		return ErrSubscriptionNotFound
	}
	sub.Close()
	Logger.Debugf("unsubscribed %d from topic %q", id, name)
	return nil
}

// detach removes id from the topic (only if it is still registered as want, when want is set)
// and deletes the topic once it is empty. It returns the removed subscription.
func (r *Registry) detach(name string, id uint32, want *Subscription) *Subscription {
	var removed *Subscription
	r.topics.Compute(name, func(t *topic, loaded bool) (*topic, bool) {
		if !loaded {
			return t, true
		}
		t.mu.Lock()
		defer t.mu.Unlock()
		if sub, ok := t.subs[id]; ok && (want == nil || sub == want) {
			delete(t.subs, id)
			removed = sub
		}
		return t, len(t.subs) == 0
	})
	if removed != nil {
		r.metrics.subscribers.Dec(1)
	}
	return removed
}

// Publish delivers v to every subscription of the topic registered at the moment of the call.
//
// Values are first offered without blocking. Subscriptions with a full channel
// are then retried concurrently, each for at most PublishTimeout, so a slow
// subscriber never delays the others. Closed subscriptions are removed.
// Publishing to a topic without subscribers is not an error.
func (r *Registry) Publish(ctx context.Context, name string, v store.Value) PublishResult {
	r.metrics.published.Inc(1)

	var res PublishResult
	t, ok := r.topics.Load(name)
	if !ok || r.closed.Load() {
		return res
	}

	t.mu.RLock()
	subs := make([]*Subscription, 0, len(t.subs))
	for _, sub := range t.subs {
		subs = append(subs, sub)
	}
	t.mu.RUnlock()

	var slow, gone []*Subscription
	for _, sub := range subs {
		switch sub.offer(v) {
		case deliveryOK:
			res.Delivered++
		case deliveryFull:
			slow = append(slow, sub)
		default:
			gone = append(gone, sub)
		}
	}

	if len(slow) > 0 {
		// One waiter per slow subscription, at most maxSlowWaiters at a time.
		// Each one ends after PublishTimeout, so a publish never outlives
		// ceil(len(slow)/maxSlowWaiters) timeouts.
		states := make([]deliveryState, len(slow))
		sem := make(chan struct{}, maxSlowWaiters)
		var wg sync.WaitGroup
		for i, sub := range slow {
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer func() {
					<-sem
					wg.Done()
				}()
				states[i] = sub.send(ctx, v, r.cfg.PublishTimeout)
			}()
		}
		wg.Wait()

		for i, state := range states {
			switch state {
			case deliveryOK:
				res.Delivered++
			case deliveryClosed:
				gone = append(gone, slow[i])
			default:
				res.Failed++
				Logger.Warningf("delivery on topic %q to subscription %d timed out", name, slow[i].ID)
			}
		}
	}

	for _, sub := range gone {
		if r.detach(name, sub.ID, sub) != nil {
			res.Removed++
		}
	}

	r.metrics.delivered.Inc(int64(res.Delivered))
	r.metrics.failed.Inc(int64(res.Failed))
	r.metrics.removed.Inc(int64(res.Removed))
	return res
}

// Topics returns the names of all topics with at least one subscription, sorted
func (r *Registry) Topics() []string {
	var names []string
	r.topics.Range(func(name string, _ *topic) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}

// NumSubscribers returns the number of subscriptions of a topic
func (r *Registry) NumSubscribers(name string) int {
	t, ok := r.topics.Load(name)
	if !ok {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// Close closes every subscription and rejects further subscriptions.
func (r *Registry) Close() {
	if r.closed.Swap(true) {
		return
	}
	r.topics.Range(func(name string, _ *topic) bool {
		t, ok := r.topics.LoadAndDelete(name)
		if !ok {
			return true
		}
		t.mu.Lock()
		for _, sub := range t.subs {
			sub.Close()
		}
		t.subs = map[uint32]*Subscription{}
		t.mu.Unlock()
		return true
	})
	r.metrics.subscribers.Clear()
	Logger.Infof("pubsub registry closed")
}
