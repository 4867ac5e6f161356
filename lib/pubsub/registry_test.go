package pubsub

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/sKV/lib/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub *Subscription) store.Value {
	t.Helper()
	select {
	case v := <-sub.C():
		return v
	case <-time.After(time.Second):
		t.Fatalf("no value received on subscription %d", sub.ID)
		return store.Value{}
	}
}

func assertEmpty(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case v := <-sub.C():
		t.Fatalf("unexpected value %s on subscription %d", v, sub.ID)
	default:
	}
}

func TestSubscribeAssignsUniqueIDs(t *testing.T) {
	reg := NewRegistry(DefaultConfig())
	defer reg.Close()

	seen := map[uint32]bool{}
	for i := 0; i < 10; i++ {
		sub, err := reg.Subscribe("t")
		require.NoError(t, err)
		assert.NotZero(t, sub.ID)
		assert.False(t, seen[sub.ID], "id %d handed out twice", sub.ID)
		seen[sub.ID] = true
		assert.Equal(t, "t", sub.Topic)
	}
	assert.Equal(t, 10, reg.NumSubscribers("t"))

	// ids are per topic
	other, err := reg.Subscribe("other")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), other.ID)
}

func TestSubscribeConcurrent(t *testing.T) {
	reg := NewRegistry(DefaultConfig())
	defer reg.Close()

	const n = 200
	ids := make(chan uint32, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub, err := reg.Subscribe("t")
			if assert.NoError(t, err) {
				ids <- sub.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[uint32]bool{}
	for id := range ids {
		assert.False(t, seen[id])
		seen[id] = true
	}
	assert.Len(t, seen, n)
}

func TestPublishFanOut(t *testing.T) {
	reg := NewRegistry(DefaultConfig())
	defer reg.Close()

	a, _ := reg.Subscribe("t")
	b, _ := reg.Subscribe("t")
	c, _ := reg.Subscribe("other")

	res := reg.Publish(context.Background(), "t", store.NewString("x"))
	assert.Equal(t, PublishResult{Delivered: 2}, res)

	assert.True(t, receive(t, a).Equal(store.NewString("x")))
	assert.True(t, receive(t, b).Equal(store.NewString("x")))
	assertEmpty(t, c)
}

func TestPublishUnknownTopic(t *testing.T) {
	reg := NewRegistry(DefaultConfig())
	defer reg.Close()

	res := reg.Publish(context.Background(), "nobody", store.NewInt(1))
	assert.Equal(t, PublishResult{}, res)
	assert.Empty(t, reg.Topics())
}

func TestPublishIsNotRetroactive(t *testing.T) {
	reg := NewRegistry(DefaultConfig())
	defer reg.Close()

	early, _ := reg.Subscribe("t")
	reg.Publish(context.Background(), "t", store.NewInt(1))
	late, _ := reg.Subscribe("t")

	assert.True(t, receive(t, early).Equal(store.NewInt(1)))
	assertEmpty(t, late)
}

func TestPublishOrderPerSubscriber(t *testing.T) {
	reg := NewRegistry(DefaultConfig())
	defer reg.Close()

	sub, _ := reg.Subscribe("t")
	for i := 0; i < 50; i++ {
		reg.Publish(context.Background(), "t", store.NewInt(int64(i)))
	}
	for i := 0; i < 50; i++ {
		v, ok := receive(t, sub).AsInt()
		require.True(t, ok)
		assert.Equal(t, int64(i), v)
	}
}

func TestUnsubscribe(t *testing.T) {
	reg := NewRegistry(DefaultConfig())
	defer reg.Close()

	sub, _ := reg.Subscribe("t")
	require.NoError(t, reg.Unsubscribe("t", sub.ID))
	assert.True(t, sub.Closed())

	res := reg.Publish(context.Background(), "t", store.NewString("y"))
	assert.Equal(t, 0, res.Delivered)
	assertEmpty(t, sub)

	// idempotent, the second call only reports that nothing was removed
	assert.ErrorIs(t, reg.Unsubscribe("t", sub.ID), ErrSubscriptionNotFound)
	assert.ErrorIs(t, reg.Unsubscribe("unknown", 42), ErrSubscriptionNotFound)

	// the empty topic is gone
	assert.Empty(t, reg.Topics())
}

func TestUnsubscribeKeepsOthers(t *testing.T) {
	reg := NewRegistry(DefaultConfig())
	defer reg.Close()

	a, _ := reg.Subscribe("t")
	b, _ := reg.Subscribe("t")
	require.NoError(t, reg.Unsubscribe("t", a.ID))

	res := reg.Publish(context.Background(), "t", store.NewBool(true))
	assert.Equal(t, 1, res.Delivered)
	assert.True(t, receive(t, b).Equal(store.NewBool(true)))
	assertEmpty(t, a)
	assert.Equal(t, []string{"t"}, reg.Topics())
}

func TestSlowSubscriberIsIsolated(t *testing.T) {
	reg := NewRegistry(Config{BufferSize: 1, PublishTimeout: 50 * time.Millisecond})
	defer reg.Close()

	slow, _ := reg.Subscribe("t")
	fast, _ := reg.Subscribe("t")

	// fill the buffer of both, then drain only the fast one
	res := reg.Publish(context.Background(), "t", store.NewInt(1))
	require.Equal(t, 2, res.Delivered)
	receive(t, fast)

	start := time.Now()
	res = reg.Publish(context.Background(), "t", store.NewInt(2))
	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, 1, res.Failed)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	assert.True(t, receive(t, fast).Equal(store.NewInt(2)))
	assert.True(t, receive(t, slow).Equal(store.NewInt(1)))
	assertEmpty(t, slow)

	// a failed delivery keeps the subscription
	assert.Equal(t, 2, reg.NumSubscribers("t"))
	assert.Equal(t, int64(1), reg.Stats().Failed)
}

func TestBlockedPublishCompletesWhenReaderCatchesUp(t *testing.T) {
	reg := NewRegistry(Config{BufferSize: 1, PublishTimeout: 5 * time.Second})
	defer reg.Close()

	sub, _ := reg.Subscribe("t")
	reg.Publish(context.Background(), "t", store.NewInt(1))

	done := make(chan PublishResult)
	go func() {
		done <- reg.Publish(context.Background(), "t", store.NewInt(2))
	}()

	time.Sleep(20 * time.Millisecond)
	assert.True(t, receive(t, sub).Equal(store.NewInt(1)))

	select {
	case res := <-done:
		assert.Equal(t, PublishResult{Delivered: 1}, res)
	case <-time.After(time.Second):
		t.Fatal("publish did not complete")
	}
	assert.True(t, receive(t, sub).Equal(store.NewInt(2)))
}

func TestUnsubscribeReleasesBlockedPublish(t *testing.T) {
	reg := NewRegistry(Config{BufferSize: 1, PublishTimeout: 10 * time.Second})
	defer reg.Close()

	sub, _ := reg.Subscribe("t")
	reg.Publish(context.Background(), "t", store.NewInt(1))

	done := make(chan PublishResult)
	go func() {
		done <- reg.Publish(context.Background(), "t", store.NewInt(2))
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, reg.Unsubscribe("t", sub.ID))

	select {
	case res := <-done:
		assert.Equal(t, 0, res.Delivered)
		assert.Equal(t, 0, res.Failed)
	case <-time.After(time.Second):
		t.Fatal("publish still blocked after unsubscribe")
	}
}

func TestClosedSubscriptionIsRemovedLazily(t *testing.T) {
	reg := NewRegistry(DefaultConfig())
	defer reg.Close()

	gone, _ := reg.Subscribe("t")
	alive, _ := reg.Subscribe("t")
	gone.Close()
	assert.Equal(t, 2, reg.NumSubscribers("t"))

	res := reg.Publish(context.Background(), "t", store.NewString("z"))
	assert.Equal(t, PublishResult{Delivered: 1, Removed: 1}, res)
	assert.Equal(t, 1, reg.NumSubscribers("t"))
	receive(t, alive)

	// the lazily removed id can't be unsubscribed anymore
	assert.ErrorIs(t, reg.Unsubscribe("t", gone.ID), ErrSubscriptionNotFound)
}

func TestPublishContextCancel(t *testing.T) {
	reg := NewRegistry(Config{BufferSize: 1, PublishTimeout: 10 * time.Second})
	defer reg.Close()

	_, _ = reg.Subscribe("t")
	reg.Publish(context.Background(), "t", store.NewInt(1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res := reg.Publish(ctx, "t", store.NewInt(2))
	assert.Equal(t, 1, res.Failed)
}

func TestRegistryClose(t *testing.T) {
	reg := NewRegistry(DefaultConfig())

	subs := make([]*Subscription, 3)
	for i := range subs {
		subs[i], _ = reg.Subscribe(fmt.Sprintf("t%d", i))
	}
	reg.Close()
	reg.Close()

	for _, sub := range subs {
		assert.True(t, sub.Closed())
	}
	_, err := reg.Subscribe("t0")
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, PublishResult{}, reg.Publish(context.Background(), "t0", store.NewInt(1)))
	assert.Empty(t, reg.Topics())
}

func TestSubscribeRacingClose(t *testing.T) {
	for round := 0; round < 20; round++ {
		reg := NewRegistry(DefaultConfig())

		var (
			mu   sync.Mutex
			subs []*Subscription
			wg   sync.WaitGroup
		)
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					sub, err := reg.Subscribe(fmt.Sprintf("t%d", (i+j)%4))
					if err != nil {
						assert.ErrorIs(t, err, ErrClosed)
						return
					}
					mu.Lock()
					subs = append(subs, sub)
					mu.Unlock()
				}
			}(i)
		}
		reg.Close()
		wg.Wait()

		// nothing survives the close, not even a topic created while it ran
		for _, sub := range subs {
			assert.True(t, sub.Closed())
		}
		assert.Empty(t, reg.Topics())
		assert.Equal(t, int64(0), reg.Stats().Subscribers)
		for i := 0; i < 4; i++ {
			assert.Equal(t, 0, reg.NumSubscribers(fmt.Sprintf("t%d", i)))
		}
	}
}

func TestPublishBoundsSlowWaiters(t *testing.T) {
	reg := NewRegistry(Config{BufferSize: 1, PublishTimeout: 20 * time.Millisecond})
	defer reg.Close()

	n := 2*maxSlowWaiters + 1
	for i := 0; i < n; i++ {
		_, err := reg.Subscribe("t")
		require.NoError(t, err)
	}

	// every buffer is full now
	res := reg.Publish(context.Background(), "t", store.NewInt(1))
	require.Equal(t, n, res.Delivered)

	start := time.Now()
	res = reg.Publish(context.Background(), "t", store.NewInt(2))
	elapsed := time.Since(start)

	assert.Equal(t, 0, res.Delivered)
	assert.Equal(t, n, res.Failed)
	// three batches of waiters, each one waiting a full timeout
	assert.GreaterOrEqual(t, elapsed, 3*20*time.Millisecond)
	assert.Equal(t, n, reg.NumSubscribers("t"))
}

func TestStats(t *testing.T) {
	reg := NewRegistry(DefaultConfig())
	defer reg.Close()

	a, _ := reg.Subscribe("t")
	_, _ = reg.Subscribe("t")
	reg.Publish(context.Background(), "t", store.NewInt(1))
	reg.Publish(context.Background(), "none", store.NewInt(1))
	_ = reg.Unsubscribe("t", a.ID)

	stats := reg.Stats()
	assert.Equal(t, int64(2), stats.Published)
	assert.Equal(t, int64(2), stats.Delivered)
	assert.Equal(t, int64(1), stats.Subscribers)
	assert.Contains(t, formatRegistry(reg.Metrics()), "pubsub.published=2")
}

func TestIDsStartAtOneAndSkipUsed(t *testing.T) {
	tp := &topic{subs: map[uint32]*Subscription{}, nextID: 1}
	assert.Equal(t, uint32(1), tp.allocID())

	// wrap around: 0 is skipped and ids still in use are not handed out again
	tp.subs[1] = &Subscription{}
	tp.nextID = ^uint32(0)
	assert.Equal(t, ^uint32(0), tp.allocID())
	assert.Equal(t, uint32(2), tp.allocID())
}
