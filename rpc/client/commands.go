package client

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/sKV/lib/store"
	"github.com/ValentinKolb/sKV/rpc/common"
)

// --------------------------------------------------------------------------
// Storage
// --------------------------------------------------------------------------

// Get returns the value of key, loaded is false if the key doesn't exist
func (c *Client) Get(ctx context.Context, key string) (value store.Value, loaded bool, err error) {
	resp, err := c.invoke(ctx, common.NewGetRequest(key), true)
	if err != nil || resp.Status == common.StatusNotFound {
		return store.Value{}, false, err
	}
	return firstValue(resp)
}

// Set stores value under key and returns the value it replaced (if any)
func (c *Client) Set(ctx context.Context, key string, value store.Value) (prev store.Value, loaded bool, err error) {
	resp, err := c.invoke(ctx, common.NewSetRequest(key, value), false)
	if err != nil {
		return store.Value{}, false, err
	}
	return firstValue(resp)
}

// Delete removes key and returns the removed value (if any)
func (c *Client) Delete(ctx context.Context, key string) (prev store.Value, loaded bool, err error) {
	resp, err := c.invoke(ctx, common.NewDeleteRequest(key), true)
	if err != nil || resp.Status == common.StatusNotFound {
		return store.Value{}, false, err
	}
	return firstValue(resp)
}

// Contains reports whether key exists
func (c *Client) Contains(ctx context.Context, key string) (bool, error) {
	resp, err := c.invoke(ctx, common.NewContainsRequest(key), false)
	if err != nil {
		return false, err
	}
	v, _, err := firstValue(resp)
	if err != nil {
		return false, err
	}
	ok, isBool := v.AsBool()
	if !isBool {
		return false, fmt.Errorf("contains: unexpected %s value", v.Kind())
	}
	return ok, nil
}

// GetAll returns all pairs of the store
func (c *Client) GetAll(ctx context.Context) ([]store.Kvpair, error) {
	resp, err := c.invoke(ctx, common.NewGetAllRequest(), false)
	if err != nil {
		return nil, err
	}
	return resp.Pairs, nil
}

// Scan returns all pairs whose key starts with prefix
func (c *Client) Scan(ctx context.Context, prefix string) ([]store.Kvpair, error) {
	resp, err := c.invoke(ctx, common.NewScanRequest(prefix), false)
	if err != nil {
		return nil, err
	}
	return resp.Pairs, nil
}

// MGet returns one value per key, missing keys yield an invalid Value
func (c *Client) MGet(ctx context.Context, keys ...string) ([]store.Value, error) {
	return c.invokeMulti(ctx, common.NewMGetRequest(keys...), len(keys))
}

// MSet stores all pairs and returns the value each of them replaced, an
// invalid Value where the key was new. On error some pairs may be stored.
func (c *Client) MSet(ctx context.Context, pairs []store.Kvpair) ([]store.Value, error) {
	return c.invokeMulti(ctx, common.NewMSetRequest(pairs), len(pairs))
}

// MDelete removes all keys and returns the removed values, an invalid Value
// where the key didn't exist
func (c *Client) MDelete(ctx context.Context, keys ...string) ([]store.Value, error) {
	return c.invokeMulti(ctx, common.NewMDeleteRequest(keys...), len(keys))
}

// MContains reports for every key whether it exists
func (c *Client) MContains(ctx context.Context, keys ...string) ([]bool, error) {
	values, err := c.invokeMulti(ctx, common.NewMContainsRequest(keys...), len(keys))
	if err != nil {
		return nil, err
	}
	found := make([]bool, len(values))
	for i, v := range values {
		ok, isBool := v.AsBool()
		if !isBool {
			return nil, fmt.Errorf("mcontains: unexpected %s value for %q", v.Kind(), keys[i])
		}
		found[i] = ok
	}
	return found, nil
}

// --------------------------------------------------------------------------
// Pub/Sub
// --------------------------------------------------------------------------

// Publish sends value to all current subscribers of topic and returns how
// many of them received it
func (c *Client) Publish(ctx context.Context, topic string, value store.Value) (int, error) {
	resp, err := c.invoke(ctx, common.NewPublishRequest(topic, value), false)
	if err != nil {
		return 0, err
	}
	v, _, err := firstValue(resp)
	if err != nil {
		return 0, err
	}
	n, ok := v.AsInt()
	if !ok {
		return 0, fmt.Errorf("publish: unexpected %s value", v.Kind())
	}
	return int(n), nil
}

// Subscribe registers a subscription for topic. Values published after
// Subscribe returned are delivered on the C() channel of the subscription.
func (c *Client) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	var sub *Subscription

	// registered by the read loop before the next frame is processed, so no
	// event that follows the response is dropped
	register := func(resp *common.Response) {
		if resp.Status != common.StatusOK || resp.SubscriptionID == 0 {
			return
		}
		sub = newSubscription(c, resp.Topic, resp.SubscriptionID)
		c.subs.Store(subKey{sub.Topic, sub.ID}, sub)
	}

	resp, err := c.do(ctx, common.NewSubscribeRequest(topic), register)
	if err != nil {
		return nil, err
	}
	if err := checkResponse(resp, common.MsgTSubscribe, false); err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, fmt.Errorf("subscribe: response without subscription id")
	}
	return sub, nil
}

// Unsubscribe cancels sub. Values that were in flight may still be in C().
func (c *Client) Unsubscribe(ctx context.Context, sub *Subscription) error {
	resp, err := c.invoke(ctx, common.NewUnsubscribeRequest(sub.Topic, sub.ID), false)
	c.subs.Delete(subKey{sub.Topic, sub.ID})
	sub.end()
	if err != nil {
		return err
	}
	return resp.Err()
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// invokeMulti sends a multi key request and checks that there is one value per key
func (c *Client) invokeMulti(ctx context.Context, req *common.Request, n int) ([]store.Value, error) {
	resp, err := c.invoke(ctx, req, false)
	if err != nil {
		return nil, err
	}
	if len(resp.Values) != n {
		return nil, fmt.Errorf("%s: expected %d values, got %d", req.Type, n, len(resp.Values))
	}
	return resp.Values, nil
}

// invoke sends req and checks the response. With allowNotFound a 404
// response is returned without error.
func (c *Client) invoke(ctx context.Context, req *common.Request, allowNotFound bool) (*common.Response, error) {
	resp, err := c.do(ctx, req, nil)
	if err != nil {
		return nil, err
	}
	if err := checkResponse(resp, req.Type, allowNotFound); err != nil {
		return nil, err
	}
	return resp, nil
}
