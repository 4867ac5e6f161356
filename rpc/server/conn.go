package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/ValentinKolb/sKV/lib/pubsub"
	"github.com/ValentinKolb/sKV/rpc/common"
	"github.com/ValentinKolb/sKV/rpc/frame"
	"github.com/google/uuid"
)

const (
	// responseQueueSize bounds the responses waiting for the write loop.
	// The read loop stops reading requests while the queue is full.
	responseQueueSize = 64
	// eventQueueSize bounds the events waiting for the write loop. Forwarders
	// stop draining their subscription while the queue is full, so the
	// registry applies its backpressure.
	eventQueueSize = 64
)

// outbound is a response waiting to be written
type outbound struct {
	req      *common.Request
	resp     *common.Response
	received time.Time
	// activate holds the subscriptions created by req. Their forwarders start
	// once resp is on the wire.
	activate []*pubsub.Subscription
}

// event is a value published to a subscription of the connection
type event struct {
	sub  *pubsub.Subscription
	resp *common.Response
}

type subKey struct {
	topic string
	id    uint32
}

type ownedSubscription struct {
	sub     *pubsub.Subscription
	release func()
}

// conn serves a single client connection with a read loop (requests) and a
// write loop (responses and events). It implements Session.
type conn struct {
	id     string
	server *RPCServer
	nc     net.Conn

	ctx    context.Context
	cancel context.CancelFunc

	responses chan outbound
	events    chan event

	mu      sync.Mutex
	subs    map[subKey]ownedSubscription
	pending []*pubsub.Subscription

	// forwarders and the write loop
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func newConn(server *RPCServer, nc net.Conn) *conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &conn{
		id:        uuid.NewString(),
		server:    server,
		nc:        nc,
		ctx:       ctx,
		cancel:    cancel,
		responses: make(chan outbound, responseQueueSize),
		events:    make(chan event, eventQueueSize),
		subs:      make(map[subKey]ownedSubscription),
	}
}

// --------------------------------------------------------------------------
// Session
// --------------------------------------------------------------------------

func (c *conn) ID() string { return c.id }

func (c *conn) AddSubscription(sub *pubsub.Subscription, release func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx.Err() != nil {
		// connection is already going away
		release()
		return
	}
	c.subs[subKey{sub.Topic, sub.ID}] = ownedSubscription{sub: sub, release: release}
	c.pending = append(c.pending, sub)
}

func (c *conn) RemoveSubscription(topic string, id uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := subKey{topic, id}
	if _, ok := c.subs[key]; !ok {
		return false
	}
	delete(c.subs, key)
	return true
}

// settlePending takes the subscriptions added while resp was produced. Only
// the subscription announced by a successful resp is returned for activation,
// the others are released: a hook replaced the response and the client never
// learns their id.
func (c *conn) settlePending(resp *common.Response) []*pubsub.Subscription {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil

	var activate []*pubsub.Subscription
	var dropped []ownedSubscription
	for _, sub := range pending {
		key := subKey{sub.Topic, sub.ID}
		owned, ok := c.subs[key]
		if !ok {
			continue
		}
		if announces(resp, sub) {
			activate = append(activate, sub)
			continue
		}
		delete(c.subs, key)
		dropped = append(dropped, owned)
	}
	c.mu.Unlock()

	for _, o := range dropped {
		Logger.Debugf("[%s] releasing subscription %d of %q, it was not confirmed", c.id, o.sub.ID, o.sub.Topic)
		o.release()
		o.sub.Close()
	}
	return activate
}

func announces(resp *common.Response, sub *pubsub.Subscription) bool {
	return resp != nil &&
		resp.Type == common.MsgTSubscribe &&
		resp.Status == common.StatusOK &&
		resp.Topic == sub.Topic &&
		resp.SubscriptionID == sub.ID
}

// --------------------------------------------------------------------------
// Life cycle
// --------------------------------------------------------------------------

// serve runs the connection until the client disconnects, a fatal error
// occurs or the server shuts down. It blocks until all goroutines of the
// connection have returned.
func (c *conn) serve() {
	Logger.Debugf("[%s] connection from %s", c.id, c.nc.RemoteAddr())

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.writeLoop(); err != nil && c.ctx.Err() == nil {
			Logger.Warningf("[%s] write failed: %v", c.id, err)
		}
		c.close()
	}()

	if err := c.readLoop(); err != nil {
		if frame.IsFatal(err) {
			Logger.Warningf("[%s] closing connection: %v", c.id, err)
		} else {
			Logger.Debugf("[%s] read failed: %v", c.id, err)
		}
		c.close()
	}

	// the read loop was the only sender. After a clean EOF the write loop
	// answers everything still queued and closes the connection.
	close(c.responses)
	c.wg.Wait()
	c.close()

	Logger.Debugf("[%s] connection closed", c.id)
}

// close tears the connection down: both loops stop, the stream is closed and
// every subscription still owned by the connection is released. Safe to call
// multiple times and from any goroutine.
func (c *conn) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.nc.Close()

		c.mu.Lock()
		owned := c.subs
		c.subs = make(map[subKey]ownedSubscription)
		c.pending = nil
		c.mu.Unlock()

		for _, o := range owned {
			o.release()
			o.sub.Close()
		}
	})
}

// --------------------------------------------------------------------------
// Read Loop
// --------------------------------------------------------------------------

func (c *conn) readLoop() error {
	reader := bufio.NewReader(c.nc)
	var buf []byte

	for {
		payload, err := c.server.codec.ReadFrame(reader, buf)
		if err != nil {
			if errors.Is(err, io.EOF) || c.ctx.Err() != nil {
				return nil
			}
			return err
		}
		if cap(payload) > cap(buf) && cap(payload) <= readBufferKeep {
			buf = payload[:0]
		}

		received := time.Now()

		req := new(common.Request)
		if err := c.server.serializer.DeserializeRequest(payload, req); err != nil {
			return fmt.Errorf("%w: %v", frame.ErrDecodeFailure, err)
		}

		resp := c.server.service.Execute(c.ctx, c, req)

		out := outbound{
			req:      req,
			resp:     resp,
			received: received,
			activate: c.settlePending(resp),
		}

		select {
		case c.responses <- out:
		case <-c.ctx.Done():
			return nil
		}
	}
}

// readBufferKeep is the largest read buffer kept between frames
const readBufferKeep = 64 * 1024

// --------------------------------------------------------------------------
// Write Loop
// --------------------------------------------------------------------------

// writeLoop returns nil once c.responses is closed and drained or the
// connection is cancelled
func (c *conn) writeLoop() error {
	for {
		// responses go first, events only fill the gaps
		select {
		case out, ok := <-c.responses:
			if !ok {
				return nil
			}
			if err := c.writeResponse(out); err != nil {
				return err
			}
			continue
		default:
		}

		select {
		case out, ok := <-c.responses:
			if !ok {
				return nil
			}
			if err := c.writeResponse(out); err != nil {
				return err
			}
		case ev := <-c.events:
			// the subscription ended after the value was queued (e.g. the
			// Unsubscribe response is already written)
			if ev.sub.Closed() {
				continue
			}
			if err := c.write(ev.resp); err != nil {
				return err
			}
			c.server.eventsWritten.Inc()
		case <-c.ctx.Done():
			return nil
		}
	}
}

func (c *conn) writeResponse(out outbound) error {
	if err := c.write(out.resp); err != nil {
		return err
	}

	c.server.requestDuration.UpdateDuration(out.received)
	c.server.service.AfterSend(out.req, out.resp)

	for _, sub := range out.activate {
		c.startForwarder(sub)
	}
	return nil
}

// write serializes resp and writes it as one frame. Responses that can't be
// serialized or exceed the frame size are replaced by an error response.
func (c *conn) write(resp *common.Response) error {
	payload, err := c.server.serializer.SerializeResponse(resp)
	if err == nil {
		err = c.writeFrame(payload)
		if !errors.Is(err, frame.ErrFrameTooLarge) {
			return err
		}
	}

	Logger.Warningf("[%s] failed to send %s response: %v", c.id, resp.Type, err)
	payload, err = c.server.serializer.SerializeResponse(
		common.NewErrorResponsef(resp.Type, common.StatusInternalError, "failed to send response: %v", err))
	if err != nil {
		return err
	}
	return c.writeFrame(payload)
}

func (c *conn) writeFrame(payload []byte) error {
	if timeout := c.server.config.Timeout(); timeout > 0 {
		if err := c.nc.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}
	return c.server.codec.WriteFrame(c.nc, payload)
}

// --------------------------------------------------------------------------
// Event Forwarding
// --------------------------------------------------------------------------

// startForwarder moves the values of sub to the write loop until the
// subscription or the connection ends
func (c *conn) startForwarder(sub *pubsub.Subscription) {
	if sub.Closed() {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case v := <-sub.C():
				ev := event{sub: sub, resp: common.NewEventResponse(sub.Topic, sub.ID, v)}
				select {
				case c.events <- ev:
				case <-sub.Done():
					return
				case <-c.ctx.Done():
					return
				}
			case <-sub.Done():
				return
			case <-c.ctx.Done():
				return
			}
		}
	}()
}
