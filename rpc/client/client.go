package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/sKV/rpc/common"
	"github.com/ValentinKolb/sKV/rpc/frame"
	"github.com/ValentinKolb/sKV/rpc/serializer"
	"github.com/ValentinKolb/sKV/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var (
	Logger = logger.GetLogger("client")

	// ErrClosed is returned for requests on a closed client
	ErrClosed = errors.New("client closed")
)

const (
	// maxWaiting bounds the requests in flight on one connection
	maxWaiting = 256
	// retryInterval is the pause between two connection attempts
	retryInterval = 200 * time.Millisecond
)

// call is a request waiting for its response
type call struct {
	req  *common.Request
	resp *common.Response
	err  error
	done chan struct{}
	// onResponse runs in the read loop before the next frame is processed
	onResponse func(resp *common.Response)
}

func (c *call) finish(resp *common.Response, err error) {
	c.resp, c.err = resp, err
	close(c.done)
}

// Client is a single connection to a sKV server. Responses are matched to
// requests in FIFO order, events are routed to the subscriptions of the
// client. A Client is safe for concurrent use.
type Client struct {
	config     common.ClientConfig
	serializer serializer.IRPCSerializer
	codec      *frame.Codec
	nc         net.Conn
	endpoint   string

	// writeMu orders the queue of waiting calls like the frames on the wire
	writeMu sync.Mutex
	waiting chan *call

	subs *xsync.MapOf[subKey, *Subscription]

	closing   atomic.Bool
	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

// Dial connects to the first reachable endpoint of config. Every endpoint
// is tried config.RetryCount+1 times before Dial gives up.
func Dial(
	ctx context.Context,
	config common.ClientConfig,
	connector transport.IClientConnector,
	serializer serializer.IRPCSerializer,
) (*Client, error) {
	if len(config.Endpoints) == 0 {
		return nil, errors.New("no endpoints configured")
	}

	var lastErr error
	for attempt := 0; attempt <= config.RetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryInterval):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		for _, endpoint := range config.Endpoints {
			nc, err := connect(ctx, config.Timeout(), connector, endpoint)
			if err != nil {
				Logger.Debugf("failed to connect to %s (%s): %v", endpoint, connector.GetName(), err)
				lastErr = err
				continue
			}
			return newClient(config, serializer, nc, endpoint), nil
		}
	}
	return nil, fmt.Errorf("failed to connect to %v: %w", config.Endpoints, lastErr)
}

func connect(ctx context.Context, timeout time.Duration, connector transport.IClientConnector, endpoint string) (net.Conn, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return connector.Connect(ctx, endpoint)
}

// NewClient wraps an established connection
func NewClient(config common.ClientConfig, serializer serializer.IRPCSerializer, nc net.Conn) *Client {
	return newClient(config, serializer, nc, nc.RemoteAddr().String())
}

func newClient(config common.ClientConfig, serializer serializer.IRPCSerializer, nc net.Conn, endpoint string) *Client {
	c := &Client{
		config:     config,
		serializer: serializer,
		codec:      frame.NewCodec(config.MaxFrameSize, config.CompressionThreshold),
		nc:         nc,
		endpoint:   endpoint,
		waiting:    make(chan *call, maxWaiting),
		subs:       xsync.NewMapOf[subKey, *Subscription](),
		closed:     make(chan struct{}),
	}
	go c.readLoop()

	Logger.Debugf("connected to %s", endpoint)
	return c
}

// Endpoint returns the address the client is connected to
func (c *Client) Endpoint() string { return c.endpoint }

// Done is closed when the connection is gone
func (c *Client) Done() <-chan struct{} { return c.closed }

// Close closes the connection. Pending requests fail with ErrClosed and all
// subscriptions end.
func (c *Client) Close() error {
	c.closing.Store(true)
	err := c.nc.Close()
	<-c.closed
	return err
}

// Do sends req and waits for its response. The error is only set if no
// response was received, failed requests are reported by resp.Status.
// Without a deadline on ctx the configured timeout applies.
func (c *Client) Do(ctx context.Context, req *common.Request) (*common.Response, error) {
	return c.do(ctx, req, nil)
}

func (c *Client) do(ctx context.Context, req *common.Request, onResponse func(*common.Response)) (*common.Response, error) {
	if _, ok := ctx.Deadline(); !ok {
		if timeout := c.config.Timeout(); timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
	}

	cl := &call{req: req, done: make(chan struct{}), onResponse: onResponse}
	if err := c.send(ctx, cl); err != nil {
		return nil, err
	}

	select {
	case <-cl.done:
		return cl.resp, cl.err
	case <-c.closed:
		select {
		case <-cl.done:
			return cl.resp, cl.err
		default:
			return nil, c.closeErr
		}
	case <-ctx.Done():
		return nil, fmt.Errorf("%s request: %w", req.Type, ctx.Err())
	}
}

// send queues cl and writes its request
func (c *Client) send(ctx context.Context, cl *call) error {
	payload, err := c.serializer.SerializeRequest(cl.req)
	if err != nil {
		return fmt.Errorf("failed to serialize %s request: %w", cl.req.Type, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closing.Load() {
		return ErrClosed
	}

	select {
	case c.waiting <- cl:
	case <-c.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.nc.SetWriteDeadline(deadline)
	}
	if err := c.codec.WriteFrame(c.nc, payload); err != nil {
		// the call is queued, the stream is out of sync
		c.shutdown(fmt.Errorf("failed to send %s request: %w", cl.req.Type, err))
		return err
	}
	return nil
}

// --------------------------------------------------------------------------
// Read Loop
// --------------------------------------------------------------------------

func (c *Client) readLoop() {
	reader := bufio.NewReader(c.nc)
	var err error

	for {
		var payload []byte
		payload, err = c.codec.ReadFrame(reader, nil)
		if err != nil {
			break
		}

		resp := new(common.Response)
		if err = c.serializer.DeserializeResponse(payload, resp); err != nil {
			err = fmt.Errorf("%w: %v", frame.ErrDecodeFailure, err)
			break
		}

		if resp.IsEvent() {
			c.dispatchEvent(resp)
			continue
		}

		var cl *call
		select {
		case cl = <-c.waiting:
		default:
			err = fmt.Errorf("unexpected %s response without request", resp.Type)
		}
		if cl == nil {
			break
		}
		if cl.onResponse != nil {
			cl.onResponse(resp)
		}
		cl.finish(resp, nil)
	}

	if c.closing.Load() || errors.Is(err, io.EOF) {
		err = ErrClosed
	} else {
		Logger.Warningf("connection to %s failed: %v", c.endpoint, err)
	}
	c.shutdown(err)
}

// shutdown fails all pending calls and ends all subscriptions
func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		c.closeErr = err
		_ = c.nc.Close()
		close(c.closed)

		c.subs.Range(func(key subKey, sub *Subscription) bool {
			sub.end()
			c.subs.Delete(key)
			return true
		})

		// calls queued after this point see c.closed
		for {
			select {
			case cl := <-c.waiting:
				cl.finish(nil, err)
			default:
				return
			}
		}
	})
}

func (c *Client) dispatchEvent(resp *common.Response) {
	sub, ok := c.subs.Load(subKey{resp.Topic, resp.SubscriptionID})
	if !ok || len(resp.Values) == 0 {
		Logger.Debugf("dropping event for unknown subscription %s/%d", resp.Topic, resp.SubscriptionID)
		return
	}
	sub.deliver(resp.Values[0], c.closed)
}
