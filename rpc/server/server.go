package server

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/sKV/rpc/common"
	"github.com/ValentinKolb/sKV/rpc/frame"
	"github.com/ValentinKolb/sKV/rpc/serializer"
	"github.com/ValentinKolb/sKV/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("rpc")

// ErrServerClosed is returned by Serve and ServeListener after Close was called
var ErrServerClosed = errors.New("rpc: server closed")

// RPCServer accepts connections and serves the requests read from them with
// a CommandService
type RPCServer struct {
	config     common.ServerConfig
	connector  transport.IServerConnector
	serializer serializer.IRPCSerializer
	service    *CommandService
	codec      *frame.Codec

	mu       sync.Mutex
	listener net.Listener
	closing  atomic.Bool
	wg       sync.WaitGroup
	conns    *xsync.MapOf[string, *conn]

	metrics         *metrics.Set
	connsTotal      *metrics.Counter
	eventsWritten   *metrics.Counter
	requestDuration *metrics.Histogram
}

// NewRPCServer creates a new RPC server
// It takes a config, connector, serializer and the service executing the requests
//
// Usage:
//
//	s := server.NewRPCServer(
//		config,
//		tcp.NewTCPServerConnector(),
//		serializer.NewBinarySerializer(),
//		server.NewCommandService(
//			server.NewIStoreServerAdapter(store),
//			server.NewPubSubServerAdapter(registry),
//		),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	connector transport.IServerConnector,
	serializer serializer.IRPCSerializer,
	service *CommandService,
) *RPCServer {
	s := &RPCServer{
		config:     config,
		connector:  connector,
		serializer: serializer,
		service:    service,
		codec:      frame.NewCodec(config.MaxFrameSize, config.CompressionThreshold),
		conns:      xsync.NewMapOf[string, *conn](),
		metrics:    metrics.NewSet(),
	}

	s.connsTotal = s.metrics.NewCounter("skv_connections_total")
	s.eventsWritten = s.metrics.NewCounter("skv_events_written_total")
	s.requestDuration = s.metrics.NewHistogram("skv_request_duration_seconds")
	s.metrics.NewGauge("skv_connections_active", func() float64 {
		return float64(s.conns.Size())
	})

	return s
}

// Metrics returns the metrics of the server (connections, latency). Hooks
// created with NewMetricsHooks(s.Metrics()) add the request counters.
func (s *RPCServer) Metrics() *metrics.Set { return s.metrics }

// Addr returns the address the server listens on, nil before Serve
func (s *RPCServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve listens on the configured endpoint and serves connections until Close is called
func (s *RPCServer) Serve() error {
	listener, err := s.connector.Listen(s.config.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Endpoint, err)
	}

	Logger.Infof("sKV server listening on %s (%s transport, %s serializer)",
		listener.Addr(), s.connector.GetName(), s.serializer.Name())

	return s.ServeListener(listener)
}

// ServeListener accepts connections on listener until Close is called.
// It always returns a non nil error, ErrServerClosed after Close.
func (s *RPCServer) ServeListener(listener net.Listener) error {
	s.mu.Lock()
	if s.closing.Load() {
		s.mu.Unlock()
		_ = listener.Close()
		return ErrServerClosed
	}
	s.listener = listener
	s.mu.Unlock()

	for {
		nc, err := listener.Accept()
		if err != nil {
			if s.closing.Load() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				Logger.Warningf("accept occurs temporary error: %v, retry in 5ms", err)
				time.Sleep(5 * time.Millisecond)
				continue
			}
			return fmt.Errorf("accept failed: %w", err)
		}

		go s.ServeConn(nc)
	}
}

// ServeConn serves a single connection and blocks until it is closed
func (s *RPCServer) ServeConn(nc net.Conn) {
	s.wg.Add(1)
	defer s.wg.Done()

	if s.closing.Load() {
		_ = nc.Close()
		return
	}

	if upgrader, ok := s.connector.(transport.IConnUpgrader); ok {
		if err := upgrader.UpgradeConnection(nc); err != nil {
			Logger.Warningf("failed to upgrade connection from %s: %v", nc.RemoteAddr(), err)
		}
	}

	c := newConn(s, nc)
	s.conns.Store(c.id, c)
	s.connsTotal.Inc()
	defer s.conns.Delete(c.id)

	// Close may have missed the connection
	if s.closing.Load() {
		c.close()
	}

	c.serve()
}

// Close stops accepting connections, closes all open connections and waits
// until their handlers returned. Calling Close again only waits.
func (s *RPCServer) Close() error {
	s.mu.Lock()
	if s.closing.Swap(true) {
		s.mu.Unlock()
		s.wg.Wait()
		return nil
	}
	listener := s.listener
	s.mu.Unlock()

	var err error
	if listener != nil {
		err = listener.Close()
	}

	s.conns.Range(func(_ string, c *conn) bool {
		c.close()
		return true
	})
	s.wg.Wait()

	Logger.Infof("sKV server closed")
	return err
}
