package tcp

import (
	"fmt"
	"net"
	"time"

	"github.com/ValentinKolb/sKV/rpc/transport"
)

// Options are the socket options applied to every accepted connection
type Options struct {
	NoDelay         bool          // Disable Nagle's algorithm
	KeepAlive       time.Duration // Keep-alive period, 0 disables keep-alive
	ReadBufferSize  int           // Socket read buffer, 0 keeps the OS default
	WriteBufferSize int           // Socket write buffer, 0 keeps the OS default
	Linger          int           // SO_LINGER in seconds, negative keeps the OS default
}

// DefaultOptions returns the options used by NewTCPServerConnector
func DefaultOptions() Options {
	return Options{
		NoDelay:         true,
		KeepAlive:       30 * time.Second,
		ReadBufferSize:  defaultBufferSize,
		WriteBufferSize: defaultBufferSize,
		Linger:          -1,
	}
}

const (
	defaultBufferSize = 512 * 1024 // 512 KB
)

// serverConnector implements the IServerConnector interface for TCP sockets
type serverConnector struct {
	opts Options
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IServerConnector)
// --------------------------------------------------------------------------

func (c *serverConnector) GetName() string {
	return "tcp"
}

func (c *serverConnector) Listen(endpoint string) (net.Listener, error) {
	listener, err := net.Listen("tcp", endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create TCP socket: %w", err)
	}
	return listener, nil
}

// UpgradeConnection applies the socket options to a TCP connection
func (c *serverConnector) UpgradeConnection(conn net.Conn) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil // Not a TCP connection, nothing to upgrade
	}

	if err := tcpConn.SetNoDelay(c.opts.NoDelay); err != nil {
		return err
	}

	if c.opts.WriteBufferSize > 0 {
		if err := tcpConn.SetWriteBuffer(c.opts.WriteBufferSize); err != nil {
			return err
		}
	}

	if c.opts.ReadBufferSize > 0 {
		if err := tcpConn.SetReadBuffer(c.opts.ReadBufferSize); err != nil {
			return err
		}
	}

	if c.opts.KeepAlive > 0 {
		if err := tcpConn.SetKeepAlive(true); err != nil {
			return err
		}
		if err := tcpConn.SetKeepAlivePeriod(c.opts.KeepAlive); err != nil {
			return err
		}
	}

	if c.opts.Linger >= 0 {
		if err := tcpConn.SetLinger(c.opts.Linger); err != nil {
			return err
		}
	}

	return nil
}

// --------------------------------------------------------------------------
// Server Connector Factory Methods
// --------------------------------------------------------------------------

// NewTCPServerConnector creates a TCP server connector with the default socket options
func NewTCPServerConnector() transport.IServerConnector {
	return NewTCPServerConnectorWithOptions(DefaultOptions())
}

// NewTCPServerConnectorWithOptions creates a TCP server connector with custom socket options
func NewTCPServerConnectorWithOptions(opts Options) transport.IServerConnector {
	return &serverConnector{opts: opts}
}
