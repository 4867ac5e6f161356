package transport

import (
	"context"
	"net"
)

// --------------------------------------------------------------------------
// Server Connector
// --------------------------------------------------------------------------

// IServerConnector creates the listener the RPC server accepts connections on
type IServerConnector interface {
	// Listen creates a listener for endpoint (host:port for tcp, a socket path for unix)
	Listen(endpoint string) (net.Listener, error)
	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string
}

// IConnUpgrader is implemented by server connectors that tune accepted
// connections (socket options). The server calls it once per connection.
type IConnUpgrader interface {
	UpgradeConnection(conn net.Conn) error
}

// --------------------------------------------------------------------------
// Client Connector
// --------------------------------------------------------------------------

// IClientConnector opens the stream a client talks to the server over
type IClientConnector interface {
	// Connect dials endpoint
	Connect(ctx context.Context, endpoint string) (net.Conn, error)
	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string
}
