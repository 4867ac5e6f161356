package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
)

// --------------------------------------------------------------------------
// TLS decoration
// --------------------------------------------------------------------------

// WithServerTLS wraps the listeners of connector in TLS. The connection
// handler never sees the difference.
func WithServerTLS(connector IServerConnector, config *tls.Config) IServerConnector {
	return &tlsServerConnector{inner: connector, config: config}
}

type tlsServerConnector struct {
	inner  IServerConnector
	config *tls.Config
}

func (c *tlsServerConnector) GetName() string { return c.inner.GetName() + "+tls" }

func (c *tlsServerConnector) Listen(endpoint string) (net.Listener, error) {
	l, err := c.inner.Listen(endpoint)
	if err != nil {
		return nil, err
	}
	return tls.NewListener(l, c.config), nil
}

// UpgradeConnection forwards to the inner connector using the raw connection below TLS
func (c *tlsServerConnector) UpgradeConnection(conn net.Conn) error {
	upgrader, ok := c.inner.(IConnUpgrader)
	if !ok {
		return nil
	}
	if tlsConn, ok := conn.(*tls.Conn); ok {
		conn = tlsConn.NetConn()
	}
	return upgrader.UpgradeConnection(conn)
}

// WithClientTLS performs a TLS handshake on every connection of connector
func WithClientTLS(connector IClientConnector, config *tls.Config) IClientConnector {
	return &tlsClientConnector{inner: connector, config: config}
}

type tlsClientConnector struct {
	inner  IClientConnector
	config *tls.Config
}

func (c *tlsClientConnector) GetName() string { return c.inner.GetName() + "+tls" }

func (c *tlsClientConnector) Connect(ctx context.Context, endpoint string) (net.Conn, error) {
	raw, err := c.inner.Connect(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	config := c.config
	if config.ServerName == "" && !config.InsecureSkipVerify {
		if host, _, err := net.SplitHostPort(endpoint); err == nil {
			config = config.Clone()
			config.ServerName = host
		}
	}

	conn := tls.Client(raw, config)
	if err := conn.HandshakeContext(ctx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("tls handshake with %s failed: %w", endpoint, err)
	}
	return conn, nil
}

// --------------------------------------------------------------------------
// Loading certificates
// --------------------------------------------------------------------------

// LoadServerTLS loads a certificate and its key (PEM) for a server
func LoadServerTLS(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("can't load tls key pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// LoadClientTLS creates the client configuration. caFile (PEM) replaces the
// system roots if set.
func LoadClientTLS(caFile, serverName string, insecure bool) (*tls.Config, error) {
	config := &tls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: insecure,
		MinVersion:         tls.VersionTLS12,
	}
	if caFile == "" {
		return config, nil
	}

	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("can't read ca file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("ca file contains no certificates")
	}
	config.RootCAs = pool
	return config, nil
}
