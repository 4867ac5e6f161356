package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
)

// Defaults shared by client and server
const (
	DefaultMaxFrameSize         = 1 << 20 // 1 MiB
	DefaultCompressionThreshold = 1436    // payloads larger than one ethernet frame get compressed
	DefaultEndpoint             = "localhost:8000"
)

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters of a sKV server.
type ServerConfig struct {
	// Network settings
	Transport   string `yaml:"transport"`
	Endpoint    string `yaml:"endpoint"`
	Serializer  string `yaml:"serializer"`
	TLSCertFile string `yaml:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file"`

	// Framing
	MaxFrameSize         int `yaml:"max_frame_size"`
	CompressionThreshold int `yaml:"compression_threshold"`

	// Write deadline per frame, 0 disables it
	TimeoutSecond int64 `yaml:"timeout_second"`

	// Storage
	Engine           string `yaml:"engine"`
	DataDir          string `yaml:"data_dir"`
	InMemory         bool   `yaml:"in_memory"`
	SyncWrites       bool   `yaml:"sync_writes"`
	GCIntervalSecond int64  `yaml:"gc_interval_second"`
	Shards           int    `yaml:"shards"`

	// Request validation
	MaxKeySize        int      `yaml:"max_key_size"`
	MaxValueSize      int      `yaml:"max_value_size"`
	ProtectedPrefixes []string `yaml:"protected_prefixes"`

	// Pub/Sub
	SubscriptionBuffer        int   `yaml:"subscription_buffer"`
	PublishTimeoutMillisecond int64 `yaml:"publish_timeout_millisecond"`

	// Observability
	MetricsEndpoint     string `yaml:"metrics_endpoint"`
	StatsIntervalSecond int64  `yaml:"stats_interval_second"`
	LogLevel            string `yaml:"log_level"`
}

// DefaultServerConfig returns the configuration used when nothing else is set
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Transport:                 "tcp",
		Endpoint:                  DefaultEndpoint,
		Serializer:                "binary",
		MaxFrameSize:              DefaultMaxFrameSize,
		CompressionThreshold:      DefaultCompressionThreshold,
		TimeoutSecond:             5,
		Engine:                    "maple",
		DataDir:                   "./data",
		SyncWrites:                true,
		GCIntervalSecond:          300,
		MaxKeySize:                4 << 10,
		MaxValueSize:              DefaultMaxFrameSize / 2,
		SubscriptionBuffer:        128,
		PublishTimeoutMillisecond: 1000,
		LogLevel:                  "info",
	}
}

// Timeout returns the write deadline of a connection
func (c *ServerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecond) * time.Second
}

// PublishTimeout returns how long publish waits for a full subscription
func (c *ServerConfig) PublishTimeout() time.Duration {
	return time.Duration(c.PublishTimeoutMillisecond) * time.Millisecond
}

// UsesTLS reports whether certificate and key are configured
func (c *ServerConfig) UsesTLS() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// RPC settings
	addSection("RPC Server")
	addField("Transport", c.Transport)
	addField("Endpoint", c.Endpoint)
	addField("Serializer", c.Serializer)
	addField("TLS", strconv.FormatBool(c.UsesTLS()))
	addField("Max Frame Size", units.BytesSize(float64(c.MaxFrameSize)))
	addField("Compression Threshold", units.BytesSize(float64(c.CompressionThreshold)))
	addField("Write Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))

	// Storage
	addSection("Storage")
	addField("Engine", c.Engine)
	if c.Engine != "" && c.Engine != "maple" {
		if c.InMemory {
			addField("Data Directory", "(in memory)")
		} else {
			addField("Data Directory", c.DataDir)
		}
		addField("Sync Writes", strconv.FormatBool(c.SyncWrites))
	}
	if c.Engine == "vlog" {
		addField("GC Interval", fmt.Sprintf("%d sec", c.GCIntervalSecond))
	}

	// Requests
	addSection("Requests")
	addField("Max Key Size", units.BytesSize(float64(c.MaxKeySize)))
	addField("Max Value Size", units.BytesSize(float64(c.MaxValueSize)))
	if len(c.ProtectedPrefixes) > 0 {
		addField("Protected Prefixes", strings.Join(c.ProtectedPrefixes, ", "))
	}

	// Pub/Sub
	addSection("Pub/Sub")
	addField("Subscription Buffer", strconv.Itoa(c.SubscriptionBuffer))
	addField("Publish Timeout", fmt.Sprintf("%d ms", c.PublishTimeoutMillisecond))

	// Logging configuration
	addSection("Observability")
	addField("Log Level", c.LogLevel)
	if c.MetricsEndpoint != "" {
		addField("Metrics Endpoint", c.MetricsEndpoint)
	}
	if c.StatsIntervalSecond > 0 {
		addField("Stats Interval", fmt.Sprintf("%d sec", c.StatsIntervalSecond))
	}

	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

type ClientConfig struct {
	// Endpoints are tried in order until a connection succeeds
	Endpoints     []string `yaml:"endpoints"`
	TimeoutSecond int      `yaml:"timeout_second"`
	RetryCount    int      `yaml:"retry_count"`

	MaxFrameSize         int `yaml:"max_frame_size"`
	CompressionThreshold int `yaml:"compression_threshold"`

	// TLS, enabled if TLS is set
	TLS           bool   `yaml:"tls"`
	TLSCAFile     string `yaml:"tls_ca_file"`
	TLSServerName string `yaml:"tls_server_name"`
	TLSInsecure   bool   `yaml:"tls_insecure"`
}

// DefaultClientConfig returns the configuration used when nothing else is set
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Endpoints:            []string{DefaultEndpoint},
		TimeoutSecond:        5,
		RetryCount:           2,
		MaxFrameSize:         DefaultMaxFrameSize,
		CompressionThreshold: DefaultCompressionThreshold,
	}
}

// Timeout returns the timeout of a single request
func (c *ClientConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecond) * time.Second
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.RetryCount))
	addField("Max Frame Size", units.BytesSize(float64(c.MaxFrameSize)))
	addField("TLS", strconv.FormatBool(c.TLS))

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
