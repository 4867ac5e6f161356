package util

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ValentinKolb/sKV/rpc/client"
	"github.com/ValentinKolb/sKV/rpc/common"
	"github.com/ValentinKolb/sKV/rpc/serializer"
	"github.com/ValentinKolb/sKV/rpc/transport"
	"github.com/ValentinKolb/sKV/rpc/transport/tcp"
	"github.com/ValentinKolb/sKV/rpc/transport/unix"
	"github.com/docker/go-units"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of all environment variables (SKV_ENDPOINT, ...)
	EnvPrefix = "skv"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// --------------------------------------------------------------------------
// Configuration sources
// --------------------------------------------------------------------------

// InitConfig loads .env files and enables the SKV_ environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	return viper.BindPFlags(cmd.InheritedFlags())
}

// IsSet reports whether key was set on the command line or in the environment.
// Defaults of flags don't count, so they don't override values of a config file.
func IsSet(cmd *cobra.Command, key string) bool {
	if f := cmd.Flags().Lookup(key); f != nil && f.Changed {
		return true
	}
	_, ok := os.LookupEnv(EnvName(key))
	return ok
}

// EnvName returns the environment variable of a flag (max-frame-size -> SKV_MAX_FRAME_SIZE)
func EnvName(key string) string {
	return strings.ToUpper(EnvPrefix + "_" + strings.ReplaceAll(key, "-", "_"))
}

// LoadYAML reads a config file into out. Fields missing in the file keep their value.
func LoadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// WriteYAML writes v to path, "-" writes to stdout
func WriteYAML(path string, v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	if path == "-" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// GetSize reads a size flag with units (e.g. 512KiB, 1MiB, 4k)
func GetSize(key string) (int, error) {
	raw := strings.TrimSpace(viper.GetString(key))
	if raw == "" {
		return 0, nil
	}
	size, err := units.RAMInBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid size for --%s: %w", key, err)
	}
	return int(size), nil
}

// FormatSize formats a size for a flag default
func FormatSize(size int) string {
	return units.BytesSize(float64(size))
}

// --------------------------------------------------------------------------
// Client
// --------------------------------------------------------------------------

// SetupRPCClientFlags adds common RPC connection flags to a command
func SetupRPCClientFlags(cmd *cobra.Command) {
	defaults := common.DefaultClientConfig()

	key := "timeout"
	cmd.PersistentFlags().Int(key, defaults.TimeoutSecond, WrapString("The timeout in seconds of a single request"))

	key = "endpoints"
	cmd.PersistentFlags().String(key, strings.Join(defaults.Endpoints, ","), WrapString("The address of the sKV server (host:port or a socket path). Multiple endpoints can be specified as a comma-separated list, the first reachable one is used"))

	key = "retries"
	cmd.PersistentFlags().Int(key, defaults.RetryCount, WrapString("How many times to retry connecting"))

	key = "max-frame-size"
	cmd.PersistentFlags().String(key, FormatSize(defaults.MaxFrameSize), WrapString("The largest frame accepted from the server (must match the server)"))

	key = "compression-threshold"
	cmd.PersistentFlags().Int(key, defaults.CompressionThreshold, WrapString("Requests larger than this (in bytes) are compressed, -1 disables compression"))

	key = "tls"
	cmd.PersistentFlags().Bool(key, false, WrapString("Connect using TLS"))

	key = "tls-ca-file"
	cmd.PersistentFlags().String(key, "", WrapString("PEM file with the certificate authorities to trust (default: system roots)"))

	key = "tls-server-name"
	cmd.PersistentFlags().String(key, "", WrapString("Server name to verify (default: host of the endpoint)"))

	key = "tls-insecure"
	cmd.PersistentFlags().Bool(key, false, WrapString("Skip the verification of the server certificate"))
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() (*common.ClientConfig, error) {
	maxFrameSize, err := GetSize("max-frame-size")
	if err != nil {
		return nil, err
	}

	conf := &common.ClientConfig{
		Endpoints:            strings.Split(viper.GetString("endpoints"), ","),
		TimeoutSecond:        viper.GetInt("timeout"),
		RetryCount:           viper.GetInt("retries"),
		MaxFrameSize:         maxFrameSize,
		CompressionThreshold: viper.GetInt("compression-threshold"),
		TLS:                  viper.GetBool("tls"),
		TLSCAFile:            viper.GetString("tls-ca-file"),
		TLSServerName:        viper.GetString("tls-server-name"),
		TLSInsecure:          viper.GetBool("tls-insecure"),
	}
	for i := range conf.Endpoints {
		conf.Endpoints[i] = strings.TrimSpace(conf.Endpoints[i])
	}
	return conf, nil
}

// GetSerializer creates a serializer based on configuration
func GetSerializer() (serializer.IRPCSerializer, error) {
	return serializer.ByName(viper.GetString("serializer"))
}

// GetClientConnector creates the client connector based on configuration
func GetClientConnector(config *common.ClientConfig) (transport.IClientConnector, error) {
	var connector transport.IClientConnector
	switch viper.GetString("transport") {
	case "tcp", "":
		connector = tcp.NewTCPClientConnector()
	case "unix":
		connector = unix.NewUnixClientConnector()
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}

	if !config.TLS {
		return connector, nil
	}
	tlsConfig, err := transport.LoadClientTLS(config.TLSCAFile, config.TLSServerName, config.TLSInsecure)
	if err != nil {
		return nil, err
	}
	return transport.WithClientTLS(connector, tlsConfig), nil
}

// Connect creates a client from the flags of the command
func Connect(ctx context.Context) (*client.Client, error) {
	config, err := GetClientConfig()
	if err != nil {
		return nil, err
	}
	s, err := GetSerializer()
	if err != nil {
		return nil, err
	}
	connector, err := GetClientConnector(config)
	if err != nil {
		return nil, err
	}
	return client.Dial(ctx, *config, connector, s)
}

// --------------------------------------------------------------------------
// Server
// --------------------------------------------------------------------------

// GetServerConnector creates the server connector for config
func GetServerConnector(config *common.ServerConfig) (transport.IServerConnector, error) {
	var connector transport.IServerConnector
	switch config.Transport {
	case "tcp", "":
		connector = tcp.NewTCPServerConnector()
	case "unix":
		connector = unix.NewUnixServerConnector()
	default:
		return nil, fmt.Errorf("invalid transport %s", config.Transport)
	}

	if !config.UsesTLS() {
		return connector, nil
	}
	tlsConfig, err := transport.LoadServerTLS(config.TLSCertFile, config.TLSKeyFile)
	if err != nil {
		return nil, err
	}
	return transport.WithServerTLS(connector, tlsConfig), nil
}
