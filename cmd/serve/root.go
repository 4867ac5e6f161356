package serve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	cmdUtil "github.com/ValentinKolb/sKV/cmd/util"
	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/ValentinKolb/sKV/lib/db/engines"
	"github.com/ValentinKolb/sKV/lib/pubsub"
	"github.com/ValentinKolb/sKV/lib/store"
	"github.com/ValentinKolb/sKV/lib/store/lstore"
	"github.com/ValentinKolb/sKV/rpc/common"
	"github.com/ValentinKolb/sKV/rpc/serializer"
	"github.com/ValentinKolb/sKV/rpc/server"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	Logger = logger.GetLogger("store")

	serveCmdConfig = common.DefaultServerConfig()
	ServeCmd       = &cobra.Command{
		Use:   "serve",
		Short: "Start the sKV server",
		Long: `Start the sKV server with the specified configuration. The configuration is read from
(in increasing precedence) the defaults, the config file (--config), environment variables
and command line flags. The format of the environment variables is SKV_<flag>
(e.g. SKV_MAX_FRAME_SIZE=2MiB).`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	defaults := common.DefaultServerConfig()

	// add flags
	key := "endpoint"
	ServeCmd.Flags().String(key, defaults.Endpoint, cmdUtil.WrapString("The address on which the server will listen (e.g. 0.0.0.0:8000 or /tmp/skv.sock for the unix transport)"))

	key = "timeout"
	ServeCmd.Flags().Int64(key, defaults.TimeoutSecond, cmdUtil.WrapString("Write timeout per frame in seconds, 0 disables it"))

	key = "max-frame-size"
	ServeCmd.Flags().String(key, cmdUtil.FormatSize(defaults.MaxFrameSize), cmdUtil.WrapString("The largest frame accepted. Connections sending larger frames are closed"))

	key = "compression-threshold"
	ServeCmd.Flags().Int(key, defaults.CompressionThreshold, cmdUtil.WrapString("Frames larger than this (in bytes) are compressed, -1 disables compression"))

	key = "tls-cert-file"
	ServeCmd.Flags().String(key, "", cmdUtil.WrapString("PEM certificate, enables TLS together with --tls-key-file"))

	key = "tls-key-file"
	ServeCmd.Flags().String(key, "", cmdUtil.WrapString("PEM private key of the certificate"))

	key = "engine"
	ServeCmd.Flags().String(key, defaults.Engine, cmdUtil.WrapString("Storage engine: maple (in memory), vlog (badger) or lsm (pebble)"))

	key = "data-dir"
	ServeCmd.Flags().String(key, defaults.DataDir, cmdUtil.WrapString("Directory of the disk engines"))

	key = "in-memory"
	ServeCmd.Flags().Bool(key, defaults.InMemory, cmdUtil.WrapString("Run the disk engines without touching the disk"))

	key = "sync-writes"
	ServeCmd.Flags().Bool(key, defaults.SyncWrites, cmdUtil.WrapString("Sync every write of the disk engines to disk"))

	key = "gc-interval"
	ServeCmd.Flags().Int64(key, defaults.GCIntervalSecond, cmdUtil.WrapString("Value log GC interval in seconds (vlog only), 0 disables it"))

	key = "shards"
	ServeCmd.Flags().Int(key, defaults.Shards, cmdUtil.WrapString("Number of shards of the maple engine, 0 uses one per CPU"))

	key = "max-key-size"
	ServeCmd.Flags().String(key, cmdUtil.FormatSize(defaults.MaxKeySize), cmdUtil.WrapString("The largest key, prefix or topic accepted"))

	key = "max-value-size"
	ServeCmd.Flags().String(key, cmdUtil.FormatSize(defaults.MaxValueSize), cmdUtil.WrapString("The largest value accepted"))

	key = "protected-prefixes"
	ServeCmd.Flags().String(key, "", cmdUtil.WrapString("Comma-separated list of key prefixes that can't be written or deleted by clients"))

	key = "subscription-buffer"
	ServeCmd.Flags().Int(key, defaults.SubscriptionBuffer, cmdUtil.WrapString("Number of values buffered per subscription"))

	key = "publish-timeout"
	ServeCmd.Flags().Int64(key, defaults.PublishTimeoutMillisecond, cmdUtil.WrapString("How long (in ms) publish waits for a subscription with a full buffer"))

	key = "metrics-endpoint"
	ServeCmd.Flags().String(key, "", cmdUtil.WrapString("Address of the Prometheus metrics endpoint (e.g. localhost:9100), empty disables it"))

	key = "stats-interval"
	ServeCmd.Flags().Int64(key, 0, cmdUtil.WrapString("Log the pub/sub statistics every n seconds, 0 disables it"))

	key = "log-level"
	ServeCmd.Flags().String(key, defaults.LogLevel, cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the config file, the environment
// variables and the command line flags and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	if path := viper.GetString("config"); path != "" {
		if err := cmdUtil.LoadYAML(path, &serveCmdConfig); err != nil {
			return err
		}
	}

	isSet := func(key string) bool { return cmdUtil.IsSet(cmd, key) }

	if isSet("transport") {
		serveCmdConfig.Transport = viper.GetString("transport")
	}
	if isSet("serializer") {
		serveCmdConfig.Serializer = viper.GetString("serializer")
	}
	if isSet("endpoint") {
		serveCmdConfig.Endpoint = viper.GetString("endpoint")
	}
	if isSet("timeout") {
		serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	}
	if isSet("compression-threshold") {
		serveCmdConfig.CompressionThreshold = viper.GetInt("compression-threshold")
	}
	if isSet("tls-cert-file") {
		serveCmdConfig.TLSCertFile = viper.GetString("tls-cert-file")
	}
	if isSet("tls-key-file") {
		serveCmdConfig.TLSKeyFile = viper.GetString("tls-key-file")
	}
	if isSet("engine") {
		serveCmdConfig.Engine = viper.GetString("engine")
	}
	if isSet("data-dir") {
		serveCmdConfig.DataDir = viper.GetString("data-dir")
	}
	if isSet("in-memory") {
		serveCmdConfig.InMemory = viper.GetBool("in-memory")
	}
	if isSet("sync-writes") {
		serveCmdConfig.SyncWrites = viper.GetBool("sync-writes")
	}
	if isSet("gc-interval") {
		serveCmdConfig.GCIntervalSecond = viper.GetInt64("gc-interval")
	}
	if isSet("shards") {
		serveCmdConfig.Shards = viper.GetInt("shards")
	}
	if isSet("protected-prefixes") {
		serveCmdConfig.ProtectedPrefixes = nil
		for _, prefix := range strings.Split(viper.GetString("protected-prefixes"), ",") {
			if prefix = strings.TrimSpace(prefix); prefix != "" {
				serveCmdConfig.ProtectedPrefixes = append(serveCmdConfig.ProtectedPrefixes, prefix)
			}
		}
	}
	if isSet("subscription-buffer") {
		serveCmdConfig.SubscriptionBuffer = viper.GetInt("subscription-buffer")
	}
	if isSet("publish-timeout") {
		serveCmdConfig.PublishTimeoutMillisecond = viper.GetInt64("publish-timeout")
	}
	if isSet("metrics-endpoint") {
		serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	}
	if isSet("stats-interval") {
		serveCmdConfig.StatsIntervalSecond = viper.GetInt64("stats-interval")
	}
	if isSet("log-level") {
		serveCmdConfig.LogLevel = viper.GetString("log-level")
	}

	// sizes with units
	sizes := map[string]*int{
		"max-frame-size": &serveCmdConfig.MaxFrameSize,
		"max-key-size":   &serveCmdConfig.MaxKeySize,
		"max-value-size": &serveCmdConfig.MaxValueSize,
	}
	for key, target := range sizes {
		if !isSet(key) {
			continue
		}
		size, err := cmdUtil.GetSize(key)
		if err != nil {
			return err
		}
		*target = size
	}

	if serveCmdConfig.MaxValueSize > serveCmdConfig.MaxFrameSize {
		return fmt.Errorf("max value size (%s) exceeds the max frame size (%s)",
			cmdUtil.FormatSize(serveCmdConfig.MaxValueSize), cmdUtil.FormatSize(serveCmdConfig.MaxFrameSize))
	}
	return nil
}

// run starts the sKV server
func run(_ *cobra.Command, _ []string) error {
	config := serveCmdConfig

	// Init logger
	if err := common.InitLoggers(config.LogLevel); err != nil {
		return err
	}
	server.Logger.Infof("%s", config.String())

	// parse the serializer
	s, err := serializer.ByName(config.Serializer)
	if err != nil {
		return err
	}

	// parse the transport
	connector, err := cmdUtil.GetServerConnector(&config)
	if err != nil {
		return err
	}

	// storage
	kv, err := lstore.NewLocalStore(func() (db.KVDB, error) {
		return engines.Open(engines.Config{
			Engine:     db.Implementation(config.Engine),
			DataDir:    config.DataDir,
			InMemory:   config.InMemory,
			SyncWrites: config.SyncWrites,
			GCInterval: time.Duration(config.GCIntervalSecond) * time.Second,
			Shards:     config.Shards,
		})
	})
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", config.Engine, err)
	}
	defer closeStore(kv)

	// pub/sub
	registry := pubsub.NewRegistry(pubsub.Config{
		BufferSize:     config.SubscriptionBuffer,
		PublishTimeout: config.PublishTimeout(),
	})
	defer registry.Close()

	// request pipeline
	service := server.NewCommandService(
		server.NewIStoreServerAdapter(kv),
		server.NewPubSubServerAdapter(registry),
	)
	service.OnReceived(server.NewKeyValidator(config.MaxKeySize, config.MaxValueSize))
	if len(config.ProtectedPrefixes) > 0 {
		service.OnReceived(server.NewKeyGuard(config.ProtectedPrefixes...))
	}
	logReceived, logExecuted := server.NewLoggingHooks(server.Logger)
	service.OnReceived(logReceived).OnExecuted(logExecuted)

	srv := server.NewRPCServer(config, connector, s, service)
	service.OnExecuted(server.NewMetricsHooks(srv.Metrics()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if config.MetricsEndpoint != "" {
		metricsServer := serveMetrics(config.MetricsEndpoint, srv.Metrics())
		defer metricsServer.Close()
	}
	if config.StatsIntervalSecond > 0 {
		go registry.LogStats(ctx, time.Duration(config.StatsIntervalSecond)*time.Second)
	}

	go func() {
		<-ctx.Done()
		server.Logger.Infof("shutting down")
		_ = srv.Close()
	}()

	err = srv.Serve()

	// wait for the open connections before the store is closed
	_ = srv.Close()
	if err != nil && !errors.Is(err, server.ErrServerClosed) {
		return err
	}
	return nil
}

// serveMetrics exposes the process metrics and the metrics of set in the
// Prometheus text format on endpoint/metrics
func serveMetrics(endpoint string, set *metrics.Set) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
		set.WritePrometheus(w)
	})

	srv := &http.Server{Addr: endpoint, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		server.Logger.Infof("metrics available at http://%s/metrics", endpoint)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			server.Logger.Errorf("metrics endpoint failed: %v", err)
		}
	}()
	return srv
}

func closeStore(s store.IStore) {
	if err := s.Close(); err != nil {
		Logger.Errorf("failed to close store: %v", err)
	}
}
