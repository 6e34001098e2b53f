// Package main runs the graphbus gateway: a graph database served to NATS,
// HTTP and WebSocket clients as JSON commands.
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/c360/graphbus/config"
	"github.com/c360/graphbus/dispatch"
	"github.com/c360/graphbus/gateway"
	httpgw "github.com/c360/graphbus/gateway/http"
	natsgw "github.com/c360/graphbus/gateway/nats"
	wsgw "github.com/c360/graphbus/gateway/websocket"
	"github.com/c360/graphbus/graph"
	"github.com/c360/graphbus/graph/graphson"
	"github.com/c360/graphbus/graph/kvgraph"
	"github.com/c360/graphbus/graph/memgraph"
	"github.com/c360/graphbus/graph/sqlgraph"
	"github.com/c360/graphbus/graph/traversal"
	"github.com/c360/graphbus/health"
	"github.com/c360/graphbus/metric"
	"github.com/c360/graphbus/natsclient"
	"github.com/c360/graphbus/pkg/retry"
	"github.com/c360/graphbus/querycache"
	"github.com/c360/graphbus/session"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "graphbus"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	// a missing .env is the common case
	_ = godotenv.Load()

	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	cliCfg, err := parseFlags(fs, args)
	if err != nil {
		if stderrors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	switch {
	case cliCfg.ShowVersion:
		fmt.Printf("%s version %s (%s)\n", appName, Version, BuildTime)
		return nil
	case cliCfg.ShowHelp:
		fs.Usage()
		return nil
	case cliCfg.InitConfig != "":
		if err := config.Default().SaveToFile(cliCfg.InitConfig); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
		fmt.Printf("Wrote default configuration to %s\n", cliCfg.InitConfig)
		return nil
	}

	logger := setupLogger(os.Stdout, cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return err
	}
	logger.Debug("Configuration loaded", "config", cfg.String())

	if cliCfg.Validate {
		logger.Info("Configuration is valid")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting graphbus",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath,
		"backend", cfg.Backend.Driver)
	return serve(ctx, cfg, logger)
}

// loadConfig layers the optional file over the defaults, then the environment.
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader.AddLayer(path)
	}
	loader.EnableValidation(true)

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// serve runs until ctx is cancelled or the metrics server fails, then stops
// every gateway before the backend and the NATS connection are released.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	registry := metric.NewMetricsRegistry()
	monitor := health.NewMonitor()

	tracer, flushTraces, err := setupTracing(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := flushTraces(flushCtx); err != nil {
			logger.Warn("Failed to flush traces", "error", err)
		}
	}()

	var nc *natsclient.Client
	if cfg.NeedsNATS() {
		nc, err = connectToNATS(ctx, cfg.NATS, registry, monitor, logger)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
			defer cancel()
			if err := nc.Close(closeCtx); err != nil {
				logger.Warn("Failed to close NATS connection", "error", err)
			}
		}()
	}

	opener, closeBackend, err := openBackend(ctx, cfg.Backend, nc, logger)
	if err != nil {
		monitor.UpdateFromError("backend", err, "")
		return err
	}
	defer func() {
		if err := closeBackend(); err != nil {
			logger.Warn("Failed to close backend", "error", err)
		}
	}()
	monitor.UpdateHealthy("backend", cfg.Backend.Driver)

	dispatcher, closeQueries, err := newDispatcher(cfg, opener, nc, tracer, registry, logger)
	if err != nil {
		return err
	}
	defer func() { _ = closeQueries() }()

	gateways, err := buildGateways(cfg, dispatcher, nc, registry, logger)
	if err != nil {
		return err
	}
	started := make([]gateway.Gateway, 0, len(gateways))
	defer func() { stopGateways(started, cfg.Service.ShutdownTimeout, monitor, logger) }()
	for _, gw := range gateways {
		if err := gw.Start(ctx); err != nil {
			monitor.UpdateFromError(gw.Name(), err, "")
			return fmt.Errorf("start %s gateway: %w", gw.Name(), err)
		}
		started = append(started, gw)
		monitor.UpdateHealthy(gw.Name(), "serving")
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Enabled {
		server := metric.NewServer(registry, cfg.Metrics.Port, cfg.Metrics.Path,
			metric.WithHealthHandler(monitor.Handler(appName)))
		if err := server.Listen(); err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		g.Go(server.Start)
		g.Go(func() error {
			<-gctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
			defer cancel()
			return server.Stop(stopCtx)
		})
		logger.Info("Metrics available", "address", server.Address())
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	logger.Info("graphbus ready", "address", cfg.Service.Address, "gateways", len(started))
	err = g.Wait()
	logger.Info("Shutting down")
	return err
}

// connectToNATS connects with retries and keeps the monitor's "nats" entry
// current for the life of the connection.
func connectToNATS(
	ctx context.Context,
	cfg config.NATSConfig,
	registry *metric.MetricsRegistry,
	monitor *health.Monitor,
	logger *slog.Logger,
) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithName(cfg.Name),
		natsclient.WithMaxReconnects(cfg.MaxReconnects),
		natsclient.WithReconnectWait(cfg.ReconnectWait),
		natsclient.WithTimeout(cfg.ConnectTimeout),
		natsclient.WithPingInterval(cfg.PingInterval),
		natsclient.WithDrainTimeout(cfg.DrainTimeout),
		natsclient.WithLogger(natsclient.NewSlogLogger(logger)),
		natsclient.WithMetrics(registry),
		natsclient.WithHealthChangeCallback(func(healthy bool) {
			if healthy {
				monitor.UpdateHealthy("nats", "connected")
			} else {
				monitor.UpdateUnhealthy("nats", "disconnected")
			}
		}),
	}
	if cfg.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.Token))
	}
	if cfg.TLS.CertFile != "" || cfg.TLS.CAFile != "" {
		opts = append(opts, natsclient.WithTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.CAFile))
	}

	nc, err := natsclient.NewClient(strings.Join(cfg.URLs, ","), opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	monitor.UpdateDegraded("nats", "connecting")
	logger.Info("Connecting to NATS", "servers", len(cfg.URLs))
	if err := retry.Do(ctx, retry.Quick(), func(int) error { return nc.Connect(ctx) }); err != nil {
		monitor.UpdateFromError("nats", err, "")
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := nc.WaitForConnection(connCtx); err != nil {
		_ = nc.Close(context.Background())
		return nil, fmt.Errorf("NATS connection timeout: %w", err)
	}
	monitor.UpdateHealthy("nats", "connected")
	return nc, nil
}

// openBackend builds the configured graph store. The returned close function
// is always non-nil.
func openBackend(
	ctx context.Context,
	cfg config.BackendConfig,
	nc *natsclient.Client,
	logger *slog.Logger,
) (graph.Opener, func() error, error) {
	noClose := func() error { return nil }

	switch cfg.Driver {
	case config.DriverSQLite:
		store, err := sqlgraph.New(ctx, cfg.SQLite())
		if err != nil {
			return nil, noClose, fmt.Errorf("open sqlite backend: %w", err)
		}
		return store, store.Close, nil

	case config.DriverNATSKV:
		if nc == nil {
			return nil, noClose, fmt.Errorf("%s backend needs a NATS connection", config.DriverNATSKV)
		}
		bucket, err := nc.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
			Bucket:      cfg.KV().Bucket,
			Description: "graphbus property graph",
			History:     1,
		})
		if err != nil {
			return nil, noClose, fmt.Errorf("open KV bucket %s: %w", cfg.KV().Bucket, err)
		}
		return kvgraph.New(nc.NewKVStore(bucket), logger), noClose, nil

	case config.DriverMemory, "":
		return memgraph.New(cfg.Memory()), noClose, nil

	default:
		return nil, noClose, fmt.Errorf("unknown backend driver %q", cfg.Driver)
	}
}

// newDispatcher wires sessions, the query cache and the optional event
// publisher. The returned function releases the query cache.
func newDispatcher(
	cfg *config.Config,
	opener graph.Opener,
	nc *natsclient.Client,
	tracer trace.Tracer,
	registry *metric.MetricsRegistry,
	logger *slog.Logger,
) (*dispatch.Dispatcher, func() error, error) {
	queries, err := querycache.New(traversal.DefaultCompiler, cfg.QueryCache,
		querycache.WithMetrics(registry),
		querycache.WithLogger(logger))
	if err != nil {
		return nil, nil, fmt.Errorf("create query cache: %w", err)
	}

	dcfg := dispatch.Config{
		Sessions: session.NewManager(opener, logger, session.WithMetrics(registry)),
		Codec:    graphson.New(cfg.Service.Mode()),
		Queries:  queries,
		Logger:   logger,
		Metrics:  registry,
		Tracer:   tracer,
	}
	if nc != nil && cfg.NATS.EventsSubject != "" {
		dcfg.Publisher = natsgw.NewEventPublisher(nc, cfg.NATS.EventsSubject, registry)
	}

	d, err := dispatch.New(dcfg)
	if err != nil {
		_ = queries.Close()
		return nil, nil, fmt.Errorf("create dispatcher: %w", err)
	}
	return d, queries.Close, nil
}

// buildGateways creates every enabled transport, NATS first.
func buildGateways(
	cfg *config.Config,
	handler gateway.Handler,
	nc natsgw.Client,
	registry *metric.MetricsRegistry,
	logger *slog.Logger,
) ([]gateway.Gateway, error) {
	var gateways []gateway.Gateway

	if cfg.NATS.Enabled {
		gw, err := natsgw.New(nc, handler, natsgw.Config{
			Subject:    cfg.Service.Address,
			QueueGroup: cfg.NATS.QueueGroup,
			Workers:    cfg.NATS.Workers,
			QueueSize:  cfg.NATS.QueueSize,
			RateLimit:  cfg.NATS.RateLimit,
			RateBurst:  cfg.NATS.RateBurst,
		}, natsgw.WithLogger(logger), natsgw.WithMetrics(registry))
		if err != nil {
			return nil, fmt.Errorf("create NATS gateway: %w", err)
		}
		gateways = append(gateways, gw)
	}

	if cfg.HTTP.Enabled {
		tlsConfig, err := cfg.HTTP.TLS.Load()
		if err != nil {
			return nil, fmt.Errorf("load HTTP TLS: %w", err)
		}
		gw, err := httpgw.New(handler, httpgw.Config{
			Addr:           cfg.HTTP.Addr,
			Path:           cfg.HTTP.Path,
			MaxRequestSize: cfg.HTTP.MaxRequestSize,
			ReadTimeout:    cfg.HTTP.ReadTimeout,
			TLS:            tlsConfig,
		}, httpgw.WithLogger(logger), httpgw.WithMetrics(registry))
		if err != nil {
			return nil, fmt.Errorf("create HTTP gateway: %w", err)
		}
		gateways = append(gateways, gw)
	}

	if cfg.WebSocket.Enabled {
		tlsConfig, err := cfg.WebSocket.TLS.Load()
		if err != nil {
			return nil, fmt.Errorf("load WebSocket TLS: %w", err)
		}
		gw, err := wsgw.New(handler, wsgw.Config{
			Addr:           cfg.WebSocket.Addr,
			Path:           cfg.WebSocket.Path,
			MaxMessageSize: cfg.WebSocket.MaxMessageSize,
			TLS:            tlsConfig,
		}, wsgw.WithLogger(logger), wsgw.WithMetrics(registry))
		if err != nil {
			return nil, fmt.Errorf("create WebSocket gateway: %w", err)
		}
		gateways = append(gateways, gw)
	}

	return gateways, nil
}

// stopGateways stops in reverse start order.
func stopGateways(gateways []gateway.Gateway, timeout time.Duration, monitor *health.Monitor, logger *slog.Logger) {
	for i := len(gateways) - 1; i >= 0; i-- {
		gw := gateways[i]
		monitor.UpdateDegraded(gw.Name(), "stopping")
		if err := gw.Stop(timeout); err != nil {
			logger.Warn("Gateway did not stop cleanly", "gateway", gw.Name(), "error", err)
			continue
		}
		monitor.UpdateUnhealthy(gw.Name(), "stopped")
	}
}
