// Package nats serves graph commands arriving on a NATS subject.
//
// The gateway joins a queue group on the service address so several instances
// share the load. Each message is handed to a bounded worker pool; when the pool
// is full or the rate limiter refuses, the requester gets an error reply at once
// instead of waiting for a timeout. Replies go to the message's reply subject.
// A message without one is still executed.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/graphbus/errors"
	"github.com/c360/graphbus/gateway"
	"github.com/c360/graphbus/metric"
	"github.com/c360/graphbus/natsclient"
	"github.com/c360/graphbus/pkg/worker"
)

const transport = "nats"

// Client is the part of natsclient.Client the gateway uses.
type Client interface {
	QueueSubscribe(ctx context.Context, subject, queue string, handler natsclient.MsgHandler) error
	Publish(ctx context.Context, subject string, data []byte) error
}

var _ Client = (*natsclient.Client)(nil)

// Config configures the gateway
type Config struct {
	Subject    string
	QueueGroup string
	Workers    int
	QueueSize  int

	// RateLimit is in commands per second; zero disables limiting.
	RateLimit float64
	RateBurst int
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithMetrics records requests, rejections and the worker pool in registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(g *Gateway) {
		g.registry = registry
	}
}

// Gateway bridges a NATS subject to a gateway.Handler.
type Gateway struct {
	client   Client
	handler  gateway.Handler
	cfg      Config
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	metrics  *metric.Metrics
	limiter  *rate.Limiter
	pool     *worker.Pool[natsclient.Msg]

	mu      sync.Mutex
	running bool
}

// New creates a gateway. Subject is required.
func New(client Client, handler gateway.Handler, cfg Config, opts ...Option) (*Gateway, error) {
	if client == nil || handler == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "nats.Gateway", "New", "client and handler check")
	}
	if cfg.Subject == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "nats.Gateway", "New", "subject check")
	}

	g := &Gateway{
		client:  client,
		handler: handler,
		cfg:     cfg,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "gateway", "transport", transport, "subject", cfg.Subject)

	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = max(1, int(cfg.RateLimit))
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	poolOpts := []worker.Option[natsclient.Msg]{
		worker.WithErrorHandler(func(msg natsclient.Msg, err error) {
			g.logger.Error("Command failed", "reply", msg.Reply, "error", err)
		}),
	}
	if g.registry != nil {
		g.metrics = g.registry.CoreMetrics()
		poolOpts = append(poolOpts, worker.WithMetricsRegistry[natsclient.Msg](g.registry, "nats_gateway"))
	}
	pool, err := worker.NewPool(cfg.Workers, cfg.QueueSize, g.process, poolOpts...)
	if err != nil {
		return nil, errors.WrapInvalid(err, "nats.Gateway", "New", "build worker pool")
	}
	g.pool = pool
	return g, nil
}

// Name implements gateway.Gateway.
func (g *Gateway) Name() string { return transport }

// Start launches the workers and joins the queue group.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "nats.Gateway", "Start", "start check")
	}

	if err := g.pool.Start(ctx); err != nil {
		return errors.WrapFatal(err, "nats.Gateway", "Start", "start workers")
	}
	if err := g.client.QueueSubscribe(ctx, g.cfg.Subject, g.cfg.QueueGroup, g.receive); err != nil {
		_ = g.pool.Stop(time.Second)
		return errors.WrapTransient(err, "nats.Gateway", "Start", "subscribe "+g.cfg.Subject)
	}

	g.running = true
	g.logger.Info("Gateway listening", "queue", g.cfg.QueueGroup, "workers", g.cfg.Workers)
	return nil
}

// Stop drains queued commands for up to timeout. Messages arriving afterwards
// are rejected.
func (g *Gateway) Stop(timeout time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.running {
		return nil
	}
	g.running = false
	if err := g.pool.Stop(timeout); err != nil {
		return errors.WrapTransient(err, "nats.Gateway", "Stop", "drain workers")
	}
	return nil
}

// Stats returns the worker pool counters.
func (g *Gateway) Stats() worker.PoolStats {
	return g.pool.Stats()
}

// receive runs on the subscription goroutine and must not block.
func (g *Gateway) receive(ctx context.Context, msg natsclient.Msg) {
	if g.limiter != nil && !g.limiter.Allow() {
		if g.metrics != nil {
			g.metrics.RecordRateLimited()
		}
		g.reject(ctx, msg, gateway.RateLimitedMessage)
		return
	}

	if err := g.pool.Submit(msg); err != nil {
		g.logger.Warn("Command rejected", "error", err)
		g.reject(ctx, msg, gateway.OverloadedMessage)
	}
}

func (g *Gateway) reject(ctx context.Context, msg natsclient.Msg, message string) {
	g.record(gateway.OutcomeRejected)
	if msg.Reply == "" {
		return
	}
	if err := g.client.Publish(ctx, msg.Reply, gateway.Reject(message)); err != nil {
		g.logger.Warn("Failed to send rejection", "reply", msg.Reply, "error", err)
	}
}

// process executes one command on a worker.
func (g *Gateway) process(ctx context.Context, msg natsclient.Msg) error {
	reply, err := g.handler.Handle(ctx, msg.Data)
	if err != nil {
		g.record(gateway.OutcomeFatal)
		return err
	}
	g.record(gateway.OutcomeReplied)

	if msg.Reply == "" {
		return nil
	}
	if err := g.client.Publish(ctx, msg.Reply, reply); err != nil {
		return fmt.Errorf("reply to %s: %w", msg.Reply, err)
	}
	return nil
}

func (g *Gateway) record(outcome string) {
	if g.metrics != nil {
		g.metrics.RecordGatewayRequest(transport, outcome)
	}
}
