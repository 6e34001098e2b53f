// Package http serves graph commands over HTTP.
//
// Clients POST one JSON command to the configured path and receive the reply as
// the response body. Error replies are still HTTP 200: the status field of the
// body carries the outcome. Only fatal failures, oversized bodies and wrong
// methods use other status codes.
package http

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/graphbus/errors"
	"github.com/c360/graphbus/gateway"
	"github.com/c360/graphbus/metric"
)

const transport = "http"

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// InternalErrorMessage is the body message of a fatal failure.
const InternalErrorMessage = "Internal server error"

// Config configures the gateway
type Config struct {
	Addr           string
	Path           string
	MaxRequestSize int64
	ReadTimeout    time.Duration

	// TLS, when set, makes Start serve HTTPS.
	TLS *tls.Config
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

// WithMetrics counts requests by outcome.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(g *Gateway) {
		if registry != nil {
			g.metrics = registry.CoreMetrics()
		}
	}
}

// Gateway bridges HTTP requests to a gateway.Handler. It is an http.Handler
// and can also run its own server.
type Gateway struct {
	handler gateway.Handler
	cfg     Config
	logger  *slog.Logger
	metrics *metric.Metrics
	mux     *http.ServeMux

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	done     chan struct{}
}

// New creates a gateway. Path defaults to "/" and MaxRequestSize to 1MB.
func New(handler gateway.Handler, cfg Config, opts ...Option) (*Gateway, error) {
	if handler == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "http.Gateway", "New", "handler check")
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if cfg.MaxRequestSize <= 0 {
		cfg.MaxRequestSize = 1 << 20
	}

	g := &Gateway{
		handler: handler,
		cfg:     cfg,
		logger:  slog.Default(),
		mux:     http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "gateway", "transport", transport)
	g.mux.HandleFunc(cfg.Path, g.handleCommand)
	return g, nil
}

// Name implements gateway.Gateway.
func (g *Gateway) Name() string { return transport }

// ServeHTTP implements http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mux.ServeHTTP(w, r)
}

// Start listens on Addr and serves until Stop.
func (g *Gateway) Start(_ context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.server != nil {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "http.Gateway", "Start", "start check")
	}

	ln, err := net.Listen("tcp", g.cfg.Addr)
	if err != nil {
		return errors.WrapFatal(err, "http.Gateway", "Start", "listen on "+g.cfg.Addr)
	}

	if g.cfg.TLS != nil {
		ln = tls.NewListener(ln, g.cfg.TLS)
	}
	g.listener = ln
	g.server = &http.Server{
		Handler:           g,
		ReadTimeout:       g.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.done = make(chan struct{})

	go func(server *http.Server, done chan struct{}) {
		defer close(done)
		if err := server.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			g.logger.Error("HTTP server failed", "error", err)
		}
	}(g.server, g.done)

	g.logger.Info("Gateway listening", "addr", ln.Addr().String(), "path", g.cfg.Path, "tls", g.cfg.TLS != nil)
	return nil
}

// Addr returns the bound address, or "" before Start.
func (g *Gateway) Addr() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listener == nil {
		return ""
	}
	return g.listener.Addr().String()
}

// Stop waits up to timeout for in-flight requests.
func (g *Gateway) Stop(timeout time.Duration) error {
	g.mu.Lock()
	server, done := g.server, g.done
	g.server, g.listener, g.done = nil, nil, nil
	g.mu.Unlock()
	if server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return errors.WrapTransient(err, "http.Gateway", "Stop", "shutdown server")
	}
	<-done
	return nil
}

// getOrGenerateRequestID keeps the caller's request id or assigns a new one.
func getOrGenerateRequestID(r *http.Request) string {
	if id := r.Header.Get(RequestIDHeader); id != "" {
		return id
	}
	return uuid.NewString()
}

func (g *Gateway) handleCommand(w http.ResponseWriter, r *http.Request) {
	requestID := getOrGenerateRequestID(r)
	w.Header().Set(RequestIDHeader, requestID)

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		g.write(w, http.StatusMethodNotAllowed, gateway.Reject("Method "+r.Method+" not allowed"))
		g.record(gateway.OutcomeRejected)
		return
	}
	defer r.Body.Close()

	// read one byte past the limit to detect oversized bodies
	body, err := io.ReadAll(io.LimitReader(r.Body, g.cfg.MaxRequestSize+1))
	if err != nil {
		g.logger.Debug("Failed to read request body", "request_id", requestID, "error", err)
		g.write(w, http.StatusBadRequest, gateway.Reject("Cannot read request body"))
		g.record(gateway.OutcomeRejected)
		return
	}
	if int64(len(body)) > g.cfg.MaxRequestSize {
		g.write(w, http.StatusRequestEntityTooLarge, gateway.Reject(gateway.TooLargeMessage))
		g.record(gateway.OutcomeRejected)
		return
	}

	// a client hanging up must not abort a command halfway
	ctx := context.WithoutCancel(r.Context())
	reply, err := g.handler.Handle(ctx, body)
	if err != nil {
		g.logger.Error("Command failed", "request_id", requestID, "error", err)
		g.write(w, http.StatusInternalServerError, gateway.Reject(InternalErrorMessage))
		g.record(gateway.OutcomeFatal)
		return
	}

	g.write(w, http.StatusOK, reply)
	g.record(gateway.OutcomeReplied)
}

func (g *Gateway) write(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		g.logger.Debug("Failed to write response", "error", err)
	}
}

func (g *Gateway) record(outcome string) {
	if g.metrics != nil {
		g.metrics.RecordGatewayRequest(transport, outcome)
	}
}
