// Package websocket serves graph commands over WebSocket connections.
//
// Each text frame a client sends is one command; the reply comes back as one
// text frame, in the order the commands arrived on that connection. A fatal
// handler error closes the connection with an internal error close code.
package websocket

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/graphbus/errors"
	"github.com/c360/graphbus/gateway"
	"github.com/c360/graphbus/metric"
)

const transport = "websocket"

// TextOnlyMessage answers binary frames.
const TextOnlyMessage = "Commands must be sent as text frames"

// Config configures the gateway
type Config struct {
	Addr           string
	Path           string
	MaxMessageSize int64

	// TLS, when set, makes Start serve wss.
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

// WithMetrics counts commands by outcome.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(g *Gateway) {
		if registry != nil {
			g.metrics = registry.CoreMetrics()
		}
	}
}

// Gateway bridges WebSocket clients to a gateway.Handler.
type Gateway struct {
	handler  gateway.Handler
	cfg      Config
	logger   *slog.Logger
	metrics  *metric.Metrics
	upgrader websocket.Upgrader
	mux      *http.ServeMux

	clientsMu sync.Mutex
	clients   map[*websocket.Conn]struct{}
	wg        sync.WaitGroup

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	done     chan struct{}
}

// New creates a gateway. Path defaults to "/" and MaxMessageSize to 1MB.
func New(handler gateway.Handler, cfg Config, opts ...Option) (*Gateway, error) {
	if handler == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "websocket.Gateway", "New", "handler check")
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 1 << 20
	}

	g := &Gateway{
		handler: handler,
		cfg:     cfg,
		logger:  slog.Default(),
		upgrader: websocket.Upgrader{
			// commands carry no ambient credentials, so any origin may connect
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		mux:     http.NewServeMux(),
		clients: make(map[*websocket.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "gateway", "transport", transport)
	g.mux.HandleFunc(cfg.Path, g.handleUpgrade)
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
		return errors.WrapFatal(errors.ErrAlreadyStarted, "websocket.Gateway", "Start", "start check")
	}

	ln, err := net.Listen("tcp", g.cfg.Addr)
	if err != nil {
		return errors.WrapFatal(err, "websocket.Gateway", "Start", "listen on "+g.cfg.Addr)
	}
	if g.cfg.TLS != nil {
		ln = tls.NewListener(ln, g.cfg.TLS)
	}
	g.listener = ln
	g.server = &http.Server{Handler: g, ReadHeaderTimeout: 10 * time.Second}
	g.done = make(chan struct{})

	go func(server *http.Server, done chan struct{}) {
		defer close(done)
		if err := server.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			g.logger.Error("WebSocket server failed", "error", err)
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

// Stop shuts the server down, closes every client and waits up to timeout for
// commands in flight.
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
	// hijacked connections are not tracked by Shutdown
	shutdownErr := server.Shutdown(ctx)
	<-done
	g.closeAllClients()

	finished := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "websocket.Gateway", "Stop", "wait for clients")
	}
	if shutdownErr != nil {
		return errors.WrapTransient(shutdownErr, "websocket.Gateway", "Stop", "shutdown server")
	}
	return nil
}

// Clients returns the number of open connections.
func (g *Gateway) Clients() int {
	g.clientsMu.Lock()
	defer g.clientsMu.Unlock()
	return len(g.clients)
}

func (g *Gateway) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		g.logger.Debug("Upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(g.cfg.MaxMessageSize)

	g.clientsMu.Lock()
	g.clients[conn] = struct{}{}
	g.clientsMu.Unlock()

	g.wg.Add(1)
	go g.serveClient(conn)
}

// serveClient reads commands until the connection closes. Replies are written
// from this goroutine only, so writes never race.
func (g *Gateway) serveClient(conn *websocket.Conn) {
	defer g.wg.Done()
	defer g.removeClient(conn)

	// a client hanging up must not abort a command halfway
	ctx := context.Background()
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if stderrors.Is(err, websocket.ErrReadLimit) {
				g.record(gateway.OutcomeRejected)
				g.closeWith(conn, websocket.CloseMessageTooBig, gateway.TooLargeMessage)
			} else if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Debug("Connection closed", "remote", conn.RemoteAddr().String(), "error", err)
			}
			return
		}

		if kind != websocket.TextMessage {
			g.record(gateway.OutcomeRejected)
			if err := conn.WriteMessage(websocket.TextMessage, gateway.Reject(TextOnlyMessage)); err != nil {
				return
			}
			continue
		}

		reply, err := g.handler.Handle(ctx, data)
		if err != nil {
			g.record(gateway.OutcomeFatal)
			g.logger.Error("Command failed", "remote", conn.RemoteAddr().String(), "error", err)
			g.closeWith(conn, websocket.CloseInternalServerErr, "internal error")
			return
		}
		g.record(gateway.OutcomeReplied)

		if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
			g.logger.Debug("Failed to write reply", "error", err)
			return
		}
	}
}

func (g *Gateway) closeWith(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

func (g *Gateway) removeClient(conn *websocket.Conn) {
	g.clientsMu.Lock()
	delete(g.clients, conn)
	g.clientsMu.Unlock()
	_ = conn.Close()
}

func (g *Gateway) closeAllClients() {
	g.clientsMu.Lock()
	defer g.clientsMu.Unlock()
	for conn := range g.clients {
		g.closeWith(conn, websocket.CloseGoingAway, "server shutting down")
		_ = conn.Close()
	}
}

func (g *Gateway) record(outcome string) {
	if g.metrics != nil {
		g.metrics.RecordGatewayRequest(transport, outcome)
	}
}
