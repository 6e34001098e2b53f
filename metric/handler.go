package metric

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360/graphbus/errors"
)

const (
	defaultPort = 9090
	defaultPath = "/metrics"
	healthPath  = "/health"
)

// Server serves the registry in Prometheus format next to a health probe.
type Server struct {
	registry *MetricsRegistry
	port     int
	path     string
	health   http.Handler

	mu      sync.Mutex
	srv     *http.Server
	ln      net.Listener
	stopped bool
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithHealthHandler answers /health with h instead of a plain 200 "OK".
func WithHealthHandler(h http.Handler) ServerOption {
	return func(s *Server) { s.health = h }
}

// NewServer creates a metrics server. Port 0 means 9090 and an empty path
// means /metrics. Port -1 binds an ephemeral loopback port.
func NewServer(registry *MetricsRegistry, port int, path string, opts ...ServerOption) *Server {
	s := &Server{registry: registry, port: port, path: path}
	if s.port == 0 {
		s.port = defaultPort
	}
	if s.path == "" {
		s.path = defaultPath
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler routes the metrics path and /health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.HandlerFor(s.registry.PrometheusRegistry(),
		promhttp.HandlerOpts{EnableOpenMetrics: true}))

	health := s.health
	if health == nil {
		health = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("OK"))
		})
	}
	mux.Handle(healthPath, health)
	return mux
}

func (s *Server) bindAddr() string {
	if s.port < 0 {
		return "127.0.0.1:0"
	}
	return fmt.Sprintf(":%d", s.port)
}

// Listen binds the port so Address reports the real one before Start serves.
// Start calls it when the caller has not.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listenLocked()
}

func (s *Server) listenLocked() error {
	switch {
	case s.registry == nil:
		return errors.WrapFatal(errors.ErrMissingConfig, "Server", "Listen", "metrics registry not provided")
	case s.ln != nil:
		return nil
	}
	ln, err := net.Listen("tcp", s.bindAddr())
	if err != nil {
		return errors.WrapFatal(err, "Server", "Listen", "listen on "+s.bindAddr())
	}
	s.ln = ln
	return nil
}

// Start serves until Stop. It blocks and returns nil on a clean stop, or at
// once when Stop came first.
func (s *Server) Start() error {
	s.mu.Lock()
	switch {
	case s.stopped:
		s.mu.Unlock()
		return nil
	case s.srv != nil:
		s.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Server", "Start", "metrics server running")
	}
	if err := s.listenLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	s.srv = srv
	ln := s.ln
	s.mu.Unlock()

	if err := srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return errors.WrapFatal(err, "Server", "Start", "serve metrics")
	}
	return nil
}

// Stop shuts the server down. It is safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true

	var err error
	switch {
	case s.srv != nil:
		err = s.srv.Shutdown(ctx)
	case s.ln != nil:
		err = s.ln.Close()
	}
	s.srv, s.ln = nil, nil
	if err != nil {
		return errors.WrapTransient(err, "Server", "Stop", "shut down metrics server")
	}
	return nil
}

// Address is the metrics URL, with the bound port once listening.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return "http://" + s.ln.Addr().String() + s.path
	}
	return fmt.Sprintf("http://localhost:%d%s", s.port, s.path)
}
