package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/graphbus/errors"
	"github.com/c360/graphbus/metric"
)

const (
	healthPollInterval = 10 * time.Second
	handlerTimeout     = 30 * time.Second
)

var (
	ErrNotConnected = stderrors.New("not connected to NATS")
	ErrCircuitOpen  = stderrors.New("circuit breaker is open")
	ErrClientClosed = stderrors.New("client is closed")
)

// Msg is an inbound message. Reply is empty for plain publishes.
type Msg struct {
	Subject string
	Reply   string
	Data    []byte
}

// MsgHandler handles one inbound message.
type MsgHandler func(ctx context.Context, msg Msg)

// Client owns one NATS connection. Connection attempts and JetStream bucket
// calls go through a circuit breaker so a dead server is not hammered.
type Client struct {
	url     string
	logger  Logger
	metrics *metric.Metrics
	status  atomic.Int32
	breaker *breaker
	closed  atomic.Bool

	// option values, read when the connection is built
	clientName       string
	maxReconnects    int
	reconnectWait    time.Duration
	pingInterval     time.Duration
	timeout          time.Duration
	drainTimeout     time.Duration
	circuitThreshold int32
	maxBackoff       time.Duration
	username         string
	password         string
	token            string
	tlsCertFile      string
	tlsKeyFile       string
	tlsCAFile        string
	onHealthChange   func(bool)

	mu       sync.RWMutex // guards the connection state below and onHealthChange
	conn     *nats.Conn
	js       jetstream.JetStream
	subs     []*nats.Subscription
	stopDone chan struct{}

	closeMu sync.Mutex
}

// NewClient builds a disconnected client for url.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:              url,
		logger:           NewSlogLogger(nil),
		maxReconnects:    -1,
		reconnectWait:    2 * time.Second,
		pingInterval:     30 * time.Second,
		timeout:          5 * time.Second,
		drainTimeout:     30 * time.Second,
		circuitThreshold: 5,
		maxBackoff:       time.Minute,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}
	c.breaker = newBreaker(c.circuitThreshold, c.maxBackoff)
	c.logger.Debugf("Created NATS client for %s", url)
	return c, nil
}

func (c *Client) URL() string { return c.url }

func (c *Client) Status() ConnectionStatus { return ConnectionStatus(c.status.Load()) }

// IsHealthy reports whether the connection is up.
func (c *Client) IsHealthy() bool { return c.Status() == StatusConnected }

// Failures is the number of failures since the last success.
func (c *Client) Failures() int32 { return c.breaker.failures() }

// Backoff is how long the circuit stays open the next time it trips.
func (c *Client) Backoff() time.Duration { return c.breaker.backoff() }

func (c *Client) setStatus(s ConnectionStatus) {
	c.status.Store(int32(s))
	if c.metrics == nil {
		return
	}
	c.metrics.RecordNATSStatus(s == StatusConnected)
	open := 0
	if s == StatusCircuitOpen {
		open = 1
	}
	c.metrics.RecordCircuitBreakerState(open)
}

func (c *Client) recordFailure() {
	pause := c.breaker.failure()
	if pause == 0 {
		if c.breaker.isOpen() {
			c.logger.Debugf("Circuit breaker still open, next backoff %v", c.breaker.backoff())
		}
		return
	}
	c.setStatus(StatusCircuitOpen)
	c.logger.Infof("Circuit breaker opened, retrying in %v", pause)
	time.AfterFunc(pause, c.halfOpen)
}

func (c *Client) halfOpen() {
	if c.breaker.halfOpen() && c.Status() == StatusCircuitOpen {
		c.logger.Debugf("Circuit breaker half-open")
		c.setStatus(StatusDisconnected)
	}
}

func (c *Client) resetCircuit() {
	c.breaker.reset()
	if c.Status() == StatusCircuitOpen {
		c.setStatus(StatusDisconnected)
	}
}

// WaitForConnection blocks until the client is connected or ctx ends.
func (c *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for !c.IsHealthy() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("connection timeout: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

// ConnectionOptions are the nats.go options the next Connect uses.
func (c *Client) ConnectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.PingInterval(c.pingInterval),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(c.handleClosed),
		nats.ErrorHandler(c.handleError),
	}
	if c.username != "" && c.password != "" {
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}
	if c.token != "" {
		opts = append(opts, nats.Token(c.token))
	}
	if c.tlsCertFile != "" && c.tlsKeyFile != "" {
		opts = append(opts, nats.ClientCert(c.tlsCertFile, c.tlsKeyFile))
	}
	if c.tlsCAFile != "" {
		opts = append(opts, nats.RootCAs(c.tlsCAFile))
	}
	if c.clientName != "" {
		opts = append(opts, nats.Name(c.clientName))
	}
	return opts
}

type dialResult struct {
	conn *nats.Conn
	js   jetstream.JetStream
	err  error
}

func (c *Client) dial(opts []nats.Option) dialResult {
	conn, err := nats.Connect(c.url, opts...)
	if err != nil {
		return dialResult{err: err}
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return dialResult{err: err}
	}
	return dialResult{conn: conn, js: js}
}

// Connect dials the server. It fails fast with ErrCircuitOpen while the
// breaker is open.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if c.breaker.isOpen() {
		return ErrCircuitOpen
	}

	c.setStatus(StatusConnecting)
	c.logger.Infof("Connecting to NATS at %s", c.url)

	results := make(chan dialResult, 1)
	opts := c.ConnectionOptions()
	go func() { results <- c.dial(opts) }()

	var res dialResult
	select {
	case res = <-results:
	case <-ctx.Done():
		// a dial that completes late must not leak its connection
		go func() {
			if late := <-results; late.conn != nil {
				late.conn.Close()
			}
		}()
		res.err = ctx.Err()
	}

	if res.err != nil {
		c.recordFailure()
		if c.breaker.isOpen() {
			return ErrCircuitOpen
		}
		c.setStatus(StatusDisconnected)
		return errors.WrapTransient(res.err, "Client", "Connect", "establish connection")
	}

	c.mu.Lock()
	c.conn, c.js = res.conn, res.js
	c.mu.Unlock()

	c.setStatus(StatusConnected)
	c.resetCircuit()
	c.logger.Infof("Connected to NATS at %s", c.url)

	c.startWatch()
	if fn := c.healthCallback(); fn != nil {
		fn(true)
	}
	return nil
}

// Close unsubscribes, drains and closes the connection. Later calls are no-ops.
func (c *Client) Close(ctx context.Context) error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.stopWatch()

	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil && !stderrors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, errors.Wrap(err, "Client", "Close", "unsubscribe "+sub.Subject))
		}
	}
	c.subs = nil

	if c.conn != nil {
		if err := c.drain(ctx, c.conn); err != nil {
			errs = append(errs, err)
		}
		c.conn.Close()
		c.conn, c.js = nil, nil
	}

	c.username, c.password, c.token = "", "", ""
	c.setStatus(StatusDisconnected)

	for _, err := range errs {
		c.logger.Errorf("Close: %v", err)
	}
	return stderrors.Join(errs...)
}

// drain waits for conn to flush, bounded by the drain timeout or ctx's deadline.
func (c *Client) drain(ctx context.Context, conn *nats.Conn) error {
	limit := c.drainTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left > 0 {
			limit = min(limit, left)
		}
	}

	done := make(chan error, 1)
	go func() { done <- conn.Drain() }()

	select {
	case err := <-done:
		if err != nil {
			return errors.Wrap(err, "Client", "Close", "drain connection")
		}
		return nil
	case <-time.After(limit):
		return errors.WrapTransient(fmt.Errorf("drain timeout after %v", limit), "Client", "Close", "drain")
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "Client", "Close", "drain cancelled")
	}
}

func (c *Client) connection() *nats.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil || !c.conn.IsConnected() {
		return nil
	}
	return c.conn
}

// RTT measures a round trip to the server.
func (c *Client) RTT() (time.Duration, error) {
	conn := c.connection()
	if conn == nil {
		return 0, ErrNotConnected
	}
	return conn.RTT()
}

// QueueSubscribe delivers each message on subject to one member of queue; an
// empty queue delivers to every subscriber. Handlers get a context derived
// from ctx that expires after handlerTimeout.
func (c *Client) QueueSubscribe(ctx context.Context, subject, queue string, handler MsgHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || !c.conn.IsConnected() {
		return ErrNotConnected
	}

	deliver := func(msg *nats.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, handlerTimeout)
		defer cancel()
		handler(msgCtx, Msg{Subject: msg.Subject, Reply: msg.Reply, Data: msg.Data})
	}

	sub, err := c.conn.QueueSubscribe(subject, queue, deliver)
	if err != nil {
		return errors.WrapTransient(err, "Client", "QueueSubscribe", "subscribe "+subject)
	}
	c.subs = append(c.subs, sub)
	return nil
}

// Publish sends data to subject without waiting for a reply.
func (c *Client) Publish(_ context.Context, subject string, data []byte) error {
	conn := c.connection()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Publish(subject, data)
}

// Request sends data to subject and waits for one reply.
func (c *Client) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	conn := c.connection()
	if conn == nil {
		return nil, ErrNotConnected
	}
	reply, err := conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "Request", "request "+subject)
	}
	return reply.Data, nil
}
