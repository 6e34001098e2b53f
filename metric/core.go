package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric exported by graphbus.
const Namespace = "graphbus"

// Metrics holds the gateway-level metrics shared by every component.
type Metrics struct {
	// Dispatcher
	CommandsReceived *prometheus.CounterVec
	Replies          *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
	ErrorsTotal      *prometheus.CounterVec
	Transactions     *prometheus.CounterVec
	SessionsOpen     prometheus.Gauge

	// Transports
	GatewayRequests   *prometheus.CounterVec
	EventsPublished   prometheus.Counter
	RateLimitRejected prometheus.Counter

	// NATS connection
	NATSConnected      prometheus.Gauge
	NATSRTT            prometheus.Gauge
	NATSReconnects     prometheus.Counter
	NATSCircuitBreaker prometheus.Gauge
}

// NewMetrics creates unregistered core metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		CommandsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "dispatch",
				Name:      "commands_total",
				Help:      "Total number of commands received, by action",
			},
			[]string{"action"},
		),

		Replies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "dispatch",
				Name:      "replies_total",
				Help:      "Total number of replies, by action and status",
			},
			[]string{"action", "status"},
		),

		DispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "dispatch",
				Name:      "duration_seconds",
				Help:      "Command handling duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"action"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of failed commands, by error kind",
			},
			[]string{"kind"},
		),

		Transactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "session",
				Name:      "transactions_total",
				Help:      "Transactions finished, by outcome (commit, rollback)",
			},
			[]string{"outcome"},
		),

		SessionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "session",
				Name:      "open",
				Help:      "Number of graph sessions currently open",
			},
		),

		GatewayRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "Requests handled by a transport, by transport and outcome",
			},
			[]string{"transport", "outcome"},
		),

		EventsPublished: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "gateway",
				Name:      "events_published_total",
				Help:      "Mutation events published",
			},
		),

		RateLimitRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "gateway",
				Name:      "rate_limited_total",
				Help:      "Commands rejected by the inbound rate limiter",
			},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSRTT: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "nats",
				Name:      "rtt_milliseconds",
				Help:      "NATS round-trip time in milliseconds",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),

		NATSCircuitBreaker: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "nats",
				Name:      "circuit_breaker",
				Help:      "NATS circuit breaker status (0=closed, 1=open, 2=half-open)",
			},
		),
	}
}

func (c *Metrics) register(reg prometheus.Registerer) {
	reg.MustRegister(
		c.CommandsReceived,
		c.Replies,
		c.DispatchDuration,
		c.ErrorsTotal,
		c.Transactions,
		c.SessionsOpen,
		c.GatewayRequests,
		c.EventsPublished,
		c.RateLimitRejected,
		c.NATSConnected,
		c.NATSRTT,
		c.NATSReconnects,
		c.NATSCircuitBreaker,
	)
}

// RecordCommand counts an inbound command.
func (c *Metrics) RecordCommand(action string) {
	c.CommandsReceived.WithLabelValues(action).Inc()
}

// RecordReply counts a reply and observes how long the command took.
func (c *Metrics) RecordReply(action, status string, duration time.Duration) {
	c.Replies.WithLabelValues(action, status).Inc()
	c.DispatchDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordError increments the error counter for an error kind
func (c *Metrics) RecordError(kind string) {
	c.ErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordTransaction counts a commit or rollback.
func (c *Metrics) RecordTransaction(outcome string) {
	c.Transactions.WithLabelValues(outcome).Inc()
}

// SessionOpened increments the open session gauge.
func (c *Metrics) SessionOpened() { c.SessionsOpen.Inc() }

// SessionClosed decrements the open session gauge.
func (c *Metrics) SessionClosed() { c.SessionsOpen.Dec() }

// RecordGatewayRequest counts a request handled by a transport.
func (c *Metrics) RecordGatewayRequest(transport, outcome string) {
	c.GatewayRequests.WithLabelValues(transport, outcome).Inc()
}

// RecordEventPublished counts a published mutation event.
func (c *Metrics) RecordEventPublished() {
	c.EventsPublished.Inc()
}

// RecordRateLimited counts a command rejected by the rate limiter.
func (c *Metrics) RecordRateLimited() {
	c.RateLimitRejected.Inc()
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSRTT updates NATS round-trip time
func (c *Metrics) RecordNATSRTT(rtt time.Duration) {
	c.NATSRTT.Set(float64(rtt.Milliseconds()))
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}

// RecordCircuitBreakerState updates circuit breaker status
func (c *Metrics) RecordCircuitBreakerState(state int) {
	c.NATSCircuitBreaker.Set(float64(state))
}
