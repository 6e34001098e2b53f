package metric

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/graphbus/errors"
)

func gatheredNames(t *testing.T, r *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestMetricsRegistry_RegisterKinds(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter", Help: "c"})
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "g"})
	histogramVec := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "test_histogram_vec", Help: "hv"}, []string{"l"})
	summary := prometheus.NewSummary(prometheus.SummaryOpts{Name: "test_summary", Help: "s"})

	require.NoError(t, registry.RegisterCounter("svc", "counter", counter))
	require.NoError(t, registry.RegisterGauge("svc", "gauge", gauge))
	require.NoError(t, registry.RegisterHistogramVec("svc", "histogram_vec", histogramVec))
	require.NoError(t, registry.Register("svc", "summary", summary))

	counter.Inc()
	gauge.Set(3)
	histogramVec.WithLabelValues("x").Observe(0.2)
	summary.Observe(1)

	names := gatheredNames(t, registry)
	for _, n := range []string{"test_counter", "test_gauge", "test_histogram_vec", "test_summary"} {
		assert.True(t, names[n], "%s should be registered", n)
	}
}

func TestMetricsRegistry_PreventDuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	first := prometheus.NewCounter(prometheus.CounterOpts{Name: "duplicate_counter", Help: "dup"})
	second := prometheus.NewCounter(prometheus.CounterOpts{Name: "duplicate_counter", Help: "dup"})

	require.NoError(t, registry.RegisterCounter("svc", "dup", first))

	err := registry.RegisterCounter("svc", "dup", second)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.Contains(t, err.Error(), "duplicate metric registration")

	err = registry.RegisterCounter("other", "dup", second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prometheus conflict")
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "unregister_counter", Help: "u"})
	require.NoError(t, registry.RegisterCounter("svc", "unregister", counter))
	counter.Inc()
	assert.True(t, gatheredNames(t, registry)["unregister_counter"])

	assert.True(t, registry.Unregister("svc", "unregister"))
	assert.False(t, gatheredNames(t, registry)["unregister_counter"])
	assert.False(t, registry.Unregister("svc", "unregister"))

	// the key is free again
	require.NoError(t, registry.RegisterCounter("svc", "unregister", counter))
}

func TestMetricsRegistry_ThreadSafety(t *testing.T) {
	registry := NewMetricsRegistry()

	var wg sync.WaitGroup
	const n = 10
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			counter := prometheus.NewCounter(prometheus.CounterOpts{
				Name: fmt.Sprintf("concurrent_counter_%d", id),
				Help: "A concurrent counter",
			})
			counter.Inc()
			assert.NoError(t, registry.RegisterCounter("svc", fmt.Sprintf("c%d", id), counter))
		}(i)
	}
	wg.Wait()

	count := 0
	for name := range gatheredNames(t, registry) {
		if strings.HasPrefix(name, "concurrent_counter_") {
			count++
		}
	}
	assert.Equal(t, n, count)
}

func TestCoreMetrics_Record(t *testing.T) {
	registry := NewMetricsRegistry()
	core := registry.CoreMetrics()

	core.RecordCommand("addVertex")
	core.RecordCommand("addVertex")
	core.RecordReply("addVertex", "ok", 5*time.Millisecond)
	core.RecordError("not_found")
	core.RecordTransaction("commit")
	core.SessionOpened()
	core.SessionOpened()
	core.SessionClosed()
	core.RecordGatewayRequest("nats", "ok")
	core.RecordEventPublished()
	core.RecordRateLimited()
	core.RecordNATSStatus(true)
	core.RecordNATSRTT(50 * time.Millisecond)
	core.RecordNATSReconnect()
	core.RecordCircuitBreakerState(1)

	assert.Equal(t, 2.0, testutil.ToFloat64(core.CommandsReceived.WithLabelValues("addVertex")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.Replies.WithLabelValues("addVertex", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.ErrorsTotal.WithLabelValues("not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.Transactions.WithLabelValues("commit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.SessionsOpen))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.NATSConnected))
	assert.Equal(t, 50.0, testutil.ToFloat64(core.NATSRTT))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.NATSCircuitBreaker))

	names := gatheredNames(t, registry)
	for _, n := range []string{
		"graphbus_dispatch_commands_total",
		"graphbus_dispatch_replies_total",
		"graphbus_dispatch_duration_seconds",
		"graphbus_errors_total",
		"graphbus_session_transactions_total",
		"graphbus_session_open",
		"graphbus_gateway_requests_total",
		"graphbus_gateway_events_published_total",
		"graphbus_gateway_rate_limited_total",
		"graphbus_nats_connected",
		"graphbus_nats_reconnects_total",
	} {
		assert.True(t, names[n], "core metric %s should be exported", n)
	}
}
