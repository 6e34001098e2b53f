package metric

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/c360/graphbus/errors"
)

// MetricsRegistry owns the Prometheus registry, the core gateway metrics and
// the collectors each subsystem registers under a subsystem.name key.
type MetricsRegistry struct {
	prometheusRegistry *prometheus.Registry
	Metrics            *Metrics
	registeredMetrics  map[string]prometheus.Collector
	mu                 sync.RWMutex
}

// NewMetricsRegistry creates a registry with the core metrics and Go runtime collectors registered.
func NewMetricsRegistry() *MetricsRegistry {
	registry := &MetricsRegistry{
		prometheusRegistry: prometheus.NewRegistry(),
		registeredMetrics:  make(map[string]prometheus.Collector),
		Metrics:            NewMetrics(),
	}

	registry.Metrics.register(registry.prometheusRegistry)
	registry.prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return registry
}

// PrometheusRegistry returns the underlying Prometheus registry
func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// CoreMetrics returns the core gateway metrics
func (r *MetricsRegistry) CoreMetrics() *Metrics {
	return r.Metrics
}

// RegisterCounter registers a subsystem counter.
func (r *MetricsRegistry) RegisterCounter(subsystem, name string, counter prometheus.Counter) error {
	return r.Register(subsystem, name, counter)
}

// RegisterGauge registers a subsystem gauge.
func (r *MetricsRegistry) RegisterGauge(subsystem, name string, gauge prometheus.Gauge) error {
	return r.Register(subsystem, name, gauge)
}

// RegisterHistogramVec registers a subsystem histogram vector.
func (r *MetricsRegistry) RegisterHistogramVec(subsystem, name string, vec *prometheus.HistogramVec) error {
	return r.Register(subsystem, name, vec)
}

// Register adds a collector under the subsystem.name key. A key may be held
// by one collector at a time; collisions inside Prometheus are reported as
// invalid too.
func (r *MetricsRegistry) Register(subsystem, name string, c prometheus.Collector) error {
	key := subsystem + "." + name

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.registeredMetrics[key]; taken {
		return errors.WrapInvalid(fmt.Errorf("%s already registered", key),
			"MetricsRegistry", "Register", "duplicate metric registration")
	}

	if err := r.prometheusRegistry.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if stderrors.As(err, &already) {
			return errors.WrapInvalid(err, "MetricsRegistry", "Register", "prometheus conflict for "+key)
		}
		return errors.WrapFatal(err, "MetricsRegistry", "Register", "register "+key)
	}
	r.registeredMetrics[key] = c
	return nil
}

// Unregister frees the subsystem.name key. It reports whether a collector was removed.
func (r *MetricsRegistry) Unregister(subsystem, name string) bool {
	key := subsystem + "." + name

	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.registeredMetrics[key]
	if !ok || !r.prometheusRegistry.Unregister(c) {
		return false
	}
	delete(r.registeredMetrics, key)
	return true
}
