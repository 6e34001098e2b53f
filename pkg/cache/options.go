package cache

import (
	"github.com/c360/graphbus/metric"
)

// Option configures a cache at construction time.
type Option[V any] func(*options[V])

type options[V any] struct {
	registry *metric.MetricsRegistry
	name     string
	onEvict  EvictCallback[V]
}

// WithMetrics mirrors the statistics into registry, labelled cache=name. A nil
// registry or empty name leaves metrics off.
func WithMetrics[V any](registry *metric.MetricsRegistry, name string) Option[V] {
	return func(o *options[V]) {
		o.registry, o.name = registry, name
	}
}

// WithEvictionCallback sets the callback for entries leaving the cache.
func WithEvictionCallback[V any](fn EvictCallback[V]) Option[V] {
	return func(o *options[V]) {
		o.onEvict = fn
	}
}
