// Package metric provides the Prometheus registry and metrics HTTP server for graphbus.
//
// A MetricsRegistry carries the core gateway metrics (commands, replies, dispatch latency,
// errors by kind, transactions, open sessions, transport and NATS health) and accepts
// component collectors keyed by subsystem and name, so two components cannot silently
// register the same one:
//
//	registry := metric.NewMetricsRegistry()
//	registry.CoreMetrics().RecordCommand("addVertex")
//
//	hits := prometheus.NewCounter(prometheus.CounterOpts{Name: "hits_total"})
//	if err := registry.Register("query_cache", "hits", hits); err != nil {
//		return err
//	}
//
// Server exposes the registry at /metrics with a /health probe:
//
//	server := metric.NewServer(registry, 9090, "/metrics", metric.WithHealthHandler(probe))
//	if err := server.Listen(); err != nil {
//		return err
//	}
//	go server.Start()
//	defer server.Stop(ctx)
package metric
