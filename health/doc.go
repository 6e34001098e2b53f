// Package health tracks the state of the gateway's moving parts (the NATS
// connection, the graph backend, each transport) and serves the roll-up as JSON.
//
// Parts report one of three states. Aggregation is pessimistic: one unhealthy
// part makes the process unhealthy, and the HTTP handler answers 503 in that
// case only.
//
//	monitor := health.NewMonitor()
//	monitor.UpdateHealthy("backend", "sqlite")
//	monitor.UpdateFromError("nats", err, "connected")
//	mux.Handle("/health", monitor.Handler("graphbus"))
//
// Error messages pass through a sanitizer that masks URLs, paths, addresses
// and credentials before they reach the endpoint.
package health
