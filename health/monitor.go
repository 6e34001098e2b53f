package health

import (
	"cmp"
	"encoding/json"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"
)

// Monitor keeps the latest status per named part. NATS callbacks update it
// from their own goroutines.
type Monitor struct {
	started time.Time

	mu      sync.RWMutex
	parts   map[string]Status
	changed time.Time
}

// NewMonitor returns an empty monitor; uptime counts from here.
func NewMonitor() *Monitor {
	now := time.Now()
	return &Monitor{started: now, parts: map[string]Status{}, changed: now}
}

// Update stores status under name. The stored Component is always name.
func (m *Monitor) Update(name string, status Status) {
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.parts[name]; !ok || prev.Status != status.Status {
		m.changed = status.Timestamp
	}
	m.parts[name] = status
}

func (m *Monitor) UpdateHealthy(name, message string)   { m.Update(name, NewHealthy(name, message)) }
func (m *Monitor) UpdateDegraded(name, message string)  { m.Update(name, NewDegraded(name, message)) }
func (m *Monitor) UpdateUnhealthy(name, message string) { m.Update(name, NewUnhealthy(name, message)) }

// UpdateFromError stores FromError(name, err, message).
func (m *Monitor) UpdateFromError(name string, err error, message string) {
	m.Update(name, FromError(name, err, message))
}

func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.parts[name]
	return s, ok
}

// AggregateHealth is the process status named systemName, with the parts
// sorted by name.
func (m *Monitor) AggregateHealth(systemName string) Status {
	m.mu.RLock()
	parts := slices.Collect(maps.Values(m.parts))
	stats := &Metrics{Uptime: time.Since(m.started), LastChange: m.changed}
	m.mu.RUnlock()

	slices.SortFunc(parts, func(a, b Status) int { return cmp.Compare(a.Component, b.Component) })
	return Aggregate(systemName, parts).WithMetrics(stats)
}

// Handler serves AggregateHealth as JSON. Only unhealthy answers 503, so a
// degraded gateway stays in a load balancer's rotation.
func (m *Monitor) Handler(systemName string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		status := m.AggregateHealth(systemName)
		w.Header().Set("Content-Type", "application/json")
		if status.IsUnhealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	})
}
