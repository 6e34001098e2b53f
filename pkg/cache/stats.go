package cache

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/graphbus/metric"
)

// Statistics counts cache activity. All methods are safe for concurrent use.
type Statistics struct {
	hits      atomic.Int64
	misses    atomic.Int64
	inserts   atomic.Int64
	updates   atomic.Int64
	removals  atomic.Int64
	evictions atomic.Int64
	size      atomic.Int64
	peak      atomic.Int64

	mirror *mirror
}

// Snapshot is a point-in-time copy of Statistics.
type Snapshot struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Inserts   int64   `json:"inserts"`
	Updates   int64   `json:"updates"`
	Removals  int64   `json:"removals"`
	Evictions int64   `json:"evictions"`
	Size      int64   `json:"size"`
	Peak      int64   `json:"peak"`
	HitRatio  float64 `json:"hit_ratio"`
}

func (s *Statistics) Hits() int64      { return s.hits.Load() }
func (s *Statistics) Misses() int64    { return s.misses.Load() }
func (s *Statistics) Evictions() int64 { return s.evictions.Load() }

// HitRatio is hits over lookups, 0 before the first lookup.
func (s *Statistics) HitRatio() float64 {
	hits, misses := s.hits.Load(), s.misses.Load()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

// Snapshot copies the counters. Counters are read one by one, so a snapshot
// taken under load may be off by the operations in flight.
func (s *Statistics) Snapshot() Snapshot {
	return Snapshot{
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
		Inserts:   s.inserts.Load(),
		Updates:   s.updates.Load(),
		Removals:  s.removals.Load(),
		Evictions: s.evictions.Load(),
		Size:      s.size.Load(),
		Peak:      s.peak.Load(),
		HitRatio:  s.HitRatio(),
	}
}

func (s *Statistics) lookup(hit bool) {
	if hit {
		s.hits.Add(1)
		s.mirror.count("hit")
	} else {
		s.misses.Add(1)
		s.mirror.count("miss")
	}
}

func (s *Statistics) insert(created bool) {
	if created {
		s.inserts.Add(1)
		s.mirror.count("insert")
	} else {
		s.updates.Add(1)
		s.mirror.count("update")
	}
}

func (s *Statistics) remove() {
	s.removals.Add(1)
	s.mirror.count("remove")
}

func (s *Statistics) evict() {
	s.evictions.Add(1)
	s.mirror.count("evict")
}

func (s *Statistics) resize(n int) {
	size := int64(n)
	s.size.Store(size)
	for {
		peak := s.peak.Load()
		if size <= peak || s.peak.CompareAndSwap(peak, size) {
			break
		}
	}
	if s.mirror != nil {
		s.mirror.entries.Set(float64(n))
	}
}

// mirror exports Statistics to Prometheus. A nil mirror records nothing.
type mirror struct {
	operations *prometheus.CounterVec
	entries    prometheus.Gauge
}

func newMirror(registry *metric.MetricsRegistry, name string) (*mirror, error) {
	labels := prometheus.Labels{"cache": name}
	m := &mirror{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "cache",
			Name:        "operations_total",
			Help:        "Cache operations by kind",
			ConstLabels: labels,
		}, []string{"op"}),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "cache",
			Name:        "entries",
			Help:        "Entries currently cached",
			ConstLabels: labels,
		}),
	}
	if err := registry.Register(name, "cache_operations", m.operations); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(name, "cache_entries", m.entries); err != nil {
		registry.Unregister(name, "cache_operations")
		return nil, err
	}
	return m, nil
}

func (m *mirror) count(op string) {
	if m != nil {
		m.operations.WithLabelValues(op).Inc()
	}
}
