package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/graphbus/metric"
)

type state int

const (
	idle state = iota
	running
	stopped
)

// Pool runs a fixed number of workers over a bounded queue of T.
type Pool[T any] struct {
	size     int
	capacity int
	process  func(context.Context, T) error
	onError  func(T, error)

	// mu guards state and the queue close; Submit sends under the read lock
	// so Stop never closes the channel mid-send.
	mu    sync.RWMutex
	state state
	queue chan T
	done  sync.WaitGroup

	counts  counts
	metrics *poolMetrics

	registry  *metric.MetricsRegistry
	subsystem string
}

type counts struct {
	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	panics    atomic.Int64
}

// PoolStats is a point-in-time copy of the pool counters.
type PoolStats struct {
	Workers   int
	QueueSize int
	Queued    int
	Submitted int64
	Processed int64
	Failed    int64
	Dropped   int64
	Panics    int64
}

// Option configures a Pool.
type Option[T any] func(*Pool[T])

// WithMetricsRegistry exports item, queue and latency metrics under subsystem.
func WithMetricsRegistry[T any](registry *metric.MetricsRegistry, subsystem string) Option[T] {
	return func(p *Pool[T]) {
		p.registry = registry
		p.subsystem = subsystem
	}
}

// WithErrorHandler receives every item whose processor returned an error or panicked.
func WithErrorHandler[T any](fn func(T, error)) Option[T] {
	return func(p *Pool[T]) { p.onError = fn }
}

// NewPool builds a pool with size workers and room for capacity queued items.
// Non-positive values fall back to 10 workers and 1000 slots.
func NewPool[T any](size, capacity int, process func(context.Context, T) error, opts ...Option[T]) (*Pool[T], error) {
	if process == nil {
		return nil, ErrNilProcessor
	}
	if size <= 0 {
		size = 10
	}
	if capacity <= 0 {
		capacity = 1000
	}

	p := &Pool[T]{
		size:     size,
		capacity: capacity,
		process:  process,
		queue:    make(chan T, capacity),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.registry != nil {
		m, err := registerPoolMetrics(p.registry, p.subsystem, func() float64 { return float64(len(p.queue)) })
		if err != nil {
			return nil, err
		}
		p.metrics = m
	}
	return p, nil
}

// Start launches the workers. They exit when ctx is cancelled or Stop drains the queue.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case running:
		return ErrPoolAlreadyStarted
	case stopped:
		return ErrPoolStopped
	}
	p.state = running

	p.done.Add(p.size)
	for range p.size {
		go p.work(ctx)
	}
	return nil
}

// Submit enqueues item without blocking. A full queue drops the item and
// returns ErrQueueFull.
func (p *Pool[T]) Submit(item T) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	switch p.state {
	case idle:
		return ErrPoolNotStarted
	case stopped:
		return ErrPoolStopped
	}

	select {
	case p.queue <- item:
		p.counts.submitted.Add(1)
		p.metrics.observe("submitted")
		return nil
	default:
		p.counts.dropped.Add(1)
		p.metrics.observe("dropped")
		return ErrQueueFull
	}
}

// Stop closes the queue and waits up to timeout for queued items to finish.
// Calling it again is a no-op.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.mu.Lock()
	prev := p.state
	p.state = stopped
	if prev == running {
		close(p.queue)
	}
	p.mu.Unlock()

	if prev != running {
		return nil
	}

	finished := make(chan struct{})
	go func() {
		p.done.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("%w after %s", ErrStopTimeout, timeout)
	}
}

// Stats returns the current counters.
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:   p.size,
		QueueSize: p.capacity,
		Queued:    len(p.queue),
		Submitted: p.counts.submitted.Load(),
		Processed: p.counts.processed.Load(),
		Failed:    p.counts.failed.Load(),
		Dropped:   p.counts.dropped.Load(),
		Panics:    p.counts.panics.Load(),
	}
}

func (p *Pool[T]) work(ctx context.Context) {
	defer p.done.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-p.queue:
			if !ok {
				return
			}
			p.handle(ctx, item)
		}
	}
}

func (p *Pool[T]) handle(ctx context.Context, item T) {
	start := time.Now()
	err := p.safeProcess(ctx, item)
	p.counts.processed.Add(1)

	result := "ok"
	if err != nil {
		result = "error"
		p.counts.failed.Add(1)
		p.metrics.observe("failed")
		if p.onError != nil {
			p.onError(item, err)
		}
	}
	p.metrics.timed(result, time.Since(start))
}

// safeProcess converts a processor panic into an ErrProcessorPanic error.
func (p *Pool[T]) safeProcess(ctx context.Context, item T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.counts.panics.Add(1)
			p.metrics.observe("panicked")
			err = fmt.Errorf("%w: %v", ErrProcessorPanic, r)
		}
	}()
	return p.process(ctx, item)
}

type poolMetrics struct {
	items    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func registerPoolMetrics(registry *metric.MetricsRegistry, subsystem string, depth func() float64) (*poolMetrics, error) {
	m := &poolMetrics{
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graphbus",
			Subsystem: subsystem,
			Name:      "worker_items_total",
			Help:      "Work items by outcome: submitted, dropped, failed or panicked",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "graphbus",
			Subsystem: subsystem,
			Name:      "worker_duration_seconds",
			Help:      "Time spent processing one work item",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"result"}),
	}
	queued := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "graphbus",
		Subsystem: subsystem,
		Name:      "worker_queue_depth",
		Help:      "Items waiting for a worker",
	}, depth)

	if err := registry.Register(subsystem, "worker_items", m.items); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogramVec(subsystem, "worker_duration", m.duration); err != nil {
		return nil, err
	}
	if err := registry.Register(subsystem, "worker_queue_depth", queued); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *poolMetrics) observe(outcome string) {
	if m != nil {
		m.items.WithLabelValues(outcome).Inc()
	}
}

func (m *poolMetrics) timed(result string, d time.Duration) {
	if m != nil {
		m.duration.WithLabelValues(result).Observe(d.Seconds())
	}
}
