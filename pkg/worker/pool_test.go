package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/graphbus/metric"
)

type testWork struct {
	id    int
	fail  bool
	panic bool
	block chan struct{}
}

func process(_ context.Context, w testWork) error {
	if w.block != nil {
		<-w.block
	}
	if w.panic {
		panic("boom")
	}
	if w.fail {
		return errors.New("work failed")
	}
	return nil
}

func newPool[T any](t *testing.T, size, capacity int, fn func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	t.Helper()
	pool, err := NewPool(size, capacity, fn, opts...)
	require.NoError(t, err)
	return pool
}

func TestNewPool_Defaults(t *testing.T) {
	pool := newPool(t, 0, 0, process)
	stats := pool.Stats()
	assert.Equal(t, 10, stats.Workers)
	assert.Equal(t, 1000, stats.QueueSize)

	_, err := NewPool[testWork](1, 1, nil)
	assert.ErrorIs(t, err, ErrNilProcessor)
}

func TestPool_Lifecycle(t *testing.T) {
	pool := newPool(t, 2, 10, process)

	assert.ErrorIs(t, pool.Submit(testWork{}), ErrPoolNotStarted)

	require.NoError(t, pool.Start(context.Background()))
	assert.ErrorIs(t, pool.Start(context.Background()), ErrPoolAlreadyStarted)

	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(testWork{id: i}))
	}
	require.NoError(t, pool.Stop(time.Second))

	assert.ErrorIs(t, pool.Submit(testWork{}), ErrPoolStopped)
	assert.NoError(t, pool.Stop(time.Second), "second Stop is a no-op")
	assert.ErrorIs(t, pool.Start(context.Background()), ErrPoolStopped)

	stats := pool.Stats()
	assert.Equal(t, int64(5), stats.Submitted)
	assert.Equal(t, int64(5), stats.Processed)
}

func TestPool_QueueFull(t *testing.T) {
	block := make(chan struct{})
	pool := newPool(t, 1, 1, process)
	require.NoError(t, pool.Start(context.Background()))

	// first item occupies the worker, second fills the queue
	require.NoError(t, pool.Submit(testWork{block: block}))
	require.Eventually(t, func() bool { return pool.Stats().Queued == 0 }, time.Second, time.Millisecond)
	require.NoError(t, pool.Submit(testWork{block: block}))

	assert.ErrorIs(t, pool.Submit(testWork{}), ErrQueueFull)
	assert.Equal(t, int64(1), pool.Stats().Dropped)

	close(block)
	require.NoError(t, pool.Stop(time.Second))
}

func TestPool_ErrorsAndPanics(t *testing.T) {
	var mu sync.Mutex
	reported := map[int]error{}
	pool := newPool(t, 2, 10, process, WithErrorHandler(func(w testWork, err error) {
		mu.Lock()
		reported[w.id] = err
		mu.Unlock()
	}))
	require.NoError(t, pool.Start(context.Background()))

	require.NoError(t, pool.Submit(testWork{id: 1}))
	require.NoError(t, pool.Submit(testWork{id: 2, fail: true}))
	require.NoError(t, pool.Submit(testWork{id: 3, panic: true}))
	require.NoError(t, pool.Submit(testWork{id: 4}))
	require.NoError(t, pool.Stop(time.Second))

	stats := pool.Stats()
	assert.Equal(t, int64(4), stats.Processed)
	assert.Equal(t, int64(2), stats.Failed)
	assert.Equal(t, int64(1), stats.Panics)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, reported, 2)
	assert.EqualError(t, reported[2], "work failed")
	assert.ErrorIs(t, reported[3], ErrProcessorPanic)
}

func TestPool_ContextCancellation(t *testing.T) {
	var processed atomic.Int64
	ctx, cancel := context.WithCancel(context.Background())
	pool := newPool(t, 2, 10, func(context.Context, testWork) error {
		processed.Add(1)
		return nil
	})
	require.NoError(t, pool.Start(ctx))

	cancel()
	require.NoError(t, pool.Stop(time.Second), "workers exit on cancellation")
}

func TestPool_StopTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	pool := newPool(t, 1, 1, process)
	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Submit(testWork{block: block}))

	assert.ErrorIs(t, pool.Stop(20*time.Millisecond), ErrStopTimeout)
}

func TestPool_ConcurrentSubmissions(t *testing.T) {
	var processed atomic.Int64
	pool := newPool(t, 4, 1000, func(context.Context, int) error {
		processed.Add(1)
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				assert.NoError(t, pool.Submit(i))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, pool.Stop(5*time.Second))

	assert.Equal(t, int64(500), processed.Load())
}

func TestPool_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	pool := newPool(t, 1, 10, process, WithMetricsRegistry[testWork](registry, "gateway"))
	require.NotNil(t, pool.metrics)

	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Submit(testWork{}))
	require.NoError(t, pool.Submit(testWork{fail: true}))
	require.NoError(t, pool.Submit(testWork{panic: true}))
	require.NoError(t, pool.Stop(time.Second))

	items := pool.metrics.items
	assert.Equal(t, 3.0, testutil.ToFloat64(items.WithLabelValues("submitted")))
	assert.Equal(t, 2.0, testutil.ToFloat64(items.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(items.WithLabelValues("panicked")))
	assert.Equal(t, 2, testutil.CollectAndCount(pool.metrics.duration), "ok and error series")

	// a second pool under the same subsystem collides
	_, err := NewPool(1, 1, process, WithMetricsRegistry[testWork](registry, "gateway"))
	assert.Error(t, err)
}
