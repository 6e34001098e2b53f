package session

import (
	"bytes"
	"context"
	stderrors "errors"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/graphbus/errors"
	"github.com/c360/graphbus/graph"
	"github.com/c360/graphbus/graph/memgraph"
	"github.com/c360/graphbus/metric"
)

// shutdownFailing reports an error on Shutdown after really shutting down.
type shutdownFailing struct {
	*memgraph.Graph
	shutdowns int
}

func (g *shutdownFailing) Shutdown(ctx context.Context) error {
	g.shutdowns++
	_ = g.Graph.Shutdown(ctx)
	return stderrors.New("close failed")
}

func testLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestOpen_BackendUnavailable(t *testing.T) {
	cause := stderrors.New("dial tcp: connection refused")
	m := NewManager(graph.OpenerFunc(func(context.Context) (graph.Graph, error) {
		return nil, cause
	}), nil)

	s, err := m.Open(context.Background())
	require.Error(t, err)
	assert.Nil(t, s)
	assert.Equal(t, OpenFailedMessage, err.Error())
	assert.ErrorIs(t, err, errors.ErrBackendUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.True(t, errors.IsTransient(err))
}

func TestCommitAndRollback(t *testing.T) {
	ctx := context.Background()
	store := memgraph.New(memgraph.DefaultConfig())
	m := NewManager(store, nil)

	s, err := m.Open(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID())
	assert.True(t, s.Features().SupportsTransactions)

	_, err = s.Graph().AddVertex(ctx, 1, map[string]any{"name": "kept"})
	require.NoError(t, err)
	require.NoError(t, s.CommitIfTransactional(ctx))
	s.Release(ctx)

	s, err = m.Open(ctx)
	require.NoError(t, err)
	_, err = s.Graph().AddVertex(ctx, 2, map[string]any{"name": "discarded"})
	require.NoError(t, err)
	require.NoError(t, s.RollbackIfTransactional(ctx))
	s.Release(ctx)

	vertices, edges := store.Counts()
	assert.Equal(t, 1, vertices)
	assert.Equal(t, 0, edges)
}

func TestNonTransactionalNoOps(t *testing.T) {
	ctx := context.Background()
	cfg := memgraph.DefaultConfig()
	cfg.Features.SupportsTransactions = false
	store := memgraph.New(cfg)

	s, err := NewManager(store, nil).Open(ctx)
	require.NoError(t, err)
	defer s.Release(ctx)

	_, err = s.Graph().AddVertex(ctx, 1, nil)
	require.NoError(t, err)
	assert.NoError(t, s.RollbackIfTransactional(ctx))

	vertices, _ := store.Counts()
	assert.Equal(t, 1, vertices, "rollback must not touch a non-transactional backend")
}

func TestRelease_IdempotentAndSwallowsErrors(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	store := memgraph.New(memgraph.DefaultConfig())
	var wrapped *shutdownFailing

	m := NewManager(graph.OpenerFunc(func(ctx context.Context) (graph.Graph, error) {
		g, err := store.Open(ctx)
		if err != nil {
			return nil, err
		}
		wrapped = &shutdownFailing{Graph: g.(*memgraph.Graph)}
		return wrapped, nil
	}), testLogger(&buf))

	s, err := m.Open(ctx)
	require.NoError(t, err)

	s.Release(ctx)
	s.Release(ctx)

	assert.True(t, s.Released())
	assert.Equal(t, 1, wrapped.shutdowns)
	assert.Contains(t, buf.String(), "session shutdown failed")
	assert.Contains(t, buf.String(), "close failed")

	var nilSession *Session
	assert.NotPanics(t, func() { nilSession.Release(ctx) })
}

func TestReopen(t *testing.T) {
	ctx := context.Background()
	opens := 0
	store := memgraph.New(memgraph.DefaultConfig())
	m := NewManager(graph.OpenerFunc(func(ctx context.Context) (graph.Graph, error) {
		opens++
		if opens > 2 {
			return nil, stderrors.New("backend gone")
		}
		return store.Open(ctx)
	}), nil)

	s, err := m.Open(ctx)
	require.NoError(t, err)
	first := s.Graph()

	require.NoError(t, s.Reopen(ctx))
	assert.NotSame(t, first, s.Graph())
	assert.False(t, s.Released())

	err = s.Reopen(ctx)
	assert.ErrorIs(t, err, errors.ErrBackendUnavailable)
	assert.True(t, s.Released(), "a failed reopen leaves nothing to release")
}

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	registry := metric.NewMetricsRegistry()
	core := registry.CoreMetrics()
	m := NewManager(memgraph.New(memgraph.DefaultConfig()), nil, WithMetrics(registry))

	s1, err := m.Open(ctx)
	require.NoError(t, err)
	s2, err := m.Open(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2.0, testutil.ToFloat64(core.SessionsOpen))

	require.NoError(t, s1.CommitIfTransactional(ctx))
	require.NoError(t, s2.RollbackIfTransactional(ctx))
	s1.Release(ctx)
	s2.Release(ctx)

	assert.Equal(t, 0.0, testutil.ToFloat64(core.SessionsOpen))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.Transactions.WithLabelValues("commit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.Transactions.WithLabelValues("rollback")))
}
