package sqlgraph

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/graphbus/errors"
	"github.com/c360/graphbus/graph"
	"github.com/c360/graphbus/testutil"
)

func newStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "graph.db")
	}
	s, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestContract(t *testing.T) {
	testutil.RunGraphContract(t, func(t *testing.T) graph.Opener {
		return newStore(t, Config{})
	})
}

func TestContract_InMemory(t *testing.T) {
	testutil.RunGraphContract(t, func(t *testing.T) graph.Opener {
		return newStore(t, Config{Path: ":memory:"})
	})
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	err := Config{}.Validate()
	assert.ErrorIs(t, err, errors.ErrMissingConfig)

	err = Config{Path: "x.db", BusyTimeout: -1}.Validate()
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestNew_RejectsDirectory(t *testing.T) {
	_, err := New(context.Background(), Config{Path: t.TempDir()})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestSuppliedIDs(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, Config{})
	g, err := s.Open(ctx)
	require.NoError(t, err)
	defer g.Shutdown(ctx)

	v, err := g.AddVertex(ctx, "marko", nil)
	require.NoError(t, err)
	assert.Equal(t, "marko", v.ID)

	n, err := g.AddVertex(ctx, float64(7), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n.ID, "numeric ids are normalized")

	_, err = g.AddVertex(ctx, "marko", nil)
	assert.ErrorIs(t, err, graph.ErrInvalidID)

	got, err := g.Vertex(ctx, "marko")
	require.NoError(t, err)
	assert.Equal(t, "marko", got.ID, "string ids keep their type")
}

func TestIgnoreSuppliedIDs(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, Config{IgnoreSuppliedIDs: true})
	assert.True(t, s.Features().IgnoresSuppliedIDs)

	g, err := s.Open(ctx)
	require.NoError(t, err)
	defer g.Shutdown(ctx)

	v, err := g.AddVertex(ctx, "marko", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.ID)
}

func TestGeneratedIDsSkipTaken(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, Config{})
	g, err := s.Open(ctx)
	require.NoError(t, err)
	defer g.Shutdown(ctx)

	_, err = g.AddVertex(ctx, int64(1), nil)
	require.NoError(t, err)
	v, err := g.AddVertex(ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.ID)
}

func TestReopenStore_KeepsDataAndIndices(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "graph.db")

	s, err := New(ctx, Config{Path: path})
	require.NoError(t, err)
	g, err := s.Open(ctx)
	require.NoError(t, err)
	gg := g.(*Graph)
	v, err := gg.AddVertex(ctx, nil, map[string]any{"name": "lop"})
	require.NoError(t, err)
	require.NoError(t, gg.CreateKeyIndex(ctx, "name", graph.ElementVertex, nil))
	require.NoError(t, gg.Commit(ctx))
	require.NoError(t, gg.Shutdown(ctx))
	require.NoError(t, s.Close())

	s2 := newStore(t, Config{Path: path})
	g2, err := s2.Open(ctx)
	require.NoError(t, err)
	defer g2.Shutdown(ctx)

	keys, err := g2.(*Graph).IndexedKeys(ctx, graph.ElementVertex)
	require.NoError(t, err)
	assert.Equal(t, []string{"name"}, keys)

	found, err := g2.Vertices(ctx, "name", "lop")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, v.ID, found[0].ID)
}

func TestKeyIndex_RejectsUnquotableKeys(t *testing.T) {
	ctx := context.Background()
	g, err := newStore(t, Config{}).Open(ctx)
	require.NoError(t, err)
	defer g.Shutdown(ctx)

	for _, key := range []string{`a"b`, `it's`, `back\slash`} {
		err := g.(*Graph).CreateKeyIndex(ctx, key, graph.ElementVertex, nil)
		assert.ErrorIs(t, err, graph.ErrInvalidProperty, key)
	}
}

func TestIndexedLookup_MatchesScan(t *testing.T) {
	ctx := context.Background()
	g, err := newStore(t, Config{}).Open(ctx)
	require.NoError(t, err)
	defer g.Shutdown(ctx)
	gg := g.(*Graph)

	values := []any{"29", int64(29), 29.5, true, []any{int64(29)}}
	for _, v := range values {
		_, err := gg.AddVertex(ctx, nil, map[string]any{"age": v})
		require.NoError(t, err)
	}

	lookups := []any{"29", int64(29), float64(29), 29.5, true}
	scanned := make(map[int]int)
	for i, want := range lookups {
		vs, err := gg.Vertices(ctx, "age", want)
		require.NoError(t, err)
		scanned[i] = len(vs)
	}

	require.NoError(t, gg.CreateKeyIndex(ctx, "age", graph.ElementVertex, nil))
	for i, want := range lookups {
		vs, err := gg.Vertices(ctx, "age", want)
		require.NoError(t, err)
		assert.Equal(t, scanned[i], len(vs), "lookup %v", want)
	}
}

func TestClosedHandle(t *testing.T) {
	ctx := context.Background()
	g, err := newStore(t, Config{}).Open(ctx)
	require.NoError(t, err)
	require.NoError(t, g.Shutdown(ctx))
	require.NoError(t, g.Shutdown(ctx), "shutdown is idempotent")

	_, err = g.Vertex(ctx, 1)
	assert.ErrorIs(t, err, graph.ErrClosed)
	assert.ErrorIs(t, g.(*Graph).Commit(ctx), graph.ErrClosed)
}
