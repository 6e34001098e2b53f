package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/c360/graphbus/graph/memgraph"
	"github.com/c360/graphbus/graph/traversal"
	"github.com/c360/graphbus/querycache"
	"github.com/c360/graphbus/session"
)

func spanAttr(span sdktrace.ReadOnlySpan, key attribute.Key) string {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value.AsString()
		}
	}
	return ""
}

func TestDispatch_Spans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	queries, err := querycache.New(traversal.DefaultCompiler, querycache.DefaultConfig())
	require.NoError(t, err)
	d, err := New(Config{
		Sessions: session.NewManager(memgraph.New(memgraph.DefaultConfig()), nil),
		Queries:  queries,
		Tracer:   provider.Tracer("test"),
	})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = d.Handle(ctx, []byte(`{"action":"addNode","vertices":[{"_id":"a"}]}`))
	require.NoError(t, err)
	_, err = d.Handle(ctx, []byte(`{"action":"getVertex","_id":"missing"}`))
	require.NoError(t, err)
	_, err = d.Handle(ctx, []byte(`{"action":"frobnicate"}`))
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 3)

	added := spans[0]
	assert.Equal(t, "dispatch.addNode", added.Name())
	assert.Equal(t, "addVertex", spanAttr(added, "graphbus.action.canonical"))
	assert.NotEmpty(t, spanAttr(added, "graphbus.session"))
	assert.Equal(t, codes.Unset, added.Status().Code)

	missing := spans[1]
	assert.Equal(t, "dispatch.getVertex", missing.Name())
	assert.Equal(t, codes.Error, missing.Status().Code)

	unsupported := spans[2]
	assert.Equal(t, "frobnicate", spanAttr(unsupported, "graphbus.action"))
	assert.Empty(t, spanAttr(unsupported, "graphbus.action.canonical"))
	assert.Equal(t, codes.Error, unsupported.Status().Code)
	assert.Equal(t, "Unsupported action frobnicate", unsupported.Status().Description)
}
