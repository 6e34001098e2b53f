package kvgraph

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/c360/graphbus/errors"
	"github.com/c360/graphbus/graph"
	"github.com/c360/graphbus/natsclient"
)

type vertexRecord struct {
	ID         any            `json:"id"`
	Created    int64          `json:"created"`
	Properties map[string]any `json:"properties"`
}

type edgeRecord struct {
	ID         any            `json:"id"`
	Created    int64          `json:"created"`
	Label      string         `json:"label"`
	OutV       any            `json:"out"`
	InV        any            `json:"in"`
	Properties map[string]any `json:"properties"`
}

// adjacency lists the ids of a vertex's incident edges.
type adjacency struct {
	Out []string `json:"out"`
	In  []string `json:"in"`
}

// Graph is a handle on the bucket. It is not safe for concurrent use.
type Graph struct {
	store  *Store
	closed bool
}

var _ graph.Graph = (*Graph)(nil)

// Features implements graph.Graph
func (g *Graph) Features() graph.Features {
	return g.store.Features()
}

// Shutdown implements graph.Graph
func (g *Graph) Shutdown(_ context.Context) error {
	g.closed = true
	return nil
}

func (g *Graph) check() error {
	if g.closed {
		return graph.ErrClosed
	}
	return nil
}

func kvError(err error, method, action string) error {
	return errors.WrapTransient(err, "kvgraph", method, action)
}

func decode(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return errors.WrapFatal(fmt.Errorf("%w: %v", errors.ErrDataCorrupted, err), "kvgraph", "decode", "decode record")
	}
	return nil
}

func validateProperties(props map[string]any) error {
	for k, v := range props {
		if k == "" {
			return fmt.Errorf("%w: empty property key", graph.ErrInvalidProperty)
		}
		if v == nil {
			return fmt.Errorf("%w: property %q has no value", graph.ErrInvalidProperty, k)
		}
	}
	return nil
}

func encodeRecord(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", graph.ErrInvalidProperty, err)
	}
	return raw, nil
}

func (r *vertexRecord) vertex() *graph.Vertex {
	props, _ := graph.NormalizeValue(r.Properties).(map[string]any)
	if props == nil {
		props = map[string]any{}
	}
	return &graph.Vertex{ID: graph.NormalizeValue(r.ID), Properties: props}
}

func (r *edgeRecord) edge() *graph.Edge {
	props, _ := graph.NormalizeValue(r.Properties).(map[string]any)
	if props == nil {
		props = map[string]any{}
	}
	return &graph.Edge{
		ID:         graph.NormalizeValue(r.ID),
		Label:      r.Label,
		OutV:       graph.NormalizeValue(r.OutV),
		InV:        graph.NormalizeValue(r.InV),
		Properties: props,
	}
}

// AddVertex implements graph.Graph. The id hint is ignored.
func (g *Graph) AddVertex(ctx context.Context, _ any, props map[string]any) (*graph.Vertex, error) {
	if err := g.check(); err != nil {
		return nil, err
	}
	if err := validateProperties(props); err != nil {
		return nil, err
	}

	rec := vertexRecord{ID: uuid.NewString(), Created: g.store.stamp(), Properties: nonNil(props)}
	raw, err := encodeRecord(rec)
	if err != nil {
		return nil, err
	}
	if _, err := g.store.kv.Create(ctx, vertexKey(rec.ID), raw); err != nil {
		return nil, kvError(err, "AddVertex", "create vertex")
	}
	return &graph.Vertex{ID: rec.ID, Properties: graph.CloneProperties(rec.Properties)}, nil
}

// AddEdge implements graph.Graph. The id hint is ignored.
func (g *Graph) AddEdge(ctx context.Context, _ any, outV, inV any, label string, props map[string]any) (*graph.Edge, error) {
	if err := g.check(); err != nil {
		return nil, err
	}
	if label == "" {
		return nil, fmt.Errorf("%w: edge label is required", graph.ErrInvalidProperty)
	}
	if err := validateProperties(props); err != nil {
		return nil, err
	}

	out, err := g.getVertex(ctx, outV)
	if err != nil {
		return nil, err
	}
	in, err := g.getVertex(ctx, inV)
	if err != nil {
		return nil, err
	}

	rec := edgeRecord{
		ID:         uuid.NewString(),
		Created:    g.store.stamp(),
		Label:      label,
		OutV:       out.ID,
		InV:        in.ID,
		Properties: nonNil(props),
	}
	raw, err := encodeRecord(rec)
	if err != nil {
		return nil, err
	}
	if _, err := g.store.kv.Create(ctx, edgeKey(rec.ID), raw); err != nil {
		return nil, kvError(err, "AddEdge", "create edge")
	}

	eid := rec.ID.(string)
	if err := g.link(ctx, out.ID, func(a *adjacency) { a.Out = append(a.Out, eid) }); err != nil {
		return nil, err
	}
	if err := g.link(ctx, in.ID, func(a *adjacency) { a.In = append(a.In, eid) }); err != nil {
		return nil, err
	}
	return rec.edge(), nil
}

// link applies fn to the adjacency of vertexID with compare-and-swap retries.
func (g *Graph) link(ctx context.Context, vertexID any, fn func(*adjacency)) error {
	err := g.store.kv.UpdateWithRetry(ctx, adjacencyKey(vertexID), func(current []byte) ([]byte, error) {
		var adj adjacency
		if len(current) > 0 {
			if err := json.Unmarshal(current, &adj); err != nil {
				return nil, fmt.Errorf("%w: adjacency of %v: %v", errors.ErrDataCorrupted, vertexID, err)
			}
		}
		fn(&adj)
		return json.Marshal(adj)
	})
	if err != nil {
		return kvError(err, "link", fmt.Sprintf("update adjacency of %v", vertexID))
	}
	return nil
}

func (g *Graph) adjacency(ctx context.Context, vertexID any) (adjacency, error) {
	var adj adjacency
	entry, err := g.store.kv.Get(ctx, adjacencyKey(vertexID))
	if err != nil {
		if stderrors.Is(err, natsclient.ErrKVKeyNotFound) {
			return adj, nil
		}
		return adj, kvError(err, "adjacency", "get adjacency")
	}
	if err := decode(entry.Value, &adj); err != nil {
		return adj, err
	}
	return adj, nil
}

func (g *Graph) getVertex(ctx context.Context, id any) (*graph.Vertex, error) {
	if graph.IDKey(id) == "" {
		return nil, fmt.Errorf("%w: vertex %v", graph.ErrNotFound, id)
	}
	entry, err := g.store.kv.Get(ctx, vertexKey(id))
	if err != nil {
		if stderrors.Is(err, natsclient.ErrKVKeyNotFound) {
			return nil, fmt.Errorf("%w: vertex %v", graph.ErrNotFound, id)
		}
		return nil, kvError(err, "Vertex", "get vertex")
	}
	var rec vertexRecord
	if err := decode(entry.Value, &rec); err != nil {
		return nil, err
	}
	return rec.vertex(), nil
}

func (g *Graph) getEdge(ctx context.Context, id any) (*graph.Edge, error) {
	if graph.IDKey(id) == "" {
		return nil, fmt.Errorf("%w: edge %v", graph.ErrNotFound, id)
	}
	entry, err := g.store.kv.Get(ctx, edgeKey(id))
	if err != nil {
		if stderrors.Is(err, natsclient.ErrKVKeyNotFound) {
			return nil, fmt.Errorf("%w: edge %v", graph.ErrNotFound, id)
		}
		return nil, kvError(err, "Edge", "get edge")
	}
	var rec edgeRecord
	if err := decode(entry.Value, &rec); err != nil {
		return nil, err
	}
	return rec.edge(), nil
}

// Vertex implements graph.Graph
func (g *Graph) Vertex(ctx context.Context, id any) (*graph.Vertex, error) {
	if err := g.check(); err != nil {
		return nil, err
	}
	return g.getVertex(ctx, id)
}

// Edge implements graph.Graph
func (g *Graph) Edge(ctx context.Context, id any) (*graph.Edge, error) {
	if err := g.check(); err != nil {
		return nil, err
	}
	return g.getEdge(ctx, id)
}

// scan loads every record under prefix in creation order. Keys removed between the
// listing and the read are skipped.
func scan[R any](ctx context.Context, kv KV, prefix string, created func(*R) int64) ([]*R, error) {
	keys, err := kv.Keys(ctx, prefix)
	if err != nil {
		return nil, kvError(err, "scan", "list "+prefix)
	}

	type item struct {
		key string
		rec *R
	}
	items := make([]item, 0, len(keys))
	for _, key := range keys {
		if !isElementKey(key, prefix) {
			continue
		}
		entry, err := kv.Get(ctx, key)
		if err != nil {
			if stderrors.Is(err, natsclient.ErrKVKeyNotFound) {
				continue
			}
			return nil, kvError(err, "scan", "get "+key)
		}
		rec := new(R)
		if err := decode(entry.Value, rec); err != nil {
			return nil, err
		}
		items = append(items, item{key: key, rec: rec})
	}

	sort.Slice(items, func(i, j int) bool {
		ci, cj := created(items[i].rec), created(items[j].rec)
		if ci != cj {
			return ci < cj
		}
		return items[i].key < items[j].key
	})

	out := make([]*R, len(items))
	for i, it := range items {
		out[i] = it.rec
	}
	return out, nil
}

// Vertices implements graph.Graph. Filtering scans the bucket.
func (g *Graph) Vertices(ctx context.Context, key string, value any) ([]*graph.Vertex, error) {
	if err := g.check(); err != nil {
		return nil, err
	}
	recs, err := scan(ctx, g.store.kv, vertexPrefix, func(r *vertexRecord) int64 { return r.Created })
	if err != nil {
		return nil, err
	}
	out := make([]*graph.Vertex, 0, len(recs))
	for _, rec := range recs {
		v := rec.vertex()
		if key == "" || matches(v.Properties, key, value) {
			out = append(out, v)
		}
	}
	return out, nil
}

// Edges implements graph.Graph. Filtering scans the bucket.
func (g *Graph) Edges(ctx context.Context, key string, value any) ([]*graph.Edge, error) {
	if err := g.check(); err != nil {
		return nil, err
	}
	recs, err := scan(ctx, g.store.kv, edgePrefix, func(r *edgeRecord) int64 { return r.Created })
	if err != nil {
		return nil, err
	}
	out := make([]*graph.Edge, 0, len(recs))
	for _, rec := range recs {
		e := rec.edge()
		if key == "" || matches(e.Properties, key, value) {
			out = append(out, e)
		}
	}
	return out, nil
}

func matches(props map[string]any, key string, value any) bool {
	v, ok := props[key]
	return ok && graph.ValuesEqual(v, graph.NormalizeValue(value))
}

// VertexEdges implements graph.Graph. A self loop is reported once for DirectionBoth.
func (g *Graph) VertexEdges(ctx context.Context, id any, dir graph.Direction, labels ...string) ([]*graph.Edge, error) {
	if err := g.check(); err != nil {
		return nil, err
	}
	if _, err := g.getVertex(ctx, id); err != nil {
		return nil, err
	}
	adj, err := g.adjacency(ctx, id)
	if err != nil {
		return nil, err
	}

	var ids []string
	switch dir {
	case graph.DirectionOut:
		ids = adj.Out
	case graph.DirectionIn:
		ids = adj.In
	default:
		ids = append(append(ids, adj.Out...), adj.In...)
	}

	seen := make(map[string]bool, len(ids))
	out := make([]*graph.Edge, 0, len(ids))
	for _, eid := range ids {
		if seen[eid] {
			continue
		}
		seen[eid] = true

		e, err := g.getEdge(ctx, eid)
		if err != nil {
			if stderrors.Is(err, graph.ErrNotFound) {
				g.store.logger.Debug("Skipping edge removed after adjacency read", "vertex", graph.IDKey(id), "edge", eid)
				continue
			}
			return nil, err
		}
		if hasLabel(e.Label, labels) {
			out = append(out, e)
		}
	}
	return out, nil
}

func hasLabel(label string, labels []string) bool {
	if len(labels) == 0 {
		return true
	}
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}

// RemoveVertex implements graph.Graph
func (g *Graph) RemoveVertex(ctx context.Context, id any) error {
	if err := g.check(); err != nil {
		return err
	}
	v, err := g.getVertex(ctx, id)
	if err != nil {
		return err
	}
	adj, err := g.adjacency(ctx, v.ID)
	if err != nil {
		return err
	}

	for _, eid := range append(append([]string(nil), adj.Out...), adj.In...) {
		if err := g.removeEdge(ctx, eid); err != nil && !stderrors.Is(err, graph.ErrNotFound) {
			return err
		}
	}

	if err := g.store.kv.Delete(ctx, adjacencyKey(v.ID)); err != nil && !stderrors.Is(err, natsclient.ErrKVKeyNotFound) {
		return kvError(err, "RemoveVertex", "delete adjacency")
	}
	if err := g.store.kv.Delete(ctx, vertexKey(v.ID)); err != nil {
		if stderrors.Is(err, natsclient.ErrKVKeyNotFound) {
			return fmt.Errorf("%w: vertex %v", graph.ErrNotFound, id)
		}
		return kvError(err, "RemoveVertex", "delete vertex")
	}
	return nil
}

// RemoveEdge implements graph.Graph
func (g *Graph) RemoveEdge(ctx context.Context, id any) error {
	if err := g.check(); err != nil {
		return err
	}
	return g.removeEdge(ctx, id)
}

func (g *Graph) removeEdge(ctx context.Context, id any) error {
	e, err := g.getEdge(ctx, id)
	if err != nil {
		return err
	}
	if err := g.store.kv.Delete(ctx, edgeKey(e.ID)); err != nil {
		if stderrors.Is(err, natsclient.ErrKVKeyNotFound) {
			return fmt.Errorf("%w: edge %v", graph.ErrNotFound, id)
		}
		return kvError(err, "RemoveEdge", "delete edge")
	}

	eid := graph.IDKey(e.ID)
	unlink := func(a *adjacency) {
		a.Out = without(a.Out, eid)
		a.In = without(a.In, eid)
	}
	if err := g.link(ctx, e.OutV, unlink); err != nil {
		return err
	}
	if graph.IDKey(e.InV) != graph.IDKey(e.OutV) {
		if err := g.link(ctx, e.InV, unlink); err != nil {
			return err
		}
	}
	return nil
}

func without(ids []string, id string) []string {
	out := ids[:0]
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}

func nonNil(props map[string]any) map[string]any {
	if props == nil {
		return map[string]any{}
	}
	return graph.CloneProperties(props)
}
