package memgraph

import (
	"context"
	"fmt"
	"sort"

	"github.com/c360/graphbus/graph"
)

// Graph is a per-request handle on a Store
type Graph struct {
	store *Store

	holdsWriter bool
	undo        []func()
	savedNextID int64
	savedSeq    int64
	closed      bool
}

var (
	_ graph.Graph         = (*Graph)(nil)
	_ graph.Transactional = (*Graph)(nil)
	_ graph.KeyIndexable  = (*Graph)(nil)
)

// Features implements graph.Graph
func (g *Graph) Features() graph.Features {
	return g.store.features
}

func (g *Graph) transactional() bool {
	return g.store.features.SupportsTransactions
}

// mutate runs fn with the store locked for writing. In transactional mode the
// handle first takes the writer slot so no other handle interleaves mutations.
func (g *Graph) mutate(ctx context.Context, fn func(s *Store) error) error {
	if g.closed {
		return graph.ErrClosed
	}
	if g.transactional() && !g.holdsWriter {
		select {
		case g.store.writer <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
		g.holdsWriter = true
		g.store.mu.RLock()
		g.savedNextID, g.savedSeq = g.store.nextID, g.store.seq
		g.store.mu.RUnlock()
	}

	g.store.mu.Lock()
	defer g.store.mu.Unlock()
	return fn(g.store)
}

func (g *Graph) recordUndo(fn func()) {
	if g.transactional() {
		g.undo = append(g.undo, fn)
	}
}

func (g *Graph) releaseWriter() {
	if g.holdsWriter {
		g.holdsWriter = false
		<-g.store.writer
	}
}

// Commit keeps every mutation made since the last Commit or Rollback.
func (g *Graph) Commit(_ context.Context) error {
	if g.closed {
		return graph.ErrClosed
	}
	g.undo = nil
	g.releaseWriter()
	return nil
}

// Rollback reverts every mutation made since the last Commit or Rollback.
func (g *Graph) Rollback(_ context.Context) error {
	if g.closed {
		return graph.ErrClosed
	}
	g.rollback()
	return nil
}

func (g *Graph) rollback() {
	if !g.holdsWriter {
		return
	}
	g.store.mu.Lock()
	for i := len(g.undo) - 1; i >= 0; i-- {
		g.undo[i]()
	}
	g.store.nextID, g.store.seq = g.savedNextID, g.savedSeq
	g.store.mu.Unlock()
	g.undo = nil
	g.releaseWriter()
}

// Shutdown discards uncommitted mutations and closes the handle.
func (g *Graph) Shutdown(_ context.Context) error {
	if g.closed {
		return nil
	}
	g.rollback()
	g.closed = true
	return nil
}

// assignID uses the supplied id unless the store ignores them; generated ids
// skip values already taken by supplied ones.
func assignID(s *Store, hint any, taken func(key string) bool) any {
	if hint != nil && !s.features.IgnoresSuppliedIDs {
		return graph.NormalizeValue(hint)
	}
	for {
		id := s.newID()
		if !taken(graph.IDKey(id)) {
			return id
		}
	}
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

// AddVertex implements graph.Graph
func (g *Graph) AddVertex(ctx context.Context, id any, props map[string]any) (*graph.Vertex, error) {
	if err := validateProperties(props); err != nil {
		return nil, err
	}
	var created *graph.Vertex
	err := g.mutate(ctx, func(s *Store) error {
		vid := assignID(s, id, func(k string) bool {
			_, taken := s.vertices[k]
			return taken
		})
		key := graph.IDKey(vid)
		if _, exists := s.vertices[key]; exists {
			return fmt.Errorf("%w: vertex with id %v already exists", graph.ErrInvalidID, vid)
		}
		v := &graph.Vertex{ID: vid, Properties: graph.CloneProperties(props)}
		s.insertVertex(key, &vertexRecord{vertex: v, seq: s.nextSeq()})
		g.recordUndo(func() { s.deleteVertex(key) })
		created = cloneVertex(v)
		return nil
	})
	return created, err
}

// AddEdge implements graph.Graph
func (g *Graph) AddEdge(ctx context.Context, id, outV, inV any, label string, props map[string]any) (*graph.Edge, error) {
	if label == "" {
		return nil, fmt.Errorf("%w: edge label is required", graph.ErrInvalidProperty)
	}
	if err := validateProperties(props); err != nil {
		return nil, err
	}
	var created *graph.Edge
	err := g.mutate(ctx, func(s *Store) error {
		out, ok := s.vertices[graph.IDKey(outV)]
		if !ok {
			return fmt.Errorf("%w: vertex %v", graph.ErrNotFound, outV)
		}
		in, ok := s.vertices[graph.IDKey(inV)]
		if !ok {
			return fmt.Errorf("%w: vertex %v", graph.ErrNotFound, inV)
		}
		eid := assignID(s, id, func(k string) bool {
			_, taken := s.edges[k]
			return taken
		})
		key := graph.IDKey(eid)
		if _, exists := s.edges[key]; exists {
			return fmt.Errorf("%w: edge with id %v already exists", graph.ErrInvalidID, eid)
		}
		e := &graph.Edge{
			ID:         eid,
			Label:      label,
			OutV:       out.vertex.ID,
			InV:        in.vertex.ID,
			Properties: graph.CloneProperties(props),
		}
		s.insertEdge(key, &edgeRecord{edge: e, seq: s.nextSeq()})
		g.recordUndo(func() { s.deleteEdge(key) })
		created = cloneEdge(e)
		return nil
	})
	return created, err
}

// Vertex implements graph.Graph
func (g *Graph) Vertex(_ context.Context, id any) (*graph.Vertex, error) {
	if g.closed {
		return nil, graph.ErrClosed
	}
	g.store.mu.RLock()
	defer g.store.mu.RUnlock()
	rec, ok := g.store.vertices[graph.IDKey(id)]
	if !ok {
		return nil, fmt.Errorf("%w: vertex %v", graph.ErrNotFound, id)
	}
	return cloneVertex(rec.vertex), nil
}

// Edge implements graph.Graph
func (g *Graph) Edge(_ context.Context, id any) (*graph.Edge, error) {
	if g.closed {
		return nil, graph.ErrClosed
	}
	g.store.mu.RLock()
	defer g.store.mu.RUnlock()
	rec, ok := g.store.edges[graph.IDKey(id)]
	if !ok {
		return nil, fmt.Errorf("%w: edge %v", graph.ErrNotFound, id)
	}
	return cloneEdge(rec.edge), nil
}

// Vertices implements graph.Graph. Lookups on an indexed key use the index.
func (g *Graph) Vertices(_ context.Context, key string, value any) ([]*graph.Vertex, error) {
	if g.closed {
		return nil, graph.ErrClosed
	}
	s := g.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	var recs []*vertexRecord
	if values, indexed := s.indices[graph.ElementVertex][key]; key != "" && indexed {
		for elemKey := range values[valueKey(value)] {
			recs = append(recs, s.vertices[elemKey])
		}
	} else {
		for _, rec := range s.vertices {
			if key == "" || propertyEquals(rec.vertex.Properties, key, value) {
				recs = append(recs, rec)
			}
		}
	}

	sort.Slice(recs, func(i, j int) bool { return recs[i].seq < recs[j].seq })
	out := make([]*graph.Vertex, len(recs))
	for i, rec := range recs {
		out[i] = cloneVertex(rec.vertex)
	}
	return out, nil
}

// Edges implements graph.Graph. Lookups on an indexed key use the index.
func (g *Graph) Edges(_ context.Context, key string, value any) ([]*graph.Edge, error) {
	if g.closed {
		return nil, graph.ErrClosed
	}
	s := g.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	var recs []*edgeRecord
	if values, indexed := s.indices[graph.ElementEdge][key]; key != "" && indexed {
		for elemKey := range values[valueKey(value)] {
			recs = append(recs, s.edges[elemKey])
		}
	} else {
		for _, rec := range s.edges {
			if key == "" || propertyEquals(rec.edge.Properties, key, value) {
				recs = append(recs, rec)
			}
		}
	}
	return sortedEdges(recs), nil
}

// VertexEdges implements graph.Graph
func (g *Graph) VertexEdges(_ context.Context, id any, dir graph.Direction, labels ...string) ([]*graph.Edge, error) {
	if g.closed {
		return nil, graph.ErrClosed
	}
	s := g.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	vkey := graph.IDKey(id)
	if _, ok := s.vertices[vkey]; !ok {
		return nil, fmt.Errorf("%w: vertex %v", graph.ErrNotFound, id)
	}

	keys := make(map[string]struct{})
	if dir == graph.DirectionOut || dir == graph.DirectionBoth {
		for k := range s.adjOut[vkey] {
			keys[k] = struct{}{}
		}
	}
	if dir == graph.DirectionIn || dir == graph.DirectionBoth {
		for k := range s.adjIn[vkey] {
			keys[k] = struct{}{}
		}
	}

	var recs []*edgeRecord
	for k := range keys {
		rec := s.edges[k]
		if hasLabel(rec.edge.Label, labels) {
			recs = append(recs, rec)
		}
	}
	return sortedEdges(recs), nil
}

// RemoveVertex implements graph.Graph
func (g *Graph) RemoveVertex(ctx context.Context, id any) error {
	return g.mutate(ctx, func(s *Store) error {
		vkey := graph.IDKey(id)
		if _, ok := s.vertices[vkey]; !ok {
			return fmt.Errorf("%w: vertex %v", graph.ErrNotFound, id)
		}

		incident := make(map[string]struct{})
		for k := range s.adjOut[vkey] {
			incident[k] = struct{}{}
		}
		for k := range s.adjIn[vkey] {
			incident[k] = struct{}{}
		}
		for ekey := range incident {
			rec := s.deleteEdge(ekey)
			g.recordUndo(func() { s.insertEdge(ekey, rec) })
		}

		rec := s.deleteVertex(vkey)
		g.recordUndo(func() { s.insertVertex(vkey, rec) })
		return nil
	})
}

// RemoveEdge implements graph.Graph
func (g *Graph) RemoveEdge(ctx context.Context, id any) error {
	return g.mutate(ctx, func(s *Store) error {
		ekey := graph.IDKey(id)
		rec := s.deleteEdge(ekey)
		if rec == nil {
			return fmt.Errorf("%w: edge %v", graph.ErrNotFound, id)
		}
		g.recordUndo(func() { s.insertEdge(ekey, rec) })
		return nil
	})
}

// CreateKeyIndex implements graph.KeyIndexable. Creating an existing index is a no-op.
func (g *Graph) CreateKeyIndex(ctx context.Context, key string, class graph.ElementType, _ map[string]any) error {
	if key == "" {
		return fmt.Errorf("%w: index key must not be empty", graph.ErrInvalidProperty)
	}
	return g.mutate(ctx, func(s *Store) error {
		byKey, ok := s.indices[class]
		if !ok {
			return fmt.Errorf("%w: element class %q", graph.ErrUnsupported, class)
		}
		if _, exists := byKey[key]; exists {
			return nil
		}
		byKey[key] = s.buildIndex(class, key)
		g.recordUndo(func() { delete(byKey, key) })
		return nil
	})
}

// DropKeyIndex implements graph.KeyIndexable. Dropping a missing index is a no-op.
func (g *Graph) DropKeyIndex(ctx context.Context, key string, class graph.ElementType) error {
	return g.mutate(ctx, func(s *Store) error {
		byKey, ok := s.indices[class]
		if !ok {
			return fmt.Errorf("%w: element class %q", graph.ErrUnsupported, class)
		}
		values, exists := byKey[key]
		if !exists {
			return nil
		}
		delete(byKey, key)
		g.recordUndo(func() { byKey[key] = values })
		return nil
	})
}

// IndexedKeys implements graph.KeyIndexable
func (g *Graph) IndexedKeys(_ context.Context, class graph.ElementType) ([]string, error) {
	if g.closed {
		return nil, graph.ErrClosed
	}
	g.store.mu.RLock()
	defer g.store.mu.RUnlock()
	keys := make([]string, 0, len(g.store.indices[class]))
	for k := range g.store.indices[class] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func propertyEquals(props map[string]any, key string, value any) bool {
	v, ok := props[key]
	return ok && graph.ValuesEqual(v, value)
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

func sortedEdges(recs []*edgeRecord) []*graph.Edge {
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq < recs[j].seq })
	out := make([]*graph.Edge, len(recs))
	for i, rec := range recs {
		out[i] = cloneEdge(rec.edge)
	}
	return out
}

func cloneVertex(v *graph.Vertex) *graph.Vertex {
	return &graph.Vertex{ID: v.ID, Properties: graph.CloneProperties(v.Properties)}
}

func cloneEdge(e *graph.Edge) *graph.Edge {
	return &graph.Edge{
		ID:         e.ID,
		Label:      e.Label,
		OutV:       e.OutV,
		InV:        e.InV,
		Properties: graph.CloneProperties(e.Properties),
	}
}
