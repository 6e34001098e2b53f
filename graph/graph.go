package graph

import "context"

// Features advertises what a backend can do. Capability checks combine these flags
// with a type assertion on the optional interfaces below.
type Features struct {
	SupportsTransactions bool `json:"supports_transactions"`
	IgnoresSuppliedIDs   bool `json:"ignores_supplied_ids"`
	SupportsKeyIndices   bool `json:"supports_key_indices"`
}

// Graph is an open handle to a property-graph backend. A handle belongs to one
// request and is never shared between goroutines.
type Graph interface {
	Features() Features

	// AddVertex creates a vertex. id is a hint that backends ignoring supplied ids discard.
	AddVertex(ctx context.Context, id any, props map[string]any) (*Vertex, error)
	// AddEdge creates an edge between two existing vertices.
	AddEdge(ctx context.Context, id, outV, inV any, label string, props map[string]any) (*Edge, error)

	Vertex(ctx context.Context, id any) (*Vertex, error)
	Edge(ctx context.Context, id any) (*Edge, error)

	// Vertices returns all vertices, or those whose property key equals value when key is set.
	Vertices(ctx context.Context, key string, value any) ([]*Vertex, error)
	// Edges returns all edges, or those whose property key equals value when key is set.
	Edges(ctx context.Context, key string, value any) ([]*Edge, error)
	// VertexEdges returns the edges incident to a vertex in the given direction,
	// optionally restricted to labels.
	VertexEdges(ctx context.Context, id any, dir Direction, labels ...string) ([]*Edge, error)

	// RemoveVertex deletes a vertex together with its incident edges.
	RemoveVertex(ctx context.Context, id any) error
	RemoveEdge(ctx context.Context, id any) error

	// Shutdown releases the handle. Uncommitted work on transactional backends is discarded.
	Shutdown(ctx context.Context) error
}

// Transactional is implemented by backends that stage mutations until Commit.
type Transactional interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// KeyIndexable is implemented by backends with secondary indices on property keys.
type KeyIndexable interface {
	CreateKeyIndex(ctx context.Context, key string, class ElementType, params map[string]any) error
	DropKeyIndex(ctx context.Context, key string, class ElementType) error
	IndexedKeys(ctx context.Context, class ElementType) ([]string, error)
}

// AsTransactional returns g as Transactional when it both implements the interface
// and advertises transaction support.
func AsTransactional(g Graph) (Transactional, bool) {
	if !g.Features().SupportsTransactions {
		return nil, false
	}
	tx, ok := g.(Transactional)
	return tx, ok
}

// AsKeyIndexable returns g as KeyIndexable when it both implements the interface
// and advertises key index support.
func AsKeyIndexable(g Graph) (KeyIndexable, bool) {
	if !g.Features().SupportsKeyIndices {
		return nil, false
	}
	idx, ok := g.(KeyIndexable)
	return idx, ok
}

// Opener opens a fresh Graph handle. Every request opens its own.
type Opener interface {
	Open(ctx context.Context) (Graph, error)
}

// OpenerFunc adapts a function to Opener
type OpenerFunc func(ctx context.Context) (Graph, error)

// Open calls f(ctx)
func (f OpenerFunc) Open(ctx context.Context) (Graph, error) {
	return f(ctx)
}
