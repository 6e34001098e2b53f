// Package memgraph is an in-memory property graph backend.
//
// A Store holds the data; every request opens its own Graph handle with Open.
// With transactions enabled a handle takes the store's single writer slot on its
// first mutation and keeps it until Commit, Rollback or Shutdown, recording an
// undo log so Rollback restores the exact previous state.
//
// Isolation is read uncommitted. Mutations are applied to the shared maps as
// they happen, so reads never wait for the writer slot and another handle can
// observe writes that are later rolled back. Use the sqlite driver when readers
// must only see committed data.
package memgraph

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"sync"

	"github.com/c360/graphbus/graph"
)

// Config selects the features the store advertises
type Config struct {
	Features graph.Features `json:"features"`
}

// DefaultConfig returns a transactional, key-indexable store that keeps supplied ids.
func DefaultConfig() Config {
	return Config{
		Features: graph.Features{
			SupportsTransactions: true,
			IgnoresSuppliedIDs:   false,
			SupportsKeyIndices:   true,
		},
	}
}

type vertexRecord struct {
	vertex *graph.Vertex
	seq    int64
}

type edgeRecord struct {
	edge *graph.Edge
	seq  int64
}

// valueSet maps an indexed value to the keys of the elements holding it
type valueSet map[string]map[string]struct{}

// Store is the shared in-memory graph
type Store struct {
	mu       sync.RWMutex
	features graph.Features
	writer   chan struct{}

	vertices map[string]*vertexRecord
	edges    map[string]*edgeRecord
	adjOut   map[string]map[string]struct{}
	adjIn    map[string]map[string]struct{}
	indices  map[graph.ElementType]map[string]valueSet

	nextID int64
	seq    int64
}

// New creates an empty store
func New(cfg Config) *Store {
	return &Store{
		features: cfg.Features,
		writer:   make(chan struct{}, 1),
		vertices: make(map[string]*vertexRecord),
		edges:    make(map[string]*edgeRecord),
		adjOut:   make(map[string]map[string]struct{}),
		adjIn:    make(map[string]map[string]struct{}),
		indices: map[graph.ElementType]map[string]valueSet{
			graph.ElementVertex: {},
			graph.ElementEdge:   {},
		},
	}
}

// Open returns a new handle on the store. It never fails.
func (s *Store) Open(_ context.Context) (graph.Graph, error) {
	return &Graph{store: s}, nil
}

// Features returns the features the store was configured with
func (s *Store) Features() graph.Features {
	return s.features
}

// Counts returns the number of stored vertices and edges.
func (s *Store) Counts() (vertices, edges int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vertices), len(s.edges)
}

type dumpElement struct {
	ID         string         `json:"id"`
	Label      string         `json:"label,omitempty"`
	OutV       string         `json:"out_v,omitempty"`
	InV        string         `json:"in_v,omitempty"`
	Properties map[string]any `json:"properties"`
}

// Dump renders the complete store state, including indices and id counters,
// as deterministic JSON. Two stores with equal dumps are indistinguishable.
func (s *Store) Dump() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vertices := make([]dumpElement, 0, len(s.vertices))
	for key, rec := range s.vertices {
		vertices = append(vertices, dumpElement{ID: key, Properties: rec.vertex.Properties})
	}
	sort.Slice(vertices, func(i, j int) bool { return vertices[i].ID < vertices[j].ID })

	edges := make([]dumpElement, 0, len(s.edges))
	for key, rec := range s.edges {
		edges = append(edges, dumpElement{
			ID:         key,
			Label:      rec.edge.Label,
			OutV:       graph.IDKey(rec.edge.OutV),
			InV:        graph.IDKey(rec.edge.InV),
			Properties: rec.edge.Properties,
		})
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })

	indexed := make(map[string][]string)
	for class, byKey := range s.indices {
		for key := range byKey {
			indexed[string(class)] = append(indexed[string(class)], key)
		}
		sort.Strings(indexed[string(class)])
	}

	return json.Marshal(map[string]any{
		"vertices": vertices,
		"edges":    edges,
		"indices":  indexed,
		"next_id":  s.nextID,
		"seq":      s.seq,
	})
}

// The helpers below require s.mu to be held for writing.

func (s *Store) newID() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) nextSeq() int64 {
	s.seq++
	return s.seq
}

func (s *Store) insertVertex(key string, rec *vertexRecord) {
	s.vertices[key] = rec
	s.indexAdd(graph.ElementVertex, key, rec.vertex.Properties)
}

func (s *Store) deleteVertex(key string) *vertexRecord {
	rec, ok := s.vertices[key]
	if !ok {
		return nil
	}
	delete(s.vertices, key)
	delete(s.adjOut, key)
	delete(s.adjIn, key)
	s.indexRemove(graph.ElementVertex, key, rec.vertex.Properties)
	return rec
}

func (s *Store) insertEdge(key string, rec *edgeRecord) {
	s.edges[key] = rec
	link(s.adjOut, graph.IDKey(rec.edge.OutV), key)
	link(s.adjIn, graph.IDKey(rec.edge.InV), key)
	s.indexAdd(graph.ElementEdge, key, rec.edge.Properties)
}

func (s *Store) deleteEdge(key string) *edgeRecord {
	rec, ok := s.edges[key]
	if !ok {
		return nil
	}
	delete(s.edges, key)
	unlink(s.adjOut, graph.IDKey(rec.edge.OutV), key)
	unlink(s.adjIn, graph.IDKey(rec.edge.InV), key)
	s.indexRemove(graph.ElementEdge, key, rec.edge.Properties)
	return rec
}

func link(adj map[string]map[string]struct{}, vertexKey, edgeKey string) {
	set, ok := adj[vertexKey]
	if !ok {
		set = make(map[string]struct{})
		adj[vertexKey] = set
	}
	set[edgeKey] = struct{}{}
}

func unlink(adj map[string]map[string]struct{}, vertexKey, edgeKey string) {
	set, ok := adj[vertexKey]
	if !ok {
		return
	}
	delete(set, edgeKey)
	if len(set) == 0 {
		delete(adj, vertexKey)
	}
}

func (s *Store) indexAdd(class graph.ElementType, elemKey string, props map[string]any) {
	for key, values := range s.indices[class] {
		v, ok := props[key]
		if !ok {
			continue
		}
		vk := valueKey(v)
		set, ok := values[vk]
		if !ok {
			set = make(map[string]struct{})
			values[vk] = set
		}
		set[elemKey] = struct{}{}
	}
}

func (s *Store) indexRemove(class graph.ElementType, elemKey string, props map[string]any) {
	for key, values := range s.indices[class] {
		v, ok := props[key]
		if !ok {
			continue
		}
		vk := valueKey(v)
		delete(values[vk], elemKey)
		if len(values[vk]) == 0 {
			delete(values, vk)
		}
	}
}

func (s *Store) buildIndex(class graph.ElementType, key string) valueSet {
	values := make(valueSet)
	add := func(elemKey string, props map[string]any) {
		v, ok := props[key]
		if !ok {
			return
		}
		vk := valueKey(v)
		if values[vk] == nil {
			values[vk] = make(map[string]struct{})
		}
		values[vk][elemKey] = struct{}{}
	}
	if class == graph.ElementVertex {
		for k, rec := range s.vertices {
			add(k, rec.vertex.Properties)
		}
	} else {
		for k, rec := range s.edges {
			add(k, rec.edge.Properties)
		}
	}
	return values
}

// valueKey is the index key of a property value. Numbers of any Go type
// that denote the same value share a key.
func valueKey(v any) string {
	switch val := graph.NormalizeValue(v).(type) {
	case int64:
		return "n:" + strconv.FormatFloat(float64(val), 'g', -1, 64)
	case float64:
		return "n:" + strconv.FormatFloat(val, 'g', -1, 64)
	case string:
		return "s:" + val
	case bool:
		return "b:" + strconv.FormatBool(val)
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return "x:"
		}
		return "j:" + string(raw)
	}
}
