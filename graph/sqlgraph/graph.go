package sqlgraph

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/c360/graphbus/errors"
	"github.com/c360/graphbus/graph"
)

// Graph is one session's view of the store. It is not safe for concurrent use.
type Graph struct {
	store  *Store
	tx     *sql.Tx
	closed bool
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

// begin returns the handle's transaction, starting it when needed.
func (g *Graph) begin(ctx context.Context) (*sql.Tx, error) {
	if g.closed {
		return nil, graph.ErrClosed
	}
	if g.tx != nil {
		return g.tx, nil
	}
	tx, err := g.store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.WrapTransient(err, "sqlgraph", "begin", "begin transaction")
	}
	g.tx = tx
	return tx, nil
}

// Commit implements graph.Transactional
func (g *Graph) Commit(_ context.Context) error {
	if g.closed {
		return graph.ErrClosed
	}
	if g.tx == nil {
		return nil
	}
	tx := g.tx
	g.tx = nil
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "sqlgraph", "Commit", "commit transaction")
	}
	return nil
}

// Rollback implements graph.Transactional
func (g *Graph) Rollback(_ context.Context) error {
	if g.closed {
		return graph.ErrClosed
	}
	return g.rollback()
}

func (g *Graph) rollback() error {
	if g.tx == nil {
		return nil
	}
	tx := g.tx
	g.tx = nil
	if err := tx.Rollback(); err != nil && !stderrors.Is(err, sql.ErrTxDone) {
		return errors.Wrap(err, "sqlgraph", "Rollback", "rollback transaction")
	}
	return nil
}

// Shutdown implements graph.Graph. Uncommitted work is rolled back.
func (g *Graph) Shutdown(_ context.Context) error {
	if g.closed {
		return nil
	}
	g.closed = true
	return g.rollback()
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: %v", graph.ErrInvalidProperty, err)
	}
	return string(b), nil
}

func decodeJSON(s string) (any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return graph.NormalizeValue(v), nil
}

func decodeProperties(s string) (map[string]any, error) {
	v, err := decodeJSON(s)
	if err != nil {
		return nil, err
	}
	props, _ := v.(map[string]any)
	if props == nil {
		props = map[string]any{}
	}
	return props, nil
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

func (g *Graph) nextID(ctx context.Context, tx *sql.Tx, table string) (int64, error) {
	for {
		var id int64
		err := tx.QueryRowContext(ctx,
			`UPDATE counters SET value = value + 1 WHERE name = 'next_id' RETURNING value`).Scan(&id)
		if err != nil {
			return 0, errors.Wrap(err, "sqlgraph", "nextID", "advance id counter")
		}
		taken, err := exists(ctx, tx, table, graph.IDKey(id))
		if err != nil {
			return 0, err
		}
		if !taken {
			return id, nil
		}
	}
}

// assignID keeps a supplied id unless the store assigns its own.
func (g *Graph) assignID(ctx context.Context, tx *sql.Tx, table string, hint any) (any, error) {
	if hint != nil && !g.store.features.IgnoresSuppliedIDs {
		return graph.NormalizeValue(hint), nil
	}
	return g.nextID(ctx, tx, table)
}

func exists(ctx context.Context, tx *sql.Tx, table, key string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table+` WHERE key = ?`, key).Scan(&n)
	if err != nil {
		return false, errors.Wrap(err, "sqlgraph", "exists", "look up "+table)
	}
	return n > 0, nil
}

// AddVertex implements graph.Graph
func (g *Graph) AddVertex(ctx context.Context, id any, props map[string]any) (*graph.Vertex, error) {
	if err := validateProperties(props); err != nil {
		return nil, err
	}
	tx, err := g.begin(ctx)
	if err != nil {
		return nil, err
	}

	vid, err := g.assignID(ctx, tx, "vertices", id)
	if err != nil {
		return nil, err
	}
	key := graph.IDKey(vid)
	taken, err := exists(ctx, tx, "vertices", key)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, fmt.Errorf("%w: vertex with id %v already exists", graph.ErrInvalidID, vid)
	}

	rawID, err := encodeJSON(vid)
	if err != nil {
		return nil, err
	}
	rawProps, err := encodeJSON(nonNil(props))
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO vertices (key, id, properties) VALUES (?, ?, ?)`, key, rawID, rawProps); err != nil {
		return nil, errors.Wrap(err, "sqlgraph", "AddVertex", "insert vertex")
	}
	return &graph.Vertex{ID: vid, Properties: graph.CloneProperties(nonNil(props))}, nil
}

// AddEdge implements graph.Graph
func (g *Graph) AddEdge(ctx context.Context, id, outV, inV any, label string, props map[string]any) (*graph.Edge, error) {
	if label == "" {
		return nil, fmt.Errorf("%w: edge label is required", graph.ErrInvalidProperty)
	}
	if err := validateProperties(props); err != nil {
		return nil, err
	}
	tx, err := g.begin(ctx)
	if err != nil {
		return nil, err
	}

	out, err := g.vertex(ctx, tx, outV)
	if err != nil {
		return nil, err
	}
	in, err := g.vertex(ctx, tx, inV)
	if err != nil {
		return nil, err
	}

	eid, err := g.assignID(ctx, tx, "edges", id)
	if err != nil {
		return nil, err
	}
	key := graph.IDKey(eid)
	taken, err := exists(ctx, tx, "edges", key)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, fmt.Errorf("%w: edge with id %v already exists", graph.ErrInvalidID, eid)
	}

	rawID, err := encodeJSON(eid)
	if err != nil {
		return nil, err
	}
	rawProps, err := encodeJSON(nonNil(props))
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO edges (key, id, label, out_key, in_key, properties) VALUES (?, ?, ?, ?, ?, ?)`,
		key, rawID, label, graph.IDKey(out.ID), graph.IDKey(in.ID), rawProps)
	if err != nil {
		return nil, errors.Wrap(err, "sqlgraph", "AddEdge", "insert edge")
	}

	return &graph.Edge{
		ID:         eid,
		Label:      label,
		OutV:       out.ID,
		InV:        in.ID,
		Properties: graph.CloneProperties(nonNil(props)),
	}, nil
}

func nonNil(props map[string]any) map[string]any {
	if props == nil {
		return map[string]any{}
	}
	return props
}

// Vertex implements graph.Graph
func (g *Graph) Vertex(ctx context.Context, id any) (*graph.Vertex, error) {
	tx, err := g.begin(ctx)
	if err != nil {
		return nil, err
	}
	return g.vertex(ctx, tx, id)
}

func (g *Graph) vertex(ctx context.Context, tx *sql.Tx, id any) (*graph.Vertex, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id, properties FROM vertices WHERE key = ?`, graph.IDKey(id))
	if err != nil {
		return nil, errors.Wrap(err, "sqlgraph", "Vertex", "select vertex")
	}
	vs, err := scanVertices(rows)
	if err != nil {
		return nil, err
	}
	if len(vs) == 0 {
		return nil, fmt.Errorf("%w: vertex %v", graph.ErrNotFound, id)
	}
	return vs[0], nil
}

// Edge implements graph.Graph
func (g *Graph) Edge(ctx context.Context, id any) (*graph.Edge, error) {
	tx, err := g.begin(ctx)
	if err != nil {
		return nil, err
	}
	es, err := g.queryEdges(ctx, tx, `WHERE e.key = ?`, graph.IDKey(id))
	if err != nil {
		return nil, err
	}
	if len(es) == 0 {
		return nil, fmt.Errorf("%w: edge %v", graph.ErrNotFound, id)
	}
	return es[0], nil
}

// Vertices implements graph.Graph. Indexed keys are narrowed in SQL first.
func (g *Graph) Vertices(ctx context.Context, key string, value any) ([]*graph.Vertex, error) {
	tx, err := g.begin(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT id, properties FROM vertices`
	var args []any
	if where, arg, ok := g.indexedFilter(ctx, tx, graph.ElementVertex, "properties", key, value); ok {
		query += ` WHERE ` + where
		args = append(args, arg)
	}
	rows, err := tx.QueryContext(ctx, query+` ORDER BY seq`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "sqlgraph", "Vertices", "select vertices")
	}
	vs, err := scanVertices(rows)
	if err != nil || key == "" {
		return vs, err
	}

	out := vs[:0]
	for _, v := range vs {
		if propertyEquals(v.Properties, key, value) {
			out = append(out, v)
		}
	}
	return out, nil
}

// Edges implements graph.Graph. Indexed keys are narrowed in SQL first.
func (g *Graph) Edges(ctx context.Context, key string, value any) ([]*graph.Edge, error) {
	tx, err := g.begin(ctx)
	if err != nil {
		return nil, err
	}

	var where string
	var args []any
	if clause, arg, ok := g.indexedFilter(ctx, tx, graph.ElementEdge, "e.properties", key, value); ok {
		where = `WHERE ` + clause
		args = append(args, arg)
	}
	es, err := g.queryEdges(ctx, tx, where, args...)
	if err != nil || key == "" {
		return es, err
	}

	out := es[:0]
	for _, e := range es {
		if propertyEquals(e.Properties, key, value) {
			out = append(out, e)
		}
	}
	return out, nil
}

// VertexEdges implements graph.Graph
func (g *Graph) VertexEdges(ctx context.Context, id any, dir graph.Direction, labels ...string) ([]*graph.Edge, error) {
	tx, err := g.begin(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := g.vertex(ctx, tx, id); err != nil {
		return nil, err
	}

	key := graph.IDKey(id)
	var where string
	var args []any
	switch dir {
	case graph.DirectionOut:
		where, args = `WHERE e.out_key = ?`, []any{key}
	case graph.DirectionIn:
		where, args = `WHERE e.in_key = ?`, []any{key}
	default:
		where, args = `WHERE (e.out_key = ? OR e.in_key = ?)`, []any{key, key}
	}
	if len(labels) > 0 {
		where += ` AND e.label IN (?` + strings.Repeat(`, ?`, len(labels)-1) + `)`
		for _, l := range labels {
			args = append(args, l)
		}
	}
	return g.queryEdges(ctx, tx, where, args...)
}

// queryEdges selects edges joined with their endpoint ids, in insertion order.
func (g *Graph) queryEdges(ctx context.Context, tx *sql.Tx, where string, args ...any) ([]*graph.Edge, error) {
	rows, err := tx.QueryContext(ctx, `
SELECT e.id, e.label, o.id, i.id, e.properties
FROM edges e
JOIN vertices o ON o.key = e.out_key
JOIN vertices i ON i.key = e.in_key
`+where+`
ORDER BY e.seq`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "sqlgraph", "queryEdges", "select edges")
	}
	defer rows.Close()

	var out []*graph.Edge
	for rows.Next() {
		var rawID, label, rawOut, rawIn, rawProps string
		if err := rows.Scan(&rawID, &label, &rawOut, &rawIn, &rawProps); err != nil {
			return nil, errors.Wrap(err, "sqlgraph", "queryEdges", "scan edge")
		}
		e := &graph.Edge{Label: label}
		if e.ID, err = decodeJSON(rawID); err != nil {
			return nil, corrupt(err)
		}
		if e.OutV, err = decodeJSON(rawOut); err != nil {
			return nil, corrupt(err)
		}
		if e.InV, err = decodeJSON(rawIn); err != nil {
			return nil, corrupt(err)
		}
		if e.Properties, err = decodeProperties(rawProps); err != nil {
			return nil, corrupt(err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlgraph", "queryEdges", "iterate edges")
	}
	return out, nil
}

func scanVertices(rows *sql.Rows) ([]*graph.Vertex, error) {
	defer rows.Close()

	var out []*graph.Vertex
	for rows.Next() {
		var rawID, rawProps string
		if err := rows.Scan(&rawID, &rawProps); err != nil {
			return nil, errors.Wrap(err, "sqlgraph", "scanVertices", "scan vertex")
		}
		id, err := decodeJSON(rawID)
		if err != nil {
			return nil, corrupt(err)
		}
		props, err := decodeProperties(rawProps)
		if err != nil {
			return nil, corrupt(err)
		}
		out = append(out, &graph.Vertex{ID: id, Properties: props})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlgraph", "scanVertices", "iterate vertices")
	}
	return out, nil
}

func corrupt(err error) error {
	return errors.WrapFatal(fmt.Errorf("%w: %v", errors.ErrDataCorrupted, err), "sqlgraph", "decode", "decode stored JSON")
}

func propertyEquals(props map[string]any, key string, value any) bool {
	v, ok := props[key]
	return ok && graph.ValuesEqual(v, value)
}

// RemoveVertex implements graph.Graph
func (g *Graph) RemoveVertex(ctx context.Context, id any) error {
	tx, err := g.begin(ctx)
	if err != nil {
		return err
	}
	key := graph.IDKey(id)
	res, err := tx.ExecContext(ctx, `DELETE FROM vertices WHERE key = ?`, key)
	if err != nil {
		return errors.Wrap(err, "sqlgraph", "RemoveVertex", "delete vertex")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: vertex %v", graph.ErrNotFound, id)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM edges WHERE out_key = ? OR in_key = ?`, key, key); err != nil {
		return errors.Wrap(err, "sqlgraph", "RemoveVertex", "delete incident edges")
	}
	return nil
}

// RemoveEdge implements graph.Graph
func (g *Graph) RemoveEdge(ctx context.Context, id any) error {
	tx, err := g.begin(ctx)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM edges WHERE key = ?`, graph.IDKey(id))
	if err != nil {
		return errors.Wrap(err, "sqlgraph", "RemoveEdge", "delete edge")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: edge %v", graph.ErrNotFound, id)
	}
	return nil
}
