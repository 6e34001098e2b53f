package sqlgraph

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/c360/graphbus/errors"
	"github.com/c360/graphbus/graph"
)

func tableFor(class graph.ElementType) (string, error) {
	switch class {
	case graph.ElementVertex:
		return "vertices", nil
	case graph.ElementEdge:
		return "edges", nil
	default:
		return "", fmt.Errorf("%w: element class %q", graph.ErrUnsupported, class)
	}
}

// jsonPath quotes key as a JSON path label. Keys that cannot be embedded in SQL
// text are rejected; index expressions must be literals to be usable.
func jsonPath(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, "\"'\\") {
		return "", fmt.Errorf("%w: key %q cannot be indexed", graph.ErrInvalidProperty, key)
	}
	return `'$."` + key + `"'`, nil
}

func indexName(class graph.ElementType, key string) string {
	return fmt.Sprintf("kidx_%s_%x", class, key)
}

// CreateKeyIndex implements graph.KeyIndexable. Creating an existing index is a no-op.
func (g *Graph) CreateKeyIndex(ctx context.Context, key string, class graph.ElementType, _ map[string]any) error {
	table, err := tableFor(class)
	if err != nil {
		return err
	}
	path, err := jsonPath(key)
	if err != nil {
		return err
	}
	tx, err := g.begin(ctx)
	if err != nil {
		return err
	}

	ddl := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (json_extract(properties, %s))`,
		indexName(class, key), table, path)
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return errors.Wrap(err, "sqlgraph", "CreateKeyIndex", "create index")
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO key_indices (class, key) VALUES (?, ?)`, string(class), key); err != nil {
		return errors.Wrap(err, "sqlgraph", "CreateKeyIndex", "record index")
	}
	return nil
}

// DropKeyIndex implements graph.KeyIndexable. Dropping a missing index is a no-op.
func (g *Graph) DropKeyIndex(ctx context.Context, key string, class graph.ElementType) error {
	if _, err := tableFor(class); err != nil {
		return err
	}
	tx, err := g.begin(ctx)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM key_indices WHERE class = ? AND key = ?`, string(class), key)
	if err != nil {
		return errors.Wrap(err, "sqlgraph", "DropKeyIndex", "forget index")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `DROP INDEX IF EXISTS `+indexName(class, key)); err != nil {
		return errors.Wrap(err, "sqlgraph", "DropKeyIndex", "drop index")
	}
	return nil
}

// IndexedKeys implements graph.KeyIndexable
func (g *Graph) IndexedKeys(ctx context.Context, class graph.ElementType) ([]string, error) {
	tx, err := g.begin(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.QueryContext(ctx, `SELECT key FROM key_indices WHERE class = ? ORDER BY key`, string(class))
	if err != nil {
		return nil, errors.Wrap(err, "sqlgraph", "IndexedKeys", "select keys")
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, errors.Wrap(err, "sqlgraph", "IndexedKeys", "scan key")
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlgraph", "IndexedKeys", "iterate keys")
	}
	return keys, nil
}

// indexedFilter returns a WHERE clause that lets SQLite use the key index on
// column. Callers still compare values in Go; the clause only narrows the scan.
func (g *Graph) indexedFilter(ctx context.Context, tx *sql.Tx, class graph.ElementType, column, key string, value any) (string, any, bool) {
	if key == "" {
		return "", nil, false
	}
	switch value.(type) {
	case string, int64, float64:
	default:
		return "", nil, false
	}
	path, err := jsonPath(key)
	if err != nil {
		return "", nil, false
	}

	var one int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM key_indices WHERE class = ? AND key = ?`, string(class), key).Scan(&one)
	if err != nil {
		return "", nil, false
	}
	return fmt.Sprintf(`json_extract(%s, %s) = ?`, column, path), value, true
}
