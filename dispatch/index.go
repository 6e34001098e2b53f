package dispatch

import (
	"context"
	"sort"

	"github.com/c360/graphbus/errors"
	"github.com/c360/graphbus/graph"
)

func keyIndexable(c *call) (graph.KeyIndexable, error) {
	idx, ok := graph.AsKeyIndexable(c.session.Graph())
	if !ok {
		return nil, errors.New(errors.ErrorInvalid, errors.ErrUnsupportedOperation, "Graph does not support key indices")
	}
	return idx, nil
}

func elementClass(c *call) (graph.ElementType, error) {
	raw, ok := c.cmd.String("elementClass")
	if !ok || raw == "" {
		return "", mustSpecify("elementClass")
	}
	class, err := graph.ParseElementClass(raw)
	if err != nil {
		return "", invalid("Unsupported elementClass %s", raw)
	}
	return class, nil
}

func indexKey(c *call) (string, error) {
	key, ok := c.cmd.String("key")
	if !ok || key == "" {
		return "", mustSpecify("key")
	}
	return key, nil
}

func createKeyIndex(ctx context.Context, c *call) (Reply, error) {
	idx, err := keyIndexable(c)
	if err != nil {
		return nil, err
	}
	key, err := indexKey(c)
	if err != nil {
		return nil, err
	}
	class, err := elementClass(c)
	if err != nil {
		return nil, err
	}

	var params map[string]any
	if raw, ok := c.cmd.Value("parameters"); ok {
		if params, ok = raw.(map[string]any); !ok {
			return nil, invalid("parameters must be an object")
		}
	}

	if err := idx.CreateKeyIndex(ctx, key, class, params); err != nil {
		return nil, err
	}
	c.subject = key
	return Reply{}, nil
}

func dropKeyIndex(ctx context.Context, c *call) (Reply, error) {
	idx, err := keyIndexable(c)
	if err != nil {
		return nil, err
	}
	key, err := indexKey(c)
	if err != nil {
		return nil, err
	}
	class, err := elementClass(c)
	if err != nil {
		return nil, err
	}

	if err := idx.DropKeyIndex(ctx, key, class); err != nil {
		return nil, err
	}
	c.subject = key
	return Reply{}, nil
}

func getIndexedKeys(ctx context.Context, c *call) (Reply, error) {
	idx, err := keyIndexable(c)
	if err != nil {
		return nil, err
	}
	class, err := elementClass(c)
	if err != nil {
		return nil, err
	}

	keys, err := idx.IndexedKeys(ctx, class)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(keys))
	copy(out, keys)
	sort.Strings(out)
	return Reply{"keys": out}, nil
}
