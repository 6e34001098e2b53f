package dispatch

import (
	"context"

	"github.com/c360/graphbus/graph"
)

func query(ctx context.Context, c *call) (Reply, error) {
	id, err := requireID(c)
	if err != nil {
		return nil, err
	}
	text, ok := c.cmd.String("query")
	if !ok || text == "" {
		return nil, invalid("No query specified.")
	}

	starts := "Vertex"
	if raw, ok := c.cmd.Value("starts"); ok {
		s, _ := raw.(string)
		if s != "Vertex" && s != "Edge" {
			return nil, invalid("Unsupported starts property: %v", raw)
		}
		starts = s
	}

	g := c.session.Graph()
	var start graph.Element
	if starts == "Edge" {
		e, err := findEdge(ctx, g, id, "Starting Edge %v not found")
		if err != nil {
			return nil, err
		}
		start = e
	} else {
		v, err := findVertex(ctx, g, id, "Starting Vertex %v not found")
		if err != nil {
			return nil, err
		}
		start = v
	}

	program, err := c.d.queries.Get(text, c.cmd.Bool("cache", true))
	if err != nil {
		return nil, err
	}

	results, err := program.Bind(start).Run(ctx, g)
	if err != nil {
		return nil, err
	}
	encoded, err := c.d.codec.SerializeResults(results)
	if err != nil {
		return nil, err
	}
	if encoded == nil {
		encoded = []any{}
	}
	return Reply{"results": encoded}, nil
}

func flushQueryCache(_ context.Context, c *call) (Reply, error) {
	if text, ok := c.cmd.String("query"); ok && text != "" {
		c.d.queries.Flush(text)
	} else {
		c.d.queries.FlushAll()
	}
	return Reply{}, nil
}

