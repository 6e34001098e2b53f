package dispatch

import (
	"context"
	stderrors "errors"

	"github.com/c360/graphbus/errors"
	"github.com/c360/graphbus/graph"
	"github.com/c360/graphbus/graph/graphson"
)

// malformedGraphSON prefixes a codec failure with the reply wording while keeping
// the cause reachable through errors.Is.
func malformedGraphSON(err error) error {
	if !stderrors.Is(err, errors.ErrMalformedInput) {
		return err
	}
	return &errors.ClassifiedError{
		Class:   errors.ErrorInvalid,
		Err:     err,
		Message: "The Graphson message is invalid: " + err.Error(),
	}
}

func addGraph(ctx context.Context, c *call) (Reply, error) {
	doc, ok := c.cmd.Object("graph")
	if !ok {
		return nil, invalid("No graphSON data supplied.")
	}

	g := c.session.Graph()
	if err := c.d.codec.DeserializeGraph(ctx, g, doc); err != nil {
		return nil, malformedGraphSON(err)
	}

	// Callers cannot know the ids the backend assigned, so hand the loaded graph back.
	if g.Features().IgnoresSuppliedIDs {
		snapshot, err := c.d.codec.SerializeGraph(ctx, g)
		if err != nil {
			return nil, err
		}
		return Reply{"graph": snapshot}, nil
	}
	return Reply{}, nil
}

// firstObject returns the first entry of the array field key. Only the first
// element of a batch is created; the rest are ignored.
func firstObject(c *call, key, missing string) (map[string]any, error) {
	items, ok := c.cmd.Array(key)
	if !ok || len(items) == 0 {
		return nil, invalid("%s", missing)
	}
	obj, ok := items[0].(map[string]any)
	if !ok {
		return nil, malformedGraphSON(errors.Newf(errors.ErrorInvalid, errors.ErrMalformedInput,
			"%s must contain JSON objects", key))
	}
	if len(items) > 1 {
		c.d.logger.Debug("ignoring extra elements", "action", c.action, "field", key, "count", len(items)-1)
	}
	return obj, nil
}

// settle makes a created element's id final. Backends that neither stage work nor
// keep supplied ids only fix the id once the creating handle is closed.
func settle(ctx context.Context, c *call) error {
	f := c.session.Features()
	if f.SupportsTransactions || !f.IgnoresSuppliedIDs {
		return nil
	}
	return c.session.Reopen(ctx)
}

func addVertex(ctx context.Context, c *call) (Reply, error) {
	obj, err := firstObject(c, "vertices", "No vertex data supplied.")
	if err != nil {
		return nil, err
	}

	v, err := c.d.codec.DeserializeVertex(ctx, c.session.Graph(), obj)
	if err != nil {
		return nil, malformedGraphSON(err)
	}
	if err := settle(ctx, c); err != nil {
		return nil, err
	}

	c.subject = v.ID
	return Reply{graphson.KeyID: v.ID}, nil
}

func addEdge(ctx context.Context, c *call) (Reply, error) {
	obj, err := firstObject(c, "edges", "No edge data supplied.")
	if err != nil {
		return nil, err
	}

	if label, ok := obj[graphson.KeyLabel].(string); !ok || label == "" {
		return nil, invalid("Key _label is a required field")
	}
	inRef, ok := obj[graphson.KeyInV]
	if !ok || inRef == nil {
		return nil, mustSpecify(graphson.KeyInV)
	}
	outRef, ok := obj[graphson.KeyOutV]
	if !ok || outRef == nil {
		return nil, mustSpecify(graphson.KeyOutV)
	}

	g := c.session.Graph()
	out, err := findVertex(ctx, g, outRef, "Vertex %v not found")
	if err != nil {
		return nil, err
	}
	in, err := findVertex(ctx, g, inRef, "Vertex %v not found")
	if err != nil {
		return nil, err
	}

	e, err := c.d.codec.DeserializeEdge(ctx, g, out, in, obj)
	if err != nil {
		return nil, malformedGraphSON(err)
	}
	if err := settle(ctx, c); err != nil {
		return nil, err
	}

	c.subject = e.ID
	return Reply{graphson.KeyID: e.ID}, nil
}

// findVertex loads a vertex, turning a miss into an ElementNotFound error worded by format.
func findVertex(ctx context.Context, g graph.Graph, ref any, format string) (*graph.Vertex, error) {
	v, err := g.Vertex(ctx, graph.NormalizeValue(ref))
	if stderrors.Is(err, graph.ErrNotFound) {
		return nil, notFound(format, ref)
	}
	return v, err
}

func findEdge(ctx context.Context, g graph.Graph, ref any, format string) (*graph.Edge, error) {
	e, err := g.Edge(ctx, graph.NormalizeValue(ref))
	if stderrors.Is(err, graph.ErrNotFound) {
		return nil, notFound(format, ref)
	}
	return e, err
}

func requireID(c *call) (any, error) {
	id, ok := c.cmd.Value(graphson.KeyID)
	if !ok {
		return nil, mustSpecify(graphson.KeyID)
	}
	return id, nil
}

func getVertex(ctx context.Context, c *call) (Reply, error) {
	id, err := requireID(c)
	if err != nil {
		return nil, err
	}
	v, err := findVertex(ctx, c.session.Graph(), id, "Vertex %v not found")
	if err != nil {
		return nil, err
	}
	return c.elementsReply("vertices", []any{v})
}

func getEdge(ctx context.Context, c *call) (Reply, error) {
	id, err := requireID(c)
	if err != nil {
		return nil, err
	}
	e, err := findEdge(ctx, c.session.Graph(), id, "Edge %v not found")
	if err != nil {
		return nil, err
	}
	return c.elementsReply("edges", []any{e})
}

// filter reads the optional key/value pair of getVertices and getEdges.
// Neither lists everything; one without the other is rejected.
func filter(c *call) (string, any, error) {
	raw, hasKey := c.cmd.Value("key")
	value, hasValue := c.cmd.Value("value")
	if !hasKey && !hasValue {
		return "", nil, nil
	}
	key, isString := raw.(string)
	if !isString || key == "" || !hasValue {
		return "", nil, invalid("Both a key and a value must be specified")
	}
	return key, graph.NormalizeValue(value), nil
}

func getVertices(ctx context.Context, c *call) (Reply, error) {
	key, value, err := filter(c)
	if err != nil {
		return nil, err
	}
	vs, err := c.session.Graph().Vertices(ctx, key, value)
	if err != nil {
		return nil, err
	}
	return c.elementsReply("vertices", graphson.Items(vs))
}

func getEdges(ctx context.Context, c *call) (Reply, error) {
	key, value, err := filter(c)
	if err != nil {
		return nil, err
	}
	es, err := c.session.Graph().Edges(ctx, key, value)
	if err != nil {
		return nil, err
	}
	return c.elementsReply("edges", graphson.Items(es))
}

func (c *call) elementsReply(field string, items []any) (Reply, error) {
	encoded, err := c.d.codec.SerializeElements(items)
	if err != nil {
		return nil, err
	}
	if encoded == nil {
		encoded = []any{}
	}
	return Reply{"mode": string(c.d.codec.Mode()), field: encoded}, nil
}

func removeVertex(ctx context.Context, c *call) (Reply, error) {
	id, err := requireID(c)
	if err != nil {
		return nil, err
	}
	err = c.session.Graph().RemoveVertex(ctx, graph.NormalizeValue(id))
	if stderrors.Is(err, graph.ErrNotFound) {
		return nil, notFound("Cannot remove. Vertex %v not found", id)
	}
	if err != nil {
		return nil, err
	}
	c.subject = graph.NormalizeValue(id)
	return Reply{graphson.KeyID: id}, nil
}

func removeEdge(ctx context.Context, c *call) (Reply, error) {
	id, err := requireID(c)
	if err != nil {
		return nil, err
	}
	err = c.session.Graph().RemoveEdge(ctx, graph.NormalizeValue(id))
	if stderrors.Is(err, graph.ErrNotFound) {
		return nil, notFound("Cannot remove. Edge %v not found", id)
	}
	if err != nil {
		return nil, err
	}
	c.subject = graph.NormalizeValue(id)
	return Reply{graphson.KeyID: id}, nil
}
