package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/c360/graphbus/errors"
)

// MaxCommandDepth bounds object and array nesting in an inbound command.
const MaxCommandDepth = 100

// Command is one decoded request. Numbers are kept as json.Number so ids and
// property values survive without float rounding.
type Command struct {
	body map[string]any
}

// NewCommand wraps an already decoded body.
func NewCommand(body map[string]any) *Command {
	if body == nil {
		body = map[string]any{}
	}
	return &Command{body: body}
}

// ParseCommand decodes raw into a Command. Anything other than a single JSON object,
// or an object nested deeper than MaxCommandDepth, is a validation error.
func ParseCommand(raw []byte) (*Command, error) {
	if err := checkDepth(raw, MaxCommandDepth); err != nil {
		return nil, invalid("Invalid command: %v", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return nil, invalid("Invalid command: %v", err)
	}
	if body == nil {
		return nil, invalid("Invalid command: expected a JSON object")
	}
	if dec.More() {
		return nil, invalid("Invalid command: trailing data after JSON object")
	}
	return &Command{body: body}, nil
}

// checkDepth scans raw without decoding it so deeply nested input is rejected cheaply.
func checkDepth(raw []byte, limit int) error {
	depth := 0
	inString := false
	escaped := false

	for _, b := range raw {
		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch b {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}

		switch b {
		case '"':
			inString = true
		case '{', '[':
			depth++
			if depth > limit {
				return fmt.Errorf("nesting deeper than %d", limit)
			}
		case '}', ']':
			depth = max(depth-1, 0)
		}
	}
	return nil
}

// Body returns the decoded command.
func (c *Command) Body() map[string]any { return c.body }

// Action returns the action tag, or "" when absent or not a string.
func (c *Command) Action() string {
	s, _ := c.String("action")
	return s
}

// Value returns the field when it is present and not null.
func (c *Command) Value(key string) (any, bool) {
	v, ok := c.body[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// String returns a string field.
func (c *Command) String(key string) (string, bool) {
	s, ok := c.body[key].(string)
	return s, ok
}

// Object returns an object field.
func (c *Command) Object(key string) (map[string]any, bool) {
	m, ok := c.body[key].(map[string]any)
	return m, ok
}

// Array returns an array field.
func (c *Command) Array(key string) ([]any, bool) {
	a, ok := c.body[key].([]any)
	return a, ok
}

// Bool returns a boolean field, or def when the field is absent or not a boolean.
func (c *Command) Bool(key string, def bool) bool {
	if b, ok := c.body[key].(bool); ok {
		return b
	}
	return def
}

func invalid(format string, args ...any) error {
	return errors.Newf(errors.ErrorInvalid, errors.ErrValidation, format, args...)
}

func notFound(format string, args ...any) error {
	return errors.Newf(errors.ErrorInvalid, errors.ErrElementNotFound, format, args...)
}

func mustSpecify(field string) error {
	return invalid("%s must be specified", field)
}
