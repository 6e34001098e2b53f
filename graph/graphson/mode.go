// Package graphson converts between GraphSON-style JSON documents and graph elements.
//
// The verbosity of every document is fixed by a Mode:
//
//	COMPACT   _id, edge endpoints and label, raw property values
//	NORMAL    COMPACT plus _type on every element
//	EXTENDED  NORMAL with every property value wrapped as {"type": ..., "value": ...}
package graphson

import (
	"fmt"
	"strings"
)

// Mode is the GraphSON verbosity level
type Mode string

const (
	ModeCompact  Mode = "COMPACT"
	ModeNormal   Mode = "NORMAL"
	ModeExtended Mode = "EXTENDED"
)

// Reserved element keys. They are never stored as properties.
const (
	KeyID    = "_id"
	KeyType  = "_type"
	KeyLabel = "_label"
	KeyOutV  = "_outV"
	KeyInV   = "_inV"
)

// ParseMode parses a mode name case-insensitively
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToUpper(strings.TrimSpace(s))); m {
	case ModeCompact, ModeNormal, ModeExtended:
		return m, nil
	default:
		return "", fmt.Errorf("unknown GraphSON mode %q", s)
	}
}

func isReserved(key string) bool {
	switch key {
	case KeyID, KeyType, KeyLabel, KeyOutV, KeyInV:
		return true
	}
	return false
}
