package cache

import (
	"github.com/c360/graphbus/errors"
)

// Cache stores values of type V under string keys. Implementations are safe
// for concurrent use.
type Cache[V any] interface {
	// Get returns the value and marks it as recently used.
	Get(key string) (V, bool)

	// Peek is Get without touching recency or statistics.
	Peek(key string) (V, bool)

	// Set reports whether the key was new.
	Set(key string, value V) (bool, error)

	// Delete reports whether the key was present.
	Delete(key string) (bool, error)

	Clear()
	Len() int

	// Stats is nil when the cache is disabled.
	Stats() *Statistics
}

// EvictCallback observes every entry that leaves the cache, whatever the reason.
// It runs outside the cache lock.
type EvictCallback[V any] func(key string, value V)

func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "validateKey", "empty key")
	}
	return nil
}
