package cache

import (
	"fmt"

	"github.com/c360/graphbus/errors"
)

// Config describes a cache to build with New.
type Config struct {
	Enabled bool `json:"enabled" yaml:"enabled" toml:"enabled"`

	// MaxEntries bounds the cache with least recently used eviction. Zero is unbounded.
	MaxEntries int `json:"max_entries" yaml:"max_entries" toml:"max_entries"`
}

// DefaultConfig returns an enabled, unbounded cache configuration.
func DefaultConfig() Config {
	return Config{Enabled: true}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxEntries < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "Validate",
			fmt.Sprintf("max_entries must not be negative, got %d", c.MaxEntries))
	}
	return nil
}

// New builds the cache described by cfg. A disabled config yields a cache that
// stores nothing.
func New[V any](cfg Config, opts ...Option[V]) (Cache[V], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return noop[V]{}, nil
	}

	o := options[V]{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	stats := &Statistics{}
	if o.registry != nil && o.name != "" {
		mirror, err := newMirror(o.registry, o.name)
		if err != nil {
			return nil, errors.WrapInvalid(err, "cache", "New", "register metrics for "+o.name)
		}
		stats.mirror = mirror
	}
	return newStore(cfg.MaxEntries, stats, o.onEvict), nil
}

type noop[V any] struct{}

func (noop[V]) Get(string) (V, bool) {
	var zero V
	return zero, false
}

func (n noop[V]) Peek(key string) (V, bool)   { return n.Get(key) }
func (noop[V]) Set(string, V) (bool, error)   { return false, nil }
func (noop[V]) Delete(string) (bool, error)   { return false, nil }
func (noop[V]) Clear()                        {}
func (noop[V]) Len() int                      { return 0 }
func (noop[V]) Stats() *Statistics            { return nil }
