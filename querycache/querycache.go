// Package querycache memoizes compiled traversal programs by their query text.
//
// Programs are immutable once compiled, so a cached program is shared by every
// request and each request binds its own execution. Concurrent misses on the same
// text share a single compile.
package querycache

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/c360/graphbus/errors"
	"github.com/c360/graphbus/graph/traversal"
	"github.com/c360/graphbus/metric"
	"github.com/c360/graphbus/pkg/cache"
)

// CompileFailedMessage is the human message of every compile failure.
const CompileFailedMessage = "Cannot compile query."

// Config controls caching.
type Config struct {
	// Enabled false compiles every query and stores nothing.
	Enabled bool `json:"enabled" yaml:"enabled" toml:"enabled"`

	// MaxEntries bounds the cache with LRU eviction. Zero means unbounded.
	MaxEntries int `json:"max_entries" yaml:"max_entries" toml:"max_entries"`
}

// DefaultConfig returns an enabled, unbounded cache.
func DefaultConfig() Config {
	return Config{Enabled: true}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxEntries < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "querycache", "Validate",
			fmt.Sprintf("max_entries must not be negative, got %d", c.MaxEntries))
	}
	return nil
}

func (c Config) storeConfig() cache.Config {
	return cache.Config{Enabled: c.Enabled, MaxEntries: c.MaxEntries}
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	registry *metric.MetricsRegistry
	logger   *slog.Logger
}

// WithMetrics exports cache and compile metrics through registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(o *options) { o.registry = registry }
}

// WithLogger sets the logger used for compile failures and evictions.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Cache maps query text to compiled programs. It is safe for concurrent use.
type Cache struct {
	compiler traversal.Compiler
	store    cache.Cache[*traversal.Program]
	group    singleflight.Group
	logger   *slog.Logger

	compiles       atomic.Int64
	compileCounter prometheus.Counter
	failureCounter prometheus.Counter
}

// New creates a cache over compiler. A nil compiler uses traversal.DefaultCompiler.
func New(compiler traversal.Compiler, cfg Config, opts ...Option) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if compiler == nil {
		compiler = traversal.DefaultCompiler
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	c := &Cache{
		compiler: compiler,
		logger:   o.logger.With("component", "querycache"),
	}

	store, err := cache.New(cfg.storeConfig(),
		cache.WithMetrics[*traversal.Program](o.registry, "query_cache"),
		cache.WithEvictionCallback[*traversal.Program](func(query string, _ *traversal.Program) {
			c.logger.Debug("query evicted", "query", query)
		}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "querycache", "New", "build store")
	}
	c.store = store

	if o.registry != nil {
		if err := c.registerMetrics(o.registry); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Cache) registerMetrics(registry *metric.MetricsRegistry) error {
	c.compileCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metric.Namespace,
		Subsystem: "query_cache",
		Name:      "compiles_total",
		Help:      "Traversal compilations performed",
	})
	c.failureCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metric.Namespace,
		Subsystem: "query_cache",
		Name:      "compile_failures_total",
		Help:      "Traversal compilations that failed",
	})
	if err := registry.RegisterCounter("query_cache", "compiles", c.compileCounter); err != nil {
		return err
	}
	return registry.RegisterCounter("query_cache", "compile_failures", c.failureCounter)
}

// Get returns the program for query, compiling it on a miss. The compiled program is
// inserted only when store is true. Compile failures are never cached and satisfy
// errors.Is(err, errors.ErrQueryCompile).
func (c *Cache) Get(query string, store bool) (*traversal.Program, error) {
	if p, ok := c.store.Get(query); ok {
		return p, nil
	}

	v, err, shared := c.group.Do(query, func() (any, error) {
		p, err := c.compile(query)
		if err == nil && store {
			c.put(query, p)
		}
		return p, err
	})
	if err != nil {
		return nil, err
	}

	p := v.(*traversal.Program)
	// the leader may not have wanted the program stored
	if shared && store {
		c.put(query, p)
	}
	return p, nil
}

func (c *Cache) compile(query string) (*traversal.Program, error) {
	c.compiles.Add(1)
	if c.compileCounter != nil {
		c.compileCounter.Inc()
	}

	p, err := c.compiler.Compile(query)
	if err != nil {
		if c.failureCounter != nil {
			c.failureCounter.Inc()
		}
		c.logger.Debug("query compile failed", "query", query, "error", err)
		return nil, &errors.ClassifiedError{
			Class:     errors.ErrorInvalid,
			Err:       fmt.Errorf("%w: %w", errors.ErrQueryCompile, err),
			Message:   CompileFailedMessage,
			Component: "querycache",
			Operation: "Get",
		}
	}
	return p, nil
}

func (c *Cache) put(query string, p *traversal.Program) {
	if query == "" {
		return
	}
	if _, err := c.store.Set(query, p); err != nil {
		c.logger.Warn("query cache insert failed", "query", query, "error", err)
	}
}

// Flush removes the entry for query and reports whether one existed.
func (c *Cache) Flush(query string) bool {
	if query == "" {
		return false
	}
	removed, err := c.store.Delete(query)
	return err == nil && removed
}

// FlushAll removes every entry.
func (c *Cache) FlushAll() {
	c.store.Clear()
}

// Compiles returns how many compilations this cache has performed.
func (c *Cache) Compiles() int64 {
	return c.compiles.Load()
}

// Len returns the number of cached programs.
func (c *Cache) Len() int {
	return c.store.Len()
}

// Contains reports whether query is cached, without touching statistics or recency.
func (c *Cache) Contains(query string) bool {
	_, ok := c.store.Peek(query)
	return ok
}

// Stats returns the storage statistics, nil when caching is disabled.
func (c *Cache) Stats() *cache.Statistics {
	return c.store.Stats()
}

// Close drops every cached program.
func (c *Cache) Close() error {
	c.store.Clear()
	return nil
}
