// Package kvgraph is a property graph backend on a NATS JetStream key/value bucket.
//
// Vertices live under "v.<id>", edges under "e.<id>" and each vertex's incident
// edge ids under "a.<id>". Adjacency lists are updated with compare-and-swap
// retries so concurrent writers never lose an edge. The backend has no
// transactions: every mutation is visible as soon as it returns. It assigns its
// own ids and keeps no secondary indices.
package kvgraph

import (
	"context"
	"encoding/base64"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/c360/graphbus/errors"
	"github.com/c360/graphbus/graph"
	"github.com/c360/graphbus/natsclient"
)

// KV is the slice of natsclient.KVStore the backend needs.
type KV interface {
	Get(ctx context.Context, key string) (*natsclient.KVEntry, error)
	Create(ctx context.Context, key string, value []byte) (uint64, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	UpdateWithRetry(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) error
}

var _ KV = (*natsclient.KVStore)(nil)

// Config configures the backend
type Config struct {
	Bucket string `json:"bucket" yaml:"bucket" toml:"bucket"`
}

// DefaultConfig uses the "graphbus" bucket.
func DefaultConfig() Config {
	return Config{Bucket: "graphbus"}
}

// Validate checks the config. Bucket names follow JetStream's rules.
func (c Config) Validate() error {
	if c.Bucket == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "kvgraph", "Validate", "bucket check")
	}
	for _, r := range c.Bucket {
		if !(r == '-' || r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "kvgraph", "Validate", "bucket name "+c.Bucket)
		}
	}
	return nil
}

// Store opens graph handles over one bucket.
type Store struct {
	kv     KV
	logger *slog.Logger
	clock  atomic.Int64
}

// New wraps kv. A nil logger uses slog.Default().
func New(kv KV, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{kv: kv, logger: logger.With("component", "kvgraph")}
}

// Features are fixed: no transactions, no key indices, generated ids.
func (s *Store) Features() graph.Features {
	return graph.Features{
		SupportsTransactions: false,
		IgnoresSuppliedIDs:   true,
		SupportsKeyIndices:   false,
	}
}

// stamp returns a creation time that strictly increases within the process.
func (s *Store) stamp() int64 {
	for {
		last := s.clock.Load()
		now := time.Now().UnixNano()
		if now <= last {
			now = last + 1
		}
		if s.clock.CompareAndSwap(last, now) {
			return now
		}
	}
}

// Open implements graph.Opener. Handles hold no server-side state.
func (s *Store) Open(_ context.Context) (graph.Graph, error) {
	return &Graph{store: s}, nil
}

const (
	vertexPrefix    = "v."
	edgePrefix      = "e."
	adjacencyPrefix = "a."
)

// encodeID maps any id onto the KV key alphabet.
func encodeID(id any) string {
	return base64.RawURLEncoding.EncodeToString([]byte(graph.IDKey(id)))
}

func vertexKey(id any) string    { return vertexPrefix + encodeID(id) }
func edgeKey(id any) string      { return edgePrefix + encodeID(id) }
func adjacencyKey(id any) string { return adjacencyPrefix + encodeID(id) }

func isElementKey(key, prefix string) bool {
	return strings.HasPrefix(key, prefix) && len(key) > len(prefix)
}
