package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/graphbus/pkg/retry"
)

var (
	ErrKVKeyNotFound        = stderrors.New("kv: key not found")
	ErrKVKeyExists          = stderrors.New("kv: key already exists")
	ErrKVRevisionMismatch   = stderrors.New("kv: revision mismatch (concurrent update)")
	ErrKVMaxRetriesExceeded = stderrors.New("kv: max retries exceeded")
	ErrKVValueTooLarge      = stderrors.New("kv: value too large")
)

// KVEntry is a value with the revision a compare-and-swap write must name.
type KVEntry struct {
	Key      string
	Value    []byte
	Revision uint64
}

// KVOptions tunes a KVStore.
type KVOptions struct {
	MaxRetries    int           // conflict retries after the first attempt
	RetryDelay    time.Duration // first pause between attempts
	MaxRetryDelay time.Duration
	Timeout       time.Duration // per call; zero leaves ctx alone
	MaxValueSize  int           // zero disables the check
}

// DefaultKVOptions follows retry.Contention and caps values at 1MB.
func DefaultKVOptions() KVOptions {
	base := retry.Contention()
	return KVOptions{
		MaxRetries:    base.MaxAttempts - 1,
		RetryDelay:    base.InitialDelay,
		MaxRetryDelay: base.MaxDelay,
		Timeout:       5 * time.Second,
		MaxValueSize:  1 << 20,
	}
}

// KVStore wraps a JetStream bucket with typed errors and compare-and-swap updates.
type KVStore struct {
	bucket jetstream.KeyValue
	opts   KVOptions
	logger Logger
}

// NewKVStore wraps bucket and logs through the client's logger.
func (c *Client) NewKVStore(bucket jetstream.KeyValue, opts ...func(*KVOptions)) *KVStore {
	return NewKVStore(bucket, c.logger, opts...)
}

// NewKVStore wraps bucket. A nil logger logs through slog.Default().
func NewKVStore(bucket jetstream.KeyValue, logger Logger, opts ...func(*KVOptions)) *KVStore {
	kv := &KVStore{bucket: bucket, opts: DefaultKVOptions(), logger: logger}
	for _, opt := range opts {
		opt(&kv.opts)
	}
	if kv.logger == nil {
		kv.logger = NewSlogLogger(nil)
	}
	return kv
}

func (kv *KVStore) Bucket() string { return kv.bucket.Bucket() }

func (kv *KVStore) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if kv.opts.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, kv.opts.Timeout)
}

// Get reads key. A missing or deleted key is ErrKVKeyNotFound.
func (kv *KVStore) Get(ctx context.Context, key string) (*KVEntry, error) {
	ctx, cancel := kv.bounded(ctx)
	defer cancel()

	entry, err := kv.bucket.Get(ctx, key)
	if err != nil {
		return nil, kv.translate("get", key, err)
	}
	return &KVEntry{Key: key, Value: entry.Value(), Revision: entry.Revision()}, nil
}

// Put writes key unconditionally.
func (kv *KVStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	return kv.write(ctx, "put", key, value, func(ctx context.Context) (uint64, error) {
		return kv.bucket.Put(ctx, key, value)
	})
}

// Create writes key only if it does not exist yet; otherwise ErrKVKeyExists.
func (kv *KVStore) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	return kv.write(ctx, "create", key, value, func(ctx context.Context) (uint64, error) {
		return kv.bucket.Create(ctx, key, value)
	})
}

// Update writes key only if its revision is still revision; otherwise
// ErrKVRevisionMismatch.
func (kv *KVStore) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	return kv.write(ctx, "update", key, value, func(ctx context.Context) (uint64, error) {
		return kv.bucket.Update(ctx, key, value, revision)
	})
}

func (kv *KVStore) write(ctx context.Context, op, key string, value []byte,
	fn func(context.Context) (uint64, error)) (uint64, error) {
	if limit := kv.opts.MaxValueSize; limit > 0 && len(value) > limit {
		return 0, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrKVValueTooLarge, key, len(value), limit)
	}
	ctx, cancel := kv.bounded(ctx)
	defer cancel()

	rev, err := fn(ctx)
	if err != nil {
		return 0, kv.translate(op, key, err)
	}
	kv.logger.Debugf("KV %s %s rev=%d", op, key, rev)
	return rev, nil
}

// Delete removes key, failing with ErrKVKeyNotFound when it is already gone.
// The delete is conditional on the revision just read, so a concurrent
// writer's value is never removed unseen.
func (kv *KVStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := kv.bounded(ctx)
	defer cancel()

	entry, err := kv.bucket.Get(ctx, key)
	if err != nil {
		return kv.translate("delete", key, err)
	}
	if err := kv.bucket.Delete(ctx, key, jetstream.LastRevision(entry.Revision())); err != nil {
		return kv.translate("delete", key, err)
	}
	kv.logger.Debugf("KV delete %s", key)
	return nil
}

// Keys lists live keys starting with prefix.
func (kv *KVStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := kv.bounded(ctx)
	defer cancel()

	lister, err := kv.bucket.ListKeys(ctx)
	if stderrors.Is(err, jetstream.ErrNoKeysFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("kv keys %s: %w", prefix, err)
	}
	defer func() { _ = lister.Stop() }()

	var keys []string
	for key := range lister.Keys() {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// UpdateWithRetry reads key, passes its value to fn and writes the result back
// under a revision check. A missing key reaches fn as nil and is created.
// Only revision conflicts are retried; an error from fn is returned as is.
func (kv *KVStore) UpdateWithRetry(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) error {
	cfg := retry.Contention()
	cfg.MaxAttempts = kv.opts.MaxRetries + 1
	cfg.InitialDelay = kv.opts.RetryDelay
	cfg.MaxDelay = kv.opts.MaxRetryDelay
	cfg.Retryable = IsKVConflictError

	err := retry.Do(ctx, cfg, func(attempt int) error {
		var current []byte
		var revision uint64
		entry, err := kv.Get(ctx, key)
		if err == nil {
			current, revision = entry.Value, entry.Revision
		} else if !stderrors.Is(err, ErrKVKeyNotFound) {
			return err
		}

		next, err := fn(current)
		if err != nil {
			return retry.NonRetryable(err)
		}

		if revision == 0 {
			_, err = kv.Create(ctx, key, next)
		} else {
			_, err = kv.Update(ctx, key, next, revision)
		}
		if IsKVConflictError(err) {
			kv.logger.Debugf("KV conflict on %s, attempt %d of %d", key, attempt, cfg.MaxAttempts)
		}
		return err
	})

	var stop *retry.NonRetryableError
	switch {
	case stderrors.As(err, &stop):
		return stop.Unwrap()
	case IsKVConflictError(err):
		return fmt.Errorf("%w: %s", ErrKVMaxRetriesExceeded, key)
	}
	return err
}

// translate maps bucket errors onto the KV sentinels.
func (kv *KVStore) translate(op, key string, err error) error {
	switch {
	case IsKVNotFoundError(err):
		return ErrKVKeyNotFound
	case IsKVConflictError(err) && op == "create":
		return ErrKVKeyExists
	case IsKVConflictError(err):
		return ErrKVRevisionMismatch
	}
	return fmt.Errorf("kv %s %s: %w", op, key, err)
}

// Server error codes and texts, for errors that arrive without a typed sentinel.
var (
	notFoundHints = []string{"key not found", "10037"}
	conflictHints = []string{"wrong last sequence", "10071", "key exists", "10058"}
)

// IsKVNotFoundError reports a missing or deleted key.
func IsKVNotFoundError(err error) bool {
	return matches(err, notFoundHints, ErrKVKeyNotFound, jetstream.ErrKeyNotFound, jetstream.ErrKeyDeleted)
}

// IsKVConflictError reports an existing key or a stale revision.
func IsKVConflictError(err error) bool {
	return matches(err, conflictHints, ErrKVRevisionMismatch, ErrKVKeyExists, jetstream.ErrKeyExists)
}

func matches(err error, hints []string, sentinels ...error) bool {
	if err == nil {
		return false
	}
	for _, s := range sentinels {
		if stderrors.Is(err, s) {
			return true
		}
	}
	msg := err.Error()
	for _, h := range hints {
		if strings.Contains(msg, h) {
			return true
		}
	}
	return false
}
