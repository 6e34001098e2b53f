// Package session owns the per-request graph handle: open, commit on success,
// roll back on failure, release always.
package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/c360/graphbus/errors"
	"github.com/c360/graphbus/graph"
	"github.com/c360/graphbus/metric"
)

// OpenFailedMessage is the reply message when no graph handle can be opened.
const OpenFailedMessage = "Cannot open graph backend"

// Manager opens sessions against a backend.
type Manager struct {
	opener  graph.Opener
	logger  *slog.Logger
	metrics *metric.Metrics
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics records open sessions and transaction outcomes in registry's core metrics.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(m *Manager) {
		if registry != nil {
			m.metrics = registry.CoreMetrics()
		}
	}
}

// NewManager creates a Manager. A nil logger uses slog.Default().
func NewManager(opener graph.Opener, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		opener: opener,
		logger: logger.With("component", "session"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open starts a session. Failures satisfy errors.Is(err, errors.ErrBackendUnavailable).
func (m *Manager) Open(ctx context.Context) (*Session, error) {
	g, err := m.open(ctx)
	if err != nil {
		return nil, err
	}

	s := &Session{id: uuid.NewString(), graph: g, manager: m}
	if m.metrics != nil {
		m.metrics.SessionOpened()
	}
	m.logger.Debug("session opened", "session", s.id)
	return s, nil
}

func (m *Manager) open(ctx context.Context) (graph.Graph, error) {
	g, err := m.opener.Open(ctx)
	if err != nil {
		m.logger.Error("graph backend unavailable", "error", err)
		return nil, &errors.ClassifiedError{
			Class:     errors.ErrorTransient,
			Err:       fmt.Errorf("%w: %w", errors.ErrBackendUnavailable, err),
			Message:   OpenFailedMessage,
			Component: "session",
			Operation: "Open",
		}
	}
	return g, nil
}

func (m *Manager) recordTransaction(outcome string) {
	if m.metrics != nil {
		m.metrics.RecordTransaction(outcome)
	}
}

// Session is one request's exclusive graph handle. It is not safe for concurrent use.
type Session struct {
	id       string
	graph    graph.Graph
	manager  *Manager
	released bool
}

// ID identifies the session in logs and events.
func (s *Session) ID() string { return s.id }

// Graph returns the open handle.
func (s *Session) Graph() graph.Graph { return s.graph }

// Features returns the backend capabilities of the open handle.
func (s *Session) Features() graph.Features { return s.graph.Features() }

// CommitIfTransactional commits staged work. Non-transactional backends make it a no-op.
func (s *Session) CommitIfTransactional(ctx context.Context) error {
	tx, ok := graph.AsTransactional(s.graph)
	if !ok {
		return nil
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "session", "CommitIfTransactional", "commit")
	}
	s.manager.recordTransaction("commit")
	return nil
}

// RollbackIfTransactional discards staged work. Non-transactional backends make it a no-op.
func (s *Session) RollbackIfTransactional(ctx context.Context) error {
	tx, ok := graph.AsTransactional(s.graph)
	if !ok {
		return nil
	}
	if err := tx.Rollback(ctx); err != nil {
		return errors.Wrap(err, "session", "RollbackIfTransactional", "rollback")
	}
	s.manager.recordTransaction("rollback")
	return nil
}

// Reopen shuts the current handle down and opens a fresh one. Backends that assign ids
// lazily only guarantee them once the handle that created the element is closed.
func (s *Session) Reopen(ctx context.Context) error {
	if err := s.graph.Shutdown(ctx); err != nil {
		s.manager.logger.Warn("shutdown before reopen failed", "session", s.id, "error", err)
	}
	g, err := s.manager.open(ctx)
	if err != nil {
		s.released = true
		if s.manager.metrics != nil {
			s.manager.metrics.SessionClosed()
		}
		return err
	}
	s.graph = g
	return nil
}

// Release shuts the handle down. It is idempotent and never fails: by the time it runs
// the reply is already decided, so shutdown errors are logged and dropped.
func (s *Session) Release(ctx context.Context) {
	if s == nil || s.released {
		return
	}
	s.released = true

	if err := s.graph.Shutdown(ctx); err != nil {
		s.manager.logger.Warn("session shutdown failed", "session", s.id, "error", err)
	}
	if s.manager.metrics != nil {
		s.manager.metrics.SessionClosed()
	}
	s.manager.logger.Debug("session released", "session", s.id)
}

// Released reports whether Release has run.
func (s *Session) Released() bool { return s.released }
