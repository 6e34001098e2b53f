// Package dispatch routes decoded commands to graph action handlers.
//
// Every command runs in its own session: the dispatcher opens it, calls the
// handler, commits on success, rolls back on failure and always releases it.
// Failures become error replies except fatal ones, which are propagated to the
// caller after the rollback.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/c360/graphbus/errors"
	"github.com/c360/graphbus/graph/graphson"
	"github.com/c360/graphbus/metric"
	"github.com/c360/graphbus/querycache"
	"github.com/c360/graphbus/session"
)

// MissingActionMessage is the reply message for a command without an action.
const MissingActionMessage = "Action must be specified"

// Config wires a Dispatcher's collaborators.
type Config struct {
	Sessions *session.Manager
	Codec    *graphson.Codec
	Queries  *querycache.Cache

	// Optional
	Logger    *slog.Logger
	Metrics   *metric.MetricsRegistry
	Tracer    trace.Tracer
	Publisher Publisher
}

// Dispatcher executes commands against the graph. It is safe for concurrent use;
// concurrency between commands is limited only by the backend.
type Dispatcher struct {
	sessions  *session.Manager
	codec     *graphson.Codec
	queries   *querycache.Cache
	logger    *slog.Logger
	metrics   *metric.Metrics
	tracer    trace.Tracer
	publisher Publisher
}

// New creates a Dispatcher. Sessions and Queries are required; a nil Codec uses NORMAL mode.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Sessions == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "dispatch", "New", "session manager check")
	}
	if cfg.Queries == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "dispatch", "New", "query cache check")
	}

	d := &Dispatcher{
		sessions:  cfg.Sessions,
		codec:     cfg.Codec,
		queries:   cfg.Queries,
		logger:    cfg.Logger,
		tracer:    cfg.Tracer,
		publisher: cfg.Publisher,
	}
	if d.codec == nil {
		d.codec = graphson.New(graphson.ModeNormal)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	d.logger = d.logger.With("component", "dispatch")
	if d.tracer == nil {
		d.tracer = noop.NewTracerProvider().Tracer("graphbus/dispatch")
	}
	if cfg.Metrics != nil {
		d.metrics = cfg.Metrics.CoreMetrics()
	}
	return d, nil
}

// Codec returns the codec replies are encoded with.
func (d *Dispatcher) Codec() *graphson.Codec { return d.codec }

// Handle decodes raw, dispatches it and encodes the reply. The error is non-nil only
// for fatal failures, in which case no reply is produced.
func (d *Dispatcher) Handle(ctx context.Context, raw []byte) ([]byte, error) {
	cmd, err := ParseCommand(raw)
	if err != nil {
		d.recordError("", err)
		return Error(err.Error()).Encode()
	}

	reply, err := d.Dispatch(ctx, cmd)
	if err != nil {
		return nil, err
	}

	data, err := reply.Encode()
	if err != nil {
		return nil, errors.WrapFatal(err, "dispatch", "Handle", "encode reply")
	}
	return data, nil
}

// Dispatch runs one command. The returned error is always classified fatal; every
// other failure is reported in the Reply.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd *Command) (Reply, error) {
	name := cmd.Action()
	if name == "" {
		err := invalid(MissingActionMessage)
		d.recordError("", err)
		return Error(err.Error()), nil
	}

	label := "unsupported"
	if act, ok := lookup(name); ok {
		label = act.name
	}

	start := time.Now()
	reply, err := d.dispatch(ctx, name, cmd)

	if d.metrics != nil {
		d.metrics.RecordCommand(label)
		status := StatusError
		if err == nil {
			status = reply.Status()
		}
		d.metrics.RecordReply(label, status, time.Since(start))
	}
	return reply, err
}

func (d *Dispatcher) dispatch(ctx context.Context, name string, cmd *Command) (reply Reply, err error) {
	ctx, span := d.tracer.Start(ctx, "dispatch."+name, trace.WithAttributes(attribute.String("graphbus.action", name)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else if reply.Status() == StatusError {
			span.SetStatus(codes.Error, reply.Message())
		}
		span.End()
	}()

	sess, err := d.sessions.Open(ctx)
	if err != nil {
		d.recordError(name, err)
		return Error(err.Error()), nil
	}
	span.SetAttributes(attribute.String("graphbus.session", sess.ID()))
	defer sess.Release(ctx)

	act, ok := lookup(name)
	if !ok {
		err := errors.Newf(errors.ErrorInvalid, errors.ErrUnsupportedAction, "Unsupported action %s", name)
		d.recordError(name, err)
		return Error(err.Error()), nil
	}
	span.SetAttributes(attribute.String("graphbus.action.canonical", act.name))

	c := &call{
		d:       d,
		cmd:     cmd,
		session: sess,
		action:  act.name,
	}

	fields, err := d.run(ctx, c, act)
	if err != nil {
		d.rollback(ctx, sess, act.name)
		if errors.HasClass(err, errors.ErrorFatal) {
			d.recordError(act.name, err)
			d.logger.Error("fatal action failure", "action", act.name, "session", sess.ID(), "error", err)
			return nil, err
		}
		d.recordError(act.name, err)
		d.logger.Debug("action failed", "action", act.name, "session", sess.ID(), "error", err)
		return Error(fmt.Sprintf("Action '%s': %s", act.name, err.Error())), nil
	}

	if err := sess.CommitIfTransactional(ctx); err != nil {
		d.rollback(ctx, sess, act.name)
		d.recordError(act.name, err)
		d.logger.Warn("commit failed", "action", act.name, "session", sess.ID(), "error", err)
		return Error(fmt.Sprintf("Action '%s': %s", act.name, err.Error())), nil
	}

	if act.mutating {
		d.publish(ctx, c)
	}
	return OK(fields), nil
}

// run invokes the handler. A panic is treated as fatal: the session is rolled back
// and the panic continues up the stack, releasing the session on the way.
func (d *Dispatcher) run(ctx context.Context, c *call, act action) (fields Reply, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("action panicked", "action", act.name, "session", c.session.ID(), "panic", r)
			d.rollback(ctx, c.session, act.name)
			if d.metrics != nil {
				d.metrics.RecordError("fatal")
			}
			panic(r)
		}
	}()
	return act.handler(ctx, c)
}

func (d *Dispatcher) rollback(ctx context.Context, sess *session.Session, action string) {
	if sess.Released() {
		return
	}
	if err := sess.RollbackIfTransactional(ctx); err != nil {
		d.logger.Error("rollback failed", "action", action, "session", sess.ID(), "error", err)
	}
}

func (d *Dispatcher) publish(ctx context.Context, c *call) {
	if d.publisher == nil {
		return
	}
	event := Event{
		Action:    c.action,
		ID:        c.subject,
		Session:   c.session.ID(),
		Timestamp: time.Now().UTC(),
	}
	if err := d.publisher.Publish(ctx, event); err != nil {
		d.logger.Warn("event publish failed", "action", c.action, "session", c.session.ID(), "error", err)
		return
	}
	if d.metrics != nil {
		d.metrics.RecordEventPublished()
	}
}

func (d *Dispatcher) recordError(action string, err error) {
	if d.metrics != nil {
		d.metrics.RecordError(errors.Kind(err))
	}
	if action == "" {
		d.logger.Debug("command rejected", "error", err)
	}
}

// call carries one command through its handler.
type call struct {
	d       *Dispatcher
	cmd     *Command
	session *session.Session
	action  string

	// subject is the id of the element a mutation touched, reported in events.
	subject any
}
