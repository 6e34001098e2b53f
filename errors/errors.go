package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass decides how a caller reacts to an error: retry, reject or stop.
type ErrorClass int

const (
	// ErrorTransient may succeed when retried.
	ErrorTransient ErrorClass = iota
	// ErrorInvalid is caused by the input and will fail again unchanged.
	ErrorInvalid
	// ErrorFatal means graphbus itself is broken and must not answer.
	ErrorFatal
)

func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Reply taxonomy. A request that fails with one of these is answered with an
// error reply; anything classified fatal is propagated instead.
var (
	ErrValidation           = errors.New("validation error")
	ErrBackendUnavailable   = errors.New("backend unavailable")
	ErrElementNotFound      = errors.New("element not found")
	ErrMalformedInput       = errors.New("malformed input")
	ErrQueryCompile         = errors.New("query compile error")
	ErrUnsupportedOperation = errors.New("unsupported operation")
	ErrUnsupportedAction    = errors.New("unsupported action")
)

// Infrastructure conditions shared by the backends, transports and config.
var (
	ErrAlreadyStarted = errors.New("already started")
	ErrInvalidData    = errors.New("invalid data format")
	ErrDataCorrupted  = errors.New("data corrupted")
	ErrBucketNotFound = errors.New("bucket not found")
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrMissingConfig  = errors.New("missing required configuration")
)

// ClassifiedError carries a class alongside the error it wraps.
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// New creates a classified error of the given taxonomy kind whose Error() is exactly message.
// errors.Is(err, kind) holds for the result.
func New(class ErrorClass, kind error, message string) error {
	return &ClassifiedError{Class: class, Err: kind, Message: message}
}

// Newf is New with a formatted message.
func Newf(class ErrorClass, kind error, format string, args ...any) error {
	return New(class, kind, fmt.Sprintf(format, args...))
}

// HasClass reports whether err carries an explicit classification of class.
// Unlike IsFatal and friends it never guesses.
func HasClass(err error, class ErrorClass) bool {
	var ce *ClassifiedError
	return errors.As(err, &ce) && ce.Class == class
}

var kinds = []struct {
	err  error
	name string
}{
	{ErrValidation, "validation"},
	{ErrBackendUnavailable, "backend_unavailable"},
	{ErrElementNotFound, "not_found"},
	{ErrMalformedInput, "malformed_input"},
	{ErrQueryCompile, "query_compile"},
	{ErrUnsupportedOperation, "unsupported_operation"},
	{ErrUnsupportedAction, "unsupported_action"},
}

// Kind returns a short label for the taxonomy kind of err, suitable for metrics.
// Errors outside the taxonomy are "handler", or "fatal" when classified fatal.
func Kind(err error) string {
	if err == nil {
		return "none"
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	if HasClass(err, ErrorFatal) {
		return "fatal"
	}
	return "handler"
}

// classHints apply to unclassified errors, sentinels first, then message text.
var classHints = map[ErrorClass]struct {
	sentinels []error
	patterns  []string
}{
	ErrorTransient: {
		sentinels: []error{ErrBackendUnavailable, context.DeadlineExceeded, context.Canceled},
		patterns:  []string{"timeout", "connection", "temporary", "unavailable", "busy", "locked"},
	},
	ErrorInvalid: {
		sentinels: []error{ErrInvalidData, ErrValidation, ErrMalformedInput, ErrQueryCompile},
	},
	ErrorFatal: {
		sentinels: []error{ErrInvalidConfig, ErrMissingConfig, ErrDataCorrupted},
		patterns:  []string{"fatal", "panic", "corrupt", "disk full", "out of memory"},
	},
}

func is(err error, class ErrorClass) bool {
	if err == nil {
		return false
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == class
	}

	hints := classHints[class]
	for _, s := range hints.sentinels {
		if errors.Is(err, s) {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, p := range hints.patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsTransient reports whether retrying err may help.
func IsTransient(err error) bool { return is(err, ErrorTransient) }

// IsInvalid reports whether err was caused by bad input.
func IsInvalid(err error) bool { return is(err, ErrorInvalid) }

// IsFatal reports whether err should stop processing.
func IsFatal(err error) bool { return is(err, ErrorFatal) }

// Wrap adds context in the form "component.method: action failed: err".
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapClassified(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return &ClassifiedError{
		Class:     class,
		Err:       wrapped,
		Message:   wrapped.Error(),
		Component: component,
		Operation: method,
	}
}

// WrapTransient is Wrap classified as transient.
func WrapTransient(err error, component, method, action string) error {
	return wrapClassified(ErrorTransient, err, component, method, action)
}

// WrapInvalid is Wrap classified as invalid.
func WrapInvalid(err error, component, method, action string) error {
	return wrapClassified(ErrorInvalid, err, component, method, action)
}

// WrapFatal is Wrap classified as fatal.
func WrapFatal(err error, component, method, action string) error {
	return wrapClassified(ErrorFatal, err, component, method, action)
}
