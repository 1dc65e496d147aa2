package errors

import "github.com/pkg/errors"

// StackTracer is satisfied by errors carrying a pkg/errors stack trace.
type StackTracer interface {
	StackTrace() errors.StackTrace
}

// ErrorTracer pairs an operation message with its underlying cause. The
// cause keeps (or gains) a stack trace so the logger can surface where the
// failure originated.
type ErrorTracer struct {
	Message string
	Err     error
}

// NewTracer creates a tracer with the given message and no cause yet.
func NewTracer(message string) *ErrorTracer {
	return &ErrorTracer{Message: message}
}

func (e *ErrorTracer) Error() string {
	return e.Message
}

func (e *ErrorTracer) Unwrap() error {
	return e.Err
}

// Wrap attaches the cause, capturing a stack trace if it lacks one.
func (e *ErrorTracer) Wrap(err error) *ErrorTracer {
	if _, ok := err.(StackTracer); ok {
		e.Err = err
		return e
	}
	e.Err = errors.WithStack(err)
	return e
}

// StackTrace returns the cause's stack trace, nil when there is no cause.
func (e *ErrorTracer) StackTrace() errors.StackTrace {
	if st, ok := e.Err.(StackTracer); ok {
		return st.StackTrace()
	}
	return nil
}
