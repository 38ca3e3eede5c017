package driver

import (
	"context"
	"errors"
)

// Kind classifies a driver failure.
type Kind string

const (
	KindTransport       Kind = "transport"
	KindElementNotFound Kind = "element-not-found"
	KindTimeout         Kind = "timeout"
	KindScript          Kind = "script"
	KindUnsupported     Kind = "unsupported"
	KindClosed          Kind = "closed"
)

var (
	// ErrNotReady signals a condition that is expected to clear on its own,
	// such as an element that has not rendered yet. Custom command executors
	// return it (or wrap it) to ask for a retry under the implicit wait.
	ErrNotReady = errors.New("not ready")

	// ErrClosed is returned by operations on a released session.
	ErrClosed = errors.New("session closed")
)

// Error is a failure reported by the browser driver.
type Error struct {
	Op      string // navigate, click, executeScript, ...
	Kind    Kind
	Locator string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Locator != "" {
		msg += " " + e.Locator
	}
	msg += ": " + string(e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether retrying the operation may succeed.
func (e *Error) Transient() bool {
	return e.Kind == KindElementNotFound
}

// IsTransient reports whether err is worth retrying under the implicit wait.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotReady) {
		return true
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Transient()
	}
	return false
}

// NotFound builds an element-not-found error for locator.
func NotFound(op, locator string) *Error {
	return &Error{Op: op, Kind: KindElementNotFound, Locator: locator, Err: ErrNotReady}
}

// classify wraps a raw session error. Errors that are already classified pass
// through untouched.
func classify(op, locator string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	switch {
	case errors.Is(err, ErrClosed):
		return &Error{Op: op, Kind: KindClosed, Locator: locator, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Op: op, Kind: KindTimeout, Locator: locator, Err: err}
	case errors.Is(err, ErrNotReady):
		return &Error{Op: op, Kind: KindElementNotFound, Locator: locator, Err: err}
	}
	return &Error{Op: op, Kind: KindTransport, Locator: locator, Err: err}
}
