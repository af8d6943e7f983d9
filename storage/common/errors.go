package common

import (
	"errors"
	"fmt"
)

// Error kinds. Every failure surfaced by this module matches exactly one of them with errors.Is.
var (
	// ErrConfig is returned when required credentials or a container name are missing.
	ErrConfig = errors.New("configuration error")
	// ErrAuth is returned when the identity provider rejects the credentials, returns a malformed
	// token response, or the store refuses the presented token.
	ErrAuth = errors.New("authentication failed")
	// ErrNotFound is returned when the target blob or container does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a conditional write finds an existing blob.
	ErrAlreadyExists = errors.New("already exists")
	// ErrTransport is returned for network and service level failures.
	ErrTransport = errors.New("transport error")
	// ErrDecode is returned when blob content cannot be decoded as text.
	ErrDecode = errors.New("decode error")
	// ErrIO is returned when a local file cannot be read.
	ErrIO = errors.New("io error")
)

var kinds = []error{ErrConfig, ErrAuth, ErrNotFound, ErrAlreadyExists, ErrTransport, ErrDecode, ErrIO}

// Error carries the kind of a failure together with the operation and its cause.
type Error struct {
	Kind error
	Op   string
	Err  error
}

// NewError returns an *Error of the given kind.
func NewError(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s, %v", e.Op, e.Kind)
	}

	return fmt.Sprintf("%s, %v, %v", e.Op, e.Kind, e.Err)
}

// Is reports whether target is the kind of this error.
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

// Unwrap returns the cause, so errors.Is(err, context.DeadlineExceeded) keeps working.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the error kind of err, or nil when err was not produced by this module.
func KindOf(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}

	return nil
}
