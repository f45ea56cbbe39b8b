package search

import (
	"errors"
	"fmt"
)

var (
	// ErrAccessDenied: the path is outside every allowed directory.
	ErrAccessDenied = errors.New("access denied")

	// ErrBlacklisted: the path is inside a deny-listed location.
	ErrBlacklisted = errors.New("path is blacklisted")

	// ErrUnsafeFileType: the file extension may not be edited.
	ErrUnsafeFileType = errors.New("unsafe file type")

	// ErrRemoteFailure: transport error or non-success response from the backend.
	ErrRemoteFailure = errors.New("remote request failed")

	// ErrNotFound: file or path absent. Removal paths treat it as a no-op.
	ErrNotFound = errors.New("not found")
)

// Error wraps one of the sentinel errors with the operation, the affected
// path and a message meant for display.
type Error struct {
	Op      string // operation that failed (e.g. "browse", "check-dir")
	Path    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Err.Error()
	}
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.Path, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op, path string, err error, format string, args ...any) *Error {
	return &Error{
		Op:      op,
		Path:    path,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// remoteError builds an ErrRemoteFailure for op. cause may be nil when the
// backend answered with success=false.
func remoteError(op, path, message string, cause error) *Error {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	if message == "" {
		message = "request was not successful"
	}
	err := ErrRemoteFailure
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrRemoteFailure, cause)
	}
	return &Error{Op: op, Path: path, Message: message, Err: err}
}

// IsDenied reports whether err is an access-guard rejection.
func IsDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied) || errors.Is(err, ErrBlacklisted) || errors.Is(err, ErrUnsafeFileType)
}
