package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure so the session layer knows whether to close
// the connection, answer with an in-band error frame, or stay silent.
type ErrorKind int

const (
	// KindAuthentication covers bad/missing/expired credentials at connect
	// time. The connection is refused with a specific close code.
	KindAuthentication ErrorKind = iota
	// KindAuthorization is a valid user attempting a disallowed action.
	// Reported in-band; the connection stays open.
	KindAuthorization
	// KindNotFound is a missing conversation, message, or user.
	KindNotFound
	// KindValidation is a malformed frame or missing required field.
	KindValidation
	// KindInternal is a persistence or transport failure. Logged, and
	// surfaced to the acting session as a generic error frame.
	KindInternal
)

type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func NewAuthorizationError(format string, args ...any) *Error {
	return &Error{Kind: KindAuthorization, Msg: fmt.Sprintf(format, args...)}
}

func NewNotFoundError(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func NewValidationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func NewInternalError(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Msg: msg, Err: err}
}

// KindOf extracts the classification from err; unclassified errors are
// treated as internal.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}
