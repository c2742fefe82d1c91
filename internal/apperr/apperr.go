// Package apperr defines the error kinds reported by the attendance core.
// Every failure the core returns carries one Kind so callers can render a
// stable message without parsing text.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is a stable, machine-readable error reason.
type Kind string

const (
	KindInvalidCoordinate   Kind = "invalid_coordinate"
	KindInvalidWindow       Kind = "invalid_window"
	KindNotOwner            Kind = "not_owner"
	KindSessionAlreadyOpen  Kind = "session_already_open"
	KindSessionNotFound     Kind = "session_not_found"
	KindAlreadyClosed       Kind = "already_closed"
	KindSessionClosed       Kind = "session_closed"
	KindNotEnrolled         Kind = "not_enrolled"
	KindBadCode             Kind = "bad_code"
	KindDuplicateSubmission Kind = "duplicate_submission"
	KindOutsideGeofence     Kind = "outside_geofence"
	KindNotFound            Kind = "not_found"

	KindBadRequest   Kind = "bad_request"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindRateLimited  Kind = "rate_limited"
	KindInternal     Kind = "internal"
)

// Error is a kinded error. Two errors match under errors.Is when their kinds
// are equal, so the package-level sentinels can be used as targets.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrInvalidCoordinate   = &Error{Kind: KindInvalidCoordinate, Message: "coordinate out of range"}
	ErrInvalidWindow       = &Error{Kind: KindInvalidWindow, Message: "session must end after it starts"}
	ErrNotOwner            = &Error{Kind: KindNotOwner, Message: "only the class teacher may do this"}
	ErrSessionAlreadyOpen  = &Error{Kind: KindSessionAlreadyOpen, Message: "class already has an open attendance session"}
	ErrSessionNotFound     = &Error{Kind: KindSessionNotFound, Message: "attendance session not found"}
	ErrAlreadyClosed       = &Error{Kind: KindAlreadyClosed, Message: "attendance session already closed"}
	ErrSessionClosed       = &Error{Kind: KindSessionClosed, Message: "attendance session is not active"}
	ErrNotEnrolled         = &Error{Kind: KindNotEnrolled, Message: "student not enrolled in this class"}
	ErrBadCode             = &Error{Kind: KindBadCode, Message: "invalid attendance code"}
	ErrDuplicateSubmission = &Error{Kind: KindDuplicateSubmission, Message: "attendance already submitted"}
	ErrOutsideGeofence     = &Error{Kind: KindOutsideGeofence, Message: "you are outside the allowed radius"}
	ErrNotFound            = &Error{Kind: KindNotFound, Message: "not found"}
)

// New builds an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf returns the kind carried by err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
