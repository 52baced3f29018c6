// Package apperr defines the failure results surfaced by the drill, alert and
// progress operations. Every failure carries a Kind the transport maps to a
// status, a stable snake_case Code for clients and a human readable message.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindUnauthorized           Kind = "unauthorized"
	KindForbidden              Kind = "forbidden"
	KindNotFound               Kind = "not_found"
	KindValidationFailed       Kind = "validation_failed"
	KindInvalidStateTransition Kind = "invalid_state_transition"
	KindAlreadyMarked          Kind = "already_marked"
	KindInternal               Kind = "internal"
)

const (
	CodeMissingToken      = "missing_token"
	CodeInvalidToken      = "invalid_token"
	CodeForbidden         = "forbidden"
	CodeInvalidRequest    = "invalid_request"
	CodeDrillNotFound     = "drill_not_found"
	CodeAlertNotFound     = "alert_not_found"
	CodeStudentNotFound   = "student_not_found"
	CodeDrillNotActive    = "drill_not_active"
	CodeDrillNotScheduled = "drill_not_scheduled"
	CodeDrillCompleted    = "drill_completed"
	CodeDrillChanged      = "drill_changed"
	CodeNotParticipant    = "not_participant"
	CodeAlreadyMarked     = "attendance_exists"
	CodeAlertDismissed    = "alert_dismissed"
	CodeStudentExists     = "student_exists"
	CodeWrongSchool       = "wrong_school"
	CodeWrongClass        = "wrong_class"
	CodeServerError       = "server_error"
	CodeValidationFailed  = "validation_failed"
)

// Sentinels returned by repositories. Services translate them into Errors.
var (
	ErrNoRecord = errors.New("record not found")
	ErrConflict = errors.New("write precondition failed")
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	// Fields maps request field names to validation messages.
	Fields map[string]string
	Err    error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Code
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func Unauthorized(code, msg string) *Error {
	return &Error{Kind: KindUnauthorized, Code: code, Message: msg}
}

func Forbidden(code, msg string) *Error {
	return &Error{Kind: KindForbidden, Code: code, Message: msg}
}

func NotFound(code, msg string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: msg}
}

func InvalidTransition(code, msg string) *Error {
	return &Error{Kind: KindInvalidStateTransition, Code: code, Message: msg}
}

func AlreadyMarked(msg string) *Error {
	return &Error{Kind: KindAlreadyMarked, Code: CodeAlreadyMarked, Message: msg}
}

func Validation(msg string, fields map[string]string) *Error {
	return &Error{Kind: KindValidationFailed, Code: CodeValidationFailed, Message: msg, Fields: fields}
}

func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeServerError, Message: "internal error", Err: err}
}

// KindOf reports the kind of err, KindInternal for anything that is not an *Error.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// From returns err as an *Error, wrapping unknown errors as internal.
func From(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal(err)
}
