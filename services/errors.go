package services

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies failures surfaced to callers.
type ErrorKind string

const (
	KindValidation      ErrorKind = "validation"
	KindNotFound        ErrorKind = "not_found"
	KindConflict        ErrorKind = "conflict"
	KindState           ErrorKind = "state"
	KindRateLimit       ErrorKind = "rate_limited"
	KindUnauthenticated ErrorKind = "unauthenticated"
	KindForbidden       ErrorKind = "forbidden"
	KindInternal        ErrorKind = "internal"
)

// Error carries a stable, user-facing Message. Cause is only ever shown
// outside production.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func ValidationError(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFoundError(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func ConflictError(format string, args ...any) error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func StateError(format string, args ...any) error {
	return &Error{Kind: KindState, Message: fmt.Sprintf(format, args...)}
}

func ForbiddenError(format string, args ...any) error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

func UnauthenticatedError(format string, args ...any) error {
	return &Error{Kind: KindUnauthenticated, Message: fmt.Sprintf(format, args...)}
}

func RateLimitError(format string, args ...any) error {
	return &Error{Kind: KindRateLimit, Message: fmt.Sprintf(format, args...)}
}

// InternalError wraps a store or collaborator failure with a stack trace.
func InternalError(err error, message string) error {
	return &Error{Kind: KindInternal, Message: message, Cause: errors.WithStack(err)}
}

// KindOf returns KindInternal for anything that is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// Messages shared between the ledger, the lifecycle and their callers.
const (
	MsgContestClosed       = "contest closed"
	MsgAlreadyVoted        = "already voted for this choice"
	MsgVoteChangeForbidden = "vote change not permitted"
	MsgVoteContention      = "vote could not be recorded due to concurrent updates, please retry"
	MsgContestNotFound     = "contest not found"
)
