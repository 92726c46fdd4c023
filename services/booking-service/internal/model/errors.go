package model

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindInvalidInput       Kind = "invalid_input"
	KindNotFound           Kind = "not_found"
	KindConflict           Kind = "conflict"
	KindInvalidTransition  Kind = "invalid_transition"
	KindUnauthorized       Kind = "unauthorized"
	KindTokenInvalid       Kind = "token_invalid"
	KindTokenAlreadyUsed   Kind = "token_already_used"
	KindAlreadyReviewed    Kind = "already_reviewed"
	KindPersistenceFailure Kind = "persistence_failure"
)

// Error carries one kind of the error taxonomy plus a caller-safe message.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrConflict) works for every conflict.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrInvalidInput       = &Error{Kind: KindInvalidInput}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrConflict           = &Error{Kind: KindConflict}
	ErrInvalidTransition  = &Error{Kind: KindInvalidTransition}
	ErrUnauthorized       = &Error{Kind: KindUnauthorized}
	ErrTokenInvalid       = &Error{Kind: KindTokenInvalid}
	ErrTokenAlreadyUsed   = &Error{Kind: KindTokenAlreadyUsed}
	ErrAlreadyReviewed    = &Error{Kind: KindAlreadyReviewed}
	ErrPersistenceFailure = &Error{Kind: KindPersistenceFailure}
)

func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Persistence wraps a datastore error. The wrapped detail is for logs only.
func Persistence(op string, err error) error {
	return &Error{Kind: KindPersistenceFailure, Msg: op, Err: err}
}

// KindOf reports the taxonomy kind of err. Errors outside the taxonomy count as persistence failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindPersistenceFailure
}

// Message returns the caller-safe message of err.
// Token failures all share one message so callers cannot tell a forged token from a used one.
func Message(err error) string {
	switch KindOf(err) {
	case KindTokenInvalid, KindTokenAlreadyUsed:
		return "review link is invalid or has expired"
	case KindPersistenceFailure:
		return "internal error"
	}
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return string(KindOf(err))
}
