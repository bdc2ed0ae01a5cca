// Package apperr defines the session's error taxonomy. Every failure that crosses
// an action boundary is an *Error with a Kind, so callers branch with errors.Is
// against the sentinels below instead of matching strings.
package apperr

import (
	"errors"
	"strings"
)

type Kind string

const (
	KindPermission             Kind = "permission"
	KindSystemMessageImmutable Kind = "system_message_immutable"
	KindNetwork                Kind = "network"
	KindMediaUnavailable       Kind = "media_unavailable"
	KindStaleResponse          Kind = "stale_response"
	KindSessionExpired         Kind = "session_expired"
	KindNotFound               Kind = "not_found"
	KindValidation             Kind = "validation"
)

type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

var (
	ErrPermission             = &Error{Kind: KindPermission}
	ErrSystemMessageImmutable = &Error{Kind: KindSystemMessageImmutable}
	ErrNetwork                = &Error{Kind: KindNetwork}
	ErrMediaUnavailable       = &Error{Kind: KindMediaUnavailable}
	ErrStaleResponse          = &Error{Kind: KindStaleResponse}
	ErrSessionExpired         = &Error{Kind: KindSessionExpired}
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrValidation             = &Error{Kind: KindValidation}
)

func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch {
	case e.Msg != "" && e.Err != nil:
		b.WriteString(e.Msg)
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	case e.Msg != "":
		b.WriteString(e.Msg)
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	default:
		b.WriteString(string(e.Kind))
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrPermission) works
// regardless of Op and Msg.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in the chain, or "" for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Silent reports whether err must never reach the user (superseded requests).
func Silent(err error) bool {
	return errors.Is(err, ErrStaleResponse)
}
