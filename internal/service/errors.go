package service

import (
	"errors"
	"fmt"
)

// Kind classifies an expected failure of a stage. The handler layer maps
// each kind to a status code and error code; anything without a Kind is an
// internal error.
type Kind string

const (
	KindInvalidCredentialsBody Kind = "InvalidCredentialsBody"
	KindNotFound               Kind = "NotFound"
	KindBadCredentials         Kind = "BadCredentials"
	KindDisabled               Kind = "Disabled"
	KindLocked                 Kind = "Locked"
	KindExpired                Kind = "Expired"

	KindTokenExpired Kind = "TokenExpired"
	KindTokenInvalid Kind = "TokenInvalid"
	KindCsrfInvalid  Kind = "CsrfInvalid"

	KindAccessDenied Kind = "AccessDenied"
	KindWeakPassword Kind = "WeakPassword"
	KindUserExists   Kind = "UserExists"
)

type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the Kind carried anywhere in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
