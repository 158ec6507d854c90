package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	KindOwnership  Kind = "ownership"
	KindNotFound   Kind = "not_found"
)

// Error is a business rule rejection. It is always raised before any write
// or publish happens, so callers can surface it as-is.
type Error struct {
	Kind   Kind
	Reason string
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return string(e.Kind)
	}
	return e.Reason
}

// Is matches kind sentinels (no reason) against any error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Reason == "" && t.Kind == e.Kind
}

var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrConflict   = &Error{Kind: KindConflict}
	ErrOwnership  = &Error{Kind: KindOwnership}
	ErrNotFound   = &Error{Kind: KindNotFound}
)

func Validation(reason string) error { return &Error{Kind: KindValidation, Reason: reason} }
func Conflict(reason string) error   { return &Error{Kind: KindConflict, Reason: reason} }
func Ownership(reason string) error  { return &Error{Kind: KindOwnership, Reason: reason} }
func NotFound(reason string) error   { return &Error{Kind: KindNotFound, Reason: reason} }

func Validationf(format string, args ...any) error {
	return Validation(fmt.Sprintf(format, args...))
}

// KindOf returns the kind of the first *Error in the chain, or "" for
// infrastructure failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
