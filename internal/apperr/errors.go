// Package apperr defines the failure taxonomy shared by every gateway layer.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind is the stable category tag carried by every gateway failure.
type Kind string

const (
	KindInvalidInstrumentCode Kind = "InvalidInstrumentCode"
	KindInvalidQuantity       Kind = "InvalidQuantity"
	KindMissingPrice          Kind = "MissingPrice"
	KindInvalidPrice          Kind = "InvalidPrice"
	KindInvalidOrderField     Kind = "InvalidOrderField"
	KindInvalidRequest        Kind = "InvalidRequest"
	KindNotAuthenticated      Kind = "NotAuthenticated"
	KindLoginFailed           Kind = "LoginFailed"
	KindBackendUnavailable    Kind = "BackendUnavailable"
	KindOrderRejected         Kind = "OrderRejected"
	KindNotFound              Kind = "NotFound"
	KindUnclassified          Kind = "Unclassified"
)

// IsValidation reports whether the kind describes a client-side request error.
func (k Kind) IsValidation() bool {
	switch k {
	case KindInvalidInstrumentCode, KindInvalidQuantity, KindMissingPrice,
		KindInvalidPrice, KindInvalidOrderField, KindInvalidRequest:
		return true
	default:
		return false
	}
}

// Error is a classified gateway failure. Detail is safe to show to clients.
type Error struct {
	Kind   Kind
	Op     string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Detail == ""
}

var (
	ErrInvalidInstrumentCode = &Error{Kind: KindInvalidInstrumentCode}
	ErrInvalidQuantity       = &Error{Kind: KindInvalidQuantity}
	ErrMissingPrice          = &Error{Kind: KindMissingPrice}
	ErrInvalidPrice          = &Error{Kind: KindInvalidPrice}
	ErrInvalidOrderField     = &Error{Kind: KindInvalidOrderField}
	ErrInvalidRequest        = &Error{Kind: KindInvalidRequest}
	ErrNotAuthenticated      = &Error{Kind: KindNotAuthenticated}
	ErrLoginFailed           = &Error{Kind: KindLoginFailed}
	ErrBackendUnavailable    = &Error{Kind: KindBackendUnavailable}
	ErrOrderRejected         = &Error{Kind: KindOrderRejected}
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrUnclassified          = &Error{Kind: KindUnclassified}
)

// Errorf builds a classified error with a formatted detail.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap classifies cause under kind, keeping its message as detail.
func Wrap(kind Kind, op string, cause error) *Error {
	e := &Error{Kind: kind, Op: op, Err: cause}
	if cause != nil {
		e.Detail = cause.Error()
	}
	return e
}

// KindOf returns the category of err, or KindUnclassified for foreign errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindBackendUnavailable
	}
	return KindUnclassified
}

// Classify guarantees that nothing unclassified leaves the gateway boundary.
// Already classified errors pass through with op attached when missing.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var ge *Error
	if errors.As(err, &ge) {
		if ge.Op == "" && op != "" {
			cp := *ge
			cp.Op = op
			return &cp
		}
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindBackendUnavailable, Op: op, Detail: "backend call timed out", Err: err}
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindBackendUnavailable, Op: op, Detail: "request cancelled", Err: err}
	default:
		return Wrap(KindUnclassified, op, err)
	}
}

// DetailOf returns the client-facing detail of err.
func DetailOf(err error) string {
	if err == nil {
		return ""
	}
	var ge *Error
	if errors.As(err, &ge) {
		if ge.Detail != "" {
			return ge.Detail
		}
		return string(ge.Kind)
	}
	return err.Error()
}
