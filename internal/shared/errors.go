// Package shared holds cross-cutting domain primitives.
package shared

import (
	"errors"
	"fmt"
)

// Kind classifies a domain error for boundary mapping.
type Kind int

const (
	// KindNotFound indicates the referenced entity does not exist.
	KindNotFound Kind = iota + 1
	// KindConflict covers name collisions, guard mismatches and constraint violations.
	KindConflict
	// KindBusinessRule covers protective rules such as last-admin or critical-permission guards.
	KindBusinessRule
	// KindSystem covers storage and transport failures.
	KindSystem
)

// Error is a coded domain error. Code is a stable machine-readable
// identifier; Field, when set, names the request field the error applies to.
type Error struct {
	Kind    Kind
	Code    string
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// NotFound builds a not-found error.
func NotFound(code, message string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: message}
}

// Conflict builds a conflict/validation error.
func Conflict(code, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message}
}

// FieldConflict builds a conflict error attached to a named request field.
func FieldConflict(code, field, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Field: field, Message: message}
}

// BusinessRule builds a protective-rule violation.
func BusinessRule(code, message string) *Error {
	return &Error{Kind: KindBusinessRule, Code: code, Message: message}
}

// System wraps an unexpected failure. The cause is retained for logging but
// never serialised to callers.
func System(message string, err error) *Error {
	return &Error{Kind: KindSystem, Code: "internal_error", Message: message, Err: err}
}

// KindOf extracts the kind of err, defaulting to KindSystem for plain errors.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindSystem
}

// IsNotFound reports whether err is a not-found domain error.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsConflict reports whether err is a conflict domain error.
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

// IsBusinessRule reports whether err is a business-rule violation.
func IsBusinessRule(err error) bool { return KindOf(err) == KindBusinessRule }

// CodeOf extracts the stable code, or "internal_error" for plain errors.
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return "internal_error"
}
