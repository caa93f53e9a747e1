package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies an application error so transports can map it to a
// response without inspecting messages.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindPrecondition Kind = "precondition"
	KindForbidden    Kind = "forbidden"
	KindInternal     Kind = "internal"
)

// Sentinels for errors.Is checks against an *Error of the matching kind.
var (
	ErrValidation   = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrNotFound     = &Error{Kind: KindNotFound, Message: "not found"}
	ErrPrecondition = &Error{Kind: KindPrecondition, Message: "precondition failed"}
	ErrForbidden    = &Error{Kind: KindForbidden, Message: "forbidden"}
)

// Error is the application error carried across package boundaries.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	// Fields maps offending input fields to a reason for validation errors.
	Fields map[string]string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for key := range e.Fields {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, key := range keys {
			parts = append(parts, key+" "+e.Fields[key])
		}
		b.WriteString(" (")
		b.WriteString(strings.Join(parts, "; "))
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, which lets callers compare against
// the sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// NotFound reports a lookup of resource by id that did not resolve.
func NotFound(resource, id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %s not found", resource, id)}
}

// Validation reports rejected input for a single field.
func Validation(field, reason string) *Error {
	return &Error{
		Kind:    KindValidation,
		Message: "invalid input",
		Fields:  map[string]string{field: reason},
	}
}

// Precondition reports an operation rejected because of the current state.
func Precondition(format string, args ...any) *Error {
	return &Error{Kind: KindPrecondition, Message: fmt.Sprintf(format, args...)}
}

// Forbidden reports a caller lacking the rights for an operation.
func Forbidden(format string, args ...any) *Error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

// WithOp returns a copy of err annotated with op when err is an *Error.
// Other errors are returned unchanged.
func WithOp(op string, err error) error {
	var appErr *Error
	if !errors.As(err, &appErr) {
		return err
	}
	clone := *appErr
	clone.Op = op
	return &clone
}

// KindOf returns the kind of err, or KindInternal for errors outside the
// taxonomy.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}
