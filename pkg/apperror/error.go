// ABOUTME: Tagged error kinds shared by every store operation
// ABOUTME: Distinguishes caller mistakes, authorization failures and repository faults

package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the three failure families.
type Kind int

const (
	// KindInvalidParameter covers missing, malformed or unknown input.
	KindInvalidParameter Kind = iota + 1

	// KindNotAuthorized covers permission failures for a type or operation.
	KindNotAuthorized

	// KindPropertyServer covers repository failures and broken internal invariants.
	KindPropertyServer
)

func (k Kind) String() string {
	switch k {
	case KindInvalidParameter:
		return "InvalidParameter"
	case KindNotAuthorized:
		return "NotAuthorized"
	case KindPropertyServer:
		return "PropertyServerException"
	default:
		return "Unknown"
	}
}

// Error codes
const (
	CodeUnknownType            = "unknown_type"
	CodeTypeMismatch           = "type_mismatch"
	CodeMissingProperty        = "missing_property"
	CodeInvalidProperty        = "invalid_property"
	CodeDuplicateValue         = "duplicate_unique_value"
	CodeElementNotFound        = "element_not_found"
	CodeRelationshipNotFound   = "relationship_not_found"
	CodeInvalidEnd             = "invalid_relationship_end"
	CodeInvalidClassification  = "invalid_classification"
	CodeClassificationExists   = "classification_exists"
	CodeClassificationNotFound = "classification_not_found"
	CodeUnresolvedPlaceholder  = "unresolved_placeholder"
	CodeInvalidOption          = "invalid_option"
	CodeInvalidSearch          = "invalid_search"
	CodeAccessDenied           = "access_denied"
	CodeAnchorCycle            = "anchor_cycle"
	CodeDanglingAnchor         = "dangling_anchor"
	CodeDependantsRemain       = "dependants_remain"
	CodeTemplateChanged        = "template_changed"
	CodeMultipleFound          = "multiple_found"
	CodeRepository             = "repository_error"
	CodeCascadeIncomplete      = "cascade_incomplete"
)

// Error is the error type returned across package boundaries.
type Error struct {
	Kind     Kind
	Code     string
	Message  string
	Internal error
	Details  map[string]any
}

func (e *Error) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Internal)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Internal
}

// Is matches another *Error of the same kind. An empty code on the target
// matches any code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// New creates an error of the given kind.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// WithInternal returns a copy carrying the underlying cause.
func (e *Error) WithInternal(err error) *Error {
	c := e.clone()
	c.Internal = err
	return c
}

// WithMessage returns a copy with a different message.
func (e *Error) WithMessage(msg string) *Error {
	c := e.clone()
	c.Message = msg
	return c
}

// WithDetails returns a copy with an extra detail entry.
func (e *Error) WithDetails(key string, value any) *Error {
	c := e.clone()
	details := make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	c.Details = details
	return c
}

func (e *Error) clone() *Error {
	c := *e
	return &c
}

// InvalidParameter reports a caller mistake.
func InvalidParameter(code, format string, args ...any) *Error {
	return New(KindInvalidParameter, code, fmt.Sprintf(format, args...))
}

// NotAuthorized reports a permission failure.
func NotAuthorized(code, format string, args ...any) *Error {
	return New(KindNotAuthorized, code, fmt.Sprintf(format, args...))
}

// PropertyServer reports a repository or invariant failure caused by err.
func PropertyServer(err error, code, format string, args ...any) *Error {
	return New(KindPropertyServer, code, fmt.Sprintf(format, args...)).WithInternal(err)
}

// Wrap leaves *Error values untouched and turns anything else into a
// PropertyServer error.
func Wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return PropertyServer(err, CodeRepository, format, args...)
}

// KindOf returns the kind of err. Untyped errors count as PropertyServer.
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindPropertyServer
}

// CodeOf returns the code of err, or an empty string for untyped errors.
func CodeOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

func IsInvalidParameter(err error) bool { return KindOf(err) == KindInvalidParameter }
func IsNotAuthorized(err error) bool { return KindOf(err) == KindNotAuthorized }
func IsPropertyServer(err error) bool { return KindOf(err) == KindPropertyServer }
