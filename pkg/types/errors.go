package types

import (
	"errors"
	"fmt"
	"strings"
)

// Store operation errors.
var (
	ErrNotFound           = errors.New("entity not found")
	ErrInvalidID          = errors.New("invalid entity ID")
	ErrImmutableID        = errors.New("entity ID cannot be changed")
	ErrDuplicateID        = errors.New("entity ID already exists")
	ErrVersionConflict    = errors.New("version conflict")
	ErrHistoryUnsupported = errors.New("backend does not keep history")
	ErrStoreClosed        = errors.New("store is closed")
)

// Schema and validation errors.
var (
	ErrSchema         = errors.New("invalid schema")
	ErrUnknownType    = errors.New("unknown entity type")
	ErrValidation     = errors.New("validation failed")
	ErrRegistryLoaded = errors.New("registry already loaded")
)

// ErrFeedOverrun is returned to a subscriber whose position fell out of the
// retained event window.
var ErrFeedOverrun = errors.New("subscriber fell behind the change feed")

// SchemaError describes why a schema document was rejected. Field is the
// dotted path of the offending field, empty for document-level problems.
type SchemaError struct {
	Type   string
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	var b strings.Builder
	b.WriteString("schema")
	if e.Type != "" {
		fmt.Fprintf(&b, " %q", e.Type)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " field %q", e.Field)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	return b.String()
}

// Is reports true for ErrSchema.
func (e *SchemaError) Is(target error) bool {
	return target == ErrSchema
}

// Field-level validation rule codes.
const (
	CodeMissingField  = "MissingField"
	CodeTypeMismatch  = "TypeMismatch"
	CodeInvalidEnum   = "InvalidEnum"
	CodeInvalidFormat = "InvalidFormat"
	CodeUnknownField  = "UnknownField"
	CodeOutOfRange    = "OutOfRange"
)

// FieldError is one violation found while validating a payload.
type FieldError struct {
	Path     string `json:"path"`
	Code     string `json:"code"`
	Expected string `json:"expected,omitempty"`
	Actual   any    `json:"actual,omitempty"`
	Allowed  []any  `json:"allowed,omitempty"`
}

func (e *FieldError) Error() string {
	switch e.Code {
	case CodeMissingField:
		return fmt.Sprintf("%s: required field is missing", e.Path)
	case CodeTypeMismatch:
		return fmt.Sprintf("%s: expected %s, got %v", e.Path, e.Expected, e.Actual)
	case CodeInvalidEnum:
		return fmt.Sprintf("%s: %v is not one of %v", e.Path, e.Actual, e.Allowed)
	case CodeInvalidFormat:
		return fmt.Sprintf("%s: %v is not a valid %s", e.Path, e.Actual, e.Expected)
	case CodeUnknownField:
		return fmt.Sprintf("%s: field is not declared by the schema", e.Path)
	case CodeOutOfRange:
		return fmt.Sprintf("%s: %v is outside %s", e.Path, e.Actual, e.Expected)
	default:
		return fmt.Sprintf("%s: %s", e.Path, e.Code)
	}
}

// ValidationErrors collects every violation found in one payload.
type ValidationErrors []*FieldError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Error()
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Is reports true for ErrValidation.
func (v ValidationErrors) Is(target error) bool {
	return target == ErrValidation
}

// ByPath returns the errors reported for path.
func (v ValidationErrors) ByPath(path string) []*FieldError {
	var out []*FieldError
	for _, e := range v {
		if e.Path == path {
			out = append(out, e)
		}
	}
	return out
}

// Has reports whether an error with the given path and code is present.
func (v ValidationErrors) Has(path, code string) bool {
	for _, e := range v {
		if e.Path == path && e.Code == code {
			return true
		}
	}
	return false
}

// VersionConflictError reports a failed optimistic concurrency check.
type VersionConflictError struct {
	ID       string
	Expected int64
	Actual   int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s: expected %d, current %d", e.ID, e.Expected, e.Actual)
}

// Is reports true for ErrVersionConflict.
func (e *VersionConflictError) Is(target error) bool {
	return target == ErrVersionConflict
}

// IsVersionConflict reports whether err is an optimistic concurrency failure.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}
