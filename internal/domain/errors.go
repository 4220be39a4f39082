package domain

import (
	"errors"
	"strings"

	"go.uber.org/multierr"
)

// FieldBase tags errors that concern the record as a whole.
const FieldBase = "base"

const (
	MsgBlank        = "can't be blank"
	MsgNotIncluded  = "is not included in the list"
	MsgInvalidDate  = "invalid date"
	MsgInvalidRange = "invalid date range"
)

// FieldError is a single validation failure tagged with the field it
// belongs to.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string { return e.Field + " " + e.Message }

// ValidationError carries every failure found while validating a job.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Error())
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// Map groups messages by field, preserving rule order within each field.
func (e *ValidationError) Map() map[string][]string {
	out := make(map[string][]string, len(e.Fields))
	for _, f := range e.Fields {
		out[f.Field] = append(out[f.Field], f.Message)
	}
	return out
}

// Has reports whether any failure is tagged on field.
func (e *ValidationError) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

// validationError turns an accumulated multierr into a *ValidationError, or
// nil when nothing was appended.
func validationError(err error) error {
	if err == nil {
		return nil
	}
	ve := &ValidationError{}
	for _, e := range multierr.Errors(err) {
		if fe, ok := e.(FieldError); ok {
			ve.Fields = append(ve.Fields, fe)
		}
	}
	return ve
}

// ErrNotFound is returned by the repository when no job has the given id.
var ErrNotFound = errors.New("job not found")
