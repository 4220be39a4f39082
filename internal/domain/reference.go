package domain

import (
	"errors"
	"strings"

	"go.uber.org/multierr"
)

// ReferenceType names the kind of record a job can be linked to.
type ReferenceType string

const Restriction ReferenceType = "restriction"

var ReferenceTypes = []ReferenceType{Restriction}

func (t ReferenceType) Valid() bool {
	switch t {
	case Restriction:
		return true
	}
	return false
}

// Reference links a job to a record owned elsewhere, such as the
// restriction a maintenance window puts in place.
type Reference struct {
	Type ReferenceType `json:"reference_type"`
	ID   string        `json:"reference_id"`
}

// Validate returns a *ValidationError when ref has no id or an unknown type.
func (r Reference) Validate() error {
	var errs error
	switch {
	case r.Type == "":
		errs = multierr.Append(errs, FieldError{Field: "reference_type", Message: MsgBlank})
	case !r.Type.Valid():
		errs = multierr.Append(errs, FieldError{Field: "reference_type", Message: MsgNotIncluded})
	}
	if strings.TrimSpace(r.ID) == "" {
		errs = multierr.Append(errs, FieldError{Field: "reference_id", Message: MsgBlank})
	}
	return validationError(errs)
}

// ErrReferenceNotFound is returned when detaching a link that does not exist.
var ErrReferenceNotFound = errors.New("reference not found")
