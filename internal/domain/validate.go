package domain

import (
	"strings"
	"time"

	"go.uber.org/multierr"
)

// JobParams are the caller-supplied attributes of a new job. Enum fields
// arrive by name; State may be left empty to get the pending default.
type JobParams struct {
	Type        string
	Description string
	State       string
	StartAt     *time.Time
	FinishAt    *time.Time
}

// JobChanges is a partial update. Nil fields are left untouched; FinishAt
// is only applied when SetFinishAt is true so it can be cleared.
type JobChanges struct {
	Type        *string
	Description *string
	State       *string
	StartAt     *time.Time
	FinishAt    *time.Time
	SetFinishAt bool
}

// NewJob builds a job from params and validates it against now. The
// returned error is a *ValidationError.
func NewJob(p JobParams, now time.Time) (*Job, error) {
	j := &Job{
		Description: p.Description,
		State:       Pending,
		StartAt:     normalizePtr(p.StartAt),
		FinishAt:    normalizePtr(p.FinishAt),
	}

	var errs error
	errs = multierr.Append(errs, j.setType(p.Type))
	if p.State != "" {
		errs = multierr.Append(errs, j.setState(p.State))
	}
	errs = multierr.Append(errs, j.check(now))
	if err := validationError(errs); err != nil {
		return nil, err
	}
	return j, nil
}

// Apply returns a copy of j with c applied, validating the whole record
// again. j itself is never modified.
func (j *Job) Apply(c JobChanges, now time.Time) (*Job, error) {
	next := j.Clone()

	var errs error
	if c.Type != nil {
		errs = multierr.Append(errs, next.setType(*c.Type))
	}
	if c.State != nil {
		errs = multierr.Append(errs, next.setState(*c.State))
	}
	if c.Description != nil {
		next.Description = *c.Description
	}
	if c.StartAt != nil {
		next.StartAt = normalizePtr(c.StartAt)
	}
	if c.SetFinishAt {
		next.FinishAt = normalizePtr(c.FinishAt)
	}
	errs = multierr.Append(errs, next.check(now))
	if err := validationError(errs); err != nil {
		return nil, err
	}
	return next, nil
}

// Validate runs every rule against now.
func (j *Job) Validate(now time.Time) error {
	return validationError(j.check(now))
}

func (j *Job) check(now time.Time) error {
	var errs error
	if strings.TrimSpace(j.Description) == "" {
		errs = multierr.Append(errs, FieldError{Field: "description", Message: MsgBlank})
	}
	if !j.Type.Valid() {
		errs = multierr.Append(errs, FieldError{Field: "type", Message: MsgNotIncluded})
	}
	if !j.State.Valid() {
		errs = multierr.Append(errs, FieldError{Field: "state", Message: MsgNotIncluded})
	}
	if j.StartAt == nil {
		errs = multierr.Append(errs, FieldError{Field: "start_at", Message: MsgBlank})
	}
	for _, fe := range ValidateWindow(now, j.StartAt, j.FinishAt) {
		errs = multierr.Append(errs, fe)
	}
	return errs
}

// setType parses name into j.Type. On failure j.Type is left valid so the
// error is reported once, against the input.
func (j *Job) setType(name string) error {
	if strings.TrimSpace(name) == "" {
		return FieldError{Field: "type", Message: MsgBlank}
	}
	t, ok := ParseType(name)
	if !ok {
		return FieldError{Field: "type", Message: MsgNotIncluded}
	}
	j.Type = t
	return nil
}

func (j *Job) setState(name string) error {
	if strings.TrimSpace(name) == "" {
		return FieldError{Field: "state", Message: MsgBlank}
	}
	s, ok := ParseState(name)
	if !ok {
		return FieldError{Field: "state", Message: MsgNotIncluded}
	}
	j.State = s
	return nil
}
