package domain

import "time"

// ValidateWindow checks a (start, finish) pair against now. Every rule is
// evaluated; the result is empty when the window is valid. A zero-length
// window (start == finish) is allowed.
func ValidateWindow(now time.Time, startAt, finishAt *time.Time) []FieldError {
	var errs []FieldError
	if startAt == nil || startAt.Before(now) {
		errs = append(errs, FieldError{Field: "start_at", Message: MsgInvalidDate})
	}
	if finishAt != nil && finishAt.Before(now) {
		errs = append(errs, FieldError{Field: "finish_at", Message: MsgInvalidDate})
	}
	if startAt != nil && finishAt != nil && startAt.After(*finishAt) {
		errs = append(errs, FieldError{Field: FieldBase, Message: MsgInvalidRange})
	}
	return errs
}
