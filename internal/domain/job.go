package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// State is the lifecycle state of a maintenance job. The numeric values are
// the codes persisted in the jobs table.
type State int16

const (
	Pending  State = 0
	Active   State = 1
	Disabled State = 2
)

// States lists every valid state in code order.
var States = []State{Pending, Active, Disabled}

func (s State) Valid() bool {
	switch s {
	case Pending, Active, Disabled:
		return true
	}
	return false
}

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Active:
		return "active"
	case Disabled:
		return "disabled"
	}
	return fmt.Sprintf("State(%d)", int16(s))
}

// ParseState maps a state name to its value.
func ParseState(name string) (State, bool) {
	for _, s := range States {
		if s.String() == name {
			return s, true
		}
	}
	return 0, false
}

func (s State) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("domain: invalid state %d", int16(s))
	}
	return json.Marshal(s.String())
}

// Type is the kind of job. Maintenance is the only variant for now.
type Type int16

const (
	Maintenance Type = 0
)

var Types = []Type{Maintenance}

func (t Type) Valid() bool {
	switch t {
	case Maintenance:
		return true
	}
	return false
}

func (t Type) String() string {
	switch t {
	case Maintenance:
		return "maintenance"
	}
	return fmt.Sprintf("Type(%d)", int16(t))
}

func ParseType(name string) (Type, bool) {
	for _, t := range Types {
		if t.String() == name {
			return t, true
		}
	}
	return 0, false
}

func (t Type) MarshalJSON() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("domain: invalid type %d", int16(t))
	}
	return json.Marshal(t.String())
}

// Job is a scheduled maintenance window.
type Job struct {
	ID          string     `json:"id"`
	Type        Type       `json:"type"`
	Description string     `json:"description"`
	State       State      `json:"state"`
	StartAt     *time.Time `json:"start_at"`
	FinishAt    *time.Time `json:"finish_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	// References is filled on reads; writes to the jobs table ignore it.
	References []Reference `json:"references,omitempty"`
}

// Clone returns a copy that shares no pointers with j.
func (j *Job) Clone() *Job {
	c := *j
	c.StartAt = copyTime(j.StartAt)
	c.FinishAt = copyTime(j.FinishAt)
	if j.References != nil {
		c.References = append([]Reference(nil), j.References...)
	}
	return &c
}

// Normalize converts an instant to UTC at microsecond precision, the
// resolution Postgres keeps for timestamptz.
func Normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func normalizePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	n := Normalize(*t)
	return &n
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// SameInstant reports whether two optional instants are both absent or equal.
func SameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
