package domain

// ActionKind names a deferred transition. The value doubles as the purpose
// a job reference is scoped to.
type ActionKind string

const (
	JobStart  ActionKind = "job_start"
	JobFinish ActionKind = "job_finish"
)

func (k ActionKind) Valid() bool {
	switch k {
	case JobStart, JobFinish:
		return true
	}
	return false
}
