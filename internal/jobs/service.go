// Package jobs runs the maintenance-window lifecycle: validating and
// persisting jobs, scheduling their deferred start and finish actions, and
// applying those actions when they come due.
package jobs

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/SirClappington/maintd/internal/domain"
	"github.com/SirClappington/maintd/internal/storage"
)

// ErrSchedule marks failures to enqueue a deferred action. The job itself
// was committed; the caller gets it back alongside the error.
var ErrSchedule = errors.New("schedule deferred action")

// Scheduler durably registers kind to run at the given instant. ref
// resolves back to the job; payload is handed to the action handler.
type Scheduler interface {
	ScheduleAt(ctx context.Context, at time.Time, kind domain.ActionKind, ref string, payload time.Time) error
}

// Repository is the persistence the service needs.
type Repository interface {
	storage.Jobs
	storage.References
	InTx(ctx context.Context, fn func(storage.Jobs) error) error
}

// Refs mints and resolves purpose-scoped job references.
type Refs interface {
	Sign(jobID, purpose string, at time.Time) (string, error)
	Resolve(tok, purpose string) (string, error)
}

type Service struct {
	repo  Repository
	sched Scheduler
	refs  Refs
	log   *zap.Logger
	now   func() time.Time
}

func NewService(repo Repository, sched Scheduler, refs Refs, log *zap.Logger) *Service {
	return &Service{repo: repo, sched: sched, refs: refs, log: log, now: time.Now}
}

// Create validates p, persists the job and, when it is pending, schedules
// its start and (if set) finish actions.
func (s *Service) Create(ctx context.Context, p domain.JobParams) (*domain.Job, error) {
	now := s.now()
	j, err := domain.NewJob(p, now)
	if err != nil {
		return nil, err
	}

	if err := s.repo.InsertJob(ctx, j); err != nil {
		return nil, err
	}

	// Actions are only queued once the row is visible to workers.
	if j.State == domain.Pending {
		if err := s.schedule(ctx, j, domain.JobStart, domain.JobFinish); err != nil {
			return j, err
		}
	}

	s.log.Info("job created",
		zap.String("job_id", j.ID),
		zap.Stringer("state", j.State),
		zap.Timep("start_at", j.StartAt),
		zap.Timep("finish_at", j.FinishAt))
	return j, nil
}

// Update applies c to the job and re-validates the whole record, then
// queues the actions listed by reschedules. Earlier actions stay queued and
// are discarded by the handlers when they no longer match.
func (s *Service) Update(ctx context.Context, id string, c domain.JobChanges) (*domain.Job, error) {
	now := s.now()
	var (
		updated *domain.Job
		kinds   []domain.ActionKind
	)

	err := s.repo.InTx(ctx, func(tx storage.Jobs) error {
		cur, err := tx.LockJob(ctx, id)
		if err != nil {
			return err
		}
		next, err := cur.Apply(c, now)
		if err != nil {
			return err
		}
		if err := tx.UpdateJob(ctx, next); err != nil {
			return err
		}
		updated = next
		kinds = reschedules(cur, next)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("job updated", zap.String("job_id", updated.ID), zap.Stringer("state", updated.State))
	if err := s.schedule(ctx, updated, kinds...); err != nil {
		return updated, err
	}
	return updated, nil
}

// reschedules lists the actions an update has to queue. A pending job whose
// start moved needs a start action; a pending or active job whose finish
// moved needs a finish action.
func reschedules(cur, next *domain.Job) []domain.ActionKind {
	startMoved := !domain.SameInstant(cur.StartAt, next.StartAt)
	finishMoved := !domain.SameInstant(cur.FinishAt, next.FinishAt)

	var kinds []domain.ActionKind
	switch next.State {
	case domain.Pending:
		if startMoved {
			kinds = append(kinds, domain.JobStart)
		}
		if finishMoved {
			kinds = append(kinds, domain.JobFinish)
		}
	case domain.Active:
		if finishMoved {
			kinds = append(kinds, domain.JobFinish)
		}
	case domain.Disabled:
	}
	return kinds
}

// Get returns the job with its references.
func (s *Service) Get(ctx context.Context, id string) (*domain.Job, error) {
	j, err := s.repo.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.loadReferences(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

func (s *Service) List(ctx context.Context, opts storage.ListOpts) ([]*domain.Job, error) {
	list, err := s.repo.ListJobs(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := s.loadReferences(ctx, list...); err != nil {
		return nil, err
	}
	return list, nil
}

func (s *Service) loadReferences(ctx context.Context, js ...*domain.Job) error {
	if len(js) == 0 {
		return nil
	}
	ids := make([]string, len(js))
	for i, j := range js {
		ids[i] = j.ID
	}
	refs, err := s.repo.ReferencesFor(ctx, ids...)
	if err != nil {
		return err
	}
	for _, j := range js {
		j.References = refs[j.ID]
	}
	return nil
}

// AttachReference links ref to the job and returns the job as read back.
func (s *Service) AttachReference(ctx context.Context, id string, ref domain.Reference) (*domain.Job, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetJob(ctx, id); err != nil {
		return nil, err
	}
	if err := s.repo.AttachReference(ctx, id, ref); err != nil {
		return nil, err
	}
	s.log.Info("reference attached", zap.String("job_id", id),
		zap.String("reference_type", string(ref.Type)), zap.String("reference_id", ref.ID))
	return s.Get(ctx, id)
}

func (s *Service) DetachReference(ctx context.Context, id string, ref domain.Reference) error {
	if _, err := s.repo.GetJob(ctx, id); err != nil {
		return err
	}
	if err := s.repo.DetachReference(ctx, id, ref); err != nil {
		return err
	}
	s.log.Info("reference detached", zap.String("job_id", id),
		zap.String("reference_type", string(ref.Type)), zap.String("reference_id", ref.ID))
	return nil
}

// schedule queues the given actions for a committed job, stopping at the
// first failure.
func (s *Service) schedule(ctx context.Context, j *domain.Job, kinds ...domain.ActionKind) error {
	for _, kind := range kinds {
		at := j.StartAt
		if kind == domain.JobFinish {
			at = j.FinishAt
		}
		if err := s.enqueue(ctx, j, kind, at); err != nil {
			s.log.Error("job saved without its action", zap.String("job_id", j.ID), zap.Error(err))
			return err
		}
	}
	return nil
}

// enqueue schedules kind at the given instant. An absent instant schedules
// nothing.
func (s *Service) enqueue(ctx context.Context, j *domain.Job, kind domain.ActionKind, at *time.Time) error {
	if at == nil {
		return nil
	}
	ref, err := s.refs.Sign(j.ID, string(kind), *at)
	if err != nil {
		return &ScheduleError{Kind: kind, JobID: j.ID, Err: errors.Wrap(err, "sign reference")}
	}
	if err := s.sched.ScheduleAt(ctx, *at, kind, ref, *at); err != nil {
		return &ScheduleError{Kind: kind, JobID: j.ID, Err: err}
	}
	s.log.Debug("action scheduled", zap.String("job_id", j.ID), zap.String("kind", string(kind)), zap.Time("at", *at))
	return nil
}

// ScheduleError wraps a scheduler failure. It matches ErrSchedule.
type ScheduleError struct {
	Kind  domain.ActionKind
	JobID string
	Err   error
}

func (e *ScheduleError) Error() string {
	return "schedule " + string(e.Kind) + " for job " + e.JobID + ": " + e.Err.Error()
}

func (e *ScheduleError) Unwrap() error { return e.Err }

func (e *ScheduleError) Is(target error) bool { return target == ErrSchedule }
