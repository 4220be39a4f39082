package jobs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/SirClappington/maintd/internal/domain"
	"github.com/SirClappington/maintd/internal/storage"
)

// memRepo keeps jobs in memory. InTx works on a private copy that replaces
// the committed contents only when fn succeeds, so readers outside the
// transaction never see its writes early.
type memRepo struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
	refs map[string][]domain.Reference
}

func newMemRepo() *memRepo {
	return &memRepo{jobs: map[string]*domain.Job{}, refs: map[string][]domain.Reference{}}
}

func (m *memRepo) InTx(ctx context.Context, fn func(storage.Jobs) error) error {
	m.mu.Lock()
	tx := &memRepo{jobs: make(map[string]*domain.Job, len(m.jobs)), refs: m.refs}
	for k, v := range m.jobs {
		tx.jobs[k] = v.Clone()
	}
	m.mu.Unlock()

	if err := fn(tx); err != nil {
		return err
	}
	m.mu.Lock()
	m.jobs = tx.jobs
	m.mu.Unlock()
	return nil
}

func (m *memRepo) InsertJob(_ context.Context, j *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j.ID = uuid.NewString()
	j.CreatedAt = time.Now()
	j.UpdatedAt = j.CreatedAt
	m.jobs[j.ID] = j.Clone()
	return nil
}

func (m *memRepo) GetJob(_ context.Context, id string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return j.Clone(), nil
}

func (m *memRepo) LockJob(ctx context.Context, id string) (*domain.Job, error) {
	return m.GetJob(ctx, id)
}

func (m *memRepo) UpdateJob(_ context.Context, j *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[j.ID]; !ok {
		return domain.ErrNotFound
	}
	j.UpdatedAt = time.Now()
	m.jobs[j.ID] = j.Clone()
	return nil
}

func (m *memRepo) ListJobs(_ context.Context, opts storage.ListOpts) ([]*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Job
	for _, j := range m.jobs {
		if opts.State != nil && j.State != *opts.State {
			continue
		}
		out = append(out, j.Clone())
	}
	return out, nil
}

func (m *memRepo) Activate(_ context.Context, id string, startAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.State != domain.Pending || !domain.SameInstant(j.StartAt, &startAt) {
		return false, nil
	}
	j.State = domain.Active
	return true, nil
}

func (m *memRepo) Disable(_ context.Context, id string, finishAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.State == domain.Disabled || !domain.SameInstant(j.FinishAt, &finishAt) {
		return false, nil
	}
	j.State = domain.Disabled
	return true, nil
}

func (m *memRepo) AttachReference(_ context.Context, jobID string, ref domain.Reference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[jobID]; !ok {
		return domain.ErrNotFound
	}
	for _, r := range m.refs[jobID] {
		if r == ref {
			return nil
		}
	}
	m.refs[jobID] = append(m.refs[jobID], ref)
	return nil
}

func (m *memRepo) DetachReference(_ context.Context, jobID string, ref domain.Reference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.refs[jobID] {
		if r == ref {
			m.refs[jobID] = append(m.refs[jobID][:i:i], m.refs[jobID][i+1:]...)
			return nil
		}
	}
	return domain.ErrReferenceNotFound
}

func (m *memRepo) ReferencesFor(_ context.Context, jobIDs ...string) (map[string][]domain.Reference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string][]domain.Reference{}
	for _, id := range jobIDs {
		if refs := m.refs[id]; len(refs) > 0 {
			out[id] = append([]domain.Reference(nil), refs...)
		}
	}
	return out, nil
}

// put stores j as-is, bypassing validation.
func (m *memRepo) put(j *domain.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	m.jobs[j.ID] = j.Clone()
}

type mockScheduler struct {
	mock.Mock
}

func (m *mockScheduler) ScheduleAt(ctx context.Context, at time.Time, kind domain.ActionKind, ref string, payload time.Time) error {
	args := m.Called(ctx, at, kind, ref, payload)
	return args.Error(0)
}

// kinds returns the scheduled kinds in order.
func (m *mockScheduler) kinds() []domain.ActionKind {
	var out []domain.ActionKind
	for _, c := range m.Calls {
		if c.Method == "ScheduleAt" {
			out = append(out, c.Arguments.Get(2).(domain.ActionKind))
		}
	}
	return out
}

// inlineScheduler hands actions that are already due straight to the
// service, like a worker blocked on the ready list would. Future actions
// are ignored.
type inlineScheduler struct {
	svc      *Service
	outcomes []Outcome
}

func (s *inlineScheduler) ScheduleAt(ctx context.Context, at time.Time, kind domain.ActionKind, ref string, payload time.Time) error {
	if at.After(s.svc.now()) {
		return nil
	}
	out, err := s.svc.HandleAction(ctx, kind, ref, payload)
	if err != nil {
		return err
	}
	s.outcomes = append(s.outcomes, out)
	return nil
}

// plainRefs encodes references as "purpose:id" so tests can inspect them.
type plainRefs struct{}

func (plainRefs) Sign(jobID, purpose string, _ time.Time) (string, error) {
	return purpose + ":" + jobID, nil
}

func (plainRefs) Resolve(tok, purpose string) (string, error) {
	prefix := purpose + ":"
	if !strings.HasPrefix(tok, prefix) {
		return "", errors.New("wrong purpose")
	}
	return strings.TrimPrefix(tok, prefix), nil
}
