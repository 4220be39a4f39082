package jobs

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/SirClappington/maintd/internal/domain"
)

// Outcome describes what an action did.
type Outcome string

const (
	Applied Outcome = "applied"
	// Stale means a newer schedule or another transition superseded the action.
	Stale Outcome = "stale"
	// Dropped means the reference was unusable or the job is gone.
	Dropped Outcome = "dropped"
)

// HandleAction applies a due start or finish action. The action only takes
// effect if payload still equals the job's persisted instant for that kind
// and the job is in a state the transition applies to. Errors are
// transient and worth retrying.
func (s *Service) HandleAction(ctx context.Context, kind domain.ActionKind, ref string, payload time.Time) (Outcome, error) {
	id, err := s.refs.Resolve(ref, string(kind))
	if err != nil {
		s.log.Warn("dropping action with unusable reference", zap.String("kind", string(kind)), zap.Error(err))
		return Dropped, nil
	}
	log := s.log.With(zap.String("job_id", id), zap.String("kind", string(kind)), zap.Time("payload", payload))

	j, err := s.repo.GetJob(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		log.Warn("dropping action for missing job")
		return Dropped, nil
	}
	if err != nil {
		return "", err
	}

	var applied bool
	switch kind {
	case domain.JobStart:
		if j.State != domain.Pending || !domain.SameInstant(j.StartAt, &payload) {
			log.Info("start action superseded", zap.Stringer("state", j.State), zap.Timep("start_at", j.StartAt))
			return Stale, nil
		}
		applied, err = s.repo.Activate(ctx, id, payload)
	case domain.JobFinish:
		switch j.State {
		case domain.Pending, domain.Active:
		case domain.Disabled:
			log.Info("finish action on disabled job")
			return Stale, nil
		}
		if !domain.SameInstant(j.FinishAt, &payload) {
			log.Info("finish action superseded", zap.Timep("finish_at", j.FinishAt))
			return Stale, nil
		}
		applied, err = s.repo.Disable(ctx, id, payload)
	default:
		log.Warn("dropping action of unknown kind")
		return Dropped, nil
	}
	if err != nil {
		return "", err
	}
	if !applied {
		// Lost a race with an update or a duplicate action.
		log.Info("transition guard did not match")
		return Stale, nil
	}
	log.Info("transition applied")
	return Applied, nil
}
