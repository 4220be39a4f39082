package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/SirClappington/maintd/internal/domain"
)

// References manages the jobbings that link jobs to external records.
type References interface {
	AttachReference(ctx context.Context, jobID string, ref domain.Reference) error
	DetachReference(ctx context.Context, jobID string, ref domain.Reference) error
	ReferencesFor(ctx context.Context, jobIDs ...string) (map[string][]domain.Reference, error)
}

var _ References = (*Store)(nil)

// AttachReference links ref to the job. Attaching the same link twice is a
// no-op.
func (s *Store) AttachReference(ctx context.Context, jobID string, ref domain.Reference) error {
	if _, err := uuid.Parse(jobID); err != nil {
		return domain.ErrNotFound
	}
	_, err := s.q.ExecContext(ctx, `insert into jobbings(id, job_id, reference_type, reference_id)
values ($1, $2, $3, $4)
on conflict (job_id, reference_type, reference_id) do nothing`,
		uuid.NewString(), jobID, string(ref.Type), ref.ID)
	return errors.Wrapf(err, "attach reference to job %s", jobID)
}

func (s *Store) DetachReference(ctx context.Context, jobID string, ref domain.Reference) error {
	if _, err := uuid.Parse(jobID); err != nil {
		return domain.ErrNotFound
	}
	res, err := s.q.ExecContext(ctx, `delete from jobbings
 where job_id = $1 and reference_type = $2 and reference_id = $3`,
		jobID, string(ref.Type), ref.ID)
	ok, err := affected(res, err, "detach reference")
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrReferenceNotFound
	}
	return nil
}

// ReferencesFor loads the links of every given job in one query. Jobs
// without links are absent from the result.
func (s *Store) ReferencesFor(ctx context.Context, jobIDs ...string) (map[string][]domain.Reference, error) {
	out := map[string][]domain.Reference{}
	var (
		args         []any
		placeholders []string
	)
	for _, id := range jobIDs {
		if _, err := uuid.Parse(id); err != nil {
			continue
		}
		args = append(args, id)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}
	if len(args) == 0 {
		return out, nil
	}

	rows, err := s.q.QueryContext(ctx, `select job_id, reference_type, reference_id
  from jobbings
 where job_id in (`+strings.Join(placeholders, ", ")+`)
 order by created_at asc, reference_type asc, reference_id asc`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list references")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			jobID, typ string
			ref        domain.Reference
		)
		if err := rows.Scan(&jobID, &typ, &ref.ID); err != nil {
			return nil, errors.Wrap(err, "scan reference")
		}
		ref.Type = domain.ReferenceType(typ)
		out[jobID] = append(out[jobID], ref)
	}
	return out, errors.Wrap(rows.Err(), "list references")
}
