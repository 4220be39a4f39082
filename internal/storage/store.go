package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/SirClappington/maintd/internal/domain"
)

// Jobs is the persistence surface shared by the Store and its transactions.
type Jobs interface {
	InsertJob(ctx context.Context, j *domain.Job) error
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	LockJob(ctx context.Context, id string) (*domain.Job, error)
	UpdateJob(ctx context.Context, j *domain.Job) error
	ListJobs(ctx context.Context, opts ListOpts) ([]*domain.Job, error)
	Activate(ctx context.Context, id string, startAt time.Time) (bool, error)
	Disable(ctx context.Context, id string, finishAt time.Time) (bool, error)
}

type ListOpts struct {
	State  *domain.State
	Limit  int
	Offset int
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db *sql.DB
	q  querier
}

func New(db *sql.DB) *Store { return &Store{db: db, q: db} }

var _ Jobs = (*Store)(nil)

const jobColumns = `id, type, description, state, start_at, finish_at, created_at, updated_at`

// InTx runs fn inside a transaction, committing when fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(Jobs) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	if err := fn(&Store{db: s.db, q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "commit tx")
}

// InsertJob persists a new job, assigning its id and timestamps.
func (s *Store) InsertJob(ctx context.Context, j *domain.Job) error {
	j.ID = uuid.NewString()
	err := s.q.QueryRowContext(ctx, `insert into jobs(
id, type, description, state, start_at, finish_at
) values ($1,$2,$3,$4,$5,$6)
returning created_at, updated_at`,
		j.ID, int16(j.Type), j.Description, int16(j.State), timeArg(j.StartAt), timeArg(j.FinishAt),
	).Scan(&j.CreatedAt, &j.UpdatedAt)
	return errors.Wrap(err, "insert job")
}

func (s *Store) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	return s.getJob(ctx, `select `+jobColumns+` from jobs where id = $1`, id)
}

// LockJob reads a job with a row lock. Only meaningful inside InTx.
func (s *Store) LockJob(ctx context.Context, id string) (*domain.Job, error) {
	return s.getJob(ctx, `select `+jobColumns+` from jobs where id = $1 for update`, id)
}

func (s *Store) getJob(ctx context.Context, query, id string) (*domain.Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}
	j, err := scanJob(s.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get job %s", id)
	}
	return j, nil
}

// UpdateJob writes every mutable column of j and refreshes UpdatedAt.
func (s *Store) UpdateJob(ctx context.Context, j *domain.Job) error {
	err := s.q.QueryRowContext(ctx, `update jobs
   set type = $2,
       description = $3,
       state = $4,
       start_at = $5,
       finish_at = $6,
       updated_at = now()
 where id = $1
returning updated_at`,
		j.ID, int16(j.Type), j.Description, int16(j.State), timeArg(j.StartAt), timeArg(j.FinishAt),
	).Scan(&j.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	return errors.Wrapf(err, "update job %s", j.ID)
}

func (s *Store) ListJobs(ctx context.Context, opts ListOpts) ([]*domain.Job, error) {
	var (
		where []string
		args  []any
	)
	if opts.State != nil {
		args = append(args, int16(*opts.State))
		where = append(where, fmt.Sprintf("state = $%d", len(args)))
	}
	query := `select ` + jobColumns + ` from jobs`
	if len(where) > 0 {
		query += ` where ` + strings.Join(where, " and ")
	}
	query += ` order by start_at asc, id asc`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" limit $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" offset $%d", len(args))
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list jobs")
	}
	defer rows.Close()

	var out []*domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan job")
		}
		out = append(out, j)
	}
	return out, errors.Wrap(rows.Err(), "list jobs")
}

// Activate moves a pending job to active if its start_at still equals
// startAt. It reports whether a row changed.
func (s *Store) Activate(ctx context.Context, id string, startAt time.Time) (bool, error) {
	res, err := s.q.ExecContext(ctx, `update jobs
   set state = $2, updated_at = now()
 where id = $1 and state = $3 and start_at = $4`,
		id, int16(domain.Active), int16(domain.Pending), startAt)
	return affected(res, err, "activate job")
}

// Disable moves a pending or active job to disabled if its finish_at still
// equals finishAt.
func (s *Store) Disable(ctx context.Context, id string, finishAt time.Time) (bool, error) {
	res, err := s.q.ExecContext(ctx, `update jobs
   set state = $2, updated_at = now()
 where id = $1 and state in ($3, $4) and finish_at = $5`,
		id, int16(domain.Disabled), int16(domain.Pending), int16(domain.Active), finishAt)
	return affected(res, err, "disable job")
}

func affected(res sql.Result, err error, op string) (bool, error) {
	if err != nil {
		return false, errors.Wrap(err, op)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, op)
	}
	return n > 0, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*domain.Job, error) {
	var (
		j          domain.Job
		typ, state int16
		startAt    sql.NullTime
		finishAt   sql.NullTime
	)
	if err := row.Scan(&j.ID, &typ, &j.Description, &state, &startAt, &finishAt, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Type = domain.Type(typ)
	j.State = domain.State(state)
	if startAt.Valid {
		t := startAt.Time.UTC()
		j.StartAt = &t
	}
	if finishAt.Valid {
		t := finishAt.Time.UTC()
		j.FinishAt = &t
	}
	return &j, nil
}

func timeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
