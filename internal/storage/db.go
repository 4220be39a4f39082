package storage

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
	"github.com/pressly/goose"
)

// Open connects a pgx pool and exposes it through database/sql. Closing the
// returned *sql.DB does not close the pool.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, *sql.DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, errors.Wrap(err, "connect postgres")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, errors.Wrap(err, "ping postgres")
	}
	return pool, stdlib.OpenDBFromPool(pool), nil
}

// Migrate applies the goose migrations found in dir.
func Migrate(db *sql.DB, dir string) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Wrap(err, "goose dialect")
	}
	return errors.Wrap(goose.Up(db, dir), "migrate")
}

// TryLeaderLock takes a session-level advisory lock on conn. The lock is
// held until conn is closed or UnlockLeader is called.
func TryLeaderLock(ctx context.Context, conn *sql.Conn, key int64) (bool, error) {
	var ok bool
	if err := conn.QueryRowContext(ctx, `select pg_try_advisory_lock($1)`, key).Scan(&ok); err != nil {
		return false, errors.Wrap(err, "advisory lock")
	}
	return ok, nil
}

func UnlockLeader(ctx context.Context, conn *sql.Conn, key int64) error {
	_, err := conn.ExecContext(ctx, `select pg_advisory_unlock($1)`, key)
	return errors.Wrap(err, "advisory unlock")
}
