package storage

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const lockKey = int64(42)

func newLeader(t *testing.T) (*Leader, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewLeader(db, lockKey, zap.NewNop()), mock
}

func expectLock(mock sqlmock.Sqlmock, ok bool) {
	mock.ExpectQuery(regexp.QuoteMeta("select pg_try_advisory_lock($1)")).
		WithArgs(lockKey).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(ok))
}

func TestLeaderAcquiresAndKeepsLock(t *testing.T) {
	l, mock := newLeader(t)
	ctx := context.Background()

	expectLock(mock, true)
	mock.ExpectExec(regexp.QuoteMeta("select 1")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("select pg_advisory_unlock($1)")).
		WithArgs(lockKey).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := l.Check(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Check(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	l.Close(ctx)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeaderRetriesWhileLockIsTaken(t *testing.T) {
	l, mock := newLeader(t)
	ctx := context.Background()

	expectLock(mock, false)
	expectLock(mock, true)

	ok, err := l.Check(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.Check(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeaderReacquiresAfterLostConnection(t *testing.T) {
	l, mock := newLeader(t)
	ctx := context.Background()

	expectLock(mock, true)
	mock.ExpectExec(regexp.QuoteMeta("select 1")).WillReturnError(errors.New("connection reset"))
	expectLock(mock, true)

	ok, err := l.Check(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.Check(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeaderLockError(t *testing.T) {
	l, mock := newLeader(t)

	mock.ExpectQuery(regexp.QuoteMeta("select pg_try_advisory_lock($1)")).
		WithArgs(lockKey).
		WillReturnError(errors.New("too many connections"))

	ok, err := l.Check(context.Background())
	assert.Error(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())

	// Close without the lock touches nothing.
	l.Close(context.Background())
	assert.NoError(t, mock.ExpectationsWereMet())
}
