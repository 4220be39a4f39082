package storage

import (
	"context"
	"database/sql"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Leader holds a session-level advisory lock on a dedicated connection so
// leadership survives between ticks. A broken connection is dropped and the
// lock is taken again on a fresh one.
type Leader struct {
	mu   sync.Mutex
	db   *sql.DB
	conn *sql.Conn
	key  int64
	held bool
	log  *zap.Logger
}

func NewLeader(db *sql.DB, key int64, log *zap.Logger) *Leader {
	return &Leader{db: db, key: key, log: log}
}

// Check reports whether this process currently holds the lock, trying to
// take it when it does not.
func (l *Leader) Check(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held {
		if _, err := l.conn.ExecContext(ctx, `select 1`); err == nil {
			return true, nil
		}
		l.log.Warn("leader connection lost")
		l.release()
	}
	if l.conn == nil {
		conn, err := l.db.Conn(ctx)
		if err != nil {
			return false, errors.Wrap(err, "leader connection")
		}
		l.conn = conn
	}
	ok, err := TryLeaderLock(ctx, l.conn, l.key)
	if err != nil {
		l.release()
		return false, err
	}
	if ok {
		l.log.Info("acquired scheduler leadership", zap.Int64("key", l.key))
	}
	l.held = ok
	return ok, nil
}

// Close gives up the lock and the connection.
func (l *Leader) Close(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held && l.conn != nil {
		if err := UnlockLeader(ctx, l.conn, l.key); err != nil {
			l.log.Warn("release leadership", zap.Error(err))
		}
	}
	l.release()
}

func (l *Leader) release() {
	if l.conn != nil {
		_ = l.conn.Close()
	}
	l.conn = nil
	l.held = false
}
