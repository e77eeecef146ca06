package rollback

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

const lockNamePrefix = "mysql_data_migrate:"

// tableLocks registers in-process exclusive locks per table name. Acquisition
// is fail-fast: a held lock yields MigrationInProgress immediately instead of
// queueing, so a second migration against the same table fails cleanly.
type tableLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func newTableLocks() *tableLocks {
	return &tableLocks{held: make(map[string]bool)}
}

func (l *tableLocks) acquire(table string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[table] {
		return NewMigrationInProgressError(
			fmt.Sprintf("another migration is already running against table %s", table), nil)
	}
	l.held[table] = true

	return nil
}

func (l *tableLocks) release(table string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, table)
}

// AdvisoryLocker guards a table across processes with MySQL named locks.
// GET_LOCK with a zero timeout keeps the fail-fast contract: if any other
// connection holds the lock, acquisition fails instead of blocking.
//
// Named locks belong to the connection that took them, so the locker pins a
// single connection out of the pool and holds it until release. The pool
// never recycles a checked-out connection, which keeps the lock alive for
// migrations that outlive the pool's connection lifetime.
type AdvisoryLocker struct {
	db *sql.DB
}

// NewAdvisoryLocker creates an advisory locker over the given connection pool
func NewAdvisoryLocker(db *sql.DB) *AdvisoryLocker {
	return &AdvisoryLocker{db: db}
}

// Acquire takes the named lock for table, failing fast when it is held.
// The returned release function gives up the lock and returns the pinned
// connection to the pool; it must be called on every exit path.
func (a *AdvisoryLocker) Acquire(ctx context.Context, table string) (func() error, error) {
	name := lockNamePrefix + table

	conn, err := a.db.Conn(ctx)
	if err != nil {
		return nil, NewDatabaseError("failed to obtain a connection for the advisory lock", err)
	}

	var acquired sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", name).Scan(&acquired); err != nil {
		conn.Close()
		return nil, NewDatabaseError("failed to request advisory lock", err)
	}
	if !acquired.Valid || acquired.Int64 != 1 {
		conn.Close()
		return nil, NewMigrationInProgressError(
			fmt.Sprintf("another process is already migrating table %s", table), nil)
	}

	release := func() error {
		defer conn.Close()

		var released sql.NullInt64
		err := conn.QueryRowContext(context.Background(), "SELECT RELEASE_LOCK(?)", name).Scan(&released)
		if err != nil {
			return NewDatabaseError("failed to release advisory lock", err)
		}
		// RELEASE_LOCK returns 1 only when this session held the lock. Any
		// other answer means the lock was lost, for example to a dropped
		// connection, and must not pass silently.
		if !released.Valid || released.Int64 != 1 {
			return NewDatabaseError(
				fmt.Sprintf("advisory lock for table %s was no longer held by this session", table), nil)
		}
		return nil
	}

	return release, nil
}
