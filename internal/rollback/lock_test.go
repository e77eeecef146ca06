package rollback

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdvisoryLocker(t *testing.T) (*AdvisoryLocker, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewAdvisoryLocker(db), mock
}

func TestAdvisoryLocker_AcquireRelease(t *testing.T) {
	locker, mock := newTestAdvisoryLocker(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT GET_LOCK(?, 0)")).
		WithArgs(lockNamePrefix + "users").
		WillReturnRows(sqlmock.NewRows([]string{"GET_LOCK"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT RELEASE_LOCK(?)")).
		WithArgs(lockNamePrefix + "users").
		WillReturnRows(sqlmock.NewRows([]string{"RELEASE_LOCK"}).AddRow(1))

	release, err := locker.Acquire(context.Background(), "users")
	require.NoError(t, err)
	require.NoError(t, release())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvisoryLocker_HeldElsewhere(t *testing.T) {
	locker, mock := newTestAdvisoryLocker(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT GET_LOCK(?, 0)")).
		WithArgs(lockNamePrefix + "users").
		WillReturnRows(sqlmock.NewRows([]string{"GET_LOCK"}).AddRow(0))

	_, err := locker.Acquire(context.Background(), "users")
	require.Error(t, err)
	assert.True(t, IsMigrationInProgress(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvisoryLocker_ReleaseLockLost(t *testing.T) {
	locker, mock := newTestAdvisoryLocker(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT GET_LOCK(?, 0)")).
		WithArgs(lockNamePrefix + "users").
		WillReturnRows(sqlmock.NewRows([]string{"GET_LOCK"}).AddRow(1))
	// RELEASE_LOCK answering 0 means this session no longer held the lock.
	mock.ExpectQuery(regexp.QuoteMeta("SELECT RELEASE_LOCK(?)")).
		WithArgs(lockNamePrefix + "users").
		WillReturnRows(sqlmock.NewRows([]string{"RELEASE_LOCK"}).AddRow(0))

	release, err := locker.Acquire(context.Background(), "users")
	require.NoError(t, err)

	err = release()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no longer held")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvisoryLocker_ReleaseUnknownLock(t *testing.T) {
	locker, mock := newTestAdvisoryLocker(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT GET_LOCK(?, 0)")).
		WithArgs(lockNamePrefix + "users").
		WillReturnRows(sqlmock.NewRows([]string{"GET_LOCK"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT RELEASE_LOCK(?)")).
		WithArgs(lockNamePrefix + "users").
		WillReturnRows(sqlmock.NewRows([]string{"RELEASE_LOCK"}).AddRow(nil))

	release, err := locker.Acquire(context.Background(), "users")
	require.NoError(t, err)
	assert.Error(t, release())
}

func TestTableLocks_FailFast(t *testing.T) {
	locks := newTableLocks()

	require.NoError(t, locks.acquire("users"))
	err := locks.acquire("users")
	require.Error(t, err)
	assert.True(t, IsMigrationInProgress(err))

	// A different table is unaffected.
	require.NoError(t, locks.acquire("orders"))

	locks.release("users")
	assert.NoError(t, locks.acquire("users"))
}
