package rollback

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	registry, err := NewRegistry(t.TempDir())
	require.NoError(t, err)
	return registry
}

func testPoint(migrationID string) *RollbackPoint {
	return NewRollbackPoint(migrationID, "users", "id", "test migration")
}

func testBackupRecord() *BackupRecord {
	return &BackupRecord{
		Path:        "/backups/rb_test.snap",
		Checksum:    "deadbeef",
		RowCount:    3,
		ByteSize:    128,
		Compression: CompressionTypeGzip,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestRegistry_CreateGet(t *testing.T) {
	registry := newTestRegistry(t)
	point := testPoint("mig-1")

	require.NoError(t, registry.Create(point))

	got, err := registry.Get(point.ID)
	require.NoError(t, err)
	assert.Equal(t, point.ID, got.ID)
	assert.Equal(t, StatusPending, got.Status)

	// Get hands out copies, not cache references.
	got.Description = "mutated"
	again, err := registry.Get(point.ID)
	require.NoError(t, err)
	assert.Equal(t, "test migration", again.Description)
}

func TestRegistry_CreateRejectsDuplicate(t *testing.T) {
	registry := newTestRegistry(t)
	point := testPoint("mig-1")

	require.NoError(t, registry.Create(point))
	assert.Error(t, registry.Create(point))
}

func TestRegistry_CreateRejectsNonPending(t *testing.T) {
	registry := newTestRegistry(t)
	point := testPoint("mig-1")
	point.Status = StatusCompleted

	assert.Error(t, registry.Create(point))
}

func TestRegistry_GetMissing(t *testing.T) {
	registry := newTestRegistry(t)

	_, err := registry.Get("rb_missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestRegistry_List(t *testing.T) {
	registry := newTestRegistry(t)

	older := testPoint("mig-1")
	older.CreatedAt = time.Now().UTC().Add(-time.Hour)
	newer := testPoint("mig-1")
	other := testPoint("mig-2")

	require.NoError(t, registry.Create(older))
	require.NoError(t, registry.Create(newer))
	require.NoError(t, registry.Create(other))

	all, err := registry.List("")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, older.ID, all[2].ID, "oldest point sorts last")

	filtered, err := registry.List("mig-2")
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, other.ID, filtered[0].ID)
}

func TestRegistry_Transition(t *testing.T) {
	tests := []struct {
		name    string
		from    RollbackStatus
		to      RollbackStatus
		wantErr bool
	}{
		{name: "pending to completed", from: StatusPending, to: StatusCompleted},
		{name: "pending to rolled back", from: StatusPending, to: StatusRolledBack},
		{name: "pending to failed", from: StatusPending, to: StatusFailed},
		{name: "completed to rolled back", from: StatusCompleted, to: StatusRolledBack},
		{name: "completed to failed", from: StatusCompleted, to: StatusFailed, wantErr: true},
		{name: "rolled back to pending", from: StatusRolledBack, to: StatusPending, wantErr: true},
		{name: "failed to completed", from: StatusFailed, to: StatusCompleted, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := newTestRegistry(t)
			point := testPoint("mig-1")
			require.NoError(t, registry.Create(point))

			if tt.from != StatusPending {
				// Walk the point to the starting status first.
				_, err := registry.Transition(point.ID, tt.from)
				require.NoError(t, err)
			}

			updated, err := registry.Transition(point.ID, tt.to)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsInvalidTransition(err))

				// A rejected transition must not mutate the point.
				current, getErr := registry.Get(point.ID)
				require.NoError(t, getErr)
				assert.Equal(t, tt.from, current.Status)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.to, updated.Status)
		})
	}
}

func TestRegistry_TransitionSetsFinalizedAt(t *testing.T) {
	registry := newTestRegistry(t)
	point := testPoint("mig-1")
	require.NoError(t, registry.Create(point))

	completed, err := registry.Transition(point.ID, StatusCompleted)
	require.NoError(t, err)
	require.NotNil(t, completed.FinalizedAt)
	assert.WithinDuration(t, time.Now().UTC(), *completed.FinalizedAt, time.Minute)

	// A later manual rollback re-finalizes the point.
	rolledBack, err := registry.Transition(point.ID, StatusRolledBack)
	require.NoError(t, err)
	require.NotNil(t, rolledBack.FinalizedAt)
}

func TestRegistry_TransitionInvalidStatus(t *testing.T) {
	registry := newTestRegistry(t)
	point := testPoint("mig-1")
	require.NoError(t, registry.Create(point))

	_, err := registry.Transition(point.ID, RollbackStatus("EXPLODED"))
	assert.Error(t, err)
}

func TestRegistry_AttachBackup(t *testing.T) {
	registry := newTestRegistry(t)
	point := testPoint("mig-1")
	require.NoError(t, registry.Create(point))

	require.NoError(t, registry.AttachBackup(point.ID, testBackupRecord()))

	got, err := registry.Get(point.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Backup)
	assert.Equal(t, "deadbeef", got.Backup.Checksum)

	// A point carries exactly one backup.
	assert.Error(t, registry.AttachBackup(point.ID, testBackupRecord()))
}

func TestRegistry_RecordFailedRowIDs(t *testing.T) {
	registry := newTestRegistry(t)
	point := testPoint("mig-1")
	require.NoError(t, registry.Create(point))

	ids := []string{"101", "102", "103"}
	require.NoError(t, registry.RecordFailedRowIDs(point.ID, ids))

	got, err := registry.Get(point.ID)
	require.NoError(t, err)
	assert.Equal(t, ids, got.FailedRowIDs)
}

func TestRegistry_TransitionConcurrentSingleWinner(t *testing.T) {
	registry := newTestRegistry(t)
	point := testPoint("mig-1")
	require.NoError(t, registry.Create(point))

	const attempts = 8
	results := make(chan error, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := registry.Transition(point.ID, StatusCompleted)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	// Exactly one transition out of pending wins; the rest observe an
	// invalid transition and the status stays terminal.
	won, lost := 0, 0
	for err := range results {
		if err == nil {
			won++
			continue
		}
		assert.True(t, IsInvalidTransition(err))
		lost++
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, attempts-1, lost)

	got, err := registry.Get(point.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestRegistry_ReloadFromDisk(t *testing.T) {
	dir := t.TempDir()

	registry, err := NewRegistry(dir)
	require.NoError(t, err)

	point := testPoint("mig-1")
	require.NoError(t, registry.Create(point))
	require.NoError(t, registry.AttachBackup(point.ID, testBackupRecord()))
	_, err = registry.Transition(point.ID, StatusCompleted)
	require.NoError(t, err)

	reopened, err := NewRegistry(dir)
	require.NoError(t, err)

	got, err := reopened.Get(point.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.Backup)
	assert.Equal(t, "deadbeef", got.Backup.Checksum)
}
