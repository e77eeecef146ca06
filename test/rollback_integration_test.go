package test

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mysql-data-migrate/internal/logging"
	"mysql-data-migrate/internal/rollback"
)

// TestRollbackEngineIntegrationSuite exercises the rollback engine end to end
func TestRollbackEngineIntegrationSuite(t *testing.T) {
	ctx := context.Background()
	tempDir := t.TempDir()

	// Test 1: Engine configuration validation
	t.Run("Engine configuration validation", func(t *testing.T) {
		config := &rollback.Config{
			Storage: rollback.StorageConfig{
				Provider: rollback.StorageProviderLocal,
				Local: &rollback.LocalConfig{
					BasePath:    tempDir,
					Permissions: 0755,
				},
			},
			RegistryPath:     filepath.Join(tempDir, "registry"),
			AuditLogPath:     filepath.Join(tempDir, "audit.log"),
			Actor:            "integration",
			FailureThreshold: rollback.DefaultFailureThreshold,
			Compression:      rollback.CompressionTypeGzip,
			DefaultKeyColumn: "id",
		}

		err := config.Validate()
		assert.NoError(t, err, "Valid configuration should pass validation")

		invalidConfig := &rollback.Config{
			Storage: rollback.StorageConfig{
				Provider: rollback.StorageProviderLocal,
				// Missing Local config
			},
		}

		err = invalidConfig.Validate()
		assert.Error(t, err, "Invalid configuration should fail validation")
	})

	// Test 2: Backup store factory and local store operations
	t.Run("Backup store operations", func(t *testing.T) {
		store, err := rollback.NewBackupStore(ctx, rollback.StorageConfig{
			Provider: rollback.StorageProviderLocal,
			Local: &rollback.LocalConfig{
				BasePath:    filepath.Join(tempDir, "store"),
				Permissions: 0755,
			},
		})
		require.NoError(t, err)

		path, err := store.Write(ctx, "rb_integration.snap", []byte("snapshot payload"))
		require.NoError(t, err)

		data, err := store.Read(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, []byte("snapshot payload"), data)

		err = store.Delete(ctx, path)
		require.NoError(t, err)

		_, err = store.Read(ctx, path)
		assert.True(t, rollback.IsNotFound(err), "Deleted object should be gone")
	})

	// Test 3: Snapshot round trip with compression and encryption
	t.Run("Snapshot round trip", func(t *testing.T) {
		store, err := rollback.NewLocalBackupStore(&rollback.LocalConfig{
			BasePath: filepath.Join(tempDir, "snapshots"),
		})
		require.NoError(t, err)

		snapshotter := rollback.NewSnapshotter(store, rollback.Config{
			Compression: rollback.CompressionTypeZstd,
			Encryption: rollback.EncryptionConfig{
				Enabled:    true,
				Passphrase: "integration-passphrase",
			},
		})

		rows := []rollback.Row{
			{"id": strPtr("1"), "name": strPtr("alice"), "email": strPtr("alice@example.com")},
			{"id": strPtr("2"), "name": strPtr("bob"), "email": nil},
		}

		record, err := snapshotter.Create(ctx, "rb_integration_1", "users", rows)
		require.NoError(t, err)
		assert.Equal(t, 2, record.RowCount)
		assert.NotEmpty(t, record.Checksum)

		loaded, err := snapshotter.Load(ctx, record)
		require.NoError(t, err)
		assert.Equal(t, rows, loaded, "Snapshot should survive compression and encryption")

		// Disaster recovery loads the same snapshot by file path alone.
		recovered, meta, err := snapshotter.LoadFromPath(ctx, record.Path)
		require.NoError(t, err)
		assert.Equal(t, rows, recovered)
		assert.Equal(t, record.Checksum, meta.Checksum)
	})

	// Test 4: Deterministic snapshot encoding
	t.Run("Deterministic snapshot encoding", func(t *testing.T) {
		codec := rollback.NewCodec()
		rows := []rollback.Row{
			{"b": strPtr("2"), "a": strPtr("1"), "c": nil},
		}

		first, firstSum, err := codec.Encode("users", rows)
		require.NoError(t, err)
		second, secondSum, err := codec.Encode("users", rows)
		require.NoError(t, err)

		assert.Equal(t, first, second, "Encoding must be byte reproducible")
		assert.Equal(t, firstSum, secondSum)
		assert.True(t, codec.VerifyChecksum(first, firstSum))
	})
}

// TestProtectedMigrationLifecycle runs a full migration failure and rollback
// through the manager against a mocked database
func TestProtectedMigrationLifecycle(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	dir := t.TempDir()
	cfg := &rollback.Config{
		Storage: rollback.StorageConfig{
			Provider: rollback.StorageProviderLocal,
			Local:    &rollback.LocalConfig{BasePath: filepath.Join(dir, "backups")},
		},
		RegistryPath:     filepath.Join(dir, "registry"),
		AuditLogPath:     filepath.Join(dir, "audit.log"),
		Actor:            "integration",
		FailureThreshold: rollback.DefaultFailureThreshold,
		Compression:      rollback.CompressionTypeGzip,
		DefaultKeyColumn: "id",
	}

	logger, err := logging.NewLogger(logging.Config{Level: logging.LogLevelQuiet, Output: io.Discard})
	require.NoError(t, err)

	manager, err := rollback.NewManager(context.Background(), cfg, db, logger)
	require.NoError(t, err)

	spec := &rollback.MigrationSpec{
		MigrationID: "mig-20260830-integration",
		TableName:   "users",
		KeyColumn:   "id",
		Description: "integration lifecycle",
	}

	emptyTable := func() {
		mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `users` ORDER BY `id`")).
			WillReturnRows(sqlmock.NewRows([]string{"id", "name"}))
	}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT GET_LOCK(?, 0)")).
		WithArgs("mysql_data_migrate:users").
		WillReturnRows(sqlmock.NewRows([]string{"GET_LOCK"}).AddRow(1))
	emptyTable()
	mock.ExpectExec(regexp.QuoteMeta("TRUNCATE TABLE `users`")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	emptyTable()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT RELEASE_LOCK(?)")).
		WithArgs("mysql_data_migrate:users").
		WillReturnRows(sqlmock.NewRows([]string{"RELEASE_LOCK"}).AddRow(1))

	migrationErr := errors.New("duplicate key on row 7")
	report, err := manager.RunInTransaction(context.Background(), spec, func(ctx context.Context, mctx *rollback.MigrationContext) error {
		mctx.RecordFailure()
		return migrationErr
	})
	require.ErrorIs(t, err, migrationErr)
	assert.True(t, report.RolledBack)
	assert.Equal(t, rollback.RollbackTypeFull, report.RollbackType)

	point, err := manager.Registry().Get(report.RollbackID)
	require.NoError(t, err)
	assert.Equal(t, rollback.StatusRolledBack, point.Status)
	require.NotNil(t, point.FinalizedAt)

	events, err := manager.GetAuditTrail(report.RollbackID)
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, rollback.EventRollbackPointCreated, events[0].EventType)
	assert.Equal(t, rollback.EventRollbackVerified, events[3].EventType)

	// Every event links to its predecessor and the whole chain verifies.
	for i := 1; i < len(events); i++ {
		assert.Equal(t, events[i-1].Hash, events[i].PrevHash)
	}
	assert.NoError(t, manager.VerifyAuditChain())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func strPtr(s string) *string {
	return &s
}
