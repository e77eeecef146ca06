package rollback

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"mysql-data-migrate/internal/logging"
)

// MigrationReport summarizes one protected migration run
type MigrationReport struct {
	RollbackID   string        `json:"rollback_id"`
	MigrationID  string        `json:"migration_id"`
	TableName    string        `json:"table_name"`
	Succeeded    int           `json:"succeeded"`
	Failed       int           `json:"failed"`
	RolledBack   bool          `json:"rolled_back"`
	RollbackType RollbackType  `json:"rollback_type,omitempty"`
	DryRun       bool          `json:"dry_run"`
	Duration     time.Duration `json:"duration"`
}

// Manager is the orchestration facade of the rollback engine. It owns the
// registry, the audit log, snapshot capture and rollback execution, and is
// the only component that moves rollback points through the state machine
// or writes audit events.
type Manager struct {
	cfg         *Config
	db          *sql.DB
	logger      *logging.Logger
	store       BackupStore
	snapshotter *Snapshotter
	registry    *Registry
	audit       *AuditLog
	executor    *Executor
	verifier    *Verifier
	locks       *tableLocks
	advisory    *AdvisoryLocker
}

// NewManager wires up a rollback engine from configuration
func NewManager(ctx context.Context, cfg *Config, db *sql.DB, logger *logging.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, NewValidationError("configuration is required", nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if db == nil {
		return nil, NewValidationError("database handle is required", nil)
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	store, err := NewBackupStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	registry, err := NewRegistry(cfg.RegistryPath)
	if err != nil {
		return nil, err
	}

	audit, err := NewAuditLog(cfg.AuditLogPath)
	if err != nil {
		return nil, err
	}

	snapshotter := NewSnapshotter(store, *cfg)

	return &Manager{
		cfg:         cfg,
		db:          db,
		logger:      logger,
		store:       store,
		snapshotter: snapshotter,
		registry:    registry,
		audit:       audit,
		executor:    NewExecutor(db, snapshotter),
		verifier:    NewVerifier(db),
		locks:       newTableLocks(),
		advisory:    NewAdvisoryLocker(db),
	}, nil
}

// Registry exposes the rollback point registry for read operations
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Snapshotter exposes the snapshot layer, used by retention pruning
func (m *Manager) Snapshotter() *Snapshotter {
	return m.snapshotter
}

// CreateRollbackPoint snapshots the table and records a pending rollback
// point for it. The snapshot is taken before anything else touches the
// table, so a later Full rollback restores exactly this state.
func (m *Manager) CreateRollbackPoint(ctx context.Context, spec *MigrationSpec) (*RollbackPoint, error) {
	if spec == nil {
		return nil, NewValidationError("migration spec is required", nil)
	}
	if spec.KeyColumn == "" {
		spec.KeyColumn = m.cfg.DefaultKeyColumn
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	point := NewRollbackPoint(spec.MigrationID, spec.TableName, spec.KeyColumn, spec.Description)

	access, err := NewTableAccess(m.db, point.TableName, point.KeyColumn)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := access.ReadRows(ctx)
	if err != nil {
		return nil, err
	}

	record, err := m.snapshotter.Create(ctx, point.ID, point.TableName, rows)
	if err != nil {
		return nil, err
	}
	point.Backup = record

	if err := m.registry.Create(point); err != nil {
		return nil, err
	}

	if err := m.appendAudit(EventRollbackPointCreated, point.ID, AuditResultSuccess, map[string]interface{}{
		"migration_id": point.MigrationID,
		"table":        point.TableName,
	}); err != nil {
		return nil, err
	}
	if err := m.appendAudit(EventBackupCreated, point.ID, AuditResultSuccess, map[string]interface{}{
		"path":      record.Path,
		"checksum":  record.Checksum,
		"row_count": record.RowCount,
		"byte_size": record.ByteSize,
	}); err != nil {
		return nil, err
	}

	m.logger.LogBackupCreated(point.ID, point.TableName, record.Path, record.RowCount, record.ByteSize, time.Since(start))

	return point.Clone(), nil
}

// RunInTransaction runs a migration under rollback protection. The table is
// locked, snapshotted and registered before fn runs; afterwards the rollback
// point is finalized exactly once. Any failure, including a panic inside fn
// or cancellation of ctx, triggers an automatic rollback and the point ends
// rolled_back (or failed, when the rollback itself fails). Panics are
// re-raised after finalization.
//
// In dry-run mode nothing is executed and nothing is persisted; the report
// describes what a production run would protect.
func (m *Manager) RunInTransaction(ctx context.Context, spec *MigrationSpec, fn MigrationFunc) (*MigrationReport, error) {
	if spec == nil {
		return nil, NewValidationError("migration spec is required", nil)
	}
	if fn == nil {
		return nil, NewValidationError("migration function is required", nil)
	}
	if spec.KeyColumn == "" {
		spec.KeyColumn = m.cfg.DefaultKeyColumn
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	if m.cfg.DryRun {
		return m.dryRunReport(ctx, spec)
	}

	if err := m.locks.acquire(spec.TableName); err != nil {
		return nil, err
	}
	defer m.locks.release(spec.TableName)

	releaseAdvisory, err := m.advisory.Acquire(ctx, spec.TableName)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := releaseAdvisory(); err != nil {
			m.logger.Warnf("failed to release advisory lock for table %s: %v", spec.TableName, err)
		}
	}()

	start := time.Now()

	point, err := m.CreateRollbackPoint(ctx, spec)
	if err != nil {
		return nil, err
	}

	mctx := NewMigrationContext(point.ID)

	var panicValue interface{}
	panicked := false

	runErr := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				panicked = true
				panicValue = r
				err = NewRollbackExecutionError(fmt.Sprintf("migration panicked: %v", r), nil)
			}
		}()
		return fn(ctx, mctx)
	}()

	// Cancellation counts as failure even when fn swallowed it
	if runErr == nil && ctx.Err() != nil {
		runErr = NewDatabaseError("migration cancelled", ctx.Err())
	}

	report := &MigrationReport{
		RollbackID:  point.ID,
		MigrationID: point.MigrationID,
		TableName:   point.TableName,
		Succeeded:   mctx.Succeeded(),
		Failed:      mctx.Failed(),
	}

	if runErr == nil {
		if _, err := m.registry.Transition(point.ID, StatusCompleted); err != nil {
			return nil, err
		}
		report.Duration = time.Since(start)
		m.logger.LogMigrationRun(point.ID, point.TableName, report.Succeeded, report.Failed, report.Duration, nil)
		return report, nil
	}

	// Failure path: persist what the run learned, then roll back
	if ids := mctx.FailureArtifacts(); len(ids) > 0 {
		if err := m.registry.RecordFailedRowIDs(point.ID, ids); err != nil {
			m.logger.Warnf("failed to record failed row ids for %s: %v", point.ID, err)
		}
	}

	rollbackType := chooseRollbackType(mctx, m.cfg.FailureThreshold)
	opts := &RollbackOptions{
		FailedRowIDs: mctx.FailureArtifacts(),
		Tx:           mctx.boundTx(),
	}

	report.RolledBack = true
	report.RollbackType = rollbackType

	// The rollback must run even when the migration failed because ctx was
	// cancelled, so it gets a context detached from cancellation.
	if _, rbErr := m.rollbackLocked(context.WithoutCancel(ctx), point, rollbackType, opts); rbErr != nil {
		report.Duration = time.Since(start)
		m.logger.LogMigrationRun(point.ID, point.TableName, report.Succeeded, report.Failed, report.Duration, runErr)
		return report, NewRollbackExecutionError(
			fmt.Sprintf("migration failed and rollback of %s also failed", point.ID), rbErr).
			WithContext("migration_error", runErr.Error())
	}

	report.Duration = time.Since(start)
	m.logger.LogMigrationRun(point.ID, point.TableName, report.Succeeded, report.Failed, report.Duration, runErr)

	if panicked {
		panic(panicValue)
	}

	return report, runErr
}

// ExecuteRollback manually rolls back a recorded point. An empty rollback
// type defaults to Full. The target table is locked for the duration.
func (m *Manager) ExecuteRollback(ctx context.Context, rollbackID string, rollbackType RollbackType, opts *RollbackOptions) (*RollbackResult, error) {
	if rollbackType == "" {
		rollbackType = RollbackTypeFull
	}
	if !rollbackType.Valid() {
		return nil, NewValidationError(fmt.Sprintf("invalid rollback type %q", rollbackType), nil)
	}

	point, err := m.registry.Get(rollbackID)
	if err != nil {
		return nil, err
	}

	if !transitionAllowed(point.Status, StatusRolledBack) {
		return nil, NewInvalidTransitionError(
			fmt.Sprintf("rollback point %s is %s and cannot be rolled back", rollbackID, point.Status), nil)
	}

	tableName := point.TableName
	if opts != nil && opts.TableName != "" {
		tableName = opts.TableName
	}

	if err := m.locks.acquire(tableName); err != nil {
		return nil, err
	}
	defer m.locks.release(tableName)

	releaseAdvisory, err := m.advisory.Acquire(ctx, tableName)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := releaseAdvisory(); err != nil {
			m.logger.Warnf("failed to release advisory lock for table %s: %v", tableName, err)
		}
	}()

	return m.rollbackLocked(ctx, point, rollbackType, opts)
}

// rollbackLocked executes a rollback, finalizes the point and records audit
// events. Callers hold both the process-local and the advisory table lock.
func (m *Manager) rollbackLocked(ctx context.Context, point *RollbackPoint, rollbackType RollbackType, opts *RollbackOptions) (*RollbackResult, error) {
	result, execErr := m.executor.Execute(ctx, point, rollbackType, opts)

	if execErr != nil {
		m.logger.LogRollbackExecution(point.ID, string(rollbackType), result.Duration, false, execErr)

		// A pending point moves to failed; a completed one has no failed
		// edge and keeps its status.
		if transitionAllowed(point.Status, StatusFailed) {
			if _, err := m.registry.Transition(point.ID, StatusFailed); err != nil {
				m.logger.Warnf("failed to mark rollback point %s failed: %v", point.ID, err)
			}
		}
		if err := m.appendAudit(EventRollbackFailed, point.ID, AuditResultFailure, map[string]interface{}{
			"rollback_type": string(rollbackType),
			"error":         execErr.Error(),
		}); err != nil {
			m.logger.Warnf("failed to record audit event for %s: %v", point.ID, err)
		}
		return result, execErr
	}

	if _, err := m.registry.Transition(point.ID, StatusRolledBack); err != nil {
		return result, err
	}

	// Audit append failures after this point are logged, not returned: the
	// rollback itself succeeded and is already finalized, and reporting it as
	// failed would send an operator chasing a restore that worked.
	if err := m.appendAudit(EventRollbackExecuted, point.ID, AuditResultSuccess, map[string]interface{}{
		"rollback_type": string(rollbackType),
		"rows_restored": result.RowsRestored,
		"rows_deleted":  result.RowsDeleted,
	}); err != nil {
		m.logger.Warnf("failed to record audit event for %s: %v", point.ID, err)
	}

	m.logger.LogRollbackExecution(point.ID, string(rollbackType), result.Duration, true, nil)

	// Only restores can be proven against the snapshot; Partial and
	// Transaction rollbacks leave other rows the snapshot never promised.
	if rollbackType == RollbackTypeFull || rollbackType == RollbackTypeBackupRestore {
		tableName := point.TableName
		if opts != nil && opts.TableName != "" {
			tableName = opts.TableName
		}

		verification, verifyErr := m.verifier.Verify(ctx, point, tableName)
		result.Verification = verification

		if verifyErr != nil {
			if auditErr := m.appendAudit(EventRollbackFailed, point.ID, AuditResultFailure, map[string]interface{}{
				"stage": "verification",
				"error": verifyErr.Error(),
			}); auditErr != nil {
				m.logger.Warnf("failed to record audit event for %s: %v", point.ID, auditErr)
			}
			return result, verifyErr
		}

		if err := m.appendAudit(EventRollbackVerified, point.ID, AuditResultSuccess, map[string]interface{}{
			"checksum":  verification.ActualChecksum,
			"row_count": verification.ActualRows,
		}); err != nil {
			m.logger.Warnf("failed to record audit event for %s: %v", point.ID, err)
		}
	}

	return result, nil
}

// VerifyRollback re-checks a restored table against its snapshot. It is
// idempotent and records nothing; repeated manual verification must not
// grow the audit trail.
func (m *Manager) VerifyRollback(ctx context.Context, rollbackID string) (*VerificationResult, error) {
	point, err := m.registry.Get(rollbackID)
	if err != nil {
		return nil, err
	}

	return m.verifier.Verify(ctx, point, point.TableName)
}

// GetHistory lists rollback points, newest first, optionally scoped to a
// migration id
func (m *Manager) GetHistory(migrationID string) ([]*RollbackPoint, error) {
	return m.registry.List(migrationID)
}

// GetAuditTrail returns the audit events recorded for one rollback point
func (m *Manager) GetAuditTrail(rollbackID string) ([]AuditEvent, error) {
	return m.audit.Events(rollbackID)
}

// VerifyAuditChain checks the whole audit log for tampering
func (m *Manager) VerifyAuditChain() error {
	return m.audit.VerifyChain()
}

func (m *Manager) appendAudit(eventType AuditEventType, rollbackID string, result AuditResult, details map[string]interface{}) error {
	return m.audit.Append(&AuditEvent{
		EventType:  eventType,
		RollbackID: rollbackID,
		Actor:      m.cfg.Actor,
		Details:    details,
		Result:     result,
	})
}

// dryRunReport describes what a production run would do without touching
// the table, the backup store, the registry or the audit log
func (m *Manager) dryRunReport(ctx context.Context, spec *MigrationSpec) (*MigrationReport, error) {
	access, err := NewTableAccess(m.db, spec.TableName, spec.KeyColumn)
	if err != nil {
		return nil, err
	}

	count, err := access.Count(ctx)
	if err != nil {
		return nil, err
	}

	m.logger.WithFields(map[string]interface{}{
		"migration_id": spec.MigrationID,
		"table":        spec.TableName,
		"current_rows": count,
	}).Info("Dry run: would snapshot table and run migration under rollback protection")

	return &MigrationReport{
		MigrationID: spec.MigrationID,
		TableName:   spec.TableName,
		DryRun:      true,
	}, nil
}
