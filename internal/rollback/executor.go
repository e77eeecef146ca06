package rollback

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Executor performs the mechanical part of a rollback: restoring, deleting or
// aborting. It never touches the registry or the audit log; state transitions
// and event recording belong to the Manager, so a partially failed execution
// leaves the rollback point in a state the Manager can still reason about.
type Executor struct {
	db          *sql.DB
	snapshotter *Snapshotter
}

// NewExecutor creates a rollback executor
func NewExecutor(db *sql.DB, snapshotter *Snapshotter) *Executor {
	return &Executor{
		db:          db,
		snapshotter: snapshotter,
	}
}

// Execute performs a rollback of the requested type against the given point.
// opts carries strategy-specific inputs and may be nil.
func (e *Executor) Execute(ctx context.Context, point *RollbackPoint, rollbackType RollbackType, opts *RollbackOptions) (*RollbackResult, error) {
	if point == nil {
		return nil, NewValidationError("rollback point is required", nil)
	}
	if !rollbackType.Valid() {
		return nil, NewValidationError(fmt.Sprintf("invalid rollback type %q", rollbackType), nil)
	}
	if opts == nil {
		opts = &RollbackOptions{}
	}

	start := time.Now()
	result := &RollbackResult{
		RollbackID: point.ID,
		Type:       rollbackType,
	}

	var err error
	switch rollbackType {
	case RollbackTypeFull:
		err = e.executeFull(ctx, point, result)
	case RollbackTypePartial:
		err = e.executePartial(ctx, point, opts, result)
	case RollbackTypeTransaction:
		err = e.executeTransaction(opts)
	case RollbackTypeBackupRestore:
		err = e.executeBackupRestore(ctx, point, opts, result)
	}

	result.Duration = time.Since(start)
	if err != nil {
		return result, err
	}

	return result, nil
}

// executeFull restores the entire table from the point's snapshot
func (e *Executor) executeFull(ctx context.Context, point *RollbackPoint, result *RollbackResult) error {
	if point.Backup == nil {
		return NewRollbackExecutionError(
			fmt.Sprintf("rollback point %s has no backup to restore from", point.ID), nil)
	}

	rows, err := e.snapshotter.Load(ctx, point.Backup)
	if err != nil {
		return err
	}

	return e.restoreTable(ctx, point.TableName, point.KeyColumn, rows, result)
}

// executePartial deletes only the leftovers of the failed rows, keeping every
// successfully migrated row in place. Explicitly supplied ids win over the
// ids recorded on the rollback point.
func (e *Executor) executePartial(ctx context.Context, point *RollbackPoint, opts *RollbackOptions, result *RollbackResult) error {
	ids := opts.FailedRowIDs
	if len(ids) == 0 {
		ids = point.FailedRowIDs
	}
	if len(ids) == 0 {
		return NewRollbackExecutionError(
			fmt.Sprintf("partial rollback of %s requires the failed row ids", point.ID), nil)
	}

	access, err := NewTableAccess(e.db, point.TableName, point.KeyColumn)
	if err != nil {
		return err
	}

	deleted, err := access.DeleteByIDs(ctx, ids)
	result.RowsDeleted = int64(deleted)
	if err != nil {
		return NewRollbackExecutionError(
			fmt.Sprintf("partial rollback of %s failed", point.ID), err)
	}

	return nil
}

// executeTransaction aborts the still-open migration transaction
func (e *Executor) executeTransaction(opts *RollbackOptions) error {
	if opts.Tx == nil {
		return NewRollbackExecutionError(
			"transaction rollback requires an open transaction", nil)
	}

	if err := opts.Tx.Rollback(); err != nil {
		return NewRollbackExecutionError("failed to roll back transaction", err)
	}

	return nil
}

// executeBackupRestore restores directly from a snapshot file, using the
// sidecar metadata next to it. Used for disaster recovery when registry
// state is unavailable or a specific backup must be replayed.
func (e *Executor) executeBackupRestore(ctx context.Context, point *RollbackPoint, opts *RollbackOptions, result *RollbackResult) error {
	backupPath := opts.BackupPath
	if backupPath == "" && point.Backup != nil {
		backupPath = point.Backup.Path
	}
	if backupPath == "" {
		return NewRollbackExecutionError("backup restore requires a backup path", nil)
	}

	rows, _, err := e.snapshotter.LoadFromPath(ctx, backupPath)
	if err != nil {
		return err
	}

	tableName := opts.TableName
	if tableName == "" {
		tableName = point.TableName
	}

	return e.restoreTable(ctx, tableName, point.KeyColumn, rows, result)
}

func (e *Executor) restoreTable(ctx context.Context, tableName, keyColumn string, rows []Row, result *RollbackResult) error {
	access, err := NewTableAccess(e.db, tableName, keyColumn)
	if err != nil {
		return err
	}

	if err := access.Truncate(ctx); err != nil {
		return NewRollbackExecutionError(
			fmt.Sprintf("failed to clear table %s before restore", tableName), err)
	}

	if err := access.InsertRows(ctx, rows); err != nil {
		return NewRollbackExecutionError(
			fmt.Sprintf("failed to restore table %s from snapshot", tableName), err)
	}

	result.RowsRestored = len(rows)
	return nil
}
