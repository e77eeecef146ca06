package rollback

import (
	"context"
	"database/sql"
	"sync"
)

// MigrationFunc is the body of a migration run. It reports success by
// returning nil; any error (or panic, or context cancellation) marks the
// migration failed and triggers an automatic rollback.
type MigrationFunc func(ctx context.Context, mctx *MigrationContext) error

// MigrationContext is handed to a running migration so it can report per-row
// outcomes and optionally bind an open transaction. The recorded counters
// drive strategy selection when the run fails: a low failure rate with the
// failed rows' leftovers captured rolls back by deleting just those rows and
// keeping the successes, anything else restores the whole table from the
// snapshot.
type MigrationContext struct {
	rollbackID string

	mu          sync.Mutex
	succeeded   int
	failed      int
	artifactIDs []string
	tx          *sql.Tx
}

// NewMigrationContext creates a standalone migration context. Manager-run
// migrations get one automatically; unprotected runs construct their own.
func NewMigrationContext(rollbackID string) *MigrationContext {
	return &MigrationContext{rollbackID: rollbackID}
}

// RollbackID returns the rollback point protecting this run
func (m *MigrationContext) RollbackID() string {
	return m.rollbackID
}

// RecordSuccess counts one row that migrated cleanly
func (m *MigrationContext) RecordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.succeeded++
}

// RecordFailure counts one row that failed to migrate
func (m *MigrationContext) RecordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed++
}

// RecordFailureArtifact captures the key value of a row a failed migration
// step left behind, for example a row that was inserted and then rejected by
// a later check. Partial rollback deletes exactly these rows and keeps the
// successfully migrated ones.
func (m *MigrationContext) RecordFailureArtifact(keyValue string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifactIDs = append(m.artifactIDs, keyValue)
}

// BindTx attaches an open transaction to the run. When the migration fails
// with a transaction still bound, rollback is a plain tx.Rollback instead of
// a restore.
func (m *MigrationContext) BindTx(tx *sql.Tx) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tx = tx
}

// UnbindTx detaches the transaction, typically after the migration commits it
func (m *MigrationContext) UnbindTx() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tx = nil
}

// Attempted returns the total number of rows the migration tried
func (m *MigrationContext) Attempted() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.succeeded + m.failed
}

// Succeeded returns the count of rows that migrated cleanly
func (m *MigrationContext) Succeeded() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.succeeded
}

// Failed returns the count of rows that failed
func (m *MigrationContext) Failed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failed
}

// FailureRate returns failed/attempted, or 0 when nothing was attempted
func (m *MigrationContext) FailureRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	attempted := m.succeeded + m.failed
	if attempted == 0 {
		return 0
	}
	return float64(m.failed) / float64(attempted)
}

// FailureArtifacts returns a copy of the captured leftover row ids
func (m *MigrationContext) FailureArtifacts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.artifactIDs...)
}

func (m *MigrationContext) boundTx() *sql.Tx {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx
}

// chooseRollbackType picks the cheapest safe strategy for a failed run.
// A still-open bound transaction needs only a transaction rollback. A mostly
// successful run that captured the leftovers of its failed rows is unwound by
// deleting those rows, preserving every success. Everything else restores the
// full table from the snapshot.
func chooseRollbackType(mctx *MigrationContext, failureThreshold float64) RollbackType {
	if mctx.boundTx() != nil {
		return RollbackTypeTransaction
	}

	attempted := mctx.Attempted()
	ids := mctx.FailureArtifacts()
	if attempted > 0 && mctx.FailureRate() <= failureThreshold && len(ids) > 0 {
		return RollbackTypePartial
	}

	return RollbackTypeFull
}
