package rollback

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuditLog(t *testing.T) *AuditLog {
	t.Helper()

	log, err := NewAuditLog(filepath.Join(t.TempDir(), "audit.log"))
	require.NoError(t, err)
	return log
}

func appendTestEvent(t *testing.T, log *AuditLog, eventType AuditEventType, rollbackID string) AuditEvent {
	t.Helper()

	event := AuditEvent{
		EventType:  eventType,
		RollbackID: rollbackID,
		Actor:      "tester",
		Result:     AuditResultSuccess,
	}
	require.NoError(t, log.Append(&event))
	return event
}

func TestAuditLog_AppendChainsHashes(t *testing.T) {
	log := newTestAuditLog(t)

	first := appendTestEvent(t, log, EventRollbackPointCreated, "rb_1")
	second := appendTestEvent(t, log, EventBackupCreated, "rb_1")
	third := appendTestEvent(t, log, EventRollbackExecuted, "rb_1")

	assert.Empty(t, first.PrevHash)
	assert.Equal(t, first.Hash, second.PrevHash)
	assert.Equal(t, second.Hash, third.PrevHash)
	assert.NotEmpty(t, third.Hash)
	assert.False(t, first.Timestamp.IsZero())
}

func TestAuditLog_AppendRejectsEmptyType(t *testing.T) {
	log := newTestAuditLog(t)

	err := log.Append(&AuditEvent{RollbackID: "rb_1"})
	assert.Error(t, err)
}

func TestAuditLog_Events(t *testing.T) {
	log := newTestAuditLog(t)

	appendTestEvent(t, log, EventRollbackPointCreated, "rb_1")
	appendTestEvent(t, log, EventRollbackPointCreated, "rb_2")
	appendTestEvent(t, log, EventRollbackExecuted, "rb_1")

	all, err := log.Events("")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	filtered, err := log.Events("rb_1")
	require.NoError(t, err)
	require.Len(t, filtered, 2)
	assert.Equal(t, EventRollbackPointCreated, filtered[0].EventType)
	assert.Equal(t, EventRollbackExecuted, filtered[1].EventType)
}

func TestAuditLog_VerifyChain(t *testing.T) {
	log := newTestAuditLog(t)

	assert.NoError(t, log.VerifyChain(), "empty log verifies clean")

	for _, id := range []string{"rb_1", "rb_2", "rb_3"} {
		appendTestEvent(t, log, EventRollbackPointCreated, id)
	}
	assert.NoError(t, log.VerifyChain())
}

func TestAuditLog_VerifyChainDetectsEdit(t *testing.T) {
	log := newTestAuditLog(t)
	appendTestEvent(t, log, EventRollbackPointCreated, "rb_1")
	appendTestEvent(t, log, EventRollbackExecuted, "rb_1")

	data, err := os.ReadFile(log.Path())
	require.NoError(t, err)
	tampered := strings.Replace(string(data), `"actor":"tester"`, `"actor":"mallory"`, 1)
	require.NotEqual(t, string(data), tampered)
	require.NoError(t, os.WriteFile(log.Path(), []byte(tampered), 0644))

	err = log.VerifyChain()
	require.Error(t, err)
	assert.True(t, IsIntegrityError(err))

	var rollbackErr *RollbackError
	require.ErrorAs(t, err, &rollbackErr)
	assert.Equal(t, "0", rollbackErr.Context["position"])
}

func TestAuditLog_VerifyChainDetectsRemovedEvent(t *testing.T) {
	log := newTestAuditLog(t)
	appendTestEvent(t, log, EventRollbackPointCreated, "rb_1")
	appendTestEvent(t, log, EventBackupCreated, "rb_1")
	appendTestEvent(t, log, EventRollbackExecuted, "rb_1")

	data, err := os.ReadFile(log.Path())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 3)

	// Drop the middle event.
	truncated := lines[0] + "\n" + lines[2] + "\n"
	require.NoError(t, os.WriteFile(log.Path(), []byte(truncated), 0644))

	err = log.VerifyChain()
	require.Error(t, err)
	assert.True(t, IsIntegrityError(err))
}

func TestAuditLog_VerifyChainDetectsReorder(t *testing.T) {
	log := newTestAuditLog(t)
	appendTestEvent(t, log, EventRollbackPointCreated, "rb_1")
	appendTestEvent(t, log, EventRollbackExecuted, "rb_1")

	data, err := os.ReadFile(log.Path())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 2)

	swapped := lines[1] + "\n" + lines[0] + "\n"
	require.NoError(t, os.WriteFile(log.Path(), []byte(swapped), 0644))

	err = log.VerifyChain()
	require.Error(t, err)
	assert.True(t, IsIntegrityError(err))
}

func TestAuditLog_ReopenContinuesChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")

	log, err := NewAuditLog(path)
	require.NoError(t, err)
	last := appendTestEvent(t, log, EventRollbackPointCreated, "rb_1")

	reopened, err := NewAuditLog(path)
	require.NoError(t, err)
	next := appendTestEvent(t, reopened, EventRollbackExecuted, "rb_1")

	assert.Equal(t, last.Hash, next.PrevHash)
	assert.NoError(t, reopened.VerifyChain())
}
