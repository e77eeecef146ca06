package rollback

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditLog is an append-only JSON-lines log of rollback lifecycle events.
// Each event carries the hash of its predecessor, so rewriting, reordering
// or dropping history breaks the chain and is detectable by VerifyChain.
type AuditLog struct {
	path string

	mu       sync.Mutex
	lastHash string
}

// NewAuditLog opens (or creates) the audit log at path and seeds the chain
// from the last event already on disk.
func NewAuditLog(path string) (*AuditLog, error) {
	if path == "" {
		return nil, NewValidationError("audit log path is required", nil)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, NewStorageError("failed to create audit log directory", err)
	}

	a := &AuditLog{path: path}

	events, err := a.readAll()
	if err != nil {
		return nil, err
	}
	if len(events) > 0 {
		a.lastHash = events[len(events)-1].Hash
	}

	return a, nil
}

// Append records an event at the tail of the log. Timestamp, PrevHash and
// Hash are filled in here; callers supply the rest.
func (a *AuditLog) Append(event *AuditEvent) error {
	if event == nil {
		return NewValidationError("audit event is required", nil)
	}
	if event.EventType == "" {
		return NewValidationError("audit event type is required", nil)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	stamped := *event
	stamped.Timestamp = time.Now().UTC()
	stamped.PrevHash = a.lastHash
	stamped.Hash = ""

	hash, err := eventHash(a.lastHash, &stamped)
	if err != nil {
		return err
	}
	stamped.Hash = hash

	line, err := json.Marshal(&stamped)
	if err != nil {
		return NewSerializationError("failed to serialize audit event", err)
	}

	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return NewStorageError("failed to open audit log", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return NewStorageError("failed to append audit event", err)
	}
	if err := f.Sync(); err != nil {
		return NewStorageError("failed to sync audit log", err)
	}

	a.lastHash = stamped.Hash
	*event = stamped

	return nil
}

// Events returns the events for one rollback point in append order. An empty
// rollbackID returns the full log.
func (a *AuditLog) Events(rollbackID string) ([]AuditEvent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	all, err := a.readAll()
	if err != nil {
		return nil, err
	}

	if rollbackID == "" {
		return all, nil
	}

	filtered := make([]AuditEvent, 0, len(all))
	for _, event := range all {
		if event.RollbackID == rollbackID {
			filtered = append(filtered, event)
		}
	}

	return filtered, nil
}

// VerifyChain recomputes every hash in the log and checks each event links
// to its predecessor. Any edit, insertion or deletion surfaces as a
// DataIntegrityError naming the first broken position.
func (a *AuditLog) VerifyChain() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	events, err := a.readAll()
	if err != nil {
		return err
	}

	prevHash := ""
	for i := range events {
		event := events[i]

		if event.PrevHash != prevHash {
			return NewDataIntegrityError(
				fmt.Sprintf("audit chain broken at event %d: prev_hash mismatch", i), nil).
				WithContext("position", fmt.Sprintf("%d", i)).
				WithContext("expected_prev_hash", prevHash).
				WithContext("actual_prev_hash", event.PrevHash)
		}

		recorded := event.Hash
		event.Hash = ""
		computed, err := eventHash(prevHash, &event)
		if err != nil {
			return err
		}
		if computed != recorded {
			return NewDataIntegrityError(
				fmt.Sprintf("audit chain broken at event %d: event was modified", i), nil).
				WithContext("position", fmt.Sprintf("%d", i)).
				WithContext("expected_hash", computed).
				WithContext("actual_hash", recorded)
		}

		prevHash = recorded
	}

	return nil
}

// Path returns the location of the log file
func (a *AuditLog) Path() string {
	return a.path
}

func (a *AuditLog) readAll() ([]AuditEvent, error) {
	f, err := os.Open(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, NewStorageError("failed to open audit log", err)
	}
	defer f.Close()

	var events []AuditEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSnapshotLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var event AuditEvent
		if err := json.Unmarshal(line, &event); err != nil {
			return nil, NewSerializationError("corrupt audit log entry", err)
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, NewStorageError("failed to read audit log", err)
	}

	return events, nil
}

// eventHash computes SHA-256 over the previous hash concatenated with the
// canonical JSON of the event (Hash field emptied by the caller).
func eventHash(prevHash string, event *AuditEvent) (string, error) {
	canonical, err := json.Marshal(event)
	if err != nil {
		return "", NewSerializationError("failed to serialize audit event for hashing", err)
	}

	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write(canonical)

	return hex.EncodeToString(h.Sum(nil)), nil
}
