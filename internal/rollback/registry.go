package rollback

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// legalTransitions is the rollback point state machine. Terminal states have
// no outgoing edges except completed -> rolled_back (manual rollback of a
// finished migration).
var legalTransitions = map[RollbackStatus][]RollbackStatus{
	StatusPending:   {StatusCompleted, StatusRolledBack, StatusFailed},
	StatusCompleted: {StatusRolledBack},
}

// Registry is the authoritative record of every rollback point. Points are
// persisted as one JSON document each under the registry directory, written
// via temp-file-plus-rename, and cached in memory. The registry never deletes
// a point; retention operates on backup files only.
type Registry struct {
	dir string

	mu     sync.Mutex
	points map[string]*RollbackPoint
}

// NewRegistry opens (or initializes) a registry directory and loads all
// existing rollback points into the cache.
func NewRegistry(dir string) (*Registry, error) {
	if dir == "" {
		return nil, NewValidationError("registry directory is required", nil)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, NewStorageError("failed to create registry directory", err)
	}

	r := &Registry{
		dir:    dir,
		points: make(map[string]*RollbackPoint),
	}

	if err := r.loadAll(); err != nil {
		return nil, err
	}

	return r, nil
}

// Create persists a new rollback point. The point must be pending and its id
// must not already exist.
func (r *Registry) Create(point *RollbackPoint) error {
	if point == nil {
		return NewValidationError("rollback point is required", nil)
	}
	if err := point.Validate(); err != nil {
		return NewValidationError("invalid rollback point", err)
	}
	if point.Status != StatusPending {
		return NewValidationError(
			fmt.Sprintf("new rollback points must be pending, got %s", point.Status), nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.points[point.ID]; exists {
		return NewValidationError(fmt.Sprintf("rollback point %s already exists", point.ID), nil)
	}

	stored := point.Clone()
	if err := r.persist(stored); err != nil {
		return err
	}
	r.points[stored.ID] = stored

	return nil
}

// Get returns a copy of the rollback point with the given id
func (r *Registry) Get(id string) (*RollbackPoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	point, exists := r.points[id]
	if !exists {
		return nil, NewNotFoundError(fmt.Sprintf("rollback point %s not found", id), nil)
	}

	return point.Clone(), nil
}

// List returns rollback points, newest first, optionally filtered by
// migration id. An empty migrationID returns everything.
func (r *Registry) List(migrationID string) ([]*RollbackPoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]*RollbackPoint, 0, len(r.points))
	for _, point := range r.points {
		if migrationID != "" && point.MigrationID != migrationID {
			continue
		}
		result = append(result, point.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return result, nil
}

// Transition moves a rollback point to next along the state machine. The
// check-and-update runs under the registry lock, so it behaves as a
// compare-and-swap: of two racing transitions exactly one wins and the other
// observes an invalid transition. Illegal transitions never mutate state.
func (r *Registry) Transition(id string, next RollbackStatus) (*RollbackPoint, error) {
	if !isValidRollbackStatus(next) {
		return nil, NewValidationError(fmt.Sprintf("invalid rollback status %q", next), nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	point, exists := r.points[id]
	if !exists {
		return nil, NewNotFoundError(fmt.Sprintf("rollback point %s not found", id), nil)
	}

	if !transitionAllowed(point.Status, next) {
		return nil, NewInvalidTransitionError(
			fmt.Sprintf("rollback point %s cannot transition from %s to %s", id, point.Status, next), nil).
			WithContext("current_status", string(point.Status)).
			WithContext("requested_status", string(next))
	}

	updated := point.Clone()
	updated.Status = next
	if next.IsTerminal() {
		now := time.Now().UTC()
		updated.FinalizedAt = &now
	}

	if err := r.persist(updated); err != nil {
		return nil, err
	}
	r.points[id] = updated

	return updated.Clone(), nil
}

// AttachBackup records the backup for a pending rollback point
func (r *Registry) AttachBackup(id string, record *BackupRecord) error {
	if record == nil {
		return NewValidationError("backup record is required", nil)
	}
	if err := record.Validate(); err != nil {
		return NewValidationError("invalid backup record", err)
	}

	return r.update(id, func(point *RollbackPoint) error {
		if point.Backup != nil {
			return NewValidationError(
				fmt.Sprintf("rollback point %s already has a backup", id), nil)
		}
		b := *record
		point.Backup = &b
		return nil
	})
}

// RecordFailedRowIDs persists the leftover row ids of a failed migration,
// so a Partial rollback can be replayed later even from another process
func (r *Registry) RecordFailedRowIDs(id string, ids []string) error {
	return r.update(id, func(point *RollbackPoint) error {
		point.FailedRowIDs = append([]string(nil), ids...)
		return nil
	})
}

func (r *Registry) update(id string, mutate func(*RollbackPoint) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	point, exists := r.points[id]
	if !exists {
		return NewNotFoundError(fmt.Sprintf("rollback point %s not found", id), nil)
	}

	updated := point.Clone()
	if err := mutate(updated); err != nil {
		return err
	}

	if err := r.persist(updated); err != nil {
		return err
	}
	r.points[id] = updated

	return nil
}

// persist writes a point document atomically; callers hold r.mu
func (r *Registry) persist(point *RollbackPoint) error {
	data, err := json.MarshalIndent(point, "", "  ")
	if err != nil {
		return NewSerializationError("failed to serialize rollback point", err)
	}

	finalPath := r.pointPath(point.ID)
	tmpPath := finalPath + ".tmp"

	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return NewStorageError("failed to write rollback point document", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return NewStorageError("failed to publish rollback point document", err)
	}

	return nil
}

func (r *Registry) loadAll() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return NewStorageError("failed to read registry directory", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(r.dir, entry.Name()))
		if err != nil {
			return NewStorageError(fmt.Sprintf("failed to read rollback point document %s", entry.Name()), err)
		}

		var point RollbackPoint
		if err := json.Unmarshal(data, &point); err != nil {
			return NewSerializationError(
				fmt.Sprintf("corrupt rollback point document %s", entry.Name()), err)
		}
		if err := point.Validate(); err != nil {
			return NewValidationError(
				fmt.Sprintf("invalid rollback point document %s", entry.Name()), err)
		}

		r.points[point.ID] = &point
	}

	return nil
}

func (r *Registry) pointPath(id string) string {
	return filepath.Join(r.dir, sanitizeObjectName(id)+".json")
}

func transitionAllowed(from, to RollbackStatus) bool {
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
