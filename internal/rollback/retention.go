package rollback

import (
	"context"
	"time"
)

// RetentionPolicy bounds how long backup files of finalized rollback points
// are kept. Registry metadata and audit events are never pruned; only the
// snapshots themselves are reclaimed.
type RetentionPolicy struct {
	// MaxAge is how long a finalized point's backup is retained
	MaxAge time.Duration

	// KeepMinimum is the number of most recent finalized backups that are
	// kept per table regardless of age
	KeepMinimum int
}

// DefaultRetentionPolicy keeps thirty days of backups and never drops the
// last three per table
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		MaxAge:      30 * 24 * time.Hour,
		KeepMinimum: 3,
	}
}

// PruneReport summarizes one retention pass
type PruneReport struct {
	Examined  int      `json:"examined"`
	Pruned    int      `json:"pruned"`
	PrunedIDs []string `json:"pruned_ids,omitempty"`
}

// Prune deletes backup files of finalized rollback points that fall outside
// the retention window. Pending points are never touched; their backups may
// still be needed for a rollback. The registry keeps the point documents so
// history and the audit trail stay complete.
func (m *Manager) Prune(ctx context.Context, policy RetentionPolicy) (*PruneReport, error) {
	if policy.MaxAge <= 0 {
		return nil, NewValidationError("retention max age must be positive", nil)
	}
	if policy.KeepMinimum < 0 {
		return nil, NewValidationError("retention keep minimum cannot be negative", nil)
	}

	points, err := m.registry.List("")
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-policy.MaxAge)
	report := &PruneReport{}

	// points arrive newest first, so counting per table naturally protects
	// the most recent backups
	recentPerTable := make(map[string]int)

	for _, point := range points {
		if !point.Status.IsTerminal() || point.Backup == nil {
			continue
		}
		report.Examined++

		recentPerTable[point.TableName]++
		if recentPerTable[point.TableName] <= policy.KeepMinimum {
			continue
		}

		finalized := point.CreatedAt
		if point.FinalizedAt != nil {
			finalized = *point.FinalizedAt
		}
		if finalized.After(cutoff) {
			continue
		}

		if err := m.snapshotter.Delete(ctx, point.Backup); err != nil {
			m.logger.Warnf("failed to prune backup for %s: %v", point.ID, err)
			continue
		}

		report.Pruned++
		report.PrunedIDs = append(report.PrunedIDs, point.ID)
		m.logger.WithFields(map[string]interface{}{
			"rollback_id": point.ID,
			"table":       point.TableName,
			"path":        point.Backup.Path,
		}).Info("Pruned expired backup")
	}

	return report, nil
}
