package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mysql-data-migrate/internal/config"
	"mysql-data-migrate/internal/display"
	"mysql-data-migrate/internal/rollback"
)

var (
	// Listing flags
	listMigrationID string
	listFormat      string
	listLimit       int

	// Execution flags
	executeType string

	// Prune flags
	pruneMaxAge  time.Duration
	pruneKeepMin int
)

// rollbackCmd represents the rollback command group
var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Manage rollback points",
	Long: `Inspect and operate on the rollback points recorded by previous
migration runs.

Every protected migration leaves a rollback point: a snapshot of the target
table taken before the migration, plus the state and audit history of the
run. These subcommands list points, execute rollbacks, verify restored
tables and prune expired backups.

Examples:
  # List all rollback points
  mysql-data-migrate rollback list

  # List points of a single migration
  mysql-data-migrate rollback list --migration-id mig-20240101-abcd1234

  # Roll a table back to its snapshot
  mysql-data-migrate rollback execute rb_mig-20240101-abcd1234_20240101T120000_deadbeef

  # Prove a restored table matches its snapshot
  mysql-data-migrate rollback verify rb_mig-20240101-abcd1234_20240101T120000_deadbeef

  # Show the audit trail of a rollback point
  mysql-data-migrate rollback audit rb_mig-20240101-abcd1234_20240101T120000_deadbeef`,
}

var rollbackListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rollback points",
	RunE:  runRollbackList,
}

var rollbackExecuteCmd = &cobra.Command{
	Use:   "execute <rollback-id>",
	Short: "Execute a rollback",
	Long: `Execute a rollback of the named rollback point.

The default strategy is a full restore: the table is truncated and reloaded
from the snapshot, then verified against the snapshot checksum. Use --type
to select a different strategy.

Examples:
  # Full restore from snapshot
  mysql-data-migrate rollback execute rb_..._deadbeef

  # Delete only the leftovers of the rows that failed to migrate
  mysql-data-migrate rollback execute rb_..._deadbeef --type partial

  # Restore directly from a backup file
  mysql-data-migrate rollback execute rb_..._deadbeef --type backup_restore`,
	Args: cobra.ExactArgs(1),
	RunE: runRollbackExecute,
}

var rollbackVerifyCmd = &cobra.Command{
	Use:   "verify <rollback-id>",
	Short: "Verify a restored table against its snapshot",
	Long: `Re-read the target table, re-serialize it and compare checksum and row
count against the snapshot of the named rollback point. Verification is
read-only and can be repeated at any time.`,
	Args: cobra.ExactArgs(1),
	RunE: runRollbackVerify,
}

var rollbackAuditCmd = &cobra.Command{
	Use:   "audit [rollback-id]",
	Short: "Show the audit trail",
	Long: `Show the audit events recorded for a rollback point, or the whole log
when no id is given. The hash chain is verified first; a tampered log fails
the command.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRollbackAudit,
}

var rollbackPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete expired backup files",
	Long: `Delete the backup files of finalized rollback points that fall outside
the retention window. Rollback point records and audit events are kept;
only the snapshot files are reclaimed. Pending points are never pruned.`,
	RunE: runRollbackPrune,
}

func init() {
	rootCmd.AddCommand(rollbackCmd)

	rollbackCmd.AddCommand(rollbackListCmd)
	rollbackCmd.AddCommand(rollbackExecuteCmd)
	rollbackCmd.AddCommand(rollbackVerifyCmd)
	rollbackCmd.AddCommand(rollbackAuditCmd)
	rollbackCmd.AddCommand(rollbackPruneCmd)

	rollbackListCmd.Flags().StringVar(&listMigrationID, "migration-id", "", "filter by migration id")
	rollbackListCmd.Flags().StringVar(&listFormat, "format", "table", "output format (table, json)")
	rollbackListCmd.Flags().IntVar(&listLimit, "limit", 20, "maximum number of rollback points to list")

	rollbackExecuteCmd.Flags().StringVar(&executeType, "type", "full", "rollback strategy (full, partial, backup_restore)")

	rollbackPruneCmd.Flags().DurationVar(&pruneMaxAge, "max-age", 30*24*time.Hour, "retention window for finalized backups")
	rollbackPruneCmd.Flags().IntVar(&pruneKeepMin, "keep-minimum", 3, "most recent backups kept per table regardless of age")
}

// signalContext returns a context cancelled by SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// buildManager connects to the database and wires up the rollback engine
// for a management subcommand
func buildManager() (*rollback.Manager, *config.Config, func(), error) {
	cfg, err := buildConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	if err := cfg.DB.Validate(); err != nil {
		return nil, nil, nil, newUsageError(err)
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	db, svc, err := connect(cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}

	engineCfg := cfg.EngineConfig()
	engineCfg.DryRun = false

	manager, err := rollback.NewManager(context.Background(), engineCfg, db, logger)
	if err != nil {
		svc.Close(db)
		return nil, nil, nil, err
	}

	cleanup := func() { svc.Close(db) }
	return manager, cfg, cleanup, nil
}

func runRollbackList(cmd *cobra.Command, args []string) error {
	manager, cfg, cleanup, err := buildManager()
	if err != nil {
		return err
	}
	defer cleanup()

	points, err := manager.GetHistory(listMigrationID)
	if err != nil {
		return err
	}
	if listLimit > 0 && len(points) > listLimit {
		points = points[:listLimit]
	}

	if strings.EqualFold(listFormat, "json") {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(points)
	}

	out := display.NewDisplayService(display.GetThemeByName(cfg.Theme))

	if len(points) == 0 {
		out.Info("No rollback points found.")
		return nil
	}

	headers := []string{"Rollback ID", "Migration", "Table", "Status", "Rows", "Created"}
	rows := make([][]string, len(points))
	for i, point := range points {
		rowCount := "-"
		if point.Backup != nil {
			rowCount = fmt.Sprintf("%d", point.Backup.RowCount)
		}
		rows[i] = []string{
			point.ID,
			point.MigrationID,
			point.TableName,
			string(point.Status),
			rowCount,
			point.CreatedAt.Format("2006-01-02 15:04:05"),
		}
	}

	out.PrintTable(headers, rows)
	out.Info("Total rollback points: %d", len(points))

	return nil
}

func runRollbackExecute(cmd *cobra.Command, args []string) error {
	id := args[0]

	rollbackType := rollback.RollbackType(strings.ToUpper(executeType))
	if !rollbackType.Valid() || rollbackType == rollback.RollbackTypeTransaction {
		return newUsageError(fmt.Errorf("invalid rollback type %q: must be full, partial or backup_restore", executeType))
	}

	manager, cfg, cleanup, err := buildManager()
	if err != nil {
		return err
	}
	defer cleanup()

	out := display.NewDisplayService(display.GetThemeByName(cfg.Theme))

	ctx, cancel := signalContext()
	defer cancel()

	out.Info("Executing %s rollback of %s", strings.ToLower(string(rollbackType)), id)

	result, err := manager.ExecuteRollback(ctx, id, rollbackType, nil)
	if err != nil {
		return err
	}

	switch rollbackType {
	case rollback.RollbackTypePartial:
		out.Success("Rolled back %s: %d rows deleted in %s", result.RollbackID, result.RowsDeleted, result.Duration)
	default:
		out.Success("Rolled back %s: %d rows restored in %s", result.RollbackID, result.RowsRestored, result.Duration)
	}

	if result.Verification != nil && result.Verification.Valid {
		out.Success("Verified: table matches snapshot (%d rows, checksum %s)",
			result.Verification.ActualRows, shortChecksum(result.Verification.ActualChecksum))
	}

	return nil
}

func runRollbackVerify(cmd *cobra.Command, args []string) error {
	id := args[0]

	manager, cfg, cleanup, err := buildManager()
	if err != nil {
		return err
	}
	defer cleanup()

	out := display.NewDisplayService(display.GetThemeByName(cfg.Theme))

	ctx, cancel := signalContext()
	defer cancel()

	result, err := manager.VerifyRollback(ctx, id)
	if result != nil {
		out.PrintTable(
			[]string{"Expected rows", "Actual rows", "Expected checksum", "Actual checksum"},
			[][]string{{
				fmt.Sprintf("%d", result.ExpectedRows),
				fmt.Sprintf("%d", result.ActualRows),
				shortChecksum(result.ExpectedChecksum),
				shortChecksum(result.ActualChecksum),
			}},
		)
	}
	if err != nil {
		out.Error("Verification failed")
		return err
	}

	out.Success("Table matches snapshot for %s", id)
	return nil
}

func runRollbackAudit(cmd *cobra.Command, args []string) error {
	id := ""
	if len(args) > 0 {
		id = args[0]
	}

	manager, cfg, cleanup, err := buildManager()
	if err != nil {
		return err
	}
	defer cleanup()

	out := display.NewDisplayService(display.GetThemeByName(cfg.Theme))

	if err := manager.VerifyAuditChain(); err != nil {
		out.Error("Audit chain verification failed")
		return err
	}
	out.Success("Audit chain verified")

	events, err := manager.GetAuditTrail(id)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		out.Info("No audit events found.")
		return nil
	}

	headers := []string{"Timestamp", "Event", "Rollback ID", "Actor", "Result"}
	rows := make([][]string, len(events))
	for i, event := range events {
		rows[i] = []string{
			event.Timestamp.Format(time.RFC3339),
			string(event.EventType),
			event.RollbackID,
			event.Actor,
			string(event.Result),
		}
	}
	out.PrintTable(headers, rows)

	return nil
}

func runRollbackPrune(cmd *cobra.Command, args []string) error {
	manager, cfg, cleanup, err := buildManager()
	if err != nil {
		return err
	}
	defer cleanup()

	out := display.NewDisplayService(display.GetThemeByName(cfg.Theme))

	ctx, cancel := signalContext()
	defer cancel()

	report, err := manager.Prune(ctx, rollback.RetentionPolicy{
		MaxAge:      pruneMaxAge,
		KeepMinimum: pruneKeepMin,
	})
	if err != nil {
		return err
	}

	out.Success("Pruned %d of %d finalized backups", report.Pruned, report.Examined)
	for _, prunedID := range report.PrunedIDs {
		out.Info("  %s", prunedID)
	}

	return nil
}
