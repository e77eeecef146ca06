package cmd

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"mysql-data-migrate/internal/config"
	"mysql-data-migrate/internal/database"
	"mysql-data-migrate/internal/display"
	"mysql-data-migrate/internal/logging"
	"mysql-data-migrate/internal/migration"
	"mysql-data-migrate/internal/rollback"
)

// Exit codes of the CLI
const (
	ExitSuccess = 0
	ExitFailure = 1
	ExitUsage   = 2
)

var cfgFile string

// CLI flag variables
var (
	// Database flags
	dbHost     string
	dbPort     int
	dbUsername string
	dbPassword string
	dbName     string

	// Migration flags
	inputFile   string
	tableName   string
	keyColumn   string
	migrationID string
	description string

	// Mode flags
	production bool
	noRollback bool
	rollbackID string
	threshold  float64

	// Engine flags
	registryDir string
	auditLog    string
	backupDir   string
	actor       string
	compression string

	// Output flags
	verbose bool
	quiet   bool
	logFile string
	noColor bool
	theme   string
)

// usageError marks errors caused by an invalid invocation rather than a
// failed operation; Execute maps them to exit code 2
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func newUsageError(err error) error {
	if err == nil {
		return nil
	}
	return &usageError{err: err}
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mysql-data-migrate",
	Short: "Run bulk MySQL data migrations with automatic rollback protection",
	Long: `MySQL Data Migrate loads newline-delimited JSON rows into a MySQL table
under rollback protection. Before any row is written the target table is
snapshotted to a verifiable backup; if the run fails, the table is restored
automatically and every step is recorded in a tamper-evident audit trail.

Runs are dry-run by default: nothing is executed until --production is given.

Examples:
  # Preview a migration without touching anything
  mysql-data-migrate --db-host=localhost --db-user=root --db-name=app \
                     --table=users --input=rows.ndjson

  # Execute the migration for real
  mysql-data-migrate --config=migrate.yaml --table=users --input=rows.ndjson --production

  # Roll back a previous migration by its rollback point id
  mysql-data-migrate --config=migrate.yaml --rollback rb_mig-20240101-abc_20240101T120000_deadbeef --production

  # Run without rollback protection (not recommended)
  mysql-data-migrate --config=migrate.yaml --table=users --input=rows.ndjson --production --no-rollback`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runMigrate,
}

// Execute runs the root command and maps the outcome to the process exit
// code: 0 on success, 2 for invalid invocations, 1 for failed operations.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "Error:", err)

	var usage *usageError
	if errors.As(err, &usage) || rollback.IsNotFound(err) {
		os.Exit(ExitUsage)
	}
	os.Exit(ExitFailure)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.mysql-data-migrate.yaml)")

	// Database flags
	rootCmd.PersistentFlags().StringVar(&dbHost, "db-host", "", "database host")
	rootCmd.PersistentFlags().IntVar(&dbPort, "db-port", 3306, "database port")
	rootCmd.PersistentFlags().StringVar(&dbUsername, "db-user", "", "database username")
	rootCmd.PersistentFlags().StringVar(&dbPassword, "db-password", "", "database password")
	rootCmd.PersistentFlags().StringVar(&dbName, "db-name", "", "database name")

	// Migration flags
	rootCmd.Flags().StringVarP(&inputFile, "input", "i", "", "NDJSON input file (default stdin)")
	rootCmd.Flags().StringVarP(&tableName, "table", "t", "", "target table name")
	rootCmd.Flags().StringVar(&keyColumn, "key-column", "id", "primary key column used for ordering and partial rollback")
	rootCmd.Flags().StringVar(&migrationID, "migration-id", "", "migration identifier (generated when empty)")
	rootCmd.Flags().StringVar(&description, "description", "", "human-readable description of the migration")

	// Mode flags
	rootCmd.Flags().BoolVar(&production, "production", false, "execute for real; without this flag the run is a dry run")
	rootCmd.Flags().BoolVar(&noRollback, "no-rollback", false, "run without snapshot or rollback protection")
	rootCmd.Flags().StringVar(&rollbackID, "rollback", "", "roll back the migration recorded under this rollback point id")
	rootCmd.Flags().Float64Var(&threshold, "threshold", rollback.DefaultFailureThreshold, "failure rate above which a full restore replaces a partial rollback")

	// Engine flags
	rootCmd.PersistentFlags().StringVar(&registryDir, "registry-dir", "", "directory holding rollback point records")
	rootCmd.PersistentFlags().StringVar(&auditLog, "audit-log", "", "path of the append-only audit log")
	rootCmd.PersistentFlags().StringVar(&backupDir, "backup-dir", "", "directory for local snapshot storage")
	rootCmd.PersistentFlags().StringVar(&actor, "actor", "", "actor recorded in the audit trail (default current user)")
	rootCmd.PersistentFlags().StringVar(&compression, "compression", "gzip", "snapshot compression (none, gzip, lz4, zstd)")

	// Output flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to file instead of stdout")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable color output")
	rootCmd.PersistentFlags().StringVar(&theme, "theme", "dark", "color theme (dark, plain)")

	viper.BindPFlag("db.host", rootCmd.PersistentFlags().Lookup("db-host"))
	viper.BindPFlag("db.port", rootCmd.PersistentFlags().Lookup("db-port"))
	viper.BindPFlag("db.username", rootCmd.PersistentFlags().Lookup("db-user"))
	viper.BindPFlag("db.password", rootCmd.PersistentFlags().Lookup("db-password"))
	viper.BindPFlag("db.database", rootCmd.PersistentFlags().Lookup("db-name"))

	viper.BindPFlag("input", rootCmd.Flags().Lookup("input"))
	viper.BindPFlag("table", rootCmd.Flags().Lookup("table"))
	viper.BindPFlag("key_column", rootCmd.Flags().Lookup("key-column"))
	viper.BindPFlag("migration_id", rootCmd.Flags().Lookup("migration-id"))
	viper.BindPFlag("description", rootCmd.Flags().Lookup("description"))

	viper.BindPFlag("production", rootCmd.Flags().Lookup("production"))
	viper.BindPFlag("no_rollback", rootCmd.Flags().Lookup("no-rollback"))
	viper.BindPFlag("failure_threshold", rootCmd.Flags().Lookup("threshold"))

	viper.BindPFlag("registry_dir", rootCmd.PersistentFlags().Lookup("registry-dir"))
	viper.BindPFlag("audit_log", rootCmd.PersistentFlags().Lookup("audit-log"))
	viper.BindPFlag("storage.local.base_path", rootCmd.PersistentFlags().Lookup("backup-dir"))
	viper.BindPFlag("actor", rootCmd.PersistentFlags().Lookup("actor"))
	viper.BindPFlag("compression", rootCmd.PersistentFlags().Lookup("compression"))

	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	viper.BindPFlag("log_file", rootCmd.PersistentFlags().Lookup("log-file"))
	viper.BindPFlag("theme", rootCmd.PersistentFlags().Lookup("theme"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".mysql-data-migrate")
	}

	viper.SetEnvPrefix("MYSQL_DATA_MIGRATE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// buildConfig assembles the application configuration from config file,
// environment and flags
func buildConfig() (*config.Config, error) {
	cfg := &config.Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, newUsageError(fmt.Errorf("failed to unmarshal configuration: %w", err))
	}

	cfg.SetDefaults()

	if cfg.Actor == "" {
		cfg.Actor = currentUser()
	}
	if noColor {
		cfg.Theme = "plain"
	}

	return cfg, nil
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unknown"
}

func buildLogger(cfg *config.Config) (*logging.Logger, error) {
	level := logging.LogLevelNormal
	if cfg.Verbose {
		level = logging.LogLevelVerbose
	}
	if cfg.Quiet {
		level = logging.LogLevelQuiet
	}

	return logging.NewLogger(logging.Config{
		Level:   level,
		Output:  os.Stderr,
		Format:  "text",
		LogFile: cfg.LogFile,
	})
}

func connect(cfg *config.Config, logger *logging.Logger) (*sql.DB, *database.Service, error) {
	svc := database.NewServiceWithLogger(logger)
	db, err := svc.Connect(cfg.DB)
	if err != nil {
		return nil, nil, err
	}
	return db, svc, nil
}

// runMigrate is the root command: load NDJSON rows under rollback protection,
// or execute a rollback when --rollback is given
func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig()
	if err != nil {
		return err
	}

	out := display.NewDisplayService(display.GetThemeByName(cfg.Theme))

	// A rollback invocation needs no input or table flags
	if rollbackID != "" {
		if err := cfg.DB.Validate(); err != nil {
			return newUsageError(err)
		}
		return runRollbackByID(cfg, out, rollbackID)
	}

	if err := cfg.Validate(); err != nil {
		return newUsageError(err)
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		return err
	}

	db, svc, err := connect(cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close(db)

	ctx, cancel := signalContext()
	defer cancel()

	if cfg.MigrationID == "" {
		cfg.MigrationID = rollback.GenerateMigrationID()
	}

	if !cfg.Production {
		return runDryRun(ctx, cfg, db, out)
	}

	input, closeInput, err := openInput(cfg.InputFile)
	if err != nil {
		return newUsageError(err)
	}
	defer closeInput()

	loader, err := migration.NewLoader(db, cfg.Table, cfg.KeyColumn, logger)
	if err != nil {
		return err
	}

	if cfg.NoRollback {
		out.Warning("Running without rollback protection")
		mctx := rollback.NewMigrationContext("")
		runErr := loader.Run(ctx, mctx, input)
		printRunSummary(out, mctx.Succeeded(), mctx.Failed(), runErr)
		return runErr
	}

	manager, err := rollback.NewManager(ctx, cfg.EngineConfig(), db, logger)
	if err != nil {
		return err
	}

	spec := &rollback.MigrationSpec{
		MigrationID: cfg.MigrationID,
		TableName:   cfg.Table,
		KeyColumn:   cfg.KeyColumn,
		Description: cfg.Description,
	}

	report, runErr := manager.RunInTransaction(ctx, spec, func(ctx context.Context, mctx *rollback.MigrationContext) error {
		return loader.Run(ctx, mctx, input)
	})

	if report != nil {
		printRunSummary(out, report.Succeeded, report.Failed, runErr)
		if report.RolledBack {
			out.Warning("Rolled back using %s strategy (rollback point %s)", report.RollbackType, report.RollbackID)
		} else if runErr == nil {
			out.Info("Rollback point: %s", report.RollbackID)
		}
	}

	return runErr
}

// runDryRun previews the migration: parse the input, count the table, write
// nothing
func runDryRun(ctx context.Context, cfg *config.Config, db *sql.DB, out *display.DisplayService) error {
	input, closeInput, err := openInput(cfg.InputFile)
	if err != nil {
		return newUsageError(err)
	}
	defer closeInput()

	rows, invalid := countInputRows(input)

	access, err := rollback.NewTableAccess(db, cfg.Table, cfg.KeyColumn)
	if err != nil {
		return err
	}
	current, err := access.Count(ctx)
	if err != nil {
		return err
	}

	out.PrintHeader("Dry run")
	out.PrintTable(
		[]string{"Migration", "Table", "Current rows", "Input rows", "Invalid lines"},
		[][]string{{
			cfg.MigrationID,
			cfg.Table,
			fmt.Sprintf("%d", current),
			fmt.Sprintf("%d", rows),
			fmt.Sprintf("%d", invalid),
		}},
	)
	out.Info("No changes made. Re-run with --production to execute.")

	if invalid > 0 {
		out.Warning("%d input lines are not valid JSON objects", invalid)
	}

	return nil
}

func countInputRows(input io.Reader) (valid, invalid int) {
	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if line[0] == '{' {
			valid++
		} else {
			invalid++
		}
	}
	return valid, invalid
}

// runRollbackByID executes a manual rollback of the named point
func runRollbackByID(cfg *config.Config, out *display.DisplayService, id string) error {
	logger, err := buildLogger(cfg)
	if err != nil {
		return err
	}

	db, svc, err := connect(cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close(db)

	ctx, cancel := signalContext()
	defer cancel()

	engineCfg := cfg.EngineConfig()
	engineCfg.DryRun = false

	manager, err := rollback.NewManager(ctx, engineCfg, db, logger)
	if err != nil {
		return err
	}

	if !cfg.Production {
		point, err := manager.Registry().Get(id)
		if err != nil {
			return err
		}
		out.PrintHeader("Dry run")
		out.Info("Would roll back point %s (migration %s, table %s, status %s)",
			point.ID, point.MigrationID, point.TableName, point.Status)
		out.Info("No changes made. Re-run with --production to execute.")
		return nil
	}

	result, err := manager.ExecuteRollback(ctx, id, rollback.RollbackTypeFull, nil)
	if err != nil {
		return err
	}

	out.Success("Rolled back %s: %d rows restored in %s", result.RollbackID, result.RowsRestored, result.Duration)
	if result.Verification != nil && result.Verification.Valid {
		out.Success("Verified: table matches snapshot (%d rows, checksum %s)",
			result.Verification.ActualRows, shortChecksum(result.Verification.ActualChecksum))
	}

	return nil
}

func printRunSummary(out *display.DisplayService, succeeded, failed int, err error) {
	if err != nil {
		out.Error("Migration failed: %d succeeded, %d failed", succeeded, failed)
		return
	}
	out.Success("Migration completed: %d rows migrated", succeeded)
}

func openInput(path string) (io.Reader, func() error, error) {
	if path == "" || path == "-" {
		return os.Stdin, func() error { return nil }, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot open input file: %w", err)
	}
	return f, f.Close, nil
}

func shortChecksum(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}

// Version information (set by main package)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
	goVersion = "unknown"
)

// SetVersionInfo sets the version information from build flags
func SetVersionInfo(v, bt, gc, gv string) {
	version = v
	buildTime = bt
	gitCommit = gc
	goVersion = gv
}

// createVersionCommand creates the version subcommand
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mysql-data-migrate version %s\n", version)
			fmt.Printf("Built: %s\n", buildTime)
			fmt.Printf("Commit: %s\n", gitCommit)
			fmt.Printf("Go version: %s\n", goVersion)
		},
	}
}

// createConfigCommand creates the config subcommand for generating sample config
func createConfigCommand() *cobra.Command {
	var effective bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Generate a sample configuration file",
		Long: `Generate a sample configuration file that can be used with the --config flag.

With --effective, print the resolved configuration after config file, environment
and defaults have been applied, instead of the annotated sample.

Examples:
  mysql-data-migrate config > .mysql-data-migrate.yaml
  mysql-data-migrate config --effective`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if effective {
				cfg, err := buildConfig()
				if err != nil {
					return err
				}
				cfg.DB.Password = "" // never echo secrets
				cfg.Encryption.Passphrase = ""

				data, err := yaml.Marshal(cfg)
				if err != nil {
					return fmt.Errorf("failed to render configuration: %w", err)
				}
				fmt.Print(string(data))
				return nil
			}

			sampleConfig := `# MySQL Data Migrate Configuration File

# Database connection
db:
  host: localhost          # Database hostname or IP
  port: 3306               # Database port
  username: root           # Database username
  password: ""             # Database password (use env var for security)
  database: app            # Database name
  timeout: 30s             # Connection timeout

# Migration defaults
table: ""                  # Target table
key_column: id             # Primary key column
failure_threshold: 0.10    # Failure rate above which rollback escalates to full restore

# Rollback engine
registry_dir: .migrate/registry   # Rollback point records
audit_log: .migrate/audit.log     # Tamper-evident audit trail
actor: ""                         # Actor recorded in audit events (default current user)
compression: gzip                 # Snapshot compression: none, gzip, lz4, zstd
compression_level: 0              # Algorithm-specific level (0 = default)

# Snapshot storage: local, s3, azure or gcs
storage:
  provider: LOCAL
  local:
    base_path: .migrate/backups
  # s3:
  #   bucket: my-backups
  #   region: us-east-1
  #   access_key: ""
  #   secret_key: ""
  # azure:
  #   account_name: ""
  #   account_key: ""
  #   container: backups
  # gcs:
  #   bucket: my-backups
  #   credentials_file: /path/to/credentials.json

# Snapshot encryption at rest
encryption:
  enabled: false
  passphrase: ""           # Use MYSQL_DATA_MIGRATE_ENCRYPTION_PASSPHRASE instead

# Output
verbose: false
quiet: false
log_file: ""
theme: dark                # dark, plain

# Security recommendations:
# 1. Store secrets in environment variables:
#    export MYSQL_DATA_MIGRATE_DB_PASSWORD=your_password
# 2. Set restrictive file permissions: chmod 600 .mysql-data-migrate.yaml
# 3. Use a dedicated database user with minimal required privileges
`
			fmt.Print(sampleConfig)
			return nil
		},
	}

	cmd.Flags().BoolVar(&effective, "effective", false, "print the resolved configuration instead of a sample")

	return cmd
}

func init() {
	rootCmd.AddCommand(createVersionCommand())
	rootCmd.AddCommand(createConfigCommand())
}
