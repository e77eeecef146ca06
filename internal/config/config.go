package config

import (
	"fmt"
	"strings"

	"mysql-data-migrate/internal/database"
	"mysql-data-migrate/internal/rollback"
)

// Config is the complete application configuration, combining the database
// connection, the rollback engine and CLI behavior
type Config struct {
	DB database.DatabaseConfig `mapstructure:"db" yaml:"db"`

	// Migration input
	InputFile   string `mapstructure:"input" yaml:"input"`
	Table       string `mapstructure:"table" yaml:"table"`
	KeyColumn   string `mapstructure:"key_column" yaml:"key_column"`
	MigrationID string `mapstructure:"migration_id" yaml:"migration_id"`
	Description string `mapstructure:"description" yaml:"description"`

	// Execution mode: runs are dry-run unless Production is set
	Production bool `mapstructure:"production" yaml:"production"`
	NoRollback bool `mapstructure:"no_rollback" yaml:"no_rollback"`

	// Rollback engine
	RegistryDir      string                    `mapstructure:"registry_dir" yaml:"registry_dir"`
	AuditLog         string                    `mapstructure:"audit_log" yaml:"audit_log"`
	Actor            string                    `mapstructure:"actor" yaml:"actor"`
	FailureThreshold float64                   `mapstructure:"failure_threshold" yaml:"failure_threshold"`
	Compression      string                    `mapstructure:"compression" yaml:"compression"`
	CompressionLevel int                       `mapstructure:"compression_level" yaml:"compression_level"`
	Storage          rollback.StorageConfig    `mapstructure:"storage" yaml:"storage"`
	Encryption       rollback.EncryptionConfig `mapstructure:"encryption" yaml:"encryption"`

	// Output
	Verbose bool   `mapstructure:"verbose" yaml:"verbose"`
	Quiet   bool   `mapstructure:"quiet" yaml:"quiet"`
	LogFile string `mapstructure:"log_file" yaml:"log_file"`
	Theme   string `mapstructure:"theme" yaml:"theme"`
}

// SetDefaults fills in defaults for everything the user left unset
func (c *Config) SetDefaults() {
	c.DB.SetDefaults()

	if c.KeyColumn == "" {
		c.KeyColumn = "id"
	}
	if c.RegistryDir == "" {
		c.RegistryDir = ".migrate/registry"
	}
	if c.AuditLog == "" {
		c.AuditLog = ".migrate/audit.log"
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = rollback.DefaultFailureThreshold
	}
	if c.Compression == "" {
		c.Compression = string(rollback.CompressionTypeGzip)
	}
	if c.Storage.Provider == "" {
		c.Storage.Provider = rollback.StorageProviderLocal
	}
	if c.Storage.Provider == rollback.StorageProviderLocal {
		if c.Storage.Local == nil {
			c.Storage.Local = &rollback.LocalConfig{}
		}
		if c.Storage.Local.BasePath == "" {
			c.Storage.Local.BasePath = ".migrate/backups"
		}
	}
	if c.Theme == "" {
		c.Theme = "dark"
	}
}

// Validate checks the configuration for a migration run
func (c *Config) Validate() error {
	if c.Verbose && c.Quiet {
		return fmt.Errorf("verbose and quiet are mutually exclusive")
	}
	if c.Table == "" {
		return fmt.Errorf("table is required")
	}
	if c.FailureThreshold < 0 || c.FailureThreshold > 1 {
		return fmt.Errorf("failure threshold must be between 0 and 1, got %g", c.FailureThreshold)
	}
	if err := c.DB.Validate(); err != nil {
		return err
	}

	return nil
}

// EngineConfig translates the application configuration into the rollback
// engine's configuration
func (c *Config) EngineConfig() *rollback.Config {
	return &rollback.Config{
		Storage:          c.Storage,
		RegistryPath:     c.RegistryDir,
		AuditLogPath:     c.AuditLog,
		Actor:            c.Actor,
		FailureThreshold: c.FailureThreshold,
		Compression:      rollback.CompressionType(strings.ToUpper(c.Compression)),
		CompressionLevel: c.CompressionLevel,
		Encryption:       c.Encryption,
		DefaultKeyColumn: c.KeyColumn,
		DryRun:           !c.Production,
	}
}
