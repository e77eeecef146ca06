package rollback

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RollbackStatus represents the lifecycle state of a rollback point
type RollbackStatus string

const (
	StatusPending    RollbackStatus = "pending"
	StatusCompleted  RollbackStatus = "completed"
	StatusRolledBack RollbackStatus = "rolled_back"
	StatusFailed     RollbackStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed from the status
func (s RollbackStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusRolledBack, StatusFailed:
		return true
	default:
		return false
	}
}

// RollbackType is the closed set of rollback strategies
type RollbackType string

const (
	RollbackTypeFull          RollbackType = "FULL"
	RollbackTypePartial       RollbackType = "PARTIAL"
	RollbackTypeTransaction   RollbackType = "TRANSACTION"
	RollbackTypeBackupRestore RollbackType = "BACKUP_RESTORE"
)

// Valid reports whether the rollback type is one of the four supported strategies
func (t RollbackType) Valid() bool {
	switch t {
	case RollbackTypeFull, RollbackTypePartial, RollbackTypeTransaction, RollbackTypeBackupRestore:
		return true
	default:
		return false
	}
}

// Row is one table row with every column value as a nullable string.
// Scanning everything through sql.NullString keeps the serialized form
// deterministic and byte-reproducible across snapshot and verification.
type Row map[string]*string

// RollbackPoint is the authoritative record of one recorded intent to undo
// a migration's effect on a single table.
type RollbackPoint struct {
	ID           string         `json:"id"`
	MigrationID  string         `json:"migration_id"`
	TableName    string         `json:"table_name"`
	KeyColumn    string         `json:"key_column"`
	Description  string         `json:"description"`
	Status       RollbackStatus `json:"status"`
	Backup       *BackupRecord  `json:"backup,omitempty"`
	FailedRowIDs []string       `json:"failed_row_ids,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	FinalizedAt  *time.Time     `json:"finalized_at,omitempty"`
}

// Validate validates the RollbackPoint struct
func (p *RollbackPoint) Validate() error {
	var errs ValidationErrors

	if p.ID == "" {
		errs.Add("id", "rollback point ID is required", p.ID)
	}
	if p.MigrationID == "" {
		errs.Add("migration_id", "migration ID is required", p.MigrationID)
	}
	if p.TableName == "" {
		errs.Add("table_name", "table name is required", p.TableName)
	}
	if p.Status == "" {
		errs.Add("status", "rollback status is required", p.Status)
	} else if !isValidRollbackStatus(p.Status) {
		errs.Add("status", "invalid rollback status", p.Status)
	}
	if p.CreatedAt.IsZero() {
		errs.Add("created_at", "creation timestamp is required", p.CreatedAt)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// Clone returns a deep copy so registry callers can never mutate shared state
func (p *RollbackPoint) Clone() *RollbackPoint {
	cp := *p
	if p.Backup != nil {
		b := *p.Backup
		cp.Backup = &b
	}
	if p.FailedRowIDs != nil {
		cp.FailedRowIDs = append([]string(nil), p.FailedRowIDs...)
	}
	if p.FinalizedAt != nil {
		f := *p.FinalizedAt
		cp.FinalizedAt = &f
	}
	return &cp
}

// BackupRecord describes a durable snapshot of a table's rows.
// A BackupRecord is immutable once written; any later checksum mismatch
// is a hard integrity failure.
type BackupRecord struct {
	Path        string          `json:"path"`
	Checksum    string          `json:"checksum"`
	RowCount    int             `json:"row_count"`
	ByteSize    int64           `json:"byte_size"`
	Compression CompressionType `json:"compression"`
	Encrypted   bool            `json:"encrypted"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Validate validates the BackupRecord struct
func (b *BackupRecord) Validate() error {
	var errs ValidationErrors

	if b.Path == "" {
		errs.Add("path", "backup path is required", b.Path)
	}
	if b.Checksum == "" {
		errs.Add("checksum", "backup checksum is required", b.Checksum)
	}
	if b.RowCount < 0 {
		errs.Add("row_count", "row count cannot be negative", b.RowCount)
	}
	if b.ByteSize < 0 {
		errs.Add("byte_size", "byte size cannot be negative", b.ByteSize)
	}
	if b.CreatedAt.IsZero() {
		errs.Add("created_at", "creation timestamp is required", b.CreatedAt)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// AuditEventType identifies a lifecycle transition recorded in the audit log
type AuditEventType string

const (
	EventRollbackPointCreated AuditEventType = "rollback_point_created"
	EventBackupCreated        AuditEventType = "backup_created"
	EventRollbackExecuted     AuditEventType = "rollback_executed"
	EventRollbackVerified     AuditEventType = "rollback_verified"
	EventRollbackFailed       AuditEventType = "rollback_failed"
)

// AuditResult is the outcome recorded with an audit event
type AuditResult string

const (
	AuditResultSuccess AuditResult = "success"
	AuditResultFailure AuditResult = "failure"
)

// AuditEvent is one immutable record in the tamper-evident audit stream.
// Hash covers the event content plus PrevHash, forming a hash chain.
type AuditEvent struct {
	Timestamp  time.Time              `json:"timestamp"`
	EventType  AuditEventType         `json:"event_type"`
	RollbackID string                 `json:"rollback_id"`
	Actor      string                 `json:"actor"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Result     AuditResult            `json:"result"`
	PrevHash   string                 `json:"prev_hash"`
	Hash       string                 `json:"hash"`
}

// RollbackResult summarizes one executed rollback
type RollbackResult struct {
	RollbackID   string              `json:"rollback_id"`
	Type         RollbackType        `json:"type"`
	RowsRestored int                 `json:"rows_restored"`
	RowsDeleted  int64               `json:"rows_deleted"`
	Duration     time.Duration       `json:"duration"`
	Verification *VerificationResult `json:"verification,omitempty"`
}

// VerificationResult captures a checksum/row-count comparison after a restore
type VerificationResult struct {
	Valid            bool      `json:"valid"`
	ExpectedChecksum string    `json:"expected_checksum"`
	ActualChecksum   string    `json:"actual_checksum"`
	ExpectedRows     int       `json:"expected_rows"`
	ActualRows       int       `json:"actual_rows"`
	CheckedAt        time.Time `json:"checked_at"`
}

// RollbackOptions carries strategy-specific inputs for the executor
type RollbackOptions struct {
	// FailedRowIDs identifies the rows failed migration steps left behind,
	// for Partial rollback. Falls back to the ids recorded on the rollback
	// point.
	FailedRowIDs []string

	// Tx is the still-open database transaction for Transaction rollback
	Tx *sql.Tx

	// BackupPath overrides the rollback point's backup location for
	// BackupRestore, allowing disaster recovery from an arbitrary snapshot
	BackupPath string

	// TableName overrides the target table for BackupRestore when the
	// snapshot was not created by this engine
	TableName string
}

// MigrationSpec identifies one protected migration run
type MigrationSpec struct {
	MigrationID string
	TableName   string
	KeyColumn   string
	Description string
}

// Validate validates the MigrationSpec struct
func (m *MigrationSpec) Validate() error {
	var errs ValidationErrors

	if m.MigrationID == "" {
		errs.Add("migration_id", "migration ID is required", m.MigrationID)
	}
	if m.TableName == "" {
		errs.Add("table_name", "table name is required", m.TableName)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// CompressionType selects the snapshot compression algorithm
type CompressionType string

const (
	CompressionTypeNone CompressionType = "NONE"
	CompressionTypeGzip CompressionType = "GZIP"
	CompressionTypeLZ4  CompressionType = "LZ4"
	CompressionTypeZstd CompressionType = "ZSTD"
)

// StorageProviderType identifies a backup store backend
type StorageProviderType string

const (
	StorageProviderLocal StorageProviderType = "LOCAL"
	StorageProviderS3    StorageProviderType = "S3"
	StorageProviderAzure StorageProviderType = "AZURE"
	StorageProviderGCS   StorageProviderType = "GCS"
)

// StorageConfig defines storage provider configuration
type StorageConfig struct {
	Provider StorageProviderType `yaml:"provider" mapstructure:"provider"`
	Local    *LocalConfig        `yaml:"local,omitempty" mapstructure:"local"`
	S3       *S3Config           `yaml:"s3,omitempty" mapstructure:"s3"`
	Azure    *AzureConfig        `yaml:"azure,omitempty" mapstructure:"azure"`
	GCS      *GCSConfig          `yaml:"gcs,omitempty" mapstructure:"gcs"`
}

// LocalConfig for local file system storage
type LocalConfig struct {
	BasePath    string      `yaml:"base_path" mapstructure:"base_path"`
	Permissions os.FileMode `yaml:"permissions" mapstructure:"permissions"`
}

// S3Config for Amazon S3 storage
type S3Config struct {
	Bucket    string `yaml:"bucket" mapstructure:"bucket"`
	Region    string `yaml:"region" mapstructure:"region"`
	AccessKey string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key"`
}

// AzureConfig for Azure Blob Storage
type AzureConfig struct {
	AccountName   string `yaml:"account_name" mapstructure:"account_name"`
	AccountKey    string `yaml:"account_key" mapstructure:"account_key"`
	ContainerName string `yaml:"container_name" mapstructure:"container_name"`
}

// GCSConfig for Google Cloud Storage
type GCSConfig struct {
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	CredentialsPath string `yaml:"credentials_path" mapstructure:"credentials_path"`
	ProjectID       string `yaml:"project_id" mapstructure:"project_id"`
}

// EncryptionConfig controls snapshot encryption at rest
type EncryptionConfig struct {
	Enabled    bool   `yaml:"enabled" mapstructure:"enabled"`
	Passphrase string `yaml:"passphrase" mapstructure:"passphrase"`
}

// Config holds the rollback engine configuration
type Config struct {
	Storage          StorageConfig
	RegistryPath     string
	AuditLogPath     string
	Actor            string
	FailureThreshold float64
	Compression      CompressionType
	CompressionLevel int
	Encryption       EncryptionConfig
	DefaultKeyColumn string
	DryRun           bool
}

// DefaultFailureThreshold is the failure rate above which a failed migration
// escalates from Partial to Full rollback
const DefaultFailureThreshold = 0.10

// Validate validates the engine configuration
func (c *Config) Validate() error {
	var errs ValidationErrors

	if err := c.Storage.Validate(); err != nil {
		if validationErrs, ok := err.(ValidationErrors); ok {
			errs = append(errs, validationErrs...)
		} else {
			errs.Add("storage", err.Error(), nil)
		}
	}
	if c.RegistryPath == "" {
		errs.Add("registry_path", "registry path is required", c.RegistryPath)
	}
	if c.AuditLogPath == "" {
		errs.Add("audit_log_path", "audit log path is required", c.AuditLogPath)
	}
	if c.FailureThreshold < 0 || c.FailureThreshold > 1 {
		errs.Add("failure_threshold", "failure threshold must be between 0 and 1", c.FailureThreshold)
	}
	if c.Compression != "" && !isValidCompressionType(c.Compression) {
		errs.Add("compression", "invalid compression type", c.Compression)
	}
	if c.Encryption.Enabled && c.Encryption.Passphrase == "" {
		errs.Add("encryption.passphrase", "passphrase is required when encryption is enabled", nil)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// Validate validates the StorageConfig struct
func (sc *StorageConfig) Validate() error {
	var errs ValidationErrors

	if !isValidStorageProviderType(sc.Provider) {
		errs.Add("provider", "invalid storage provider type", sc.Provider)
		return errs
	}

	switch sc.Provider {
	case StorageProviderLocal:
		if sc.Local == nil {
			errs.Add("local", "local storage configuration is required", nil)
		} else if err := sc.Local.Validate(); err != nil {
			errs = appendValidation(errs, "local", err)
		}
	case StorageProviderS3:
		if sc.S3 == nil {
			errs.Add("s3", "S3 storage configuration is required", nil)
		} else if err := sc.S3.Validate(); err != nil {
			errs = appendValidation(errs, "s3", err)
		}
	case StorageProviderAzure:
		if sc.Azure == nil {
			errs.Add("azure", "Azure storage configuration is required", nil)
		} else if err := sc.Azure.Validate(); err != nil {
			errs = appendValidation(errs, "azure", err)
		}
	case StorageProviderGCS:
		if sc.GCS == nil {
			errs.Add("gcs", "GCS storage configuration is required", nil)
		} else if err := sc.GCS.Validate(); err != nil {
			errs = appendValidation(errs, "gcs", err)
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func appendValidation(errs ValidationErrors, field string, err error) ValidationErrors {
	if validationErrs, ok := err.(ValidationErrors); ok {
		return append(errs, validationErrs...)
	}
	errs.Add(field, err.Error(), nil)
	return errs
}

// Validate validates the LocalConfig struct
func (lc *LocalConfig) Validate() error {
	var errs ValidationErrors

	if lc.BasePath == "" {
		errs.Add("base_path", "base path is required for local storage", lc.BasePath)
	}
	if lc.Permissions == 0 {
		lc.Permissions = 0755
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// Validate validates the S3Config struct
func (s3c *S3Config) Validate() error {
	var errs ValidationErrors

	if s3c.Bucket == "" {
		errs.Add("bucket", "S3 bucket name is required", s3c.Bucket)
	}
	if s3c.Region == "" {
		errs.Add("region", "S3 region is required", s3c.Region)
	}
	if s3c.AccessKey == "" {
		errs.Add("access_key", "S3 access key is required", s3c.AccessKey)
	}
	if s3c.SecretKey == "" {
		errs.Add("secret_key", "S3 secret key is required", s3c.SecretKey)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// Validate validates the AzureConfig struct
func (ac *AzureConfig) Validate() error {
	var errs ValidationErrors

	if ac.AccountName == "" {
		errs.Add("account_name", "Azure account name is required", ac.AccountName)
	}
	if ac.AccountKey == "" {
		errs.Add("account_key", "Azure account key is required", ac.AccountKey)
	}
	if ac.ContainerName == "" {
		errs.Add("container_name", "Azure container name is required", ac.ContainerName)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// Validate validates the GCSConfig struct
func (gc *GCSConfig) Validate() error {
	var errs ValidationErrors

	if gc.Bucket == "" {
		errs.Add("bucket", "GCS bucket name is required", gc.Bucket)
	}
	if gc.CredentialsPath == "" {
		errs.Add("credentials_path", "GCS credentials path is required", gc.CredentialsPath)
	}
	if gc.ProjectID == "" {
		errs.Add("project_id", "GCS project ID is required", gc.ProjectID)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// NewRollbackPoint constructs a pending rollback point with a fresh id
func NewRollbackPoint(migrationID, tableName, keyColumn, description string) *RollbackPoint {
	if keyColumn == "" {
		keyColumn = "id"
	}
	return &RollbackPoint{
		ID:          GenerateRollbackID(migrationID),
		MigrationID: migrationID,
		TableName:   tableName,
		KeyColumn:   keyColumn,
		Description: description,
		Status:      StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
}

// GenerateRollbackID generates a unique rollback point id.
// The timestamp prefix keeps ids sortable; the uuid suffix keeps them unique
// when several points are created within one second.
func GenerateRollbackID(migrationID string) string {
	timestamp := time.Now().UTC().Format("20060102T150405")
	short := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("rb_%s_%s_%s", migrationID, timestamp, short)
}

// GenerateMigrationID generates a unique migration run id
func GenerateMigrationID() string {
	timestamp := time.Now().UTC().Format("20060102-150405")
	short := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("mig-%s-%s", timestamp, short)
}

func isValidRollbackStatus(status RollbackStatus) bool {
	switch status {
	case StatusPending, StatusCompleted, StatusRolledBack, StatusFailed:
		return true
	default:
		return false
	}
}

func isValidCompressionType(ct CompressionType) bool {
	switch ct {
	case CompressionTypeNone, CompressionTypeGzip, CompressionTypeLZ4, CompressionTypeZstd:
		return true
	default:
		return false
	}
}

func isValidStorageProviderType(provider StorageProviderType) bool {
	switch provider {
	case StorageProviderLocal, StorageProviderS3, StorageProviderAzure, StorageProviderGCS:
		return true
	default:
		return false
	}
}
