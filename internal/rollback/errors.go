package rollback

import (
	"errors"
	"fmt"
)

// RollbackError represents errors that occur during rollback engine operations
type RollbackError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *RollbackError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause error
func (e *RollbackError) Unwrap() error {
	return e.Cause
}

// ErrorType represents different types of rollback engine errors
type ErrorType string

const (
	ErrorTypeSerialization       ErrorType = "SERIALIZATION_ERROR"
	ErrorTypeChecksum            ErrorType = "CHECKSUM_COMPUTE_ERROR"
	ErrorTypeStorage             ErrorType = "STORAGE_ERROR"
	ErrorTypeValidation          ErrorType = "VALIDATION_ERROR"
	ErrorTypeCompression         ErrorType = "COMPRESSION_ERROR"
	ErrorTypeEncryption          ErrorType = "ENCRYPTION_ERROR"
	ErrorTypeDatabase            ErrorType = "DATABASE_ERROR"
	ErrorTypeNotFound            ErrorType = "NOT_FOUND_ERROR"
	ErrorTypeMigrationInProgress ErrorType = "MIGRATION_IN_PROGRESS"
	ErrorTypeInvalidTransition   ErrorType = "INVALID_STATE_TRANSITION"
	ErrorTypeRollbackExecution   ErrorType = "ROLLBACK_EXECUTION_ERROR"
	ErrorTypeDataIntegrity       ErrorType = "DATA_INTEGRITY_ERROR"
)

// NewRollbackError creates a new RollbackError
func NewRollbackError(errorType ErrorType, message string, cause error) *RollbackError {
	return &RollbackError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds context information to the error
func (e *RollbackError) WithContext(key string, value interface{}) *RollbackError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Common error constructors

func NewSerializationError(message string, cause error) *RollbackError {
	return NewRollbackError(ErrorTypeSerialization, message, cause)
}

func NewChecksumError(message string, cause error) *RollbackError {
	return NewRollbackError(ErrorTypeChecksum, message, cause)
}

func NewStorageError(message string, cause error) *RollbackError {
	return NewRollbackError(ErrorTypeStorage, message, cause)
}

func NewValidationError(message string, cause error) *RollbackError {
	return NewRollbackError(ErrorTypeValidation, message, cause)
}

func NewCompressionError(message string, cause error) *RollbackError {
	return NewRollbackError(ErrorTypeCompression, message, cause)
}

func NewEncryptionError(message string, cause error) *RollbackError {
	return NewRollbackError(ErrorTypeEncryption, message, cause)
}

func NewDatabaseError(message string, cause error) *RollbackError {
	return NewRollbackError(ErrorTypeDatabase, message, cause)
}

func NewNotFoundError(message string, cause error) *RollbackError {
	return NewRollbackError(ErrorTypeNotFound, message, cause)
}

func NewMigrationInProgressError(message string, cause error) *RollbackError {
	return NewRollbackError(ErrorTypeMigrationInProgress, message, cause)
}

func NewInvalidTransitionError(message string, cause error) *RollbackError {
	return NewRollbackError(ErrorTypeInvalidTransition, message, cause)
}

func NewRollbackExecutionError(message string, cause error) *RollbackError {
	return NewRollbackError(ErrorTypeRollbackExecution, message, cause)
}

func NewDataIntegrityError(message string, cause error) *RollbackError {
	return NewRollbackError(ErrorTypeDataIntegrity, message, cause)
}

// hasErrorType reports whether err carries the given rollback error type
func hasErrorType(err error, errorType ErrorType) bool {
	var rbErr *RollbackError
	if errors.As(err, &rbErr) {
		return rbErr.Type == errorType
	}
	return false
}

// IsNotFound reports whether err is a not-found error
func IsNotFound(err error) bool {
	return hasErrorType(err, ErrorTypeNotFound)
}

// IsMigrationInProgress reports whether err is a table lock contention error
func IsMigrationInProgress(err error) bool {
	return hasErrorType(err, ErrorTypeMigrationInProgress)
}

// IsInvalidTransition reports whether err is an illegal state machine transition
func IsInvalidTransition(err error) bool {
	return hasErrorType(err, ErrorTypeInvalidTransition)
}

// IsIntegrityError reports whether err is a checksum or row-count mismatch
func IsIntegrityError(err error) bool {
	return hasErrorType(err, ErrorTypeDataIntegrity)
}

// IsPermanent determines if an error is permanent and should not be retried.
// Rollback execution failures are always permanent: retrying a rollback
// against an ambiguous table state risks double-application.
func IsPermanent(err error) bool {
	var rbErr *RollbackError
	if errors.As(err, &rbErr) {
		switch rbErr.Type {
		case ErrorTypeValidation, ErrorTypeSerialization, ErrorTypeInvalidTransition,
			ErrorTypeRollbackExecution, ErrorTypeDataIntegrity:
			return true
		default:
			return false
		}
	}
	return false
}

// IsRetryable determines if an error is retryable
func IsRetryable(err error) bool {
	var rbErr *RollbackError
	if errors.As(err, &rbErr) {
		switch rbErr.Type {
		case ErrorTypeMigrationInProgress:
			return true
		default:
			return false
		}
	}
	return false
}

// ValidationError represents validation-specific errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidationErrors represents a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	return fmt.Sprintf("%d validation errors: %s (and %d more)", len(e), e[0].Error(), len(e)-1)
}

// Add adds a validation error to the collection
func (e *ValidationErrors) Add(field, message string, value interface{}) {
	*e = append(*e, ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	})
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}
