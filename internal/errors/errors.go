package errors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/go-sql-driver/mysql"
)

// ErrorType categorizes application errors for retry and reporting decisions
type ErrorType string

const (
	ErrorTypeConnection   ErrorType = "connection"
	ErrorTypeSQL          ErrorType = "sql"
	ErrorTypeMigration    ErrorType = "migration"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypePermission   ErrorType = "permission"
	ErrorTypeTimeout      ErrorType = "timeout"
	ErrorTypeInterruption ErrorType = "interruption"
	ErrorTypeUnknown      ErrorType = "unknown"
)

// AppError carries a classified error with optional context values. Recoverable
// errors are retried by RetryHandler; everything else fails immediately.
type AppError struct {
	Type        ErrorType
	Message     string
	Cause       error
	Context     map[string]interface{}
	Recoverable bool
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext attaches a key/value pair to the error and returns it
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a non-recoverable classified error
func NewAppError(errorType ErrorType, message string, cause error) *AppError {
	return &AppError{Type: errorType, Message: message, Cause: cause}
}

// NewRecoverableError creates an error that RetryHandler may retry
func NewRecoverableError(errorType ErrorType, message string, cause error) *AppError {
	return &AppError{Type: errorType, Message: message, Cause: cause, Recoverable: true}
}

// Classify maps an arbitrary error onto the AppError taxonomy. Already
// classified errors pass through unchanged.
func Classify(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	if classified := classifyMySQL(err); classified != nil {
		return classified
	}
	if classified := classifyNetwork(err); classified != nil {
		return classified
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewRecoverableError(ErrorTypeTimeout, "operation timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return NewAppError(ErrorTypeInterruption, "operation was canceled", err)
	}
	if classified := classifyFileSystem(err); classified != nil {
		return classified
	}
	return NewAppError(ErrorTypeUnknown, "unexpected error", err)
}

// mysqlErrorMessages maps server error numbers to the migration-level meaning.
// Connection-class numbers are retried, everything else is terminal.
var mysqlErrorMessages = map[uint16]struct {
	errType     ErrorType
	message     string
	recoverable bool
}{
	1045: {ErrorTypePermission, "database access denied, check username and password", false},
	1049: {ErrorTypeValidation, "database does not exist", false},
	1146: {ErrorTypeValidation, "target table does not exist", false},
	1054: {ErrorTypeMigration, "row references a column the table does not have", false},
	1062: {ErrorTypeMigration, "duplicate key, row already exists", false},
	1064: {ErrorTypeSQL, "SQL syntax error", false},
	2003: {ErrorTypeConnection, "cannot connect to MySQL server", true},
	2006: {ErrorTypeConnection, "MySQL server connection lost", true},
}

func classifyMySQL(err error) *AppError {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		if known, ok := mysqlErrorMessages[mysqlErr.Number]; ok {
			appErr := &AppError{
				Type:        known.errType,
				Message:     known.message,
				Cause:       err,
				Recoverable: known.recoverable,
			}
			return appErr.WithContext("mysql_error_code", mysqlErr.Number)
		}
		return NewAppError(ErrorTypeSQL, fmt.Sprintf("MySQL error: %s", mysqlErr.Message), err).
			WithContext("mysql_error_code", mysqlErr.Number)
	}

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return NewAppError(ErrorTypeValidation, "no rows found", err)
	case errors.Is(err, sql.ErrTxDone):
		return NewAppError(ErrorTypeSQL, "transaction already committed or rolled back", err)
	case errors.Is(err, sql.ErrConnDone):
		return NewRecoverableError(ErrorTypeConnection, "database connection is closed", err)
	}
	return nil
}

func classifyNetwork(err error) *AppError {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewRecoverableError(ErrorTypeTimeout, "network operation timed out", err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial":
			return NewRecoverableError(ErrorTypeConnection, "failed to establish network connection", err)
		case "read", "write":
			return NewRecoverableError(ErrorTypeConnection, "network I/O error", err)
		}
	}
	return nil
}

func classifyFileSystem(err error) *AppError {
	var pathErr *os.PathError
	if !errors.As(err, &pathErr) {
		return nil
	}
	switch pathErr.Err {
	case syscall.ENOENT:
		return NewAppError(ErrorTypeValidation, fmt.Sprintf("file or directory not found: %s", pathErr.Path), err)
	case syscall.EACCES:
		return NewAppError(ErrorTypePermission, fmt.Sprintf("permission denied: %s", pathErr.Path), err)
	case syscall.ENOSPC:
		return NewAppError(ErrorTypeValidation, "no space left on device", err)
	}
	return nil
}

// RetryConfig controls the exponential backoff of RetryHandler
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultRetryConfig returns the backoff used for database connections
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
	}
}

// RetryHandler retries an operation while it keeps failing with recoverable
// errors, backing off exponentially between attempts
type RetryHandler struct {
	config RetryConfig
}

func NewRetryHandler(config RetryConfig) *RetryHandler {
	return &RetryHandler{config: config}
}

func NewDefaultRetryHandler() *RetryHandler {
	return NewRetryHandler(DefaultRetryConfig())
}

// Retry runs operation until it succeeds, fails terminally, or the attempt
// budget is exhausted. Context cancellation stops the loop between attempts.
func (rh *RetryHandler) Retry(ctx context.Context, operation func() error) error {
	var lastErr error

	delay := rh.config.BaseDelay
	for attempt := 1; attempt <= rh.config.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return NewAppError(ErrorTypeInterruption, "operation canceled", ctx.Err())
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		classified := Classify(err)
		if !classified.Recoverable {
			return classified
		}
		if attempt == rh.config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return NewAppError(ErrorTypeInterruption, "operation canceled during retry", ctx.Err())
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * rh.config.Multiplier)
		if delay > rh.config.MaxDelay {
			delay = rh.config.MaxDelay
		}
	}

	return Classify(lastErr).WithContext("attempts", rh.config.MaxAttempts)
}

// CreateContextWithTimeout creates a context bounded by the given timeout
func CreateContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

// IsRecoverableError reports whether err would be retried by a RetryHandler
func IsRecoverableError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Recoverable
}

// WrapError prefixes err with message, preserving an existing classification
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return NewAppError(appErr.Type, message, err)
	}

	classified := Classify(err)
	classified.Message = message
	return classified
}
