package errors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
)

func TestAppError(t *testing.T) {
	cause := errors.New("underlying error")
	appErr := NewAppError(ErrorTypeConnection, "connection failed", cause)

	if appErr.Type != ErrorTypeConnection {
		t.Errorf("Expected type %v, got %v", ErrorTypeConnection, appErr.Type)
	}
	if appErr.Recoverable {
		t.Error("Expected non-recoverable error")
	}
	if !errors.Is(appErr, cause) {
		t.Error("Expected appErr to unwrap to its cause")
	}

	expected := "connection: connection failed (caused by: underlying error)"
	if appErr.Error() != expected {
		t.Errorf("Expected error string %v, got %v", expected, appErr.Error())
	}

	withoutCause := NewAppError(ErrorTypeSQL, "query failed", nil)
	if withoutCause.Error() != "sql: query failed" {
		t.Errorf("Unexpected error string %v", withoutCause.Error())
	}
}

func TestAppErrorWithContext(t *testing.T) {
	appErr := NewAppError(ErrorTypeMigration, "row rejected", nil)
	appErr.WithContext("table", "users").WithContext("row", 42)

	if appErr.Context["table"] != "users" {
		t.Errorf("Expected context table=users, got %v", appErr.Context["table"])
	}
	if appErr.Context["row"] != 42 {
		t.Errorf("Expected context row=42, got %v", appErr.Context["row"])
	}
}

func TestClassifyMySQLErrors(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		expectedType ErrorType
		recoverable  bool
	}{
		{
			name:         "access denied",
			err:          &mysql.MySQLError{Number: 1045, Message: "Access denied"},
			expectedType: ErrorTypePermission,
			recoverable:  false,
		},
		{
			name:         "missing table",
			err:          &mysql.MySQLError{Number: 1146, Message: "Table does not exist"},
			expectedType: ErrorTypeValidation,
			recoverable:  false,
		},
		{
			name:         "unknown column",
			err:          &mysql.MySQLError{Number: 1054, Message: "Unknown column"},
			expectedType: ErrorTypeMigration,
			recoverable:  false,
		},
		{
			name:         "duplicate key",
			err:          &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"},
			expectedType: ErrorTypeMigration,
			recoverable:  false,
		},
		{
			name:         "server unreachable",
			err:          &mysql.MySQLError{Number: 2003, Message: "Can't connect"},
			expectedType: ErrorTypeConnection,
			recoverable:  true,
		},
		{
			name:         "unmapped server error",
			err:          &mysql.MySQLError{Number: 1205, Message: "Lock wait timeout"},
			expectedType: ErrorTypeSQL,
			recoverable:  false,
		},
		{
			name:         "connection closed",
			err:          sql.ErrConnDone,
			expectedType: ErrorTypeConnection,
			recoverable:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := Classify(tt.err)
			if classified.Type != tt.expectedType {
				t.Errorf("Expected type %v, got %v", tt.expectedType, classified.Type)
			}
			if classified.Recoverable != tt.recoverable {
				t.Errorf("Expected recoverable=%v, got %v", tt.recoverable, classified.Recoverable)
			}
		})
	}
}

func TestClassifyContextErrors(t *testing.T) {
	timedOut := Classify(context.DeadlineExceeded)
	if timedOut.Type != ErrorTypeTimeout || !timedOut.Recoverable {
		t.Errorf("Expected recoverable timeout, got %v", timedOut)
	}

	canceled := Classify(context.Canceled)
	if canceled.Type != ErrorTypeInterruption || canceled.Recoverable {
		t.Errorf("Expected non-recoverable interruption, got %v", canceled)
	}
}

func TestClassifyPassesThroughAppErrors(t *testing.T) {
	original := NewAppError(ErrorTypeMigration, "row rejected", nil)
	wrapped := fmt.Errorf("loading input: %w", original)

	if classified := Classify(wrapped); classified != original {
		t.Errorf("Expected original AppError back, got %v", classified)
	}
}

func TestRetryHandlerStopsOnTerminalError(t *testing.T) {
	handler := NewRetryHandler(RetryConfig{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
		Multiplier:  1.0,
	})

	attempts := 0
	err := handler.Retry(context.Background(), func() error {
		attempts++
		return &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}
	})

	if err == nil {
		t.Fatal("Expected error")
	}
	if attempts != 1 {
		t.Errorf("Terminal error should not be retried, got %d attempts", attempts)
	}
}

func TestRetryHandlerRetriesRecoverableErrors(t *testing.T) {
	handler := NewRetryHandler(RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
		Multiplier:  1.0,
	})

	attempts := 0
	err := handler.Retry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return sql.ErrConnDone
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryHandlerExhaustsAttempts(t *testing.T) {
	handler := NewRetryHandler(RetryConfig{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
		Multiplier:  1.0,
	})

	err := handler.Retry(context.Background(), func() error {
		return sql.ErrConnDone
	})

	var appErr *AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("Expected AppError, got %v", err)
	}
	if appErr.Context["attempts"] != 2 {
		t.Errorf("Expected attempts=2 in context, got %v", appErr.Context["attempts"])
	}
}

func TestRetryHandlerHonorsCancellation(t *testing.T) {
	handler := NewDefaultRetryHandler()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := handler.Retry(ctx, func() error {
		t.Fatal("Operation should not run on a canceled context")
		return nil
	})

	var appErr *AppError
	if !errors.As(err, &appErr) || appErr.Type != ErrorTypeInterruption {
		t.Errorf("Expected interruption error, got %v", err)
	}
}

func TestIsRecoverableError(t *testing.T) {
	if !IsRecoverableError(NewRecoverableError(ErrorTypeConnection, "temporary", nil)) {
		t.Error("Expected recoverable")
	}
	if IsRecoverableError(NewAppError(ErrorTypeValidation, "bad input", nil)) {
		t.Error("Expected non-recoverable")
	}
	if IsRecoverableError(errors.New("plain")) {
		t.Error("Unclassified errors are not recoverable")
	}
}

func TestWrapError(t *testing.T) {
	if WrapError(nil, "ignored") != nil {
		t.Error("Wrapping nil should return nil")
	}

	inner := NewAppError(ErrorTypePermission, "access denied", nil)
	wrapped := WrapError(inner, "opening registry")

	var appErr *AppError
	if !errors.As(wrapped, &appErr) {
		t.Fatalf("Expected AppError, got %v", wrapped)
	}
	if appErr.Type != ErrorTypePermission {
		t.Errorf("Wrapping should preserve the classification, got %v", appErr.Type)
	}
	if appErr.Message != "opening registry" {
		t.Errorf("Expected new message, got %v", appErr.Message)
	}
	if !errors.Is(wrapped, inner) {
		t.Error("Wrapped error should unwrap to the original")
	}
}
