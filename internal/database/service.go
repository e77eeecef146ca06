package database

import (
	"context"
	"database/sql"
	"time"

	"mysql-data-migrate/internal/errors"
	"mysql-data-migrate/internal/logging"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

// Pool sizing for a single-table migration run. One writer plus a few
// read connections for snapshot and verification passes.
const (
	maxOpenConns    = 10
	maxIdleConns    = 5
	connMaxLifetime = 5 * time.Minute
)

// Service opens and checks connections to the target MySQL database.
// Transient connection failures are retried with backoff.
type Service struct {
	logger       *logging.Logger
	retryHandler *errors.RetryHandler
}

// NewService creates a database service with a default logger
func NewService() *Service {
	return NewServiceWithLogger(logging.NewDefaultLogger())
}

// NewServiceWithLogger creates a database service that logs through logger
func NewServiceWithLogger(logger *logging.Logger) *Service {
	return &Service{
		logger:       logger,
		retryHandler: errors.NewDefaultRetryHandler(),
	}
}

// Connect opens a pooled connection to the database described by config and
// verifies it with a ping. The config timeout bounds the whole attempt,
// including retries.
func (s *Service) Connect(config DatabaseConfig) (*sql.DB, error) {
	startTime := time.Now()

	s.logger.WithFields(map[string]interface{}{
		"host":     config.Host,
		"port":     config.Port,
		"database": config.Database,
	}).Info("Attempting database connection")

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultConnectionTimeout
	}
	ctx, cancel := errors.CreateContextWithTimeout(timeout)
	defer cancel()

	var db *sql.DB
	err := s.retryHandler.Retry(ctx, func() error {
		handle, openErr := sql.Open("mysql", config.DSN())
		if openErr != nil {
			return errors.WrapError(openErr, "failed to open database connection")
		}

		handle.SetMaxOpenConns(maxOpenConns)
		handle.SetMaxIdleConns(maxIdleConns)
		handle.SetConnMaxLifetime(connMaxLifetime)

		if pingErr := handle.PingContext(ctx); pingErr != nil {
			handle.Close()
			return errors.WrapError(pingErr, "failed to ping database")
		}

		db = handle
		return nil
	})

	s.logger.LogDatabaseConnection(config.Host, config.Database, err == nil, time.Since(startTime), err)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// TestConnection pings an already opened connection
func (s *Service) TestConnection(db *sql.DB) error {
	if db == nil {
		return errors.NewAppError(errors.ErrorTypeValidation, "database connection is nil", nil)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectionTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return errors.WrapError(err, "failed to ping database")
	}
	return nil
}

// Close closes the connection pool. A nil handle is not an error.
func (s *Service) Close(db *sql.DB) error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		s.logger.WithField("error", err.Error()).Error("Failed to close database connection")
		return errors.WrapError(err, "failed to close database connection")
	}
	s.logger.Debug("Database connection closed")
	return nil
}

// GetVersion reports the MySQL server version of a connected database
func (s *Service) GetVersion(db *sql.DB) (string, error) {
	if db == nil {
		return "", errors.NewAppError(errors.ErrorTypeValidation, "database connection is nil", nil)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectionTimeout)
	defer cancel()

	var version string
	if err := db.QueryRowContext(ctx, "SELECT VERSION()").Scan(&version); err != nil {
		return "", errors.WrapError(err, "failed to get database version")
	}
	return version, nil
}
