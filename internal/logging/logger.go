package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
)

// LogLevel represents the logging level
type LogLevel string

const (
	// LogLevelQuiet keeps only errors
	LogLevelQuiet LogLevel = "quiet"
	// LogLevelNormal is the default operational level
	LogLevelNormal LogLevel = "normal"
	// LogLevelVerbose adds per-operation detail
	LogLevelVerbose LogLevel = "verbose"
	// LogLevelDebug enables everything including traces
	LogLevelDebug LogLevel = "debug"
)

// Logger provides structured logging capabilities
type Logger struct {
	logger *logrus.Logger
	level  LogLevel
}

var logrusLevels = map[LogLevel]logrus.Level{
	LogLevelQuiet:   logrus.ErrorLevel,
	LogLevelNormal:  logrus.InfoLevel,
	LogLevelVerbose: logrus.DebugLevel,
	LogLevelDebug:   logrus.TraceLevel,
}

// Config holds logger configuration
type Config struct {
	Level      LogLevel
	Output     io.Writer
	Format     string // "text" or "json"
	ShowCaller bool
	LogFile    string
}

// NewLogger creates a new logger with the specified configuration
func NewLogger(config Config) (*Logger, error) {
	logger := logrus.New()
	logger.SetFormatter(newFormatter(config))

	if level, ok := logrusLevels[config.Level]; ok {
		logger.SetLevel(level)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
	if config.ShowCaller {
		logger.SetReportCaller(true)
	}

	out := config.Output
	if out == nil {
		out = os.Stdout
	}
	if config.LogFile != "" {
		file, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", config.LogFile, err)
		}
		out = io.MultiWriter(out, file)
	}
	logger.SetOutput(out)

	return &Logger{
		logger: logger,
		level:  config.Level,
	}, nil
}

func newFormatter(config Config) logrus.Formatter {
	if config.Format == "json" {
		return &logrus.JSONFormatter{TimestampFormat: time.RFC3339}
	}

	formatter := &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	}
	if config.ShowCaller {
		formatter.CallerPrettyfier = func(f *runtime.Frame) (string, string) {
			return fmt.Sprintf("%s()", f.Function), fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
		}
	}
	return formatter
}

// NewDefaultLogger creates a logger with default configuration
func NewDefaultLogger() *Logger {
	config := Config{
		Level:      LogLevelNormal,
		Output:     os.Stdout,
		Format:     "text",
		ShowCaller: false,
	}

	logger, _ := NewLogger(config)
	return logger
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.logger.WithFields(fields)
}

// WithField returns a logger with a single additional field
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.logger.WithField(key, value)
}

// Migration operation logging methods

// LogDatabaseConnection logs the outcome of a connection attempt
func (l *Logger) LogDatabaseConnection(host string, database string, success bool, duration time.Duration, err error) {
	entry := l.logger.WithFields(logrus.Fields{
		"operation": "database_connection",
		"host":      host,
		"database":  database,
		"duration":  duration.String(),
		"success":   success,
	})

	if !success {
		if err != nil {
			entry = entry.WithField("error", err.Error())
		}
		entry.Error("Database connection failed")
		return
	}
	entry.Info("Database connection established")
}

// LogBackupCreated logs a snapshot capture
func (l *Logger) LogBackupCreated(rollbackID, table, path string, rowCount int, byteSize int64, duration time.Duration) {
	l.logger.WithFields(logrus.Fields{
		"operation":   "backup_created",
		"rollback_id": rollbackID,
		"table":       table,
		"path":        path,
		"row_count":   rowCount,
		"byte_size":   byteSize,
		"duration":    duration.String(),
	}).Info("Backup created")
}

// LogMigrationRun logs the outcome of a protected migration run
func (l *Logger) LogMigrationRun(rollbackID, table string, succeeded, failed int, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation":   "migration_run",
		"rollback_id": rollbackID,
		"table":       table,
		"succeeded":   succeeded,
		"failed":      failed,
		"duration":    duration.String(),
	}

	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Error("Migration failed")
	} else {
		l.logger.WithFields(fields).Info("Migration completed")
	}
}

// LogRollbackExecution logs a rollback attempt
func (l *Logger) LogRollbackExecution(rollbackID string, rollbackType string, duration time.Duration, success bool, err error) {
	fields := logrus.Fields{
		"operation":     "rollback_execution",
		"rollback_id":   rollbackID,
		"rollback_type": rollbackType,
		"duration":      duration.String(),
		"success":       success,
	}

	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Error("Rollback failed")
	} else {
		l.logger.WithFields(fields).Info("Rollback executed successfully")
	}
}

// Standard logging methods

// Info logs an info message
func (l *Logger) Info(msg string) {
	l.logger.Info(msg)
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.logger.Infof(format, args...)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string) {
	l.logger.Debug(msg)
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string) {
	l.logger.Warn(msg)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.logger.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(msg string) {
	l.logger.Error(msg)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(format, args...)
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	return l.level
}

// SetLevel sets the log level
func (l *Logger) SetLevel(level LogLevel) {
	l.level = level
	if logrusLevel, ok := logrusLevels[level]; ok {
		l.logger.SetLevel(logrusLevel)
	}
}
