package database

import (
	"errors"
	"fmt"
	"time"
)

const defaultConnectionTimeout = 30 * time.Second

// DatabaseConfig describes the target MySQL database
type DatabaseConfig struct {
	Host     string        `mapstructure:"host" yaml:"host"`
	Port     int           `mapstructure:"port" yaml:"port"`
	Username string        `mapstructure:"username" yaml:"username"`
	Password string        `mapstructure:"password" yaml:"password"`
	Database string        `mapstructure:"database" yaml:"database"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Validate checks the required connection parameters. A missing timeout is
// not an error; it falls back to the default.
func (dc *DatabaseConfig) Validate() error {
	var errs []error

	if dc.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if dc.Port <= 0 || dc.Port > 65535 {
		errs = append(errs, errors.New("port must be between 1 and 65535"))
	}
	if dc.Username == "" {
		errs = append(errs, errors.New("username is required"))
	}
	if dc.Database == "" {
		errs = append(errs, errors.New("database name is required"))
	}
	if dc.Timeout <= 0 {
		dc.Timeout = defaultConnectionTimeout
	}

	if len(errs) > 0 {
		return fmt.Errorf("database configuration validation failed: %v", errs)
	}
	return nil
}

// SetDefaults fills in the standard MySQL port and connection timeout
func (dc *DatabaseConfig) SetDefaults() {
	if dc.Port == 0 {
		dc.Port = 3306
	}
	if dc.Timeout == 0 {
		dc.Timeout = defaultConnectionTimeout
	}
}

// DSN builds the go-sql-driver connection string. parseTime is on so DATETIME
// columns scan cleanly during snapshot reads.
func (dc *DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?timeout=%s&parseTime=true",
		dc.Username, dc.Password, dc.Host, dc.Port, dc.Database, dc.Timeout)
}
