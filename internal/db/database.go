// Package db persists traceroute results in PostgreSQL. It handles
// connection setup, schema migrations and the result store used by the
// scan, batch and monitor commands.
package db

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/anstrom/tracerama/internal/errors"
	"github.com/anstrom/tracerama/internal/logging"
)

const (
	// Default database configuration values.
	defaultPostgresPort    = 5432
	defaultMaxOpenConns    = 10
	defaultMaxIdleConns    = 2
	defaultConnMaxLifetime = 5
	defaultConnMaxIdleTime = 5
)

// DB wraps sqlx.DB.
type DB struct {
	*sqlx.DB
}

// Config holds database configuration.
type Config struct {
	Enabled         bool          `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Host            string        `yaml:"host" json:"host" mapstructure:"host"`
	Port            int           `yaml:"port" json:"port" mapstructure:"port" validate:"min=0,max=65535"`
	Database        string        `yaml:"database" json:"database" mapstructure:"database"`
	Username        string        `yaml:"username" json:"username" mapstructure:"username"`
	Password        string        `yaml:"password" json:"password" mapstructure:"password"`
	SSLMode         string        `yaml:"ssl_mode" json:"ssl_mode" mapstructure:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
}

// DefaultConfig returns the default database configuration. Persistence is
// disabled; database name, username and password must be configured before
// enabling it.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            defaultPostgresPort,
		SSLMode:         "disable",
		MaxOpenConns:    defaultMaxOpenConns,
		MaxIdleConns:    defaultMaxIdleConns,
		ConnMaxLifetime: defaultConnMaxLifetime * time.Minute,
		ConnMaxIdleTime: defaultConnMaxIdleTime * time.Minute,
	}
}

// DSN builds a lib/pq key=value connection string.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Database, c.Username, c.Password, c.SSLMode,
	)
}

// Connect establishes a connection to PostgreSQL. Errors never include the
// DSN.
func Connect(ctx context.Context, config *Config) (*DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", config.DSN())
	if err != nil {
		return nil, errors.ErrDatabaseConnection(err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.WrapDatabaseError(errors.CodeDatabaseConnection, "Failed to verify database connection", "ping", err)
	}

	logging.Default().InfoDatabase("Connected to database",
		"host", config.Host, "port", config.Port, "database", config.Database)
	return &DB{DB: db}, nil
}

// sanitizeDBError converts driver errors into DatabaseErrors that carry no
// SQL or credentials in their message. The driver error stays reachable via
// Unwrap.
func sanitizeDBError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, sql.ErrNoRows) {
		return errors.WrapDatabaseError(errors.CodeDatabaseQuery, "Result not found", operation, err)
	}

	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return errors.WrapDatabaseError(errors.CodeDatabaseQuery, "Result already exists", operation, err)
		case "23503", "23502", "23514":
			return errors.WrapDatabaseError(errors.CodeValidation, "Result violates a schema constraint", operation, err)
		case "57014":
			return errors.WrapDatabaseError(errors.CodeCanceled, "Database operation was canceled", operation, err)
		case "57P01", "08000", "08003", "08006":
			return errors.WrapDatabaseError(errors.CodeDatabaseConnection, "Database connection lost", operation, err)
		}
	}
	return errors.WrapDatabaseError(errors.CodeDatabaseQuery, "Database operation failed: "+operation, operation, err)
}

// IsNotFound reports whether err came from a lookup that matched no row.
func IsNotFound(err error) bool {
	return stderrors.Is(err, sql.ErrNoRows)
}
