package db

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/anstrom/tracerama/internal/logging"
)

//go:embed *.sql
var migrationFiles embed.FS

// Migration represents a database migration.
type Migration struct {
	ID        int       `db:"id"`
	Name      string    `db:"name"`
	AppliedAt time.Time `db:"applied_at"`
	Checksum  string    `db:"checksum"`
}

// Migrator applies the embedded SQL migrations in file name order.
type Migrator struct {
	db     *sqlx.DB
	logger *logging.Logger
}

// NewMigrator creates a new migrator instance.
func NewMigrator(db *sqlx.DB) *Migrator {
	return &Migrator{db: db, logger: logging.Default().WithComponent("db")}
}

// ensureMigrationsTable creates the migrations tracking table if it doesn't exist.
func (m *Migrator) ensureMigrationsTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id SERIAL PRIMARY KEY,
			name VARCHAR(255) NOT NULL UNIQUE,
			applied_at TIMESTAMPTZ DEFAULT NOW(),
			checksum VARCHAR(64) NOT NULL
		)`

	_, err := m.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	return nil
}

// getAppliedMigrations returns a list of already applied migrations.
func (m *Migrator) getAppliedMigrations(ctx context.Context) (map[string]Migration, error) {
	var migrations []Migration
	query := `SELECT id, name, applied_at, checksum FROM schema_migrations ORDER BY id`

	err := m.db.SelectContext(ctx, &migrations, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}

	applied := make(map[string]Migration)
	for _, migration := range migrations {
		applied[migration.Name] = migration
	}

	return applied, nil
}

// getMigrationFiles returns a sorted list of migration files.
func (m *Migrator) getMigrationFiles() ([]string, error) {
	var files []string

	err := fs.WalkDir(migrationFiles, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		if strings.HasSuffix(path, ".sql") {
			files = append(files, path)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read migration files: %w", err)
	}

	sort.Strings(files)
	return files, nil
}

// calculateChecksum calculates a SHA-256 checksum for migration content.
func (m *Migrator) calculateChecksum(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// executeMigration executes a single migration file.
func (m *Migrator) executeMigration(ctx context.Context, filename string) error {
	content, err := migrationFiles.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read migration file %s: %w", filename, err)
	}

	contentStr := string(content)
	checksum := m.calculateChecksum(contentStr)

	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, contentStr)
	if err != nil {
		return fmt.Errorf("failed to execute migration %s: %w", filename, err)
	}

	migrationName := strings.TrimSuffix(filepath.Base(filename), ".sql")
	insertQuery := `
		INSERT INTO schema_migrations (name, checksum)
		VALUES ($1, $2)`

	_, err = tx.ExecContext(ctx, insertQuery, migrationName, checksum)
	if err != nil {
		return fmt.Errorf("failed to record migration %s: %w", filename, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", filename, err)
	}

	return nil
}

// Up runs all pending migrations.
func (m *Migrator) Up(ctx context.Context) error {
	if err := m.ensureMigrationsTable(ctx); err != nil {
		return err
	}

	applied, err := m.getAppliedMigrations(ctx)
	if err != nil {
		return err
	}

	files, err := m.getMigrationFiles()
	if err != nil {
		return err
	}

	for _, file := range files {
		migrationName := strings.TrimSuffix(filepath.Base(file), ".sql")

		if prev, exists := applied[migrationName]; exists {
			if m.drifted(file, prev) {
				m.logger.Warn("Applied migration differs from the embedded file", "migration", migrationName)
			}
			continue
		}

		m.logger.InfoDatabase("Applying migration", "migration", migrationName)
		if err := m.executeMigration(ctx, file); err != nil {
			return fmt.Errorf("migration %s failed: %w", migrationName, err)
		}
	}

	return nil
}

func (m *Migrator) drifted(file string, applied Migration) bool {
	content, err := migrationFiles.ReadFile(file)
	if err != nil {
		return false
	}
	return m.calculateChecksum(string(content)) != applied.Checksum
}

// MigrationStatus is one known migration and whether it was applied.
type MigrationStatus struct {
	Name      string
	Applied   bool
	AppliedAt time.Time
}

// Status lists every embedded migration in order.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	if err := m.ensureMigrationsTable(ctx); err != nil {
		return nil, err
	}

	applied, err := m.getAppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	files, err := m.getMigrationFiles()
	if err != nil {
		return nil, err
	}

	out := make([]MigrationStatus, 0, len(files))
	for _, file := range files {
		name := strings.TrimSuffix(filepath.Base(file), ".sql")
		st := MigrationStatus{Name: name}
		if migration, ok := applied[name]; ok {
			st.Applied = true
			st.AppliedAt = migration.AppliedAt
		}
		out = append(out, st)
	}
	return out, nil
}

// ConnectAndMigrate connects to the database and runs pending migrations.
func ConnectAndMigrate(ctx context.Context, config *Config) (*DB, error) {
	db, err := Connect(ctx, config)
	if err != nil {
		return nil, err
	}

	if err := NewMigrator(db.DB).Up(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return db, nil
}
