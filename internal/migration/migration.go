package migration

import (
	"context"
	"fmt"

	"dexpr/internal/errors"

	"github.com/jmoiron/sqlx"
)

// Supported SQL dialects
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db *sqlx.DB) error
	Version() string
}

// MigrationRunner creates the run ledger schema
type MigrationRunner struct {
	version string
	dialect string
}

// NewRunner creates a new migration runner for the given dialect
func NewRunner(dialect string) *MigrationRunner {
	return &MigrationRunner{
		version: "1.0.0",
		dialect: dialect,
	}
}

// Version returns the migration version
func (r *MigrationRunner) Version() string {
	return r.version
}

// Run executes all database migrations in order
func (r *MigrationRunner) Run(ctx context.Context, db *sqlx.DB) error {
	if r.dialect != DialectSQLite && r.dialect != DialectPostgres {
		return errors.DatabaseError(fmt.Sprintf("unsupported SQL dialect %q", r.dialect))
	}

	if err := r.createRunsTable(ctx, db); err != nil {
		return errors.WithCode(errors.CodeDatabaseError, errors.Wrap(err, "failed to create runs table"))
	}

	if err := r.createIndexes(ctx, db); err != nil {
		return errors.WithCode(errors.CodeDatabaseError, errors.Wrap(err, "failed to create indexes"))
	}

	return nil
}

func (r *MigrationRunner) createRunsTable(ctx context.Context, db *sqlx.DB) error {
	idType, tsType := "TEXT", "TIMESTAMP"
	if r.dialect == DialectPostgres {
		idType, tsType = "UUID", "TIMESTAMP WITH TIME ZONE"
	}
	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS runs (
			id %s PRIMARY KEY,
			engine VARCHAR(32) NOT NULL,
			counts_path TEXT NOT NULL,
			metadata_path TEXT NOT NULL,
			output_dir TEXT NOT NULL,
			pval_threshold DOUBLE PRECISION NOT NULL,
			lfc_threshold DOUBLE PRECISION NOT NULL,
			top_genes INTEGER NOT NULL,
			status VARCHAR(16) NOT NULL DEFAULT 'running',
			error_message TEXT NOT NULL DEFAULT '',
			total_genes INTEGER NOT NULL DEFAULT 0,
			significant INTEGER NOT NULL DEFAULT 0,
			upregulated INTEGER NOT NULL DEFAULT 0,
			downregulated INTEGER NOT NULL DEFAULT 0,
			started_at %s NOT NULL,
			finished_at %s
		)
	`, idType, tsType, tsType))
	return err
}

func (r *MigrationRunner) createIndexes(ctx context.Context, db *sqlx.DB) error {
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status)",
	}

	for _, idxSQL := range indexes {
		if _, err := db.ExecContext(ctx, idxSQL); err != nil {
			return err
		}
	}

	return nil
}
