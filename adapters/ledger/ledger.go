// Package ledger records pipeline runs in SQLite or PostgreSQL.
package ledger

import (
	"context"
	"strings"
	"time"

	"dexpr/internal/errors"
	"dexpr/internal/migration"
	"dexpr/ports"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Ledger implements ports.RunLedger over sqlx
type Ledger struct {
	db      *sqlx.DB
	dialect string
}

// Open connects to the DSN and creates the schema. postgres:// and postgresql://
// DSNs use PostgreSQL; anything else is a SQLite database file.
func Open(ctx context.Context, dsn string) (*Ledger, error) {
	driver, source := resolveDSN(dsn)
	db, err := sqlx.ConnectContext(ctx, driver, source)
	if err != nil {
		return nil, dbError(err, "failed to connect to run ledger")
	}
	if driver == migration.DialectSQLite {
		db.SetMaxOpenConns(1)
	}
	if err := migration.NewRunner(driver).Run(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Ledger{db: db, dialect: driver}, nil
}

// NewLedger wraps an open database whose schema is already migrated
func NewLedger(db *sqlx.DB, dialect string) ports.RunLedger {
	return &Ledger{db: db, dialect: dialect}
}

func resolveDSN(dsn string) (driver, source string) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return migration.DialectPostgres, dsn
	}
	return migration.DialectSQLite, strings.TrimPrefix(dsn, "sqlite://")
}

// StartRun inserts a running record. A zero ID or start time is filled in.
func (l *Ledger) StartRun(ctx context.Context, run *ports.RunRecord) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	run.Status = ports.RunStatusRunning

	_, err := l.db.NamedExecContext(ctx, `
		INSERT INTO runs (id, engine, counts_path, metadata_path, output_dir, pval_threshold, lfc_threshold, top_genes, status, error_message, started_at)
		VALUES (:id, :engine, :counts_path, :metadata_path, :output_dir, :pval_threshold, :lfc_threshold, :top_genes, :status, :error_message, :started_at)
	`, run)
	if err != nil {
		return dbError(err, "failed to record run start")
	}
	return nil
}

// FinishRun stores the final status, error message and summary counts
func (l *Ledger) FinishRun(ctx context.Context, run *ports.RunRecord) error {
	if run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}
	_, err := l.db.NamedExecContext(ctx, `
		UPDATE runs
		SET status = :status, error_message = :error_message, total_genes = :total_genes,
			significant = :significant, upregulated = :upregulated, downregulated = :downregulated,
			finished_at = :finished_at
		WHERE id = :id
	`, run)
	if err != nil {
		return dbError(err, "failed to record run finish")
	}
	return nil
}

// ListRuns returns the most recent runs first. A limit of 0 or less returns all runs.
func (l *Ledger) ListRuns(ctx context.Context, limit int) ([]*ports.RunRecord, error) {
	query := `
		SELECT id, engine, counts_path, metadata_path, output_dir, pval_threshold, lfc_threshold, top_genes,
			status, error_message, total_genes, significant, upregulated, downregulated, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC
	`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var runs []*ports.RunRecord
	if err := l.db.SelectContext(ctx, &runs, l.db.Rebind(query), args...); err != nil {
		return nil, dbError(err, "failed to list runs")
	}
	return runs, nil
}

// Close closes the database handle
func (l *Ledger) Close() error {
	return l.db.Close()
}

func dbError(err error, message string) error {
	return errors.WithCode(errors.CodeDatabaseError, errors.Wrap(err, message))
}
