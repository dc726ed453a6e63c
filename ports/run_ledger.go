package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a recorded pipeline run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// RunRecord is one pipeline invocation as stored in the run ledger
type RunRecord struct {
	ID             uuid.UUID  `db:"id"`
	Engine         string     `db:"engine"`
	CountsPath     string     `db:"counts_path"`
	MetadataPath   string     `db:"metadata_path"`
	OutputDir      string     `db:"output_dir"`
	PValueThresh   float64    `db:"pval_threshold"`
	LFCThresh      float64    `db:"lfc_threshold"`
	TopGenes       int        `db:"top_genes"`
	Status         RunStatus  `db:"status"`
	ErrorMessage   string     `db:"error_message"`
	TotalGenes     int        `db:"total_genes"`
	SignificantCnt int        `db:"significant"`
	UpCnt          int        `db:"upregulated"`
	DownCnt        int        `db:"downregulated"`
	StartedAt      time.Time  `db:"started_at"`
	FinishedAt     *time.Time `db:"finished_at"`
}

// RunLedger records pipeline runs
type RunLedger interface {
	StartRun(ctx context.Context, run *RunRecord) error
	FinishRun(ctx context.Context, run *RunRecord) error
	ListRuns(ctx context.Context, limit int) ([]*RunRecord, error)
	Close() error
}
