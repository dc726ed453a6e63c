package ports

import (
	"context"

	"dexpr/domain/table"
)

// DEEngine is a differential expression engine. Open acquires the engine's session
// once per run; the caller must Close it.
type DEEngine interface {
	Name() string
	Open(ctx context.Context) (DESession, error)
}

// DESession is an acquired engine handle
type DESession interface {
	// NewDataset validates the inputs and constructs an analysis dataset
	NewDataset(ctx context.Context, counts *table.CountMatrix, meta *table.SampleMetadata, design table.Design) (DEDataset, error)
	Close() error
}

// DEDataset is a constructed dataset inside a session
type DEDataset interface {
	// Fit runs the engine's estimation procedure
	Fit(ctx context.Context) error
	// Results extracts one row per count matrix feature, in count matrix order
	Results(ctx context.Context) (*table.ResultTable, error)
}
