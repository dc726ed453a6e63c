package app

import (
	"context"
	"time"

	"dexpr/internal/errors"

	"go.uber.org/zap"
)

// Stage is one named step of the pipeline
type Stage struct {
	Name string
	Run  func(ctx context.Context) error
}

// StageRunner executes pipeline stages strictly in order
type StageRunner struct {
	logger *zap.Logger
}

// NewStageRunner creates a new stage runner
func NewStageRunner(logger *zap.Logger) *StageRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StageRunner{logger: logger}
}

// Execute runs the stages in order and stops at the first failure.
// The returned error keeps the failing stage's error code.
func (r *StageRunner) Execute(ctx context.Context, stages []Stage) error {
	for _, st := range stages {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		r.logger.Debug("stage started", zap.String("stage", st.Name))
		if err := st.Run(ctx); err != nil {
			r.logger.Error("stage failed",
				zap.String("stage", st.Name),
				zap.String("code", errors.GetCode(err)),
				zap.Error(err))
			return errors.Wrapf(err, "%s stage failed", st.Name)
		}
		r.logger.Info("stage completed",
			zap.String("stage", st.Name),
			zap.Duration("elapsed", time.Since(start)))
	}
	return nil
}
