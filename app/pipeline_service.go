package app

import (
	"context"
	"os"
	"path/filepath"

	"dexpr/adapters/plot"
	"dexpr/adapters/report"
	"dexpr/adapters/tabular"
	"dexpr/domain/table"
	"dexpr/internal/errors"
	"dexpr/ports"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ImageViewer displays a written image
type ImageViewer func(ctx context.Context, path string) error

// PipelineRequest defines the inputs of one differential expression run
type PipelineRequest struct {
	CountsPath      string
	MetadataPath    string
	OutputDir       string
	Covariate       string
	ReferenceLevel  string
	PValueThreshold float64
	LFCThreshold    float64
	TopGenes        int
	Workbook        bool
	HTMLReport      bool
	Show            bool
}

// PipelineResult describes the artifacts of a completed run
type PipelineResult struct {
	RunID           uuid.UUID
	Outputs         []string
	Summary         report.Counts
	Volcano         plot.VolcanoStats
	HeatmapFeatures []string
}

// PipelineService runs load, analyze, persist, volcano, heatmap and summarize in order
type PipelineService struct {
	engine ports.DEEngine
	ledger ports.RunLedger
	runner *StageRunner
	viewer ImageViewer
	logger *zap.Logger
}

// NewPipelineService creates a pipeline service. ledger may be nil.
func NewPipelineService(engine ports.DEEngine, ledger ports.RunLedger, logger *zap.Logger) *PipelineService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PipelineService{
		engine: engine,
		ledger: ledger,
		runner: NewStageRunner(logger),
		viewer: plot.Open,
		logger: logger,
	}
}

// WithViewer replaces the image viewer used when a request asks to show the plots
func (s *PipelineService) WithViewer(viewer ImageViewer) *PipelineService {
	s.viewer = viewer
	return s
}

// Run executes the pipeline. A failure aborts the remaining stages; artifacts
// written by earlier stages are left in place.
func (s *PipelineService) Run(ctx context.Context, req PipelineRequest) (result *PipelineResult, err error) {
	result = &PipelineResult{}
	if s.ledger != nil {
		record := &ports.RunRecord{
			Engine:       s.engine.Name(),
			CountsPath:   req.CountsPath,
			MetadataPath: req.MetadataPath,
			OutputDir:    req.OutputDir,
			PValueThresh: req.PValueThreshold,
			LFCThresh:    req.LFCThreshold,
			TopGenes:     req.TopGenes,
		}
		if err := s.ledger.StartRun(ctx, record); err != nil {
			return nil, err
		}
		result.RunID = record.ID
		defer func() {
			s.finishRun(ctx, record, result, err)
		}()
	}

	var (
		counts  *table.CountMatrix
		meta    *table.SampleMetadata
		results *table.ResultTable
	)
	resultsPath := filepath.Join(req.OutputDir, tabular.ResultsFileName)
	volcanoPath := filepath.Join(req.OutputDir, plot.VolcanoFileName)
	heatmapPath := filepath.Join(req.OutputDir, plot.HeatmapFileName)
	summaryPath := filepath.Join(req.OutputDir, report.SummaryFileName)

	stages := []Stage{
		{Name: "load", Run: func(ctx context.Context) error {
			var err error
			if counts, err = tabular.LoadCountMatrix(req.CountsPath); err != nil {
				return err
			}
			if meta, err = tabular.LoadSampleMetadata(req.MetadataPath); err != nil {
				return err
			}
			features, samples := counts.Dims()
			s.logger.Info("inputs loaded", zap.Int("features", features), zap.Int("samples", samples))
			return nil
		}},
		{Name: "analyze", Run: func(ctx context.Context) error {
			var err error
			results, err = s.analyze(ctx, counts, meta, table.Design{Covariate: req.Covariate, ReferenceLevel: req.ReferenceLevel})
			return err
		}},
		{Name: "persist", Run: func(ctx context.Context) error {
			if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
				return errors.IOError(req.OutputDir, err)
			}
			if err := tabular.WriteResultTable(resultsPath, results); err != nil {
				return err
			}
			result.Outputs = append(result.Outputs, resultsPath)
			if req.Workbook {
				path := filepath.Join(req.OutputDir, tabular.WorkbookFileName)
				if err := tabular.WriteResultWorkbook(path, results); err != nil {
					return err
				}
				result.Outputs = append(result.Outputs, path)
			}
			return nil
		}},
		{Name: "volcano", Run: func(ctx context.Context) error {
			stats, err := plot.Volcano(volcanoPath, results, plot.VolcanoOptions{
				PValueThreshold: req.PValueThreshold,
				LFCThreshold:    req.LFCThreshold,
			})
			if err != nil {
				return err
			}
			result.Volcano = stats
			result.Outputs = append(result.Outputs, volcanoPath)
			if stats.Dropped > 0 || stats.Clipped > 0 {
				s.logger.Warn("volcano plot adjusted non-finite rows",
					zap.Int("dropped", stats.Dropped),
					zap.Int("clipped", stats.Clipped))
			}
			return nil
		}},
		{Name: "heatmap", Run: func(ctx context.Context) error {
			data, err := plot.Heatmap(heatmapPath, counts, results, plot.HeatmapOptions{TopGenes: req.TopGenes})
			if err != nil {
				return err
			}
			result.HeatmapFeatures = data.Features
			result.Outputs = append(result.Outputs, heatmapPath)
			return nil
		}},
		{Name: "summarize", Run: func(ctx context.Context) error {
			summary, err := report.Count(results)
			if err != nil {
				return err
			}
			if err := report.WriteSummary(summaryPath, summary); err != nil {
				return err
			}
			result.Summary = summary
			result.Outputs = append(result.Outputs, summaryPath)
			if req.HTMLReport {
				mdPath := filepath.Join(req.OutputDir, report.MarkdownFileName)
				htmlPath := filepath.Join(req.OutputDir, report.HTMLFileName)
				params := report.Params{
					Engine:          s.engine.Name(),
					CountsPath:      req.CountsPath,
					MetadataPath:    req.MetadataPath,
					PValueThreshold: req.PValueThreshold,
					LFCThreshold:    req.LFCThreshold,
					TopGenes:        req.TopGenes,
				}
				if err := report.WriteMarkdownReport(mdPath, htmlPath, results, summary, params); err != nil {
					return err
				}
				result.Outputs = append(result.Outputs, mdPath, htmlPath)
			}
			return nil
		}},
	}
	if req.Show && s.viewer != nil {
		stages = append(stages, Stage{Name: "show", Run: func(ctx context.Context) error {
			for _, path := range []string{volcanoPath, heatmapPath} {
				if err := s.viewer(ctx, path); err != nil {
					s.logger.Warn("failed to display image", zap.String("path", path), zap.Error(err))
				}
			}
			return nil
		}})
	}

	if err := s.runner.Execute(ctx, stages); err != nil {
		return result, err
	}
	s.logger.Info("pipeline completed",
		zap.String("output_dir", req.OutputDir),
		zap.Int("total", result.Summary.Total),
		zap.Int("significant", result.Summary.Significant))
	return result, nil
}

// analyze acquires an engine session for the duration of one fit
func (s *PipelineService) analyze(ctx context.Context, counts *table.CountMatrix, meta *table.SampleMetadata, design table.Design) (*table.ResultTable, error) {
	session, err := s.engine.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			s.logger.Warn("failed to close engine session", zap.Error(cerr))
		}
	}()

	ds, err := session.NewDataset(ctx, counts, meta, design)
	if err != nil {
		return nil, err
	}
	if err := ds.Fit(ctx); err != nil {
		return nil, err
	}
	return ds.Results(ctx)
}

func (s *PipelineService) finishRun(ctx context.Context, record *ports.RunRecord, result *PipelineResult, runErr error) {
	record.Status = ports.RunStatusSucceeded
	if runErr != nil {
		record.Status = ports.RunStatusFailed
		record.ErrorMessage = runErr.Error()
	}
	record.TotalGenes = result.Summary.Total
	record.SignificantCnt = result.Summary.Significant
	record.UpCnt = result.Summary.Up
	record.DownCnt = result.Summary.Down
	if err := s.ledger.FinishRun(context.WithoutCancel(ctx), record); err != nil {
		s.logger.Warn("failed to record run result", zap.String("run_id", record.ID.String()), zap.Error(err))
	}
}
