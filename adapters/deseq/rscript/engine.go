// Package rscript runs the DESeq2 Bioconductor package in an Rscript subprocess.
// A session is a temporary working directory holding the staged inputs, the
// embedded R program and the engine's outputs; Close removes it.
package rscript

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"dexpr/adapters/tabular"
	"dexpr/domain/table"
	"dexpr/internal/errors"
	"dexpr/ports"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// EngineName identifies this engine in configuration and the run ledger
const EngineName = "rscript"

//go:embed deseq2.R
var program []byte

// Engine invokes DESeq2 through Rscript
type Engine struct {
	rscript string
	logger  *zap.Logger
}

// NewEngine creates an engine that runs the given Rscript executable
func NewEngine(rscriptPath string, logger *zap.Logger) *Engine {
	if rscriptPath == "" {
		rscriptPath = "Rscript"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{rscript: rscriptPath, logger: logger.Named("rscript")}
}

// Name returns the engine name
func (e *Engine) Name() string {
	return EngineName
}

// Open resolves the Rscript executable and creates the session directory
func (e *Engine) Open(ctx context.Context) (ports.DESession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bin, err := exec.LookPath(e.rscript)
	if err != nil {
		return nil, errors.WithCode(errors.CodeAnalysis, errors.Wrapf(err, "Rscript executable %q not found", e.rscript))
	}
	dir, err := os.MkdirTemp("", "dexpr-deseq2-*")
	if err != nil {
		return nil, errors.WithCode(errors.CodeAnalysis, errors.Wrap(err, "failed to create engine session directory"))
	}
	scriptPath := filepath.Join(dir, "deseq2.R")
	if err := os.WriteFile(scriptPath, program, 0o644); err != nil {
		os.RemoveAll(dir)
		return nil, errors.WithCode(errors.CodeAnalysis, errors.Wrap(err, "failed to stage DESeq2 program"))
	}

	e.logger.Debug("session opened", zap.String("rscript", bin), zap.String("dir", dir))
	return &session{engine: e, bin: bin, dir: dir, script: scriptPath}, nil
}

type session struct {
	engine *Engine
	bin    string
	dir    string
	script string
	seq    int
}

// Close removes the session directory
func (s *session) Close() error {
	if s.dir == "" {
		return nil
	}
	err := os.RemoveAll(s.dir)
	s.dir = ""
	return err
}

// NewDataset checks the design covariate and stages both tables as CSV
func (s *session) NewDataset(ctx context.Context, counts *table.CountMatrix, meta *table.SampleMetadata, design table.Design) (ports.DEDataset, error) {
	if s.dir == "" {
		return nil, errors.AnalysisError("engine session is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !meta.HasCovariate(design.Covariate) {
		return nil, errors.AnalysisError(fmt.Sprintf("design covariate %q not found in sample metadata", design.Covariate))
	}
	for _, sample := range counts.Samples {
		if _, ok := meta.Value(sample, design.Covariate); !ok {
			return nil, errors.AnalysisError(fmt.Sprintf("sample %q is missing from the sample metadata", sample))
		}
	}

	s.seq++
	dir := filepath.Join(s.dir, fmt.Sprintf("dataset-%d", s.seq))
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, errors.WithCode(errors.CodeAnalysis, errors.Wrap(err, "failed to create dataset directory"))
	}
	ds := &dataset{
		session:     s,
		features:    counts.Features,
		design:      design,
		countsPath:  filepath.Join(dir, "counts.csv"),
		coldataPath: filepath.Join(dir, "coldata.csv"),
		resultsPath: filepath.Join(dir, "results.csv"),
		sessionPath: filepath.Join(dir, "session.json"),
	}
	if err := tabular.WriteCountMatrix(ds.countsPath, counts); err != nil {
		return nil, errors.WithCode(errors.CodeAnalysis, errors.Wrap(err, "failed to stage counts"))
	}
	if err := tabular.WriteSampleMetadata(ds.coldataPath, meta); err != nil {
		return nil, errors.WithCode(errors.CodeAnalysis, errors.Wrap(err, "failed to stage sample metadata"))
	}
	return ds, nil
}

type dataset struct {
	session     *session
	features    []string
	design      table.Design
	countsPath  string
	coldataPath string
	resultsPath string
	sessionPath string
	fitted      bool
}

// Fit runs DESeq() and results() in the subprocess
func (d *dataset) Fit(ctx context.Context) error {
	logger := d.session.engine.logger
	cmd := exec.CommandContext(ctx, d.session.bin, d.session.script,
		d.countsPath, d.coldataPath, d.resultsPath, d.sessionPath,
		d.design.Covariate, d.design.ReferenceLevel)
	cmd.Dir = d.session.dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Info("running DESeq2", zap.Strings("args", cmd.Args))
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = "DESeq2 failed"
		}
		return &errors.AppError{Code: errors.CodeAnalysis, Message: msg, Cause: err}
	}
	if out := strings.TrimSpace(stdout.String()); out != "" {
		logger.Debug("engine output", zap.String("stdout", out))
	}

	if data, err := os.ReadFile(d.sessionPath); err == nil && gjson.ValidBytes(data) {
		info := gjson.ParseBytes(data)
		logger.Info("DESeq2 finished",
			zap.String("r_version", info.Get("r_version").String()),
			zap.String("deseq2_version", info.Get("deseq2_version").String()),
			zap.String("contrast", info.Get("contrast").String()),
			zap.Int64("nonconverged", info.Get("nonconverged").Int()))
	} else {
		logger.Warn("engine session sidecar missing or invalid", zap.String("path", d.sessionPath))
	}

	d.fitted = true
	return nil
}

// Results reads the engine's table and restores count matrix row order
func (d *dataset) Results(ctx context.Context) (*table.ResultTable, error) {
	if !d.fitted {
		return nil, errors.AnalysisError("dataset has not been fit")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := tabular.LoadResultTable(d.resultsPath)
	if err != nil {
		return nil, errors.WithCode(errors.CodeAnalysis, errors.Wrap(err, "failed to read DESeq2 results"))
	}
	return reorder(raw, d.features)
}

func reorder(raw *table.ResultTable, features []string) (*table.ResultTable, error) {
	if raw.Len() != len(features) {
		return nil, errors.AnalysisError(fmt.Sprintf("engine returned %d rows for %d features", raw.Len(), len(features)))
	}
	pos := make(map[string]int, raw.Len())
	for i, f := range raw.Features {
		pos[f] = i
	}
	out := table.NewResultTable(features)
	for _, name := range raw.Columns {
		src, _ := raw.Column(name)
		col := make([]float64, len(features))
		for i, f := range features {
			k, ok := pos[f]
			if !ok {
				return nil, errors.LookupError(fmt.Sprintf("feature %q missing from engine results", f))
			}
			col[i] = src[k]
		}
		if err := out.SetColumn(name, col); err != nil {
			return nil, err
		}
	}
	return out, nil
}
