// Package native is an in-process differential expression engine following the
// DESeq2 negative binomial GLM method: median-of-ratios size factors, Cox-Reid
// gene-wise dispersions shrunk towards a parametric trend, Wald tests, Cook's
// distance outlier flagging, independent filtering and Benjamini-Hochberg adjustment.
package native

import (
	"context"
	"fmt"
	"math"
	"sort"

	"dexpr/domain/table"
	"dexpr/internal/errors"
	"dexpr/ports"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// EngineName identifies this engine in configuration and the run ledger
const EngineName = "native"

// Options tune the estimation procedure
type Options struct {
	// Alpha is the FDR target used to choose the independent filtering threshold
	Alpha float64
	// IndependentFiltering drops low-mean genes before adjustment when it increases rejections
	IndependentFiltering bool
	// CooksCutoff is the F-distribution quantile above which a sample is an outlier
	CooksCutoff float64
	// MinReplicatesForCooks is the group size required for a sample to be checked
	MinReplicatesForCooks int
	// MaxIterations bounds the per-gene IRLS loop
	MaxIterations int
}

// DefaultOptions mirrors DESeq2's defaults
func DefaultOptions() Options {
	return Options{
		Alpha:                 0.1,
		IndependentFiltering:  true,
		CooksCutoff:           0.99,
		MinReplicatesForCooks: 3,
		MaxIterations:         100,
	}
}

// Engine is the native DESeq2-style engine
type Engine struct {
	opts   Options
	logger *zap.Logger
}

// NewEngine creates a native engine
func NewEngine(logger *zap.Logger, opts Options) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{opts: opts, logger: logger.Named("native")}
}

// Name returns the engine name
func (e *Engine) Name() string {
	return EngineName
}

// Open returns a session. The native engine holds no external resources.
func (e *Engine) Open(ctx context.Context) (ports.DESession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &session{engine: e}, nil
}

type session struct {
	engine *Engine
	closed bool
}

func (s *session) Close() error {
	s.closed = true
	return nil
}

// NewDataset aligns the metadata to the count columns and builds the design matrix
func (s *session) NewDataset(ctx context.Context, counts *table.CountMatrix, meta *table.SampleMetadata, design table.Design) (ports.DEDataset, error) {
	if s.closed {
		return nil, errors.AnalysisError("engine session is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !meta.HasCovariate(design.Covariate) {
		return nil, errors.AnalysisError(fmt.Sprintf("design covariate %q not found in sample metadata", design.Covariate))
	}

	_, m := counts.Dims()
	sampleLevel := make([]string, m)
	for j, sample := range counts.Samples {
		v, ok := meta.Value(sample, design.Covariate)
		if !ok {
			return nil, errors.AnalysisError(fmt.Sprintf("sample %q is missing from the sample metadata", sample))
		}
		if v == "" || v == "NA" {
			return nil, errors.AnalysisError(fmt.Sprintf("sample %q has no value for %q", sample, design.Covariate))
		}
		sampleLevel[j] = v
	}

	levels, err := orderLevels(sampleLevel, design.ReferenceLevel)
	if err != nil {
		return nil, err
	}
	if len(levels) < 2 {
		return nil, errors.AnalysisError(fmt.Sprintf("design covariate %q has fewer than two levels", design.Covariate))
	}
	if m <= len(levels) {
		return nil, errors.AnalysisError("the design matrix has as many coefficients as samples, there are no residual degrees of freedom")
	}

	if err := validateCounts(counts); err != nil {
		return nil, err
	}

	levelIndex := make(map[string]int, len(levels))
	for i, l := range levels {
		levelIndex[l] = i
	}
	groups := make([]int, m)
	x := mat.NewDense(m, len(levels), nil)
	for j, l := range sampleLevel {
		g := levelIndex[l]
		groups[j] = g
		x.Set(j, 0, 1)
		if g > 0 {
			x.Set(j, g, 1)
		}
	}

	s.engine.logger.Debug("dataset constructed",
		zap.Int("features", len(counts.Features)),
		zap.Int("samples", m),
		zap.Strings("levels", levels))

	return &dataset{
		engine:   s.engine,
		features: counts.Features,
		counts:   counts.Counts,
		levels:   levels,
		groups:   groups,
		design:   x,
	}, nil
}

func orderLevels(values []string, reference string) ([]string, error) {
	seen := make(map[string]struct{})
	var levels []string
	for _, v := range values {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			levels = append(levels, v)
		}
	}
	sort.Strings(levels)
	if reference == "" {
		return levels, nil
	}
	if _, ok := seen[reference]; !ok {
		return nil, errors.AnalysisError(fmt.Sprintf("reference level %q is not a level of the design covariate", reference))
	}
	out := []string{reference}
	for _, l := range levels {
		if l != reference {
			out = append(out, l)
		}
	}
	return out, nil
}

func validateCounts(counts *table.CountMatrix) error {
	g, m := counts.Dims()
	for i := 0; i < g; i++ {
		for j := 0; j < m; j++ {
			v := counts.Counts.At(i, j)
			if v < 0 {
				return errors.AnalysisError(fmt.Sprintf("some values in assay are negative (feature %q)", counts.Features[i]))
			}
			if v != math.Trunc(v) {
				return errors.AnalysisError(fmt.Sprintf("some values in assay are not integers (feature %q)", counts.Features[i]))
			}
		}
	}
	return nil
}

type dataset struct {
	engine   *Engine
	features []string
	counts   *mat.Dense
	levels   []string
	groups   []int
	design   *mat.Dense

	fit *fitResult
}

// fitResult holds per-gene estimates on the natural log scale
type fitResult struct {
	sizeFactors []float64
	baseMean    []float64
	dispersion  []float64
	beta        []float64 // contrast coefficient
	se          []float64
	converged   []bool
	cooksFlag   []bool
	allZero     []bool
}

// Fit estimates size factors, dispersions and per-gene GLM coefficients
func (d *dataset) Fit(ctx context.Context) error {
	logger := d.engine.logger

	sf, err := estimateSizeFactors(d.counts)
	if err != nil {
		return err
	}
	logger.Debug("size factors estimated", zap.Float64s("size_factors", sf))

	g, m := d.counts.Dims()
	_, p := d.design.Dims()
	fit := &fitResult{
		sizeFactors: sf,
		baseMean:    make([]float64, g),
		allZero:     make([]bool, g),
	}
	normalized := mat.NewDense(g, m, nil)
	for i := 0; i < g; i++ {
		raw, norm := 0.0, 0.0
		for j := 0; j < m; j++ {
			v := d.counts.At(i, j) / sf[j]
			normalized.Set(i, j, v)
			raw += d.counts.At(i, j)
			norm += v
		}
		fit.allZero[i] = raw == 0
		fit.baseMean[i] = norm / float64(m)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	disp, err := estimateDispersions(ctx, d.counts, normalized, sf, d.design, d.groups, fit.baseMean, fit.allZero, logger)
	if err != nil {
		return err
	}
	fit.dispersion = disp

	fit.beta = make([]float64, g)
	fit.se = make([]float64, g)
	fit.converged = make([]bool, g)
	fit.cooksFlag = make([]bool, g)

	cooksSamples := cooksEligibleSamples(d.groups, len(d.levels), d.engine.opts.MinReplicatesForCooks)
	cooksCutoff := fQuantile(d.engine.opts.CooksCutoff, float64(p), float64(m-p))

	nonConverged, fitted := 0, 0
	y := make([]float64, m)
	for i := 0; i < g; i++ {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if fit.allZero[i] {
			fit.beta[i], fit.se[i] = math.NaN(), math.NaN()
			fit.converged[i] = true
			continue
		}
		mat.Row(y, i, d.counts)
		res := fitGLM(y, sf, d.design, fit.dispersion[i], initialBeta(normalized.RawRowView(i), d.design), d.engine.opts.MaxIterations)
		fitted++
		fit.converged[i] = res.converged
		if !res.converged {
			nonConverged++
		}
		fit.beta[i] = res.beta[p-1]
		fit.se[i] = res.se[p-1]
		if len(cooksSamples) > 0 {
			fit.cooksFlag[i] = maxCooks(y, res, fit.dispersion[i], p, cooksSamples) > cooksCutoff
		}
	}

	if fitted > 0 && nonConverged == fitted {
		return errors.AnalysisError(fmt.Sprintf("none of the %d fitted rows converged in beta", fitted))
	}
	if nonConverged > 0 {
		logger.Warn("rows did not converge in beta", zap.Int("rows", nonConverged))
	}

	d.fit = fit
	return nil
}

// Results assembles the result table for the last level versus the reference level
func (d *dataset) Results(ctx context.Context) (*table.ResultTable, error) {
	if d.fit == nil {
		return nil, errors.AnalysisError("dataset has not been fit")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g := len(d.features)
	lfc := make([]float64, g)
	lfcSE := make([]float64, g)
	stat := make([]float64, g)
	pvalue := make([]float64, g)
	for i := 0; i < g; i++ {
		lfc[i] = d.fit.beta[i] / math.Ln2
		lfcSE[i] = d.fit.se[i] / math.Ln2
		stat[i], pvalue[i] = waldTest(d.fit.beta[i], d.fit.se[i])
		if d.fit.allZero[i] || d.fit.cooksFlag[i] {
			pvalue[i] = math.NaN()
		}
		if d.fit.allZero[i] {
			stat[i] = math.NaN()
		}
	}

	var padj []float64
	if d.engine.opts.IndependentFiltering {
		var theta float64
		padj, theta = independentFilter(d.fit.baseMean, pvalue, d.engine.opts.Alpha)
		d.engine.logger.Debug("independent filtering", zap.Float64("quantile", theta))
	} else {
		padj = adjustBH(pvalue)
	}

	res := table.NewResultTable(d.features)
	columns := map[string][]float64{
		table.ColBaseMean:       append([]float64(nil), d.fit.baseMean...),
		table.ColLog2FoldChange: lfc,
		table.ColLfcSE:          lfcSE,
		table.ColStat:           stat,
		table.ColPValue:         pvalue,
		table.ColPAdj:           padj,
	}
	for _, name := range table.ResultColumns {
		if err := res.SetColumn(name, columns[name]); err != nil {
			return nil, err
		}
	}

	d.engine.logger.Info("results extracted",
		zap.String("contrast", fmt.Sprintf("%s vs %s", d.levels[len(d.levels)-1], d.levels[0])),
		zap.Int("rows", g))
	return res, nil
}
