package testkit

import (
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"

	"dexpr/adapters/tabular"
	"dexpr/domain/table"
	"dexpr/internal/errors"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// File names written by WriteDataset
const (
	CountsFileName   = "counts.csv"
	MetadataFileName = "metadata.csv"
)

// CountGeneratorConfig configures the synthetic RNA-seq count generator
type CountGeneratorConfig struct {
	Genes           int      `json:"genes"`
	SamplesPerGroup int      `json:"samples_per_group"`
	Groups          []string `json:"groups"`
	Covariate       string   `json:"covariate"`
	// DEFraction of genes get a nonzero true log2 fold change in every non-reference group
	DEFraction float64 `json:"de_fraction"`
	// Log2FoldChange is the magnitude of the true effect; the sign is random
	Log2FoldChange float64 `json:"log2_fold_change"`
	// Mean expression is log-uniform in [MinMean, MaxMean]
	MinMean float64 `json:"min_mean"`
	MaxMean float64 `json:"max_mean"`
	// Dispersion follows AsymptoticDispersion + ExtraPoisson/mean
	AsymptoticDispersion float64 `json:"asymptotic_dispersion"`
	ExtraPoisson         float64 `json:"extra_poisson"`
	// SizeFactorSD is the standard deviation of log size factors
	SizeFactorSD float64 `json:"size_factor_sd"`
	Seed         uint64  `json:"seed"`
}

// DefaultCountConfig returns sensible defaults for a two-group experiment
func DefaultCountConfig() CountGeneratorConfig {
	return CountGeneratorConfig{
		Genes:                1000,
		SamplesPerGroup:      3,
		Groups:               []string{"control", "treated"},
		Covariate:            "condition",
		DEFraction:           0.1,
		Log2FoldChange:       2,
		MinMean:              10,
		MaxMean:              2000,
		AsymptoticDispersion: 0.05,
		ExtraPoisson:         1,
		SizeFactorSD:         0.2,
		Seed:                 42,
	}
}

// CountDataset is a generated count matrix with its sample metadata and ground truth
type CountDataset struct {
	Counts   *table.CountMatrix
	Metadata *table.SampleMetadata
	// TrueLFC is the log2 fold change of the last group against the first
	TrueLFC []float64
	DE      []bool
}

// CountDataGenerator draws negative binomial counts as a gamma-Poisson mixture
type CountDataGenerator struct {
	config CountGeneratorConfig
	src    *rand.PCG
	rng    *rand.Rand
}

// NewCountDataGenerator creates a new generator
func NewCountDataGenerator(config CountGeneratorConfig) *CountDataGenerator {
	src := rand.NewPCG(config.Seed, config.Seed^0x9e3779b97f4a7c15)
	return &CountDataGenerator{
		config: config,
		src:    src,
		rng:    rand.New(src),
	}
}

// Generate builds the dataset
func (g *CountDataGenerator) Generate() (*CountDataset, error) {
	cfg := g.config
	if cfg.Genes <= 0 || cfg.SamplesPerGroup <= 0 {
		return nil, errors.ConfigInvalid("genes and samples per group must be positive")
	}
	if len(cfg.Groups) < 2 {
		return nil, errors.ConfigInvalid("at least two groups are required")
	}
	if cfg.MinMean <= 0 || cfg.MaxMean < cfg.MinMean {
		return nil, errors.ConfigInvalid("mean range must be positive and ordered")
	}
	if cfg.Covariate == "" {
		cfg.Covariate = "condition"
	}

	m := cfg.SamplesPerGroup * len(cfg.Groups)
	samples := make([]string, m)
	group := make([]int, m)
	values := make([][]string, m)
	sizeFactors := make([]float64, m)
	for j := 0; j < m; j++ {
		samples[j] = fmt.Sprintf("sample_%02d", j+1)
		group[j] = j / cfg.SamplesPerGroup
		values[j] = []string{cfg.Groups[group[j]]}
		sizeFactors[j] = math.Exp(g.rng.NormFloat64() * cfg.SizeFactorSD)
	}

	features := make([]string, cfg.Genes)
	counts := mat.NewDense(cfg.Genes, m, nil)
	trueLFC := make([]float64, cfg.Genes)
	de := make([]bool, cfg.Genes)
	logMin, logMax := math.Log(cfg.MinMean), math.Log(cfg.MaxMean)
	for i := 0; i < cfg.Genes; i++ {
		features[i] = fmt.Sprintf("gene_%05d", i+1)
		base := math.Exp(logMin + g.rng.Float64()*(logMax-logMin))

		effects := make([]float64, len(cfg.Groups))
		if g.rng.Float64() < cfg.DEFraction {
			de[i] = true
			for k := 1; k < len(cfg.Groups); k++ {
				sign := 1.0
				if g.rng.IntN(2) == 0 {
					sign = -1
				}
				effects[k] = sign * cfg.Log2FoldChange
			}
		}
		trueLFC[i] = effects[len(effects)-1]

		for j := 0; j < m; j++ {
			mu := sizeFactors[j] * base * math.Exp2(effects[group[j]])
			counts.Set(i, j, g.negativeBinomial(mu, cfg.AsymptoticDispersion+cfg.ExtraPoisson/base))
		}
	}

	cm, err := table.NewCountMatrix(features, samples, counts)
	if err != nil {
		return nil, err
	}
	meta, err := table.NewSampleMetadata(samples, []string{cfg.Covariate}, values)
	if err != nil {
		return nil, err
	}
	return &CountDataset{Counts: cm, Metadata: meta, TrueLFC: trueLFC, DE: de}, nil
}

// negativeBinomial draws from NB(mu, alpha) with variance mu + alpha*mu^2
func (g *CountDataGenerator) negativeBinomial(mu, alpha float64) float64 {
	if alpha <= 0 {
		return distuv.Poisson{Lambda: mu, Src: g.src}.Rand()
	}
	shape := 1 / alpha
	lambda := distuv.Gamma{Alpha: shape, Beta: shape / mu, Src: g.src}.Rand()
	if lambda <= 0 {
		return 0
	}
	return distuv.Poisson{Lambda: lambda, Src: g.src}.Rand()
}

// WriteDataset writes counts.csv and metadata.csv into dir and returns their paths
func WriteDataset(dir string, ds *CountDataset) (string, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", errors.IOError(dir, err)
	}
	countsPath := filepath.Join(dir, CountsFileName)
	metaPath := filepath.Join(dir, MetadataFileName)
	if err := tabular.WriteCountMatrix(countsPath, ds.Counts); err != nil {
		return "", "", err
	}
	if err := tabular.WriteSampleMetadata(metaPath, ds.Metadata); err != nil {
		return "", "", err
	}
	return countsPath, metaPath, nil
}
