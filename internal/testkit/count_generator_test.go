package testkit

import (
	"math"
	"testing"

	"dexpr/adapters/tabular"
	"dexpr/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestGenerateDimensions(t *testing.T) {
	cfg := DefaultCountConfig()
	cfg.Genes = 120
	cfg.SamplesPerGroup = 4
	cfg.Groups = []string{"control", "low", "high"}

	ds, err := NewCountDataGenerator(cfg).Generate()
	require.NoError(t, err)

	features, samples := ds.Counts.Dims()
	assert.Equal(t, 120, features)
	assert.Equal(t, 12, samples)
	assert.Equal(t, "gene_00001", ds.Counts.Features[0])
	assert.Equal(t, "sample_12", ds.Counts.Samples[11])
	assert.Len(t, ds.TrueLFC, 120)
	assert.Len(t, ds.DE, 120)

	level, ok := ds.Metadata.Value("sample_05", "condition")
	require.True(t, ok)
	assert.Equal(t, "low", level)
	level, _ = ds.Metadata.Value("sample_12", "condition")
	assert.Equal(t, "high", level)

	for i := 0; i < features; i++ {
		for j := 0; j < samples; j++ {
			v := ds.Counts.Counts.At(i, j)
			assert.GreaterOrEqual(t, v, 0.0)
			assert.Equal(t, math.Trunc(v), v)
		}
		if ds.DE[i] {
			assert.Equal(t, cfg.Log2FoldChange, math.Abs(ds.TrueLFC[i]))
		} else {
			assert.Zero(t, ds.TrueLFC[i])
		}
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	cfg := DefaultCountConfig()
	cfg.Genes = 50

	a, err := NewCountDataGenerator(cfg).Generate()
	require.NoError(t, err)
	b, err := NewCountDataGenerator(cfg).Generate()
	require.NoError(t, err)
	assert.True(t, mat.Equal(a.Counts.Counts, b.Counts.Counts))
	assert.Equal(t, a.DE, b.DE)

	cfg.Seed++
	c, err := NewCountDataGenerator(cfg).Generate()
	require.NoError(t, err)
	assert.False(t, mat.Equal(a.Counts.Counts, c.Counts.Counts))
}

func TestGenerateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CountGeneratorConfig)
	}{
		{"no genes", func(c *CountGeneratorConfig) { c.Genes = 0 }},
		{"no samples", func(c *CountGeneratorConfig) { c.SamplesPerGroup = 0 }},
		{"one group", func(c *CountGeneratorConfig) { c.Groups = []string{"control"} }},
		{"inverted mean range", func(c *CountGeneratorConfig) { c.MinMean, c.MaxMean = 100, 10 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultCountConfig()
			tt.mutate(&cfg)
			_, err := NewCountDataGenerator(cfg).Generate()
			require.Error(t, err)
			assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
		})
	}
}

func TestWriteDatasetRoundTrip(t *testing.T) {
	cfg := DefaultCountConfig()
	cfg.Genes = 25
	ds, err := NewCountDataGenerator(cfg).Generate()
	require.NoError(t, err)

	countsPath, metaPath, err := WriteDataset(t.TempDir(), ds)
	require.NoError(t, err)

	counts, err := tabular.LoadCountMatrix(countsPath)
	require.NoError(t, err)
	assert.Equal(t, ds.Counts.Features, counts.Features)
	assert.Equal(t, ds.Counts.Samples, counts.Samples)
	assert.True(t, mat.Equal(ds.Counts.Counts, counts.Counts))

	meta, err := tabular.LoadSampleMetadata(metaPath)
	require.NoError(t, err)
	assert.True(t, meta.HasCovariate("condition"))
	level, ok := meta.Value("sample_01", "condition")
	require.True(t, ok)
	assert.Equal(t, "control", level)
}
