package plot

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"

	"dexpr/domain/table"
	"dexpr/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func results(t *testing.T, features []string, lfc, pvalue, padj []float64) *table.ResultTable {
	t.Helper()
	res := table.NewResultTable(features)
	nan := make([]float64, len(features))
	for i := range nan {
		nan[i] = math.NaN()
	}
	require.NoError(t, res.SetColumn(table.ColBaseMean, nan))
	require.NoError(t, res.SetColumn(table.ColLog2FoldChange, lfc))
	require.NoError(t, res.SetColumn(table.ColLfcSE, nan))
	require.NoError(t, res.SetColumn(table.ColStat, nan))
	require.NoError(t, res.SetColumn(table.ColPValue, pvalue))
	require.NoError(t, res.SetColumn(table.ColPAdj, padj))
	return res
}

func assertPNG(t *testing.T, path string) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, pngMagic), "%s is not a PNG", path)
}

func TestDeriveVolcano(t *testing.T) {
	nan := math.NaN()
	res := results(t,
		[]string{"up", "flat", "nolfc", "nop", "zero", "down"},
		[]float64{2, 0.1, nan, 1, 3, -4},
		[]float64{1e-4, 0.5, 0.01, nan, 0, 1e-6},
		[]float64{1e-3, 0.8, 0.02, nan, 0, nan},
	)

	view, err := DeriveVolcano(res, VolcanoOptions{PValueThreshold: 0.05, LFCThreshold: 1})
	require.NoError(t, err)

	assert.Equal(t, []string{"up", "flat", "zero", "down"}, view.Features)
	assert.Equal(t, VolcanoStats{Plotted: 4, Significant: 2, Dropped: 2, Clipped: 1}, view.Stats)
	assert.Equal(t, []bool{true, false, true, false}, view.Significant, "NaN padj is never significant")
	assert.InDelta(t, 4, view.NegLog10P[0], 1e-12)
	assert.InDelta(t, 6, view.NegLog10P[2], 1e-12, "pvalue 0 clips to the largest finite value")
	for _, y := range view.NegLog10P {
		assert.False(t, math.IsInf(y, 0))
	}

	lfc, _ := res.Column(table.ColLog2FoldChange)
	assert.True(t, math.IsNaN(lfc[2]), "result table is not modified")
}

func TestDeriveVolcanoAllZero(t *testing.T) {
	res := results(t, []string{"a", "b"}, []float64{1, -1}, []float64{0, 0}, []float64{0, 0})
	view, err := DeriveVolcano(res, VolcanoOptions{PValueThreshold: 0.05, LFCThreshold: 1})
	require.NoError(t, err)
	assert.Equal(t, []float64{maxNegLog10P, maxNegLog10P}, view.NegLog10P)
	assert.Equal(t, 0, view.Stats.Significant, "|lfc| must exceed the threshold")
}

func TestDeriveVolcanoMissingColumn(t *testing.T) {
	res := table.NewResultTable([]string{"a"})
	require.NoError(t, res.SetColumn(table.ColLog2FoldChange, []float64{1}))
	_, err := DeriveVolcano(res, VolcanoOptions{PValueThreshold: 0.05, LFCThreshold: 1})
	assert.Equal(t, errors.CodeLookup, errors.GetCode(err))
}

func TestVolcanoWritesPNG(t *testing.T) {
	res := results(t,
		[]string{"a", "b", "c"},
		[]float64{2.5, -0.2, -3},
		[]float64{1e-5, 0.4, 1e-8},
		[]float64{1e-4, 0.6, 1e-7},
	)
	path := filepath.Join(t.TempDir(), VolcanoFileName)
	stats, err := Volcano(path, res, VolcanoOptions{PValueThreshold: 0.05, LFCThreshold: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Plotted)
	assert.Equal(t, 2, stats.Significant)
	assertPNG(t, path)
}

func TestVolcanoUnwritablePath(t *testing.T) {
	res := results(t, []string{"a"}, []float64{1}, []float64{0.1}, []float64{0.2})
	path := filepath.Join(t.TempDir(), "missing", VolcanoFileName)
	_, err := Volcano(path, res, VolcanoOptions{PValueThreshold: 0.05, LFCThreshold: 1})
	require.Error(t, err)
	assert.Equal(t, errors.CodeIO, errors.GetCode(err))
}

func heatmapFixture(t *testing.T) (*table.CountMatrix, *table.ResultTable) {
	t.Helper()
	counts, err := table.NewCountMatrix(
		[]string{"g1", "g2", "g3", "g4", "g5"},
		[]string{"s1", "s2", "s3", "s4"},
		mat.NewDense(5, 4, []float64{
			10, 12, 80, 85,
			90, 88, 11, 9,
			7, 7, 7, 7,
			50, 52, 51, 49,
			1, 30, 2, 28,
		}),
	)
	require.NoError(t, err)
	nan := math.NaN()
	res := results(t, counts.Features,
		[]float64{3, -3, 0, 0, 1},
		[]float64{1e-6, 1e-5, 0.9, 0.5, 0.01},
		[]float64{1e-5, 1e-4, nan, 0.6, 0.03},
	)
	return counts, res
}

func TestPrepareHeatmap(t *testing.T) {
	counts, res := heatmapFixture(t)

	data, err := PrepareHeatmap(counts, res, 3)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"g1", "g2", "g5"}, data.Features)
	assert.ElementsMatch(t, counts.Samples, data.Samples)
	rows, cols := data.Z.Dims()
	assert.Equal(t, 4, rows)
	assert.Equal(t, 3, cols)

	col := make([]float64, rows)
	for c := 0; c < cols; c++ {
		mat.Col(col, c, data.Z)
		mean, sd := stat.MeanStdDev(col, nil)
		assert.InDelta(t, 0, mean, 1e-9)
		assert.InDelta(t, 1, sd, 1e-9)
	}

	// s1 and s2 share a profile across g1 and g2 and must be adjacent.
	pos := map[string]int{}
	for i, s := range data.Samples {
		pos[s] = i
	}
	assert.Equal(t, 1, abs(pos["s1"]-pos["s2"]))
	assert.Equal(t, 1, abs(pos["s3"]-pos["s4"]))
	assert.Equal(t, data.Samples, orderedNames(counts.Samples, data.SampleTree.Leaves()))
}

func TestPrepareHeatmapFewerFeaturesThanRequested(t *testing.T) {
	counts, res := heatmapFixture(t)
	data, err := PrepareHeatmap(counts, res, 50)
	require.NoError(t, err)
	assert.Len(t, data.Features, 4, "only features with a padj are plotted")
	assert.NotContains(t, data.Features, "g3")
}

func TestPrepareHeatmapNoAdjustedPValues(t *testing.T) {
	counts, _ := heatmapFixture(t)
	nan := math.NaN()
	all := []float64{nan, nan, nan, nan, nan}
	res := results(t, counts.Features, all, all, all)
	_, err := PrepareHeatmap(counts, res, 10)
	require.Error(t, err)
	assert.Equal(t, errors.CodeLookup, errors.GetCode(err))
}

func TestStandardizeColumnsConstant(t *testing.T) {
	m := mat.NewDense(3, 2, []float64{
		5, 1,
		5, 2,
		5, 3,
	})
	standardizeColumns(m)
	assert.Equal(t, []float64{0, 0, 0}, mat.Col(nil, 0, m))
	assert.InDeltaSlice(t, []float64{-1, 0, 1}, mat.Col(nil, 1, m), 1e-12)
}

func TestHeatmapWritesPNG(t *testing.T) {
	counts, res := heatmapFixture(t)
	path := filepath.Join(t.TempDir(), HeatmapFileName)
	data, err := Heatmap(path, counts, res, HeatmapOptions{TopGenes: 50})
	require.NoError(t, err)
	assert.Len(t, data.Features, 4)
	assertPNG(t, path)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func orderedNames(names []string, order []int) []string {
	out := make([]string, len(order))
	for i, k := range order {
		out[i] = names[k]
	}
	return out
}
