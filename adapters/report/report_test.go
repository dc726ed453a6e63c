package report

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"dexpr/domain/table"
	"dexpr/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixture(t *testing.T) *table.ResultTable {
	t.Helper()
	nan := math.NaN()
	res := table.NewResultTable([]string{"g1", "g2", "g3", "g4", "g5", "g6"})
	require.NoError(t, res.SetColumn(table.ColBaseMean, []float64{100, 50, 0, 20, 75, 33}))
	require.NoError(t, res.SetColumn(table.ColLog2FoldChange, []float64{2.5, -1.5, nan, 0.5, 1, -1}))
	require.NoError(t, res.SetColumn(table.ColLfcSE, []float64{0.3, 0.4, nan, 0.2, 0.3, 0.5}))
	require.NoError(t, res.SetColumn(table.ColStat, []float64{8, -3.7, nan, 2.5, 3.3, -2}))
	require.NoError(t, res.SetColumn(table.ColPValue, []float64{1e-10, 2e-4, nan, 0.01, 9e-4, 0.04}))
	require.NoError(t, res.SetColumn(table.ColPAdj, []float64{6e-10, 6e-4, nan, 0.05, 2.7e-3, nan}))
	return res
}

func TestCount(t *testing.T) {
	c, err := Count(fixture(t))
	require.NoError(t, err)
	// padj 0.05 is not below the threshold; |lfc| == 1 is not beyond it.
	assert.Equal(t, Counts{Total: 6, Significant: 3, Up: 1, Down: 1}, c)
}

func TestCountMissingColumn(t *testing.T) {
	res := table.NewResultTable([]string{"g1"})
	_, err := Count(res)
	assert.Equal(t, errors.CodeLookup, errors.GetCode(err))
}

func TestWriteSummary(t *testing.T) {
	path := filepath.Join(t.TempDir(), SummaryFileName)
	require.NoError(t, WriteSummary(path, Counts{Total: 100, Significant: 12, Up: 7, Down: 4}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Total genes analyzed: 100\n"+
		"Significant genes (padj < 0.05): 12\n"+
		"Upregulated genes (log2FoldChange > 1): 7\n"+
		"Downregulated genes (log2FoldChange < -1): 4\n", string(data))
}

func TestWriteSummaryUnwritable(t *testing.T) {
	err := WriteSummary(filepath.Join(t.TempDir(), "missing", SummaryFileName), Counts{})
	require.Error(t, err)
	assert.Equal(t, errors.CodeIO, errors.GetCode(err))
}

func TestBuildMarkdown(t *testing.T) {
	res := fixture(t)
	c, err := Count(res)
	require.NoError(t, err)

	md, err := BuildMarkdown(res, c, Params{
		Engine:          "native",
		CountsPath:      "data/counts.csv",
		MetadataPath:    "data/metadata.csv",
		PValueThreshold: 0.05,
		LFCThreshold:    1,
		TopGenes:        2,
		GeneratedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	text := string(md)

	assert.Contains(t, text, "Generated 2026-03-01T12:00:00Z")
	assert.Contains(t, text, "- Total genes analyzed: 6\n")
	assert.Contains(t, text, "| engine | native |")
	assert.Contains(t, text, "## Top 2 features by adjusted p-value")
	assert.Contains(t, text, "| g1 | 100 | 2.5 | 0.3 | 8 | 1e-10 | 6e-10 |")
	assert.Contains(t, text, "| g2 |")
	assert.NotContains(t, text, "| g5 |")
}

func TestBuildMarkdownWithoutAdjustedPValues(t *testing.T) {
	nan := math.NaN()
	res := table.NewResultTable([]string{"g1"})
	require.NoError(t, res.SetColumn(table.ColLog2FoldChange, []float64{nan}))
	require.NoError(t, res.SetColumn(table.ColPAdj, []float64{nan}))

	md, err := BuildMarkdown(res, Counts{Total: 1}, Params{TopGenes: 10})
	require.NoError(t, err)
	assert.Contains(t, string(md), "No feature has an adjusted p-value.")
}

func TestWriteMarkdownReport(t *testing.T) {
	dir := t.TempDir()
	res := fixture(t)
	c, err := Count(res)
	require.NoError(t, err)

	mdPath := filepath.Join(dir, MarkdownFileName)
	htmlPath := filepath.Join(dir, HTMLFileName)
	require.NoError(t, WriteMarkdownReport(mdPath, htmlPath, res, c, Params{Engine: "native", TopGenes: 3}))

	assert.FileExists(t, mdPath)
	page, err := os.ReadFile(htmlPath)
	require.NoError(t, err)
	assert.Contains(t, string(page), "<title>Differential expression summary</title>")
	assert.Contains(t, string(page), "<table>")
	assert.Contains(t, string(page), "<td>native</td>")
}
