package tabular

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"dexpr/domain/table"
	"dexpr/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestFormatFor(t *testing.T) {
	assert.Equal(t, FormatCSV, FormatFor("counts.csv"))
	assert.Equal(t, FormatTSV, FormatFor("counts.TSV"))
	assert.Equal(t, FormatTSV, FormatFor("counts.txt"))
	assert.Equal(t, FormatXLSX, FormatFor("counts.xlsx"))
	assert.Equal(t, FormatCSV, FormatFor("counts"))
}

func TestLoadCountMatrixCSV(t *testing.T) {
	path := writeFile(t, t.TempDir(), "counts.csv", ",s1,s2,s3\ng1,10,0,5\ng2,3,4,1\n")

	counts, err := LoadCountMatrix(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"g1", "g2"}, counts.Features)
	assert.Equal(t, []string{"s1", "s2", "s3"}, counts.Samples)
	assert.Equal(t, 5.0, counts.Counts.At(0, 2))
	assert.Equal(t, 4.0, counts.Counts.At(1, 1))
}

func TestLoadCountMatrixTSV(t *testing.T) {
	path := writeFile(t, t.TempDir(), "counts.tsv", "gene\ts1\ts2\ng1\t1\t2\n")

	counts, err := LoadCountMatrix(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"g1"}, counts.Features)
	assert.Equal(t, 2.0, counts.Counts.At(0, 1))
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		body string
	}{
		{"duplicate index", ",s1,s2\ng1,1,2\ng1,3,4\n"},
		{"duplicate column", ",s1,s1\ng1,1,2\n"},
		{"non numeric count", ",s1,s2\ng1,1,many\n"},
		{"header only", ",s1,s2\n"},
		{"index only", "gene\ng1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, "bad.csv", tt.body)
			_, err := LoadCountMatrix(path)
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.CodeDataFormat), "got %v", err)
		})
	}

	_, err := LoadCountMatrix(filepath.Join(dir, "missing.csv"))
	require.Error(t, err)
	assert.Equal(t, errors.CodeDataFormat, errors.GetCode(err))

	_, err = LoadSampleMetadata(filepath.Join(dir, "missing.csv"))
	assert.Equal(t, errors.CodeDataFormat, errors.GetCode(err))
}

func TestLoadSampleMetadata(t *testing.T) {
	path := writeFile(t, t.TempDir(), "meta.csv", "sample,condition,batch\ns1,control,1\ns2,treated,2\n")

	meta, err := LoadSampleMetadata(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"condition", "batch"}, meta.Covariates)
	v, ok := meta.Value("s2", "condition")
	require.True(t, ok)
	assert.Equal(t, "treated", v)
}

func sampleResults(t *testing.T) *table.ResultTable {
	t.Helper()
	res := table.NewResultTable([]string{"g1", "g2", "g3"})
	values := map[string][]float64{
		table.ColBaseMean:       {100.5, 0, 12.25},
		table.ColLog2FoldChange: {2.5, math.NaN(), -1.25},
		table.ColLfcSE:          {0.5, math.NaN(), 0.25},
		table.ColStat:           {5, math.NaN(), -5},
		table.ColPValue:         {1e-7, math.NaN(), 0.5},
		table.ColPAdj:           {3e-7, math.NaN(), math.NaN()},
	}
	for _, name := range table.ResultColumns {
		require.NoError(t, res.SetColumn(name, values[name]))
	}
	return res
}

func assertSameResults(t *testing.T, want, got *table.ResultTable) {
	t.Helper()
	assert.Equal(t, want.Features, got.Features)
	assert.Equal(t, want.Columns, got.Columns)
	for _, name := range want.Columns {
		w, _ := want.Column(name)
		g, ok := got.Column(name)
		require.True(t, ok, name)
		for i := range w {
			if math.IsNaN(w[i]) {
				assert.True(t, math.IsNaN(g[i]), "%s[%d] should be NaN", name, i)
				continue
			}
			assert.InDelta(t, w[i], g[i], 1e-12, "%s[%d]", name, i)
		}
	}
}

func TestResultTableRoundTrip(t *testing.T) {
	res := sampleResults(t)
	path := filepath.Join(t.TempDir(), ResultsFileName)

	require.NoError(t, WriteResultTable(path, res))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), ",baseMean,log2FoldChange,lfcSE,stat,pvalue,padj\n")
	assert.Contains(t, string(data), "g2,0,,,,,\n")

	back, err := LoadResultTable(path)
	require.NoError(t, err)
	assertSameResults(t, res, back)
}

func TestResultTableReadsNA(t *testing.T) {
	path := writeFile(t, t.TempDir(), "r.csv", "\"\",\"baseMean\",\"padj\"\n\"g1\",1.5,NA\n\"g2\",0,0.01\n")

	res, err := LoadResultTable(path)
	require.NoError(t, err)
	padj, _ := res.Column(table.ColPAdj)
	assert.True(t, math.IsNaN(padj[0]))
	assert.Equal(t, 0.01, padj[1])
}

func TestWorkbookRoundTrip(t *testing.T) {
	res := sampleResults(t)
	path := filepath.Join(t.TempDir(), WorkbookFileName)

	require.NoError(t, WriteResultWorkbook(path, res))
	back, err := LoadResultTable(path)
	require.NoError(t, err)
	assertSameResults(t, res, back)
}

func TestCountMatrixAndMetadataRoundTrip(t *testing.T) {
	dir := t.TempDir()
	countsPath := writeFile(t, dir, "in.csv", ",a,b\nx,1,2\ny,3,4\n")
	counts, err := LoadCountMatrix(countsPath)
	require.NoError(t, err)

	out := filepath.Join(dir, "out.csv")
	require.NoError(t, WriteCountMatrix(out, counts))
	back, err := LoadCountMatrix(out)
	require.NoError(t, err)
	assert.Equal(t, counts.Features, back.Features)
	assert.Equal(t, counts.Counts.RawMatrix().Data, back.Counts.RawMatrix().Data)

	meta, err := table.NewSampleMetadata([]string{"a", "b"}, []string{"condition"}, [][]string{{"x"}, {"y"}})
	require.NoError(t, err)
	metaPath := filepath.Join(dir, "meta.csv")
	require.NoError(t, WriteSampleMetadata(metaPath, meta))
	metaBack, err := LoadSampleMetadata(metaPath)
	require.NoError(t, err)
	assert.Equal(t, meta.Values, metaBack.Values)
}

func TestWriteResultTableUnwritable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing-dir", ResultsFileName)
	err := WriteResultTable(path, sampleResults(t))
	require.Error(t, err)
	assert.Equal(t, errors.CodeIO, errors.GetCode(err))
}
