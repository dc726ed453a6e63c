package table

import (
	"fmt"
	"math"
	"sort"

	"dexpr/internal/errors"
)

// Standard result columns, in the order the engines emit them.
const (
	ColBaseMean       = "baseMean"
	ColLog2FoldChange = "log2FoldChange"
	ColLfcSE          = "lfcSE"
	ColStat           = "stat"
	ColPValue         = "pvalue"
	ColPAdj           = "padj"
)

// ResultColumns is the column set produced by every engine
var ResultColumns = []string{ColBaseMean, ColLog2FoldChange, ColLfcSE, ColStat, ColPValue, ColPAdj}

// ResultTable holds per-feature differential expression results. NaN encodes NA.
type ResultTable struct {
	Features []string
	Columns  []string
	data     map[string][]float64
}

// NewResultTable creates an empty table with the given feature ids and no columns
func NewResultTable(features []string) *ResultTable {
	return &ResultTable{
		Features: features,
		data:     make(map[string][]float64),
	}
}

// Len returns the number of rows
func (t *ResultTable) Len() int {
	return len(t.Features)
}

// SetColumn adds or replaces a column. New columns are appended to Columns.
func (t *ResultTable) SetColumn(name string, values []float64) error {
	if len(values) != len(t.Features) {
		return errors.InternalError(fmt.Sprintf("column %s has %d values for %d features", name, len(values), len(t.Features)))
	}
	if _, ok := t.data[name]; !ok {
		t.Columns = append(t.Columns, name)
	}
	t.data[name] = values
	return nil
}

// Column returns a column by name
func (t *ResultTable) Column(name string) ([]float64, bool) {
	v, ok := t.data[name]
	return v, ok
}

// MustColumn returns a column or a LookupError naming it
func (t *ResultTable) MustColumn(name string) ([]float64, error) {
	v, ok := t.data[name]
	if !ok {
		return nil, errors.LookupError(fmt.Sprintf("result table has no %s column", name))
	}
	return v, nil
}

// TopByPAdj returns up to n feature ids ordered by ascending padj.
// Rows with NaN padj are skipped; ties keep table order.
func (t *ResultTable) TopByPAdj(n int) ([]string, error) {
	padj, err := t.MustColumn(ColPAdj)
	if err != nil {
		return nil, err
	}
	idx := make([]int, 0, len(padj))
	for i, p := range padj {
		if !math.IsNaN(p) {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return padj[idx[a]] < padj[idx[b]]
	})
	if n >= 0 && n < len(idx) {
		idx = idx[:n]
	}
	out := make([]string, len(idx))
	for k, i := range idx {
		out[k] = t.Features[i]
	}
	return out, nil
}
