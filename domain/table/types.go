package table

import (
	"fmt"

	"dexpr/internal/errors"

	"gonum.org/v1/gonum/mat"
)

// Frame is a parsed delimited table: a row index, a header and string cells.
// Header excludes the index column.
type Frame struct {
	IndexName string
	Index     []string
	Header    []string
	Cells     [][]string
}

// Rows returns the number of data rows
func (f *Frame) Rows() int {
	return len(f.Index)
}

// ColumnIndex returns the position of a header column, or -1
func (f *Frame) ColumnIndex(name string) int {
	for i, h := range f.Header {
		if h == name {
			return i
		}
	}
	return -1
}

// CountMatrix holds raw read counts, one row per feature and one column per sample.
type CountMatrix struct {
	Features []string
	Samples  []string
	Counts   *mat.Dense

	featureRow map[string]int
}

// NewCountMatrix builds a count matrix. counts must be len(features) x len(samples).
func NewCountMatrix(features, samples []string, counts *mat.Dense) (*CountMatrix, error) {
	r, c := counts.Dims()
	if r != len(features) || c != len(samples) {
		return nil, errors.DataFormatError(fmt.Sprintf("count matrix is %dx%d but has %d features and %d samples", r, c, len(features), len(samples)))
	}
	rows := make(map[string]int, len(features))
	for i, f := range features {
		if _, dup := rows[f]; dup {
			return nil, errors.DataFormatError(fmt.Sprintf("duplicate feature id %q", f))
		}
		rows[f] = i
	}
	seen := make(map[string]struct{}, len(samples))
	for _, s := range samples {
		if _, dup := seen[s]; dup {
			return nil, errors.DataFormatError(fmt.Sprintf("duplicate sample id %q", s))
		}
		seen[s] = struct{}{}
	}
	return &CountMatrix{
		Features:   features,
		Samples:    samples,
		Counts:     counts,
		featureRow: rows,
	}, nil
}

// Dims returns features and samples
func (m *CountMatrix) Dims() (int, int) {
	return len(m.Features), len(m.Samples)
}

// Row returns the position of a feature id
func (m *CountMatrix) Row(feature string) (int, bool) {
	i, ok := m.featureRow[feature]
	return i, ok
}

// Subset returns the rows for the given feature ids, in the given order.
func (m *CountMatrix) Subset(features []string) (*mat.Dense, error) {
	if len(features) == 0 {
		return nil, errors.LookupError("empty feature subset")
	}
	out := mat.NewDense(len(features), len(m.Samples), nil)
	for k, f := range features {
		i, ok := m.featureRow[f]
		if !ok {
			return nil, errors.LookupError(fmt.Sprintf("feature %q not found in count matrix", f))
		}
		out.SetRow(k, m.Counts.RawRowView(i))
	}
	return out, nil
}

// SampleMetadata holds per-sample covariates as strings.
type SampleMetadata struct {
	Samples    []string
	Covariates []string
	Values     [][]string

	sampleRow map[string]int
}

// NewSampleMetadata builds sample metadata. values is len(samples) x len(covariates).
func NewSampleMetadata(samples, covariates []string, values [][]string) (*SampleMetadata, error) {
	rows := make(map[string]int, len(samples))
	for i, s := range samples {
		if _, dup := rows[s]; dup {
			return nil, errors.DataFormatError(fmt.Sprintf("duplicate sample id %q", s))
		}
		if len(values[i]) != len(covariates) {
			return nil, errors.DataFormatError(fmt.Sprintf("sample %q has %d values, expected %d", s, len(values[i]), len(covariates)))
		}
		rows[s] = i
	}
	return &SampleMetadata{
		Samples:    samples,
		Covariates: covariates,
		Values:     values,
		sampleRow:  rows,
	}, nil
}

// HasCovariate reports whether the metadata carries the named column
func (m *SampleMetadata) HasCovariate(name string) bool {
	return m.covariateIndex(name) >= 0
}

// Value returns the covariate value for a sample
func (m *SampleMetadata) Value(sample, covariate string) (string, bool) {
	i, ok := m.sampleRow[sample]
	if !ok {
		return "", false
	}
	j := m.covariateIndex(covariate)
	if j < 0 {
		return "", false
	}
	return m.Values[i][j], true
}

func (m *SampleMetadata) covariateIndex(name string) int {
	for j, c := range m.Covariates {
		if c == name {
			return j
		}
	}
	return -1
}

// Design describes a single-factor design ~ Covariate.
type Design struct {
	Covariate string
	// ReferenceLevel, when set, is used as the baseline instead of the first sorted level.
	ReferenceLevel string
}
