package tabular

import (
	"encoding/csv"
	"math"
	"os"
	"strconv"

	"dexpr/domain/table"
	"dexpr/internal/errors"
)

// ResultsFileName is the persisted result table inside the output directory
const ResultsFileName = "deseq2_results.csv"

// WriteResultTable writes the result table as CSV with the row index first.
// NaN values are written as empty cells.
func WriteResultTable(path string, res *table.ResultTable) error {
	header := append([]string{""}, res.Columns...)
	cols := make([][]float64, len(res.Columns))
	for j, name := range res.Columns {
		cols[j], _ = res.Column(name)
	}

	rows := make([][]string, 0, res.Len()+1)
	rows = append(rows, header)
	for i, feature := range res.Features {
		row := make([]string, len(cols)+1)
		row[0] = feature
		for j, col := range cols {
			row[j+1] = formatFloat(col[i])
		}
		rows = append(rows, row)
	}
	return writeCSV(path, ',', rows)
}

// WriteCountMatrix writes counts with features as rows and samples as columns
func WriteCountMatrix(path string, counts *table.CountMatrix) error {
	rows := make([][]string, 0, len(counts.Features)+1)
	rows = append(rows, append([]string{""}, counts.Samples...))
	for i, feature := range counts.Features {
		row := make([]string, len(counts.Samples)+1)
		row[0] = feature
		for j := range counts.Samples {
			row[j+1] = formatFloat(counts.Counts.At(i, j))
		}
		rows = append(rows, row)
	}
	return writeCSV(path, ',', rows)
}

// WriteSampleMetadata writes sample covariates with samples as rows
func WriteSampleMetadata(path string, meta *table.SampleMetadata) error {
	rows := make([][]string, 0, len(meta.Samples)+1)
	rows = append(rows, append([]string{""}, meta.Covariates...))
	for i, sample := range meta.Samples {
		rows = append(rows, append([]string{sample}, meta.Values[i]...))
	}
	return writeCSV(path, ',', rows)
}

func writeCSV(path string, comma rune, rows [][]string) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.IOError(path, err)
	}

	w := csv.NewWriter(file)
	w.Comma = comma
	if err := w.WriteAll(rows); err != nil {
		file.Close()
		return errors.IOError(path, err)
	}
	if err := file.Close(); err != nil {
		return errors.IOError(path, err)
	}
	return nil
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
