package tabular

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"dexpr/domain/table"
	"dexpr/internal/errors"

	"github.com/xuri/excelize/v2"
	"gonum.org/v1/gonum/mat"
)

// Format of an input table
type Format string

const (
	FormatCSV  Format = "csv"
	FormatTSV  Format = "tsv"
	FormatXLSX Format = "xlsx"
)

// FormatFor picks the table format from a file extension. Unknown extensions read as CSV.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tsv", ".tab", ".txt":
		return FormatTSV
	case ".xlsx", ".xlsm":
		return FormatXLSX
	default:
		return FormatCSV
	}
}

// Reader reads delimited files or Excel workbooks whose first column is the row index
type Reader struct {
	filePath string
	format   Format
}

// NewReader creates a reader with the format inferred from the file extension
func NewReader(filePath string) *Reader {
	return &Reader{filePath: filePath, format: FormatFor(filePath)}
}

// ReadFrame parses the file into a Frame
func (r *Reader) ReadFrame() (*table.Frame, error) {
	if _, err := os.Stat(r.filePath); err != nil {
		return nil, errors.WithCode(errors.CodeDataFormat, errors.Wrapf(err, "input file not found: %s", r.filePath))
	}

	var rows [][]string
	var err error
	switch r.format {
	case FormatXLSX:
		rows, err = r.readExcelRows()
	default:
		rows, err = r.readDelimitedRows()
	}
	if err != nil {
		return nil, err
	}
	return buildFrame(r.filePath, rows)
}

func (r *Reader) readDelimitedRows() ([][]string, error) {
	file, err := os.Open(r.filePath)
	if err != nil {
		return nil, errors.WithCode(errors.CodeDataFormat, errors.Wrapf(err, "failed to open %s", r.filePath))
	}
	defer file.Close()

	reader := csv.NewReader(file)
	if r.format == FormatTSV {
		reader.Comma = '\t'
		reader.LazyQuotes = true
	}

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.WithCode(errors.CodeDataFormat, errors.Wrapf(err, "malformed table %s", r.filePath))
		}
		rows = append(rows, record)
	}
	return rows, nil
}

func (r *Reader) readExcelRows() ([][]string, error) {
	f, err := excelize.OpenFile(r.filePath)
	if err != nil {
		return nil, errors.WithCode(errors.CodeDataFormat, errors.Wrapf(err, "failed to open workbook %s", r.filePath))
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.DataFormatError(fmt.Sprintf("workbook %s has no sheets", r.filePath))
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, errors.WithCode(errors.CodeDataFormat, errors.Wrapf(err, "failed to read sheet %s", sheets[0]))
	}

	// GetRows trims trailing empty cells; pad to the header width.
	if len(rows) > 0 {
		width := len(rows[0])
		for i := range rows {
			for len(rows[i]) < width {
				rows[i] = append(rows[i], "")
			}
		}
	}
	return rows, nil
}

// buildFrame splits raw rows into index, header and cells
func buildFrame(path string, rows [][]string) (*table.Frame, error) {
	if len(rows) < 2 {
		return nil, errors.DataFormatError(fmt.Sprintf("%s must have a header row and at least one data row", path))
	}
	header := rows[0]
	if len(header) < 2 {
		return nil, errors.DataFormatError(fmt.Sprintf("%s must have an index column and at least one data column", path))
	}

	frame := &table.Frame{
		IndexName: strings.TrimSpace(header[0]),
		Header:    make([]string, len(header)-1),
		Index:     make([]string, 0, len(rows)-1),
		Cells:     make([][]string, 0, len(rows)-1),
	}
	seenCols := make(map[string]struct{}, len(header))
	for i, h := range header[1:] {
		h = strings.TrimSpace(h)
		if _, dup := seenCols[h]; dup {
			return nil, errors.DataFormatError(fmt.Sprintf("%s has duplicate column %q", path, h))
		}
		seenCols[h] = struct{}{}
		frame.Header[i] = h
	}

	seenRows := make(map[string]int, len(rows))
	for line, row := range rows[1:] {
		if len(row) == 1 && strings.TrimSpace(row[0]) == "" {
			continue
		}
		if len(row) != len(header) {
			return nil, errors.DataFormatError(fmt.Sprintf("%s line %d has %d fields, expected %d", path, line+2, len(row), len(header)))
		}
		id := strings.TrimSpace(row[0])
		if prev, dup := seenRows[id]; dup {
			return nil, errors.DataFormatError(fmt.Sprintf("%s has duplicate index %q (lines %d and %d)", path, id, prev, line+2))
		}
		seenRows[id] = line + 2

		cells := make([]string, len(row)-1)
		for j, c := range row[1:] {
			cells[j] = strings.TrimSpace(c)
		}
		frame.Index = append(frame.Index, id)
		frame.Cells = append(frame.Cells, cells)
	}
	if len(frame.Index) == 0 {
		return nil, errors.DataFormatError(fmt.Sprintf("%s has no data rows", path))
	}
	return frame, nil
}

// LoadCountMatrix reads a feature x sample count table
func LoadCountMatrix(path string) (*table.CountMatrix, error) {
	frame, err := NewReader(path).ReadFrame()
	if err != nil {
		return nil, err
	}
	return CountMatrixFromFrame(path, frame)
}

// CountMatrixFromFrame converts a frame of numeric cells into a count matrix
func CountMatrixFromFrame(path string, frame *table.Frame) (*table.CountMatrix, error) {
	counts := mat.NewDense(frame.Rows(), len(frame.Header), nil)
	for i, row := range frame.Cells {
		for j, cell := range row {
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, errors.DataFormatError(fmt.Sprintf("%s: count for feature %q sample %q is not a number: %q", path, frame.Index[i], frame.Header[j], cell))
			}
			counts.Set(i, j, v)
		}
	}
	return table.NewCountMatrix(frame.Index, frame.Header, counts)
}

// LoadSampleMetadata reads a sample x covariate table
func LoadSampleMetadata(path string) (*table.SampleMetadata, error) {
	frame, err := NewReader(path).ReadFrame()
	if err != nil {
		return nil, err
	}
	return table.NewSampleMetadata(frame.Index, frame.Header, frame.Cells)
}

// LoadResultTable reads a result table written by WriteResultTable or by DESeq2's write.csv
func LoadResultTable(path string) (*table.ResultTable, error) {
	frame, err := NewReader(path).ReadFrame()
	if err != nil {
		return nil, err
	}
	return ResultTableFromFrame(path, frame)
}

// ResultTableFromFrame converts a frame into a result table. NA, NaN and empty cells become NaN.
func ResultTableFromFrame(path string, frame *table.Frame) (*table.ResultTable, error) {
	res := table.NewResultTable(frame.Index)
	for j, name := range frame.Header {
		col := make([]float64, frame.Rows())
		for i, row := range frame.Cells {
			v, err := parseNullableFloat(row[j])
			if err != nil {
				return nil, errors.DataFormatError(fmt.Sprintf("%s: %s for feature %q is not a number: %q", path, name, frame.Index[i], row[j]))
			}
			col[i] = v
		}
		if err := res.SetColumn(name, col); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func parseNullableFloat(cell string) (float64, error) {
	switch cell {
	case "", "NA", "NaN", "nan", "<NA>":
		return math.NaN(), nil
	}
	return strconv.ParseFloat(cell, 64)
}
