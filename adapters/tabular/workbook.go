package tabular

import (
	"math"

	"dexpr/domain/table"
	"dexpr/internal/errors"

	"github.com/xuri/excelize/v2"
)

// WorkbookFileName is the optional Excel export of the result table
const WorkbookFileName = "deseq2_results.xlsx"

const resultsSheet = "Sheet1"

// WriteResultWorkbook writes the result table to a single-sheet workbook.
// NaN values are left as blank cells.
func WriteResultWorkbook(path string, res *table.ResultTable) error {
	f := excelize.NewFile()
	defer f.Close()

	header := make([]interface{}, 0, len(res.Columns)+1)
	header = append(header, "")
	for _, name := range res.Columns {
		header = append(header, name)
	}
	if err := f.SetSheetRow(resultsSheet, "A1", &header); err != nil {
		return errors.IOError(path, err)
	}

	cols := make([][]float64, len(res.Columns))
	for j, name := range res.Columns {
		cols[j], _ = res.Column(name)
	}
	for i, feature := range res.Features {
		row := make([]interface{}, len(cols)+1)
		row[0] = feature
		for j, col := range cols {
			if math.IsNaN(col[i]) || math.IsInf(col[i], 0) {
				row[j+1] = nil
				continue
			}
			row[j+1] = col[i]
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return errors.IOError(path, err)
		}
		if err := f.SetSheetRow(resultsSheet, cell, &row); err != nil {
			return errors.IOError(path, err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return errors.IOError(path, err)
	}
	return nil
}
