// Package report writes the run summary: four counts as plain text and,
// optionally, a Markdown report rendered to HTML.
package report

import (
	"fmt"
	"math"
	"os"
	"strings"

	"dexpr/domain/table"
	"dexpr/internal/errors"
)

// SummaryFileName is the plain-text summary inside the output directory
const SummaryFileName = "summary_report.txt"

// Summary thresholds are fixed and do not follow the plotting thresholds.
const (
	SignificantPAdj = 0.05
	FoldChangeLFC   = 1.0
)

// Counts are the four summary figures
type Counts struct {
	Total       int
	Significant int
	Up          int
	Down        int
}

// Count tallies the result table. NaN values never count.
func Count(res *table.ResultTable) (Counts, error) {
	padj, err := res.MustColumn(table.ColPAdj)
	if err != nil {
		return Counts{}, err
	}
	lfc, err := res.MustColumn(table.ColLog2FoldChange)
	if err != nil {
		return Counts{}, err
	}

	c := Counts{Total: res.Len()}
	for i := range res.Features {
		if !math.IsNaN(padj[i]) && padj[i] < SignificantPAdj {
			c.Significant++
		}
		switch {
		case lfc[i] > FoldChangeLFC:
			c.Up++
		case lfc[i] < -FoldChangeLFC:
			c.Down++
		}
	}
	return c, nil
}

// Lines renders the counts as "label: value" lines
func (c Counts) Lines() []string {
	return []string{
		fmt.Sprintf("Total genes analyzed: %d", c.Total),
		fmt.Sprintf("Significant genes (padj < %g): %d", SignificantPAdj, c.Significant),
		fmt.Sprintf("Upregulated genes (log2FoldChange > %g): %d", FoldChangeLFC, c.Up),
		fmt.Sprintf("Downregulated genes (log2FoldChange < -%g): %d", FoldChangeLFC, c.Down),
	}
}

// WriteSummary writes the counts to path
func WriteSummary(path string, c Counts) error {
	body := strings.Join(c.Lines(), "\n") + "\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return errors.IOError(path, err)
	}
	return nil
}
