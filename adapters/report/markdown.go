package report

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"dexpr/domain/table"
	"dexpr/internal/errors"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// Markdown and HTML report names inside the output directory
const (
	MarkdownFileName = "summary_report.md"
	HTMLFileName     = "summary_report.html"
)

// Params are the run settings echoed in the Markdown report
type Params struct {
	Engine          string
	CountsPath      string
	MetadataPath    string
	PValueThreshold float64
	LFCThreshold    float64
	TopGenes        int
	GeneratedAt     time.Time
}

// BuildMarkdown assembles the report: counts, run parameters and the top features by padj
func BuildMarkdown(res *table.ResultTable, c Counts, params Params) ([]byte, error) {
	top, err := res.TopByPAdj(params.TopGenes)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString("# Differential expression summary\n\n")
	if !params.GeneratedAt.IsZero() {
		fmt.Fprintf(&b, "Generated %s\n\n", params.GeneratedAt.UTC().Format(time.RFC3339))
	}

	b.WriteString("## Counts\n\n")
	for _, line := range c.Lines() {
		fmt.Fprintf(&b, "- %s\n", line)
	}

	b.WriteString("\n## Parameters\n\n")
	b.WriteString("| Parameter | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| engine | %s |\n", params.Engine)
	fmt.Fprintf(&b, "| counts | `%s` |\n", params.CountsPath)
	fmt.Fprintf(&b, "| metadata | `%s` |\n", params.MetadataPath)
	fmt.Fprintf(&b, "| pval_threshold | %g |\n", params.PValueThreshold)
	fmt.Fprintf(&b, "| lfc_threshold | %g |\n", params.LFCThreshold)
	fmt.Fprintf(&b, "| top_genes | %d |\n", params.TopGenes)

	fmt.Fprintf(&b, "\n## Top %d features by adjusted p-value\n\n", len(top))
	if len(top) == 0 {
		b.WriteString("No feature has an adjusted p-value.\n")
		return []byte(b.String()), nil
	}

	index := make(map[string]int, res.Len())
	for i, f := range res.Features {
		index[f] = i
	}
	b.WriteString("| feature |")
	for _, name := range res.Columns {
		fmt.Fprintf(&b, " %s |", name)
	}
	b.WriteString("\n|---|")
	b.WriteString(strings.Repeat("---:|", len(res.Columns)))
	b.WriteString("\n")
	for _, f := range top {
		fmt.Fprintf(&b, "| %s |", f)
		for _, name := range res.Columns {
			col, _ := res.Column(name)
			fmt.Fprintf(&b, " %s |", formatCell(col[index[f]]))
		}
		b.WriteString("\n")
	}
	return []byte(b.String()), nil
}

// RenderHTML converts Markdown to a standalone HTML page
func RenderHTML(md []byte, title string) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	doc := p.Parse(md)
	renderer := html.NewRenderer(html.RendererOptions{
		Title: title,
		Flags: html.CommonFlags | html.CompletePage,
	})
	return markdown.Render(doc, renderer)
}

// WriteMarkdownReport writes the Markdown report and its HTML rendering
func WriteMarkdownReport(mdPath, htmlPath string, res *table.ResultTable, c Counts, params Params) error {
	md, err := BuildMarkdown(res, c, params)
	if err != nil {
		return err
	}
	if err := os.WriteFile(mdPath, md, 0o644); err != nil {
		return errors.IOError(mdPath, err)
	}
	page := RenderHTML(md, "Differential expression summary")
	if err := os.WriteFile(htmlPath, page, 0o644); err != nil {
		return errors.IOError(htmlPath, err)
	}
	return nil
}

func formatCell(v float64) string {
	if math.IsNaN(v) {
		return "NA"
	}
	return strconv.FormatFloat(v, 'g', 4, 64)
}
