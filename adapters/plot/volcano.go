package plot

import (
	"image/color"
	"math"

	"dexpr/domain/table"
	"dexpr/internal/errors"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// VolcanoFileName is the volcano plot inside the output directory
const VolcanoFileName = "volcano_plot.png"

// maxNegLog10P stands in for -log10(0) when no finite value exists to clip to
const maxNegLog10P = 300

var (
	significantColor    = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	notSignificantColor = color.RGBA{R: 150, G: 150, B: 150, A: 255}
	thresholdColor      = color.RGBA{R: 40, G: 40, B: 40, A: 255}
)

// VolcanoOptions are the significance thresholds drawn on the plot
type VolcanoOptions struct {
	PValueThreshold float64
	LFCThreshold    float64
}

// VolcanoStats describes what was plotted
type VolcanoStats struct {
	Plotted     int
	Significant int
	// Dropped rows had a NaN pvalue or log2FoldChange
	Dropped int
	// Clipped rows had pvalue 0 and were drawn at the largest finite -log10(pvalue)
	Clipped int
}

// VolcanoView is the derived per-row data behind the plot. It is built from the
// result table without modifying it.
type VolcanoView struct {
	Features       []string
	Log2FoldChange []float64
	NegLog10P      []float64
	Significant    []bool
	Stats          VolcanoStats
}

// DeriveVolcano computes -log10(pvalue) and the significance flag for every plottable row
func DeriveVolcano(res *table.ResultTable, opts VolcanoOptions) (*VolcanoView, error) {
	lfc, err := res.MustColumn(table.ColLog2FoldChange)
	if err != nil {
		return nil, err
	}
	pvalue, err := res.MustColumn(table.ColPValue)
	if err != nil {
		return nil, err
	}
	padj, err := res.MustColumn(table.ColPAdj)
	if err != nil {
		return nil, err
	}

	view := &VolcanoView{}
	var clipped []int
	maxFinite := math.Inf(-1)
	for i := range res.Features {
		if math.IsNaN(pvalue[i]) || math.IsNaN(lfc[i]) {
			view.Stats.Dropped++
			continue
		}
		y := -math.Log10(pvalue[i])
		if math.IsInf(y, 1) {
			clipped = append(clipped, len(view.NegLog10P))
		} else if y > maxFinite {
			maxFinite = y
		}
		sig := padj[i] < opts.PValueThreshold && math.Abs(lfc[i]) > opts.LFCThreshold
		view.Features = append(view.Features, res.Features[i])
		view.Log2FoldChange = append(view.Log2FoldChange, lfc[i])
		view.NegLog10P = append(view.NegLog10P, y)
		view.Significant = append(view.Significant, sig)
		if sig {
			view.Stats.Significant++
		}
	}
	if math.IsInf(maxFinite, -1) {
		maxFinite = maxNegLog10P
	}
	for _, k := range clipped {
		view.NegLog10P[k] = maxFinite
	}
	view.Stats.Clipped = len(clipped)
	view.Stats.Plotted = len(view.NegLog10P)
	return view, nil
}

// Volcano renders log2FoldChange against -log10(pvalue) with threshold guides
func Volcano(path string, res *table.ResultTable, opts VolcanoOptions) (VolcanoStats, error) {
	view, err := DeriveVolcano(res, opts)
	if err != nil {
		return VolcanoStats{}, err
	}

	p := plot.New()
	p.Title.Text = "Volcano Plot"
	p.X.Label.Text = "log2 fold change"
	p.Y.Label.Text = "-log10(p-value)"
	p.Legend.Top = true
	p.Add(plotter.NewGrid())

	var sig, other plotter.XYs
	xmin, xmax := -opts.LFCThreshold, opts.LFCThreshold
	ymax := -math.Log10(opts.PValueThreshold)
	for i := range view.NegLog10P {
		pt := plotter.XY{X: view.Log2FoldChange[i], Y: view.NegLog10P[i]}
		if view.Significant[i] {
			sig = append(sig, pt)
		} else {
			other = append(other, pt)
		}
		xmin = math.Min(xmin, pt.X)
		xmax = math.Max(xmax, pt.X)
		ymax = math.Max(ymax, pt.Y)
	}

	if err := addScatter(p, other, notSignificantColor, "not significant"); err != nil {
		return view.Stats, err
	}
	if err := addScatter(p, sig, significantColor, "significant"); err != nil {
		return view.Stats, err
	}

	pad := 0.05 * (xmax - xmin)
	yLine := -math.Log10(opts.PValueThreshold)
	guides := []plotter.XYs{
		{{X: xmin - pad, Y: yLine}, {X: xmax + pad, Y: yLine}},
		{{X: -opts.LFCThreshold, Y: 0}, {X: -opts.LFCThreshold, Y: ymax}},
		{{X: opts.LFCThreshold, Y: 0}, {X: opts.LFCThreshold, Y: ymax}},
	}
	for _, pts := range guides {
		line, err := plotter.NewLine(pts)
		if err != nil {
			return view.Stats, errors.Wrap(err, "failed to build threshold line")
		}
		line.LineStyle.Color = thresholdColor
		line.LineStyle.Width = vg.Points(1)
		line.LineStyle.Dashes = []vg.Length{vg.Points(5), vg.Points(3)}
		p.Add(line)
	}

	if err := p.Save(8*vg.Inch, 6*vg.Inch, path); err != nil {
		return view.Stats, errors.IOError(path, err)
	}
	return view.Stats, nil
}

func addScatter(p *plot.Plot, pts plotter.XYs, c color.Color, label string) error {
	if len(pts) == 0 {
		return nil
	}
	s, err := plotter.NewScatter(pts)
	if err != nil {
		return errors.Wrapf(err, "failed to build %s scatter", label)
	}
	s.GlyphStyle.Color = c
	s.GlyphStyle.Radius = vg.Points(2)
	s.GlyphStyle.Shape = draw.CircleGlyph{}
	p.Add(s)
	p.Legend.Add(label, s)
	return nil
}
