package plot

import (
	"image/color"
	"math"
	"os"

	"dexpr/domain/table"
	"dexpr/internal/cluster"
	"dexpr/internal/errors"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// HeatmapFileName is the heatmap inside the output directory
const HeatmapFileName = "heatmap.png"

const (
	dendrogramSize = vg.Inch
	colorBarWidth  = 0.9 * vg.Inch
	cellSize       = 0.3 * vg.Inch
	paletteColors  = 255
)

var dendrogramColor = color.RGBA{R: 60, G: 60, B: 60, A: 255}

// HeatmapOptions controls the feature subset
type HeatmapOptions struct {
	TopGenes int
}

// HeatmapData is the clustered, standardized matrix behind the heatmap.
// Z has one row per sample and one column per feature, both in dendrogram order.
type HeatmapData struct {
	Samples     []string
	Features    []string
	Z           *mat.Dense
	SampleTree  *cluster.Tree
	FeatureTree *cluster.Tree
}

// PrepareHeatmap selects the top features by padj, standardizes each feature
// across samples and orders both axes by average-linkage clustering.
func PrepareHeatmap(counts *table.CountMatrix, res *table.ResultTable, topGenes int) (*HeatmapData, error) {
	ids, err := res.TopByPAdj(topGenes)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, errors.LookupError("no features with an adjusted p-value to plot")
	}
	sub, err := counts.Subset(ids)
	if err != nil {
		return nil, err
	}

	var z mat.Dense
	z.CloneFrom(sub.T())
	standardizeColumns(&z)

	sampleTree := cluster.Average(&z)
	featureTree := cluster.Average(z.T())
	sampleOrder := sampleTree.Leaves()
	featureOrder := featureTree.Leaves()

	data := &HeatmapData{
		Samples:     make([]string, len(sampleOrder)),
		Features:    make([]string, len(featureOrder)),
		Z:           mat.NewDense(len(sampleOrder), len(featureOrder), nil),
		SampleTree:  sampleTree,
		FeatureTree: featureTree,
	}
	for r, s := range sampleOrder {
		data.Samples[r] = counts.Samples[s]
		for c, f := range featureOrder {
			data.Z.Set(r, c, z.At(s, f))
		}
	}
	for c, f := range featureOrder {
		data.Features[c] = ids[f]
	}
	return data, nil
}

// standardizeColumns z-scores every column in place. Constant columns become 0.
func standardizeColumns(m *mat.Dense) {
	rows, cols := m.Dims()
	col := make([]float64, rows)
	for c := 0; c < cols; c++ {
		mat.Col(col, c, m)
		mean, sd := stat.MeanStdDev(col, nil)
		for r := 0; r < rows; r++ {
			if sd == 0 || math.IsNaN(sd) {
				m.Set(r, c, 0)
				continue
			}
			m.Set(r, c, (col[r]-mean)/sd)
		}
	}
}

// zGrid adapts HeatmapData to plotter.GridXYZ: columns are features, rows are samples.
type zGrid struct {
	z *mat.Dense
}

func (g zGrid) Dims() (c, r int) {
	r, c = g.z.Dims()
	return c, r
}

func (g zGrid) Z(c, r int) float64 { return g.z.At(r, c) }
func (g zGrid) X(c int) float64 { return float64(c) }
func (g zGrid) Y(r int) float64 { return float64(r) }

// Heatmap renders the clustered heatmap with dendrograms and a color bar
func Heatmap(path string, counts *table.CountMatrix, res *table.ResultTable, opts HeatmapOptions) (*HeatmapData, error) {
	data, err := PrepareHeatmap(counts, res, opts.TopGenes)
	if err != nil {
		return nil, err
	}

	limit := 1.0
	for _, v := range data.Z.RawMatrix().Data {
		limit = math.Max(limit, math.Abs(v))
	}
	cm := moreland.SmoothBlueRed()
	cm.SetMin(-limit)
	cm.SetMax(limit)

	heat := plotter.NewHeatMap(zGrid{z: data.Z}, cm.Palette(paletteColors))
	heat.Min, heat.Max = -limit, limit

	hp := plot.New()
	hp.Add(heat)
	hp.X.Label.Text = "feature"
	hp.Y.Label.Text = "sample"
	hp.X.Padding, hp.Y.Padding = 0, 0
	hp.X.Tick.Marker = plot.ConstantTicks(labelTicks(data.Features))
	hp.Y.Tick.Marker = plot.ConstantTicks(labelTicks(data.Samples))
	hp.X.Tick.Label.Rotation = math.Pi / 2
	hp.X.Tick.Label.XAlign = draw.XRight
	hp.X.Tick.Label.YAlign = draw.YCenter

	bar := plot.New()
	bar.Add(&plotter.ColorBar{ColorMap: cm, Vertical: true, Colors: paletteColors})
	bar.HideX()
	bar.Y.Label.Text = "z-score"
	bar.Y.Padding = 0

	width := dendrogramSize + colorBarWidth + 2*vg.Inch + cellSize*vg.Length(len(data.Features))
	height := dendrogramSize + 2*vg.Inch + cellSize*vg.Length(len(data.Samples))
	width = vg.Length(math.Max(float64(width), float64(6*vg.Inch)))
	height = vg.Length(math.Max(float64(height), float64(5*vg.Inch)))

	img := vgimg.New(width, height)
	dc := draw.New(img)

	heatArea := draw.Crop(dc, dendrogramSize, -colorBarWidth, 0, -dendrogramSize)
	dataArea := hp.DataCanvas(heatArea)
	hp.Draw(heatArea)

	barArea := draw.Crop(dc, width-colorBarWidth+0.1*vg.Inch, -0.1*vg.Inch,
		dataArea.Min.Y-dc.Min.Y, dataArea.Max.Y-dc.Max.Y)
	bar.Draw(barArea)

	pad := 0.05 * vg.Inch
	style := draw.LineStyle{Color: dendrogramColor, Width: vg.Points(1)}
	top := draw.Canvas{Canvas: dc.Canvas, Rectangle: vg.Rectangle{
		Min: vg.Point{X: dataArea.Min.X, Y: dataArea.Max.Y + pad},
		Max: vg.Point{X: dataArea.Max.X, Y: dc.Max.Y - pad},
	}}
	left := draw.Canvas{Canvas: dc.Canvas, Rectangle: vg.Rectangle{
		Min: vg.Point{X: dc.Min.X + pad, Y: dataArea.Min.Y},
		Max: vg.Point{X: heatArea.Min.X - pad, Y: dataArea.Max.Y},
	}}
	drawDendrogram(top, data.FeatureTree, true, style)
	drawDendrogram(left, data.SampleTree, false, style)

	f, err := os.Create(path)
	if err != nil {
		return data, errors.IOError(path, err)
	}
	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(f); err != nil {
		f.Close()
		return data, errors.IOError(path, err)
	}
	if err := f.Close(); err != nil {
		return data, errors.IOError(path, err)
	}
	return data, nil
}

func labelTicks(labels []string) []plot.Tick {
	ticks := make([]plot.Tick, len(labels))
	for i, l := range labels {
		ticks[i] = plot.Tick{Value: float64(i), Label: l}
	}
	return ticks
}

// drawDendrogram draws tree inside c. With leavesOnX the leaves run along the
// bottom edge and merges grow upward; otherwise the leaves run along the right
// edge and merges grow to the left. Leaf k sits at the center of cell k.
func drawDendrogram(c draw.Canvas, tree *cluster.Tree, leavesOnX bool, style draw.LineStyle) {
	if len(tree.Merges) == 0 {
		return
	}
	maxHeight := tree.MaxHeight()
	if maxHeight <= 0 {
		maxHeight = 1
	}
	size := c.Size()
	point := func(along, h float64) vg.Point {
		if leavesOnX {
			return vg.Point{X: c.Min.X + size.X*vg.Length(along), Y: c.Min.Y + size.Y*vg.Length(h/maxHeight)}
		}
		return vg.Point{X: c.Max.X - size.X*vg.Length(h/maxHeight), Y: c.Min.Y + size.Y*vg.Length(along)}
	}

	pos := make(map[int]float64, 2*tree.N)
	heights := make(map[int]float64, 2*tree.N)
	for k, leaf := range tree.Leaves() {
		pos[leaf] = (float64(k) + 0.5) / float64(tree.N)
	}
	for k, m := range tree.Merges {
		lp, rp := pos[m.Left], pos[m.Right]
		c.StrokeLines(style, []vg.Point{
			point(lp, heights[m.Left]),
			point(lp, m.Height),
			point(rp, m.Height),
			point(rp, heights[m.Right]),
		})
		id := tree.N + k
		pos[id] = (lp + rp) / 2
		heights[id] = m.Height
	}
}
