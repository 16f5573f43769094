// Package preview renders a prepared run as a PNG map: cut obstacles, the
// requested box, gateways coloured by mode and the generated start points.
package preview

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/pedflow/internal/crowd"
	"github.com/banshee-data/pedflow/internal/fsutil"
	"github.com/banshee-data/pedflow/internal/geo"
)

// FileName is the preview written next to the engine inputs.
const FileName = "preview.png"

// Default image size.
const (
	DefaultWidth  = 8 * vg.Inch
	DefaultHeight = 8 * vg.Inch
)

var (
	obstacleFill = color.RGBA{R: 190, G: 190, B: 190, A: 255}
	boxColor     = color.RGBA{R: 40, G: 40, B: 40, A: 255}
	startColor   = color.RGBA{R: 0, G: 0, B: 0, A: 255}
	targetColor  = color.RGBA{R: 220, G: 0, B: 120, A: 255}

	modeColors = [crowd.NumModes]color.Color{
		crowd.Rail: color.RGBA{R: 0, G: 110, B: 60, A: 255},
		crowd.Bus:  color.RGBA{R: 200, G: 30, B: 30, A: 255},
		crowd.Bike: color.RGBA{R: 30, G: 90, B: 200, A: 255},
		crowd.Car:  color.RGBA{R: 230, G: 140, B: 0, A: 255},
	}
)

// Render builds the plot for plan.
func Render(plan *crowd.Plan) (*plot.Plot, error) {
	if plan == nil {
		return nil, fmt.Errorf("nil plan")
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%d pedestrians, %d gateways", len(plan.Crowd.StartPoints), plan.Counts.Total())
	p.X.Label.Text = "x (m)"
	p.Y.Label.Text = "y (m)"
	p.Legend.Top = true

	for _, obstacle := range plan.Obstacles {
		poly, err := plotter.NewPolygon(ringsXYs(obstacle)...)
		if err != nil {
			return nil, fmt.Errorf("obstacle polygon: %w", err)
		}
		poly.Color = obstacleFill
		poly.LineStyle.Width = vg.Points(0.5)
		p.Add(poly)
	}

	box, err := boxOutline(plan.Request.Box)
	if err != nil {
		return nil, err
	}
	p.Add(box)
	p.Legend.Add("region", box)

	for _, mode := range crowd.Modes {
		gateways := plan.Gateways[mode]
		if len(gateways) == 0 {
			continue
		}
		pts := make(plotter.XYs, len(gateways))
		for i, g := range gateways {
			pts[i] = plotter.XY{X: g.Location.X, Y: g.Location.Y}
		}
		s, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, fmt.Errorf("%s gateways: %w", mode, err)
		}
		s.GlyphStyle.Color = modeColors[mode]
		s.GlyphStyle.Shape = draw.BoxGlyph{}
		s.GlyphStyle.Radius = vg.Points(4)
		p.Add(s)
		p.Legend.Add(fmt.Sprintf("%s (%.0f%%)", mode, 100*plan.Distribution.Weight(mode)), s)
	}

	if n := len(plan.Crowd.StartPoints); n > 0 {
		pts := make(plotter.XYs, n)
		for i, sp := range plan.Crowd.StartPoints {
			pts[i] = plotter.XY{X: sp.Location.X, Y: sp.Location.Y}
		}
		s, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, fmt.Errorf("start points: %w", err)
		}
		s.GlyphStyle.Color = startColor
		s.GlyphStyle.Shape = draw.CircleGlyph{}
		s.GlyphStyle.Radius = vg.Points(1.5)
		p.Add(s)
		p.Legend.Add("pedestrians", s)
	}

	if t := plan.Request.Target; t != nil {
		s, err := plotter.NewScatter(plotter.XYs{{X: t.X, Y: t.Y}})
		if err != nil {
			return nil, fmt.Errorf("target: %w", err)
		}
		s.GlyphStyle.Color = targetColor
		s.GlyphStyle.Shape = draw.CrossGlyph{}
		s.GlyphStyle.Radius = vg.Points(6)
		p.Add(s)
		p.Legend.Add("target", s)
	}

	return p, nil
}

// WritePNG renders plan and writes it as PNG to w.
func WritePNG(w io.Writer, plan *crowd.Plan, width, height vg.Length) error {
	p, err := Render(plan)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return fmt.Errorf("encode preview: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write preview: %w", err)
	}
	return nil
}

// Save writes the preview of plan to path on fsys.
func Save(fsys fsutil.FileSystem, path string, plan *crowd.Plan) error {
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := WritePNG(f, plan, DefaultWidth, DefaultHeight); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func ringsXYs(p geo.Polygon) []plotter.XYer {
	rings := p.Rings()
	out := make([]plotter.XYer, 0, len(rings))
	for _, ring := range rings {
		xys := make(plotter.XYs, len(ring))
		for i, pt := range ring {
			xys[i] = plotter.XY{X: pt.X, Y: pt.Y}
		}
		out = append(out, xys)
	}
	return out
}

func boxOutline(b geo.BoundingBox) (*plotter.Line, error) {
	c := b.Corners()
	pts := make(plotter.XYs, 0, 5)
	for _, pt := range c {
		pts = append(pts, plotter.XY{X: pt.X, Y: pt.Y})
	}
	pts = append(pts, pts[0])
	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, fmt.Errorf("region outline: %w", err)
	}
	line.Color = boxColor
	line.Width = vg.Points(1)
	line.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	return line, nil
}
