package report

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/sweepstation/internal/dataset"
	"github.com/banshee-data/sweepstation/internal/monitoring"
)

// WritePlots renders one PNG per measured channel into dir and returns the
// files written.
func WritePlots(ds *dataset.Dataset, dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create plot dir: %w", err)
	}

	schema := ds.Schema()
	var files []string
	for _, mc := range measuredChannels(schema) {
		traces, err := extractSeries(ds, mc.Name)
		if err != nil {
			return files, err
		}
		if len(traces) == 0 {
			monitoring.Logf("[report] no data for channel %s, skipping plot", mc.Name)
			continue
		}

		xc, err := innerSetpointFor(schema, mc.Name)
		if err != nil {
			return files, err
		}

		p := plot.New()
		p.Title.Text = schema.Name
		p.X.Label.Text = axisLabel(xc)
		p.Y.Label.Text = axisLabel(mc)

		colors := tracePalette(len(traces))
		for i, tr := range traces {
			pts := make(plotter.XYs, len(tr.Points))
			for j, pt := range tr.Points {
				pts[j] = plotter.XY{X: pt.X, Y: pt.Y}
			}
			line, err := plotter.NewLine(pts)
			if err != nil {
				return files, err
			}
			line.Color = colors[i]
			line.Width = vg.Points(1)
			p.Add(line)
			if len(traces) > 1 {
				p.Legend.Add(tr.Label, line)
			}
		}
		p.Legend.Top = true
		p.Legend.Left = false

		file := filepath.Join(dir, fmt.Sprintf("%s.png", mc.Name))
		if err := p.Save(8*vg.Inch, 6*vg.Inch, file); err != nil {
			return files, fmt.Errorf("save %s: %w", file, err)
		}
		files = append(files, file)
	}
	return files, nil
}

// tracePalette returns n distinguishable line colours.
func tracePalette(n int) []color.Color {
	base := []color.Color{
		color.RGBA{R: 31, G: 119, B: 180, A: 255},
		color.RGBA{R: 255, G: 127, B: 14, A: 255},
		color.RGBA{R: 44, G: 160, B: 44, A: 255},
		color.RGBA{R: 214, G: 39, B: 40, A: 255},
		color.RGBA{R: 148, G: 103, B: 189, A: 255},
		color.RGBA{R: 140, G: 86, B: 75, A: 255},
		color.RGBA{R: 227, G: 119, B: 194, A: 255},
		color.RGBA{R: 127, G: 127, B: 127, A: 255},
	}
	out := make([]color.Color, n)
	for i := range out {
		out[i] = base[i%len(base)]
	}
	return out
}
