package report

import (
	"fmt"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/sweepstation/internal/dataset"
)

// WriteHTML renders an interactive report of every measured channel to a
// single HTML page at path.
func WriteHTML(ds *dataset.Dataset, path string) error {
	schema := ds.Schema()
	_, status, reason := ds.Sealed()
	subtitle := fmt.Sprintf("%d/%d points, status=%s", ds.CompletedPoints(), schema.Points(), status)
	if reason != "" {
		subtitle += " (" + reason + ")"
	}

	page := components.NewPage()
	page.SetPageTitle(schema.Name)

	for _, mc := range measuredChannels(schema) {
		traces, err := extractSeries(ds, mc.Name)
		if err != nil {
			return err
		}
		if len(traces) == 0 {
			continue
		}
		xc, err := innerSetpointFor(schema, mc.Name)
		if err != nil {
			return err
		}

		line := charts.NewLine()
		line.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "500px"}),
			charts.WithTitleOpts(opts.Title{Title: axisLabel(mc), Subtitle: subtitle}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
			charts.WithXAxisOpts(opts.XAxis{Name: axisLabel(xc), Type: "value"}),
			charts.WithYAxisOpts(opts.YAxis{Name: axisLabel(mc), Type: "value"}),
		)

		for _, tr := range traces {
			data := make([]opts.LineData, len(tr.Points))
			for i, pt := range tr.Points {
				data[i] = opts.LineData{Value: []interface{}{pt.X, pt.Y}}
			}
			line.AddSeries(tr.Label, data)
		}
		page.AddCharts(line)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	defer f.Close()
	return page.Render(f)
}
