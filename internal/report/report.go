// Package report renders sealed datasets into static artefacts: PNG plots
// via gonum/plot and a self-contained HTML report via go-echarts.
package report

import (
	"fmt"
	"strings"

	"github.com/banshee-data/sweepstation/internal/dataset"
)

// point is one plottable (setpoint, value) pair.
type point struct {
	X, Y float64
}

// series is one plotted trace: a measured channel at one outer step.
type series struct {
	Label  string
	Points []point
}

// innerSetpointFor resolves the x-axis channel for a measured channel. In
// alternating-direction runs the measured channel's _0/_1 suffix selects the
// matching setpoint instance.
func innerSetpointFor(schema dataset.Schema, measured string) (dataset.Channel, error) {
	suffix := ""
	if strings.HasSuffix(measured, "_0") {
		suffix = "_0"
	} else if strings.HasSuffix(measured, "_1") {
		suffix = "_1"
	}
	for i, c := range schema.Channels {
		if !c.IsSetpoint {
			continue
		}
		if schema.Is2D && i == 0 {
			// first setpoint channel of a 2D run is the step axis
			continue
		}
		if suffix == "" || strings.HasSuffix(c.Name, suffix) {
			return c, nil
		}
	}
	return dataset.Channel{}, fmt.Errorf("no sweep setpoint channel for %q", measured)
}

// measuredChannels returns the plottable channels: everything that is not a
// setpoint or the timer.
func measuredChannels(schema dataset.Schema) []dataset.Channel {
	var out []dataset.Channel
	for _, c := range schema.Channels {
		if c.IsSetpoint || c.Name == "timer" {
			continue
		}
		out = append(out, c)
	}
	return out
}

// extractSeries builds one trace per outer step for the given measured
// channel, dropping unpopulated points. Outer steps with no data for this
// channel instance produce no trace.
func extractSeries(ds *dataset.Dataset, measured string) ([]series, error) {
	schema := ds.Schema()
	xc, err := innerSetpointFor(schema, measured)
	if err != nil {
		return nil, err
	}

	var outerChan string
	if schema.Is2D {
		outerChan = schema.Channels[0].Name
	}

	var out []series
	for o := 0; o < schema.OuterNum; o++ {
		var pts []point
		label := measured
		for i := 0; i < schema.InnerNum; i++ {
			c := dataset.Coord{Outer: o, Inner: i}
			x, okX := ds.Value(xc.Name, c)
			y, okY := ds.Value(measured, c)
			if !okX || !okY {
				continue
			}
			pts = append(pts, point{X: x, Y: y})
			if outerChan != "" {
				if ov, ok := ds.Value(outerChan, c); ok {
					label = fmt.Sprintf("%s @ %s=%.6g", measured, outerChan, ov)
				}
			}
		}
		if len(pts) > 0 {
			out = append(out, series{Label: label, Points: pts})
		}
	}
	return out, nil
}

func axisLabel(c dataset.Channel) string {
	label := c.Label
	if label == "" {
		label = c.Name
	}
	if c.Unit != "" {
		return label + " (" + c.Unit + ")"
	}
	return label
}
