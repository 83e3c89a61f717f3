package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/sweepstation/internal/dataset"
)

func sealedDataset1D(t *testing.T) *dataset.Dataset {
	t.Helper()
	schema := dataset.Schema{
		Name: "gate sweep",
		Channels: []dataset.Channel{
			{Name: "vg_set", Label: "Gate", Unit: "V", IsSetpoint: true},
			{Name: "timer", Unit: "s"},
			{Name: "curr", Label: "Current", Unit: "A"},
		},
		OuterNum: 1,
		InnerNum: 5,
	}
	ds, err := dataset.New(schema, "/tmp/run", time.Now())
	if err != nil {
		t.Fatalf("dataset.New: %v", err)
	}
	for i := 0; i < 5; i++ {
		c := dataset.Coord{Inner: i}
		x := float64(i) * 0.25
		if err := ds.Store(c, map[string]float64{"vg_set": x, "timer": float64(i), "curr": 2 * x}); err != nil {
			t.Fatalf("Store: %v", err)
		}
		if err := ds.Complete(c); err != nil {
			t.Fatalf("Complete: %v", err)
		}
	}
	if err := ds.Seal(dataset.StatusCompleted, ""); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	return ds
}

func sealedDatasetZigzag(t *testing.T) *dataset.Dataset {
	t.Helper()
	schema := dataset.Schema{
		Name: "2d zigzag",
		Channels: []dataset.Channel{
			{Name: "vg_set", Label: "Gate", Unit: "V", IsSetpoint: true},
			{Name: "vb_set_0", Label: "Bias", Unit: "mV", IsSetpoint: true},
			{Name: "vb_set_1", Label: "Bias", Unit: "mV", IsSetpoint: true},
			{Name: "timer", Unit: "s"},
			{Name: "curr_0", Label: "Current", Unit: "A"},
			{Name: "curr_1", Label: "Current", Unit: "A"},
		},
		OuterNum: 2,
		InnerNum: 3,
		Is2D:     true,
	}
	ds, err := dataset.New(schema, "/tmp/run", time.Now())
	if err != nil {
		t.Fatalf("dataset.New: %v", err)
	}
	for o := 0; o < 2; o++ {
		sfx := "_0"
		if o == 1 {
			sfx = "_1"
		}
		for i := 0; i < 3; i++ {
			c := dataset.Coord{Outer: o, Inner: i}
			x := float64(i)
			if o == 1 {
				x = float64(2 - i)
			}
			vals := map[string]float64{
				"vg_set":       float64(o),
				"vb_set" + sfx: x,
				"timer":        float64(o*3 + i),
				"curr" + sfx:   x * 10,
			}
			if err := ds.Store(c, vals); err != nil {
				t.Fatalf("Store: %v", err)
			}
			if err := ds.Complete(c); err != nil {
				t.Fatalf("Complete: %v", err)
			}
		}
	}
	if err := ds.Seal(dataset.StatusCompleted, ""); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	return ds
}

func TestMeasuredChannels(t *testing.T) {
	ds := sealedDatasetZigzag(t)
	chans := measuredChannels(ds.Schema())
	if len(chans) != 2 || chans[0].Name != "curr_0" || chans[1].Name != "curr_1" {
		t.Errorf("measuredChannels = %v", chans)
	}
}

func TestInnerSetpointFor(t *testing.T) {
	ds := sealedDatasetZigzag(t)
	schema := ds.Schema()

	c, err := innerSetpointFor(schema, "curr_0")
	if err != nil || c.Name != "vb_set_0" {
		t.Errorf("innerSetpointFor(curr_0) = %v, %v", c, err)
	}
	c, err = innerSetpointFor(schema, "curr_1")
	if err != nil || c.Name != "vb_set_1" {
		t.Errorf("innerSetpointFor(curr_1) = %v, %v", c, err)
	}

	ds1 := sealedDataset1D(t)
	c, err = innerSetpointFor(ds1.Schema(), "curr")
	if err != nil || c.Name != "vg_set" {
		t.Errorf("innerSetpointFor(curr) = %v, %v", c, err)
	}
}

func TestExtractSeries(t *testing.T) {
	ds := sealedDataset1D(t)
	traces, err := extractSeries(ds, "curr")
	if err != nil {
		t.Fatalf("extractSeries: %v", err)
	}
	if len(traces) != 1 {
		t.Fatalf("got %d traces, want 1", len(traces))
	}
	if len(traces[0].Points) != 5 {
		t.Fatalf("got %d points, want 5", len(traces[0].Points))
	}
	if traces[0].Points[4].X != 1.0 || traces[0].Points[4].Y != 2.0 {
		t.Errorf("last point = %+v", traces[0].Points[4])
	}
}

func TestExtractSeriesZigzagHalves(t *testing.T) {
	ds := sealedDatasetZigzag(t)

	// the forward channel holds data only on even outer steps
	traces, err := extractSeries(ds, "curr_0")
	if err != nil {
		t.Fatalf("extractSeries: %v", err)
	}
	if len(traces) != 1 {
		t.Fatalf("curr_0: got %d traces, want 1", len(traces))
	}
	if len(traces[0].Points) != 3 {
		t.Errorf("curr_0: got %d points, want 3", len(traces[0].Points))
	}

	traces, err = extractSeries(ds, "curr_1")
	if err != nil {
		t.Fatalf("extractSeries: %v", err)
	}
	if len(traces) != 1 {
		t.Fatalf("curr_1: got %d traces, want 1", len(traces))
	}
}

func TestWritePlots(t *testing.T) {
	dir := t.TempDir()
	files, err := WritePlots(sealedDataset1D(t), dir)
	if err != nil {
		t.Fatalf("WritePlots: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("got %d files, want 1", len(files))
	}
	if filepath.Base(files[0]) != "curr.png" {
		t.Errorf("file = %s", files[0])
	}
	info, err := os.Stat(files[0])
	if err != nil || info.Size() == 0 {
		t.Errorf("plot file missing or empty: %v", err)
	}
}

func TestWriteHTML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.html")
	if err := WriteHTML(sealedDataset1D(t), path); err != nil {
		t.Fatalf("WriteHTML: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	html := string(data)
	if !strings.Contains(html, "echarts") {
		t.Error("report does not embed echarts")
	}
	if !strings.Contains(html, "Current (A)") {
		t.Error("report missing channel title")
	}
}
