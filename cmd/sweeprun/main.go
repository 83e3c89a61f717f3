// Command sweeprun performs a single sweep from the command line and exits.
// It is the interactive counterpart to stationd: the operator is prompted
// before any parameter jumps, and Ctrl-C seals the partial dataset.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/banshee-data/sweepstation/internal/api"
	"github.com/banshee-data/sweepstation/internal/config"
	"github.com/banshee-data/sweepstation/internal/dataset"
	"github.com/banshee-data/sweepstation/internal/report"
	"github.com/banshee-data/sweepstation/internal/sweep"
)

var (
	configPath = flag.String("config", "", "Path to station config JSON (defaults to a single mock instrument)")
	name       = flag.String("name", "", "Run name (derived from the axes when empty)")

	sweepParam = flag.String("sweep", "", "Inner axis parameter, as instrument.parameter")
	sweepStart = flag.Float64("start", 0, "Inner axis start value")
	sweepStop  = flag.Float64("stop", 1, "Inner axis stop value")
	sweepNum   = flag.Int("num", 11, "Inner axis point count")

	stepParam = flag.String("step", "", "Outer axis parameter (empty for a 1D sweep)")
	stepStart = flag.Float64("step-start", 0, "Outer axis start value")
	stepStop  = flag.Float64("step-stop", 1, "Outer axis stop value")
	stepNum   = flag.Int("step-num", 2, "Outer axis point count")

	mode    = flag.String("mode", "one-way", "Inner axis direction: one-way or zigzag")
	measure = flag.String("measure", "", "Comma-separated parameters to measure at each point")
	delay   = flag.Duration("delay", 0, "Settle delay after each setpoint")
	yes     = flag.Bool("yes", false, "Answer yes to all confirmation prompts")
	render  = flag.Bool("report", true, "Render PNG and HTML reports after the sweep")
)

// mockConfig is the fallback station when no config file is given: a single
// simulated source with a settable output and a readable monitor.
func mockConfig() *config.StationConfig {
	return &config.StationConfig{
		Instruments: []config.InstrumentConfig{
			{
				Name: "sim",
				Addr: "mock:sim",
				Parameters: []config.ParameterConfig{
					{Name: "volt", Label: "Output", Unit: "V", GetCmd: "VOLT?", SetCmd: "VOLT %.6g"},
					{Name: "curr", Label: "Current", Unit: "A", GetCmd: "VOLT?"},
				},
			},
		},
	}
}

// buildDescriptor assembles the loop descriptor from the parsed flag values,
// resolving every named parameter through the station registry.
func buildDescriptor(station *api.Station) (*sweep.LoopDescriptor, error) {
	inner, ok := station.Lookup(*sweepParam)
	if !ok {
		return nil, fmt.Errorf("unknown parameter %q (known: %s)", *sweepParam, strings.Join(station.ParameterNames(), ", "))
	}
	desc := &sweep.LoopDescriptor{
		Name: *name,
		Inner: sweep.SweepSpec{
			Param: inner,
			Start: *sweepStart,
			Stop:  *sweepStop,
			Num:   *sweepNum,
			Delay: *delay,
		},
		Mode:           sweep.Mode(*mode),
		DeviceInfo:     "sweeprun",
		InstrumentInfo: station.InstrumentInfo(),
	}
	if *stepParam != "" {
		outer, ok := station.Lookup(*stepParam)
		if !ok {
			return nil, fmt.Errorf("unknown parameter %q", *stepParam)
		}
		desc.Outer = &sweep.SweepSpec{
			Param: outer,
			Start: *stepStart,
			Stop:  *stepStop,
			Num:   *stepNum,
			Delay: *delay,
		}
	}
	for _, m := range strings.Split(*measure, ",") {
		m = strings.TrimSpace(m)
		p, ok := station.Lookup(m)
		if !ok {
			return nil, fmt.Errorf("unknown parameter %q", m)
		}
		desc.Acts = append(desc.Acts, sweep.Measure(p))
	}
	return desc, nil
}

func main() {
	flag.Parse()

	cfg := mockConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}
	if *sweepParam == "" {
		log.Fatal("-sweep is required")
	}
	if *measure == "" {
		log.Fatal("-measure is required")
	}

	station, err := api.NewStation(cfg, nil, nil, nil)
	if err != nil {
		log.Fatalf("failed to open station: %v", err)
	}
	defer station.Close()

	desc, err := buildDescriptor(station)
	if err != nil {
		log.Fatal(err)
	}

	confirm := sweep.Interactive(os.Stdin, os.Stderr)
	if *yes {
		confirm = sweep.AllowAll()
	}
	runner := sweep.NewRunner(desc, sweep.Config{
		Sink:            dataset.NewTextSink(),
		Confirm:         confirm,
		SafetyTolerance: cfg.GetSafetyTolerance(),
		DataDir:         cfg.GetDataDir(),
		QueueSize:       cfg.GetQueueSize(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	started := time.Now()
	ds, runErr := runner.Run(ctx)
	if ds == nil {
		log.Fatalf("sweep failed: %v", runErr)
	}

	_, status, reason := ds.Sealed()
	fmt.Printf("sweep %q: %s", ds.Schema().Name, status)
	if reason != "" {
		fmt.Printf(" (%s)", reason)
	}
	fmt.Printf(", %d/%d points in %s\n", ds.CompletedPoints(), ds.Schema().Points(), time.Since(started).Round(time.Millisecond))
	fmt.Printf("data: %s\n", ds.Location())

	if *render {
		if files, err := report.WritePlots(ds, ds.Location()); err != nil {
			log.Printf("failed to render plots: %v", err)
		} else {
			for _, f := range files {
				fmt.Printf("plot: %s\n", f)
			}
		}
		htmlPath := ds.Location() + "/report.html"
		if err := report.WriteHTML(ds, htmlPath); err != nil {
			log.Printf("failed to render report: %v", err)
		} else {
			fmt.Printf("report: %s\n", htmlPath)
		}
	}

	if runErr != nil && !errors.Is(runErr, sweep.ErrCancelled) {
		log.Fatalf("sweep ended with error: %v", runErr)
	}
}
