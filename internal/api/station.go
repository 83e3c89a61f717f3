// Package api exposes the station over HTTP: start and stop sweeps from
// JSON descriptors, poll run progress, tail completed rows as server-sent
// events, and browse the run archive.
package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/sweepstation/internal/config"
	"github.com/banshee-data/sweepstation/internal/dataset"
	"github.com/banshee-data/sweepstation/internal/instrument"
	"github.com/banshee-data/sweepstation/internal/liveplot"
	"github.com/banshee-data/sweepstation/internal/monitoring"
	"github.com/banshee-data/sweepstation/internal/param"
	"github.com/banshee-data/sweepstation/internal/report"
	"github.com/banshee-data/sweepstation/internal/runstore"
	"github.com/banshee-data/sweepstation/internal/sweep"
	"github.com/banshee-data/sweepstation/internal/timeutil"
)

// ErrSweepActive is returned when a start request arrives while a sweep is
// still running.
var ErrSweepActive = errors.New("a sweep is already running")

// AxisRequest describes one sweep axis in a start request. Parameters are
// addressed as "<instrument>.<parameter>".
type AxisRequest struct {
	Param string  `json:"param"`
	Start float64 `json:"start"`
	Stop  float64 `json:"stop"`
	Num   int     `json:"num"`
	Delay string  `json:"delay,omitempty"` // duration string like "100ms"
}

// SweepRequest is the JSON body of a start request.
type SweepRequest struct {
	Name    string       `json:"name,omitempty"`
	Sweep   AxisRequest  `json:"sweep"`
	Step    *AxisRequest `json:"step,omitempty"`
	Mode    string       `json:"mode,omitempty"` // "one-way" (default) or "zigzag"
	Measure []string     `json:"measure"`

	// Force skips the operator confirmation when an axis parameter is
	// parked away from its sweep start. Without it such sweeps are refused,
	// since there is nobody at an HTTP endpoint to ask.
	Force bool `json:"force,omitempty"`

	DeviceInfo string `json:"device_info,omitempty"`
}

// Station owns the instrument inventory and runs one sweep at a time.
type Station struct {
	cfg       *config.StationConfig
	store     *runstore.Store
	publisher *liveplot.Publisher
	clock     timeutil.Clock

	instruments map[string]*instrument.Instrument
	params      map[string]param.Parameter

	mu     sync.Mutex
	runner *sweep.Runner
	runID  string
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewStation opens every configured instrument and registers its parameters.
// store and publisher may be nil; the relevant features are then disabled.
func NewStation(cfg *config.StationConfig, store *runstore.Store, publisher *liveplot.Publisher, clock timeutil.Clock) (*Station, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	s := &Station{
		cfg:         cfg,
		store:       store,
		publisher:   publisher,
		clock:       clock,
		instruments: make(map[string]*instrument.Instrument),
		params:      make(map[string]param.Parameter),
	}
	for _, ic := range cfg.Instruments {
		inst, err := instrument.Open(ic.Name, ic.Addr, ic.Port)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.instruments[ic.Name] = inst
		for _, pc := range ic.Parameters {
			id := param.Identity{Name: pc.Name, Label: pc.Label, Unit: pc.Unit}
			p := inst.Param(id, pc.GetCmd, pc.SetCmd)
			if pc.Gain != 0 {
				scaled, err := param.NewScaled(id, p, pc.Gain, pc.Offset)
				if err != nil {
					s.Close()
					return nil, fmt.Errorf("instrument %s parameter %s: %w", ic.Name, pc.Name, err)
				}
				p = scaled
			}
			s.params[ic.Name+"."+pc.Name] = p
		}
	}
	return s, nil
}

// Lookup resolves a "<instrument>.<parameter>" name.
func (s *Station) Lookup(name string) (param.Parameter, bool) {
	p, ok := s.params[name]
	return p, ok
}

// ParameterNames returns all registered parameter names, for discovery.
func (s *Station) ParameterNames() []string {
	names := make([]string, 0, len(s.params))
	for n := range s.params {
		names = append(names, n)
	}
	return names
}

// InstrumentInfo summarizes the connected instruments for dataset metadata.
func (s *Station) InstrumentInfo() string {
	info := ""
	for _, inst := range s.instruments {
		if info != "" {
			info += ", "
		}
		info += inst.Describe()
	}
	return info
}

func (s *Station) axisSpec(req AxisRequest) (sweep.SweepSpec, error) {
	p, ok := s.Lookup(req.Param)
	if !ok {
		return sweep.SweepSpec{}, fmt.Errorf("unknown parameter %q", req.Param)
	}
	delay := s.cfg.GetDefaultDelay()
	if req.Delay != "" {
		d, err := time.ParseDuration(req.Delay)
		if err != nil {
			return sweep.SweepSpec{}, fmt.Errorf("bad delay %q: %w", req.Delay, err)
		}
		delay = d
	}
	return sweep.SweepSpec{Param: p, Start: req.Start, Stop: req.Stop, Num: req.Num, Delay: delay}, nil
}

// descriptor translates a request into a validated loop descriptor.
func (s *Station) descriptor(req SweepRequest) (*sweep.LoopDescriptor, error) {
	inner, err := s.axisSpec(req.Sweep)
	if err != nil {
		return nil, err
	}
	desc := &sweep.LoopDescriptor{
		Name:           req.Name,
		Inner:          inner,
		Mode:           sweep.Mode(req.Mode),
		DeviceInfo:     req.DeviceInfo,
		InstrumentInfo: s.InstrumentInfo(),
	}
	if req.Step != nil {
		outer, err := s.axisSpec(*req.Step)
		if err != nil {
			return nil, err
		}
		desc.Outer = &outer
	}
	if len(req.Measure) == 0 {
		return nil, fmt.Errorf("no measurements requested")
	}
	for _, name := range req.Measure {
		p, ok := s.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown parameter %q", name)
		}
		desc.Acts = append(desc.Acts, sweep.Measure(p))
	}
	return desc, nil
}

// StartSweep arms and launches a sweep in the background, returning the run
// id once the runner is armed. Only one sweep runs at a time.
func (s *Station) StartSweep(req SweepRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runner != nil {
		st := s.runner.State()
		if st.Status == sweep.StatusArmed || st.Status == sweep.StatusRunning {
			return "", ErrSweepActive
		}
	}

	desc, err := s.descriptor(req)
	if err != nil {
		return "", err
	}

	confirm := sweep.DenyAll()
	if req.Force {
		confirm = sweep.AllowAll()
	}
	cfg := sweep.Config{
		Clock:           s.clock,
		Sink:            dataset.NewTextSink(),
		Confirm:         confirm,
		SafetyTolerance: s.cfg.GetSafetyTolerance(),
		DataDir:         s.cfg.GetDataDir(),
		QueueSize:       s.cfg.GetQueueSize(),
	}
	if s.publisher != nil {
		cfg.Publisher = s.publisher
	}
	runner := sweep.NewRunner(desc, cfg)
	if err := runner.Arm(); err != nil {
		return "", err
	}

	ds := runner.Dataset()
	runID := ""
	if s.store != nil {
		runID, err = s.store.BeginRun(ds.Location(), ds.Schema(), ds.Started())
		if err != nil {
			monitoring.Logf("[station] run not archived: %v", err)
		}
	}
	if s.publisher != nil {
		s.publisher.SetSchema(ds.Schema())
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.runner = runner
	s.runID = runID
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.finishSweep(ctx, runner, runID)
	}()
	return runID, nil
}

// finishSweep drives the runner to completion and archives the outcome.
func (s *Station) finishSweep(ctx context.Context, runner *sweep.Runner, runID string) {
	ds, err := runner.Run(ctx)
	if err != nil {
		monitoring.Logf("[station] sweep ended with error: %v", err)
	}
	if ds == nil {
		return
	}

	_, status, reason := ds.Sealed()
	if s.store != nil && runID != "" {
		if err := s.store.FinishRun(runID, status, reason, ds.CompletedPoints(), s.clock.Now()); err != nil {
			monitoring.Logf("[station] archive run %s: %v", runID, err)
		}
	}

	if _, err := report.WritePlots(ds, ds.Location()); err != nil {
		monitoring.Logf("[station] render plots: %v", err)
	}
	if err := report.WriteHTML(ds, ds.Location()+"/report.html"); err != nil {
		monitoring.Logf("[station] render report: %v", err)
	}
}

// StopSweep aborts the active sweep, if any. The partial dataset is sealed
// by the runner.
func (s *Station) StopSweep() bool {
	s.mu.Lock()
	runner := s.runner
	s.mu.Unlock()
	if runner == nil {
		return false
	}
	st := runner.State()
	if st.Status != sweep.StatusRunning && st.Status != sweep.StatusArmed {
		return false
	}
	runner.Stop()
	return true
}

// StationState is the status endpoint's payload.
type StationState struct {
	RunID string          `json:"run_id,omitempty"`
	Run   *sweep.RunState `json:"run,omitempty"`
}

// State snapshots the current (or most recent) run.
func (s *Station) State() StationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := StationState{RunID: s.runID}
	if s.runner != nil {
		st := s.runner.State()
		out.Run = &st
	}
	return out
}

// Wait blocks until the active sweep goroutine has finished.
func (s *Station) Wait() {
	s.wg.Wait()
}

// Close stops any active sweep and closes the instruments.
func (s *Station) Close() error {
	s.StopSweep()
	s.wg.Wait()
	var first error
	for name, inst := range s.instruments {
		if err := inst.Close(); err != nil && first == nil {
			first = fmt.Errorf("close %s: %w", name, err)
		}
	}
	return first
}
