package sweep

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/sweepstation/internal/dataset"
	"github.com/banshee-data/sweepstation/internal/monitoring"
	"github.com/banshee-data/sweepstation/internal/timeutil"
)

// Status is the lifecycle phase of a Runner.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusArmed       Status = "armed"
	StatusRunning     Status = "running"
	StatusCompleted   Status = "completed"
	StatusBrokenEarly Status = "broken_early"
	StatusAborted     Status = "aborted"
)

// DefaultSafetyTolerance is the relative mismatch allowed between an axis
// parameter's current readback and the sweep start before the confirmation
// policy is consulted.
const DefaultSafetyTolerance = 0.01

// defaultQueueSize bounds the persistence queue between the sweep goroutine
// and the row worker.
const defaultQueueSize = 64

// RowPublisher receives every completed row for live consumers. Publishing
// must not block the caller for slow subscribers; the persistence path is
// handled separately and never drops.
type RowPublisher interface {
	PublishRow(c dataset.Coord, values map[string]float64)
}

// Config carries the collaborators and tuning for a Runner. Zero fields get
// working defaults except Sink, which is required.
type Config struct {
	Clock           timeutil.Clock
	Sink            dataset.Sink
	Publisher       RowPublisher // optional
	Confirm         ConfirmPolicy
	SafetyTolerance float64
	DataDir         string
	QueueSize       int
}

// RunState is a point-in-time snapshot of a run's progress, safe to retain.
type RunState struct {
	Status      Status        `json:"status"`
	Location    string        `json:"location"`
	PointsDone  int           `json:"points_done"`
	PointsTotal int           `json:"points_total"`
	Remaining   time.Duration `json:"remaining"`
	Reason      string        `json:"reason,omitempty"`
	Warnings    []string      `json:"warnings,omitempty"`
}

// Runner executes one loop descriptor from arming through a terminal state.
// A Runner is single shot: once Run has been called it cannot be re-armed,
// and a fresh Runner must be built for the next run.
type Runner struct {
	desc *LoopDescriptor
	cfg  Config

	mu     sync.Mutex
	state  RunState
	cancel context.CancelFunc
	ds     *dataset.Dataset
	ran    bool
}

// NewRunner validates nothing yet; Arm performs all pre-flight checks.
func NewRunner(desc *LoopDescriptor, cfg Config) *Runner {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Confirm == nil {
		cfg.Confirm = DenyAll()
	}
	if cfg.SafetyTolerance <= 0 {
		cfg.SafetyTolerance = DefaultSafetyTolerance
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	return &Runner{
		desc:  desc,
		cfg:   cfg,
		state: RunState{Status: StatusIdle, PointsTotal: desc.Points()},
	}
}

// Arm performs pre-flight checks and allocates the run's dataset: descriptor
// validation, the axis safety check, location assignment and sink open. No
// instrument output is changed. Arm failures leave no dataset behind.
func (r *Runner) Arm() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ran || r.state.Status != StatusIdle {
		return validationErrorf("runner already used (status %s)", r.state.Status)
	}
	if r.cfg.Sink == nil {
		return validationErrorf("no dataset sink configured")
	}
	if err := r.desc.Validate(); err != nil {
		return err
	}
	if err := r.safetyCheck(r.desc.Inner, "sweep"); err != nil {
		return err
	}
	if r.desc.Outer != nil {
		if err := r.safetyCheck(*r.desc.Outer, "step"); err != nil {
			return err
		}
	}

	schema := r.desc.Schema()
	started := r.cfg.Clock.Now()
	loc, err := dataset.NextLocation(r.cfg.DataDir, schema.Name, started)
	if err != nil {
		return fmt.Errorf("assign run location: %w", err)
	}
	ds, err := dataset.New(schema, loc, started)
	if err != nil {
		return err
	}
	if err := r.cfg.Sink.Open(loc, schema); err != nil {
		return fmt.Errorf("open dataset sink: %w", err)
	}
	r.ds = ds
	r.state.Status = StatusArmed
	r.state.Location = loc
	monitoring.Logf("[sweep] armed %q at %s (%d points)", schema.Name, loc, schema.Points())
	return nil
}

// safetyCheck compares the axis readback to the sweep start and consults the
// confirmation policy on a mismatch beyond the relative tolerance. Axes whose
// parameter cannot be read are not checked.
func (r *Runner) safetyCheck(s SweepSpec, axis string) error {
	if !s.Param.Readable() {
		return nil
	}
	id := s.Param.Identity()
	cur, err := s.Param.Read()
	if err != nil {
		return fmt.Errorf("safety readback of %s: %w", id.Name, err)
	}
	scale := math.Max(math.Abs(s.Start), math.Abs(s.Stop))
	if scale == 0 {
		scale = 1
	}
	if math.Abs(cur-s.Start) <= r.cfg.SafetyTolerance*scale {
		return nil
	}
	prompt := fmt.Sprintf("%s parameter %s reads %.6g %s but the sweep starts at %.6g %s; jump there?",
		axis, id.Name, cur, id.Unit, s.Start, id.Unit)
	if !r.cfg.Confirm.Confirm(prompt) {
		return fmt.Errorf("%s axis %s at %.6g, sweep start %.6g: %w", axis, id.Name, cur, s.Start, ErrSafetyAbort)
	}
	return nil
}

type rowMsg struct {
	coord  dataset.Coord
	values map[string]float64
}

// Run executes the loop to a terminal state. It arms first if Arm has not
// been called. The returned dataset is sealed and carries whatever points
// were completed, including on early termination; it is nil only when the
// run never started. Run blocks until the sink has consumed every row.
//
// Cancel the context, or call Stop, to abort; completed points are preserved
// and the dataset is sealed with an aborted status.
func (r *Runner) Run(ctx context.Context) (*dataset.Dataset, error) {
	r.mu.Lock()
	switch r.state.Status {
	case StatusIdle:
		r.mu.Unlock()
		if err := r.Arm(); err != nil {
			return nil, err
		}
		r.mu.Lock()
	case StatusArmed:
	default:
		r.mu.Unlock()
		return nil, validationErrorf("runner already used (status %s)", r.state.Status)
	}
	r.ran = true
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.state.Status = StatusRunning
	ds := r.ds
	r.mu.Unlock()
	defer cancel()

	rows := make(chan rowMsg, r.cfg.QueueSize)
	var workerWG sync.WaitGroup
	workerWG.Add(1)
	go func() {
		defer workerWG.Done()
		for m := range rows {
			if err := r.cfg.Sink.AppendRow(m.coord, m.values); err != nil {
				r.addWarning(fmt.Sprintf("sink row (%d,%d): %v", m.coord.Outer, m.coord.Inner, err))
			}
			if r.cfg.Publisher != nil {
				r.cfg.Publisher.PublishRow(m.coord, m.values)
			}
		}
	}()

	finish := func(st Status, dst dataset.RunStatus, reason Reason) {
		close(rows)
		workerWG.Wait()
		if err := ds.Seal(dst, string(reason)); err != nil {
			r.addWarning(fmt.Sprintf("seal dataset: %v", err))
		}
		if err := r.cfg.Sink.Seal(dst, string(reason)); err != nil {
			r.addWarning(fmt.Sprintf("seal sink: %v", err))
		}
		r.mu.Lock()
		r.state.Status = st
		r.state.Reason = string(reason)
		r.state.Remaining = 0
		r.mu.Unlock()
		monitoring.Logf("[sweep] %s %q: %d/%d points (%s)", st, ds.Schema().Name, ds.CompletedPoints(), ds.Schema().Points(), reasonOrNone(string(reason)))
	}

	exec := newExecutor(r.desc, r.cfg.Clock)
	schema := ds.Schema()
	started := r.cfg.Clock.Now()
	var eta etaEstimator
	done := 0
	total := schema.Points()

	for o := 0; o < schema.OuterNum; o++ {
		for i := 0; i < schema.InnerNum; i++ {
			if err := ctx.Err(); err != nil {
				finish(StatusAborted, dataset.StatusAborted, ReasonUserCancelled)
				return ds, fmt.Errorf("after %d of %d points: %w", done, total, ErrCancelled)
			}
			c := dataset.Coord{Outer: o, Inner: i}
			pointStart := r.cfg.Clock.Now()
			values, brk, err := exec.visit(o, i, r.cfg.Clock.Since(started).Seconds())
			if err != nil {
				// keep whatever the point yielded before failing, but
				// do not mark it complete or feed it downstream
				if len(values) > 0 {
					if serr := ds.Store(c, values); serr != nil {
						r.addWarning(fmt.Sprintf("store partial point (%d,%d): %v", o, i, serr))
					}
				}
				finish(StatusAborted, dataset.StatusAborted, ReasonInstrumentError)
				return ds, fmt.Errorf("point (%d,%d): %w", o, i, err)
			}
			if err := ds.Store(c, values); err != nil {
				r.addWarning(fmt.Sprintf("store point (%d,%d): %v", o, i, err))
			}
			if brk {
				finish(StatusBrokenEarly, dataset.StatusBrokenEarly, ReasonBreakCondition)
				return ds, nil
			}
			if err := ds.Complete(c); err != nil {
				r.addWarning(fmt.Sprintf("complete point (%d,%d): %v", o, i, err))
			}
			rows <- rowMsg{coord: c, values: values}
			done++
			eta.observe(r.cfg.Clock.Since(pointStart))
			r.mu.Lock()
			r.state.PointsDone = done
			r.state.Remaining = eta.remaining(total - done)
			r.mu.Unlock()
		}
	}

	finish(StatusCompleted, dataset.StatusCompleted, ReasonNone)
	return ds, nil
}

// Stop requests an abort of a running loop. Safe to call from any goroutine
// and at any time; before Run it is a no-op.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// State returns a snapshot of the current run progress.
func (r *Runner) State() RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.state
	s.Warnings = append([]string(nil), r.state.Warnings...)
	return s
}

// Dataset returns the run's dataset, or nil before arming.
func (r *Runner) Dataset() *dataset.Dataset {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ds
}

func (r *Runner) addWarning(msg string) {
	monitoring.Logf("[sweep] warning: %s", msg)
	r.mu.Lock()
	r.state.Warnings = append(r.state.Warnings, msg)
	r.mu.Unlock()
}

func reasonOrNone(reason string) string {
	if reason == "" {
		return "ok"
	}
	return reason
}
