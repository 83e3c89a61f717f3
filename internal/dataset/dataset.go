// Package dataset holds the in-memory results of a sweep run and the sink
// interface for incremental on-disk persistence.
//
// A Dataset is allocated with its full prospective shape when a run arms, is
// filled monotonically as coordinates are visited, and is sealed exactly once
// when the run reaches a terminal state. Entries never written remain NaN and
// are reported as unwritten rather than zero-filled.
package dataset

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// RunStatus is the terminal disposition of the run that produced a dataset.
type RunStatus string

const (
	StatusCompleted   RunStatus = "completed"
	StatusBrokenEarly RunStatus = "broken_early"
	StatusAborted     RunStatus = "aborted"
)

// Channel describes one recorded column.
type Channel struct {
	Name       string `json:"name"`
	Label      string `json:"label,omitempty"`
	Unit       string `json:"unit,omitempty"`
	IsSetpoint bool   `json:"is_setpoint,omitempty"`
}

// Schema fixes the shape and column set of a dataset before any point is
// visited.
type Schema struct {
	Name     string    `json:"name"` // human-readable run name, used in headers
	Channels []Channel `json:"channels"`

	// OuterNum is 1 for 1D runs; Is2D distinguishes a true 2D run from a 1D
	// run, since both may have OuterNum == 1.
	OuterNum int  `json:"outer_num"`
	InnerNum int  `json:"inner_num"`
	Is2D     bool `json:"is_2d"`

	DeviceInfo     string `json:"device_info,omitempty"`
	InstrumentInfo string `json:"instrument_info,omitempty"`
}

// Validate checks shape and channel-name uniqueness.
func (s Schema) Validate() error {
	if s.OuterNum < 1 || s.InnerNum < 1 {
		return fmt.Errorf("schema shape %dx%d: counts must be >= 1", s.OuterNum, s.InnerNum)
	}
	if len(s.Channels) == 0 {
		return fmt.Errorf("schema has no channels")
	}
	seen := make(map[string]bool, len(s.Channels))
	for _, ch := range s.Channels {
		if ch.Name == "" {
			return fmt.Errorf("schema has a channel with an empty name")
		}
		if seen[ch.Name] {
			return fmt.Errorf("duplicate channel name %q", ch.Name)
		}
		seen[ch.Name] = true
	}
	return nil
}

// Points returns the total number of coordinates in the full shape.
func (s Schema) Points() int { return s.OuterNum * s.InnerNum }

// Coord addresses one visited point. Inner is the setpoint index along the
// fast axis; Outer is 0 for 1D runs.
type Coord struct {
	Outer int `json:"outer"`
	Inner int `json:"inner"`
}

func (c Coord) String() string { return fmt.Sprintf("(%d,%d)", c.Outer, c.Inner) }

// Dataset is the append-only structured store for one run. All entries start
// NaN/unwritten; Store fills channel values at a coordinate and Complete marks
// the coordinate fully measured. After Seal the dataset is immutable.
type Dataset struct {
	schema   Schema
	location string
	started  time.Time

	mu       sync.RWMutex
	values   map[string][]float64 // flattened row-major [outer*inner]
	complete []bool
	nDone    int
	sealed   bool
	status   RunStatus
	reason   string
}

// New allocates an empty dataset for the given schema.
func New(schema Schema, location string, started time.Time) (*Dataset, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	values := make(map[string][]float64, len(schema.Channels))
	for _, ch := range schema.Channels {
		col := make([]float64, schema.Points())
		for i := range col {
			col[i] = math.NaN()
		}
		values[ch.Name] = col
	}
	return &Dataset{
		schema:   schema,
		location: location,
		started:  started,
		values:   values,
		complete: make([]bool, schema.Points()),
	}, nil
}

// Schema returns the dataset's schema.
func (d *Dataset) Schema() Schema { return d.schema }

// Location returns the storage location string chosen at run start.
func (d *Dataset) Location() string { return d.location }

// Started returns the run start timestamp.
func (d *Dataset) Started() time.Time { return d.started }

func (d *Dataset) index(c Coord) (int, error) {
	if c.Outer < 0 || c.Outer >= d.schema.OuterNum || c.Inner < 0 || c.Inner >= d.schema.InnerNum {
		return 0, fmt.Errorf("coordinate %v outside shape %dx%d", c, d.schema.OuterNum, d.schema.InnerNum)
	}
	return c.Outer*d.schema.InnerNum + c.Inner, nil
}

// Store writes channel values at a coordinate. Unknown channel names are
// rejected; a sealed dataset rejects all writes. Store alone does not mark the
// coordinate complete, so values captured before a mid-step fault are
// preserved without implying the step finished.
func (d *Dataset) Store(c Coord, values map[string]float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sealed {
		return fmt.Errorf("dataset is sealed")
	}
	idx, err := d.index(c)
	if err != nil {
		return err
	}
	for name, v := range values {
		col, ok := d.values[name]
		if !ok {
			return fmt.Errorf("unknown channel %q", name)
		}
		col[idx] = v
	}
	return nil
}

// Complete marks a coordinate as fully measured.
func (d *Dataset) Complete(c Coord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sealed {
		return fmt.Errorf("dataset is sealed")
	}
	idx, err := d.index(c)
	if err != nil {
		return err
	}
	if !d.complete[idx] {
		d.complete[idx] = true
		d.nDone++
	}
	return nil
}

// Seal freezes the dataset with the run's terminal status and reason. Sealing
// twice is an error; the first seal wins.
func (d *Dataset) Seal(status RunStatus, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sealed {
		return fmt.Errorf("dataset already sealed as %q", d.status)
	}
	d.sealed = true
	d.status = status
	d.reason = reason
	return nil
}

// Sealed reports whether the dataset has reached its immutable state, along
// with the terminal status and reason when it has.
func (d *Dataset) Sealed() (bool, RunStatus, string) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sealed, d.status, d.reason
}

// IsComplete reports whether the coordinate was fully measured.
func (d *Dataset) IsComplete(c Coord) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	idx, err := d.index(c)
	if err != nil {
		return false
	}
	return d.complete[idx]
}

// CompletedPoints returns how many coordinates were fully measured.
func (d *Dataset) CompletedPoints() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.nDone
}

// Column returns a copy of a channel's flattened values. Unwritten entries
// are NaN.
func (d *Dataset) Column(name string) ([]float64, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	col, ok := d.values[name]
	if !ok {
		return nil, false
	}
	out := make([]float64, len(col))
	copy(out, col)
	return out, true
}

// Value returns the stored value for one channel at one coordinate. The
// boolean reports presence: unknown channels, coordinates outside the shape
// and never-written entries all return false. Whether the whole coordinate
// finished measuring is a separate question, answered by IsComplete.
func (d *Dataset) Value(name string, c Coord) (float64, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	idx, err := d.index(c)
	if err != nil {
		return math.NaN(), false
	}
	col, ok := d.values[name]
	if !ok {
		return math.NaN(), false
	}
	v := col[idx]
	return v, !math.IsNaN(v)
}
