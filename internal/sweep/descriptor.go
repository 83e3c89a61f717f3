package sweep

import (
	"fmt"
	"time"

	"github.com/banshee-data/sweepstation/internal/dataset"
	"github.com/banshee-data/sweepstation/internal/param"
)

// TimerChannel is the implicit elapsed-seconds channel recorded at every
// visited point.
const TimerChannel = "timer"

// SweepSpec defines one axis of iteration: drive Param through Num evenly
// spaced values from Start to Stop, holding Delay after each set before
// measuring.
type SweepSpec struct {
	Param param.Parameter
	Start float64
	Stop  float64
	Num   int
	Delay time.Duration
}

func (s SweepSpec) sequence() Sequence {
	return NewSequence(s.Start, s.Stop, s.Num)
}

func (s SweepSpec) validate(axis string) *ValidationError {
	if s.Param == nil {
		return validationErrorf("%s axis has no parameter", axis)
	}
	if !s.Param.Writable() {
		return validationErrorf("%s parameter %q is not writable", axis, s.Param.Identity().Name)
	}
	if s.Num < 1 {
		return validationErrorf("%s axis num_points = %d, must be >= 1", axis, s.Num)
	}
	if s.Delay < 0 {
		return validationErrorf("%s axis delay = %v, must be >= 0", axis, s.Delay)
	}
	return nil
}

// Mode selects the inner-axis direction behaviour for 2D loops.
type Mode string

const (
	// OneWay sweeps the inner axis start→stop at every outer step.
	OneWay Mode = "one-way"
	// Zigzag alternates the inner direction each outer step, forward on even
	// outer indices. The two directions are recorded under channel instances
	// suffixed _0 (forward) and _1 (reverse), never merged positionally,
	// because the independent-variable order differs between halves.
	Zigzag Mode = "zigzag"
)

// LoopDescriptor is the immutable declarative description of a run: the fast
// (inner) sweep axis, an optional slow (outer) step axis, the direction mode,
// the ordered per-step actions, and labelling metadata.
type LoopDescriptor struct {
	Name  string
	Inner SweepSpec
	Outer *SweepSpec // nil for 1D loops
	Mode  Mode
	Acts  []Action

	// Metadata used only for dataset labelling.
	DeviceInfo     string
	InstrumentInfo string
}

// Is2D reports whether the loop has a real outer axis.
func (d *LoopDescriptor) Is2D() bool { return d.Outer != nil }

// Points returns the total prospective number of coordinates.
func (d *LoopDescriptor) Points() int {
	n := d.Inner.Num
	if d.Outer != nil {
		n *= d.Outer.Num
	}
	return n
}

// Validate checks the descriptor before arming: well-formed ranges, writable
// axes, readable measured parameters, no duplicate channel names, and a real
// outer axis when zigzag is requested.
func (d *LoopDescriptor) Validate() error {
	if err := d.Inner.validate("sweep"); err != nil {
		return err
	}
	if d.Outer != nil {
		if err := d.Outer.validate("step"); err != nil {
			return err
		}
	}
	switch d.Mode {
	case "", OneWay:
	case Zigzag:
		if d.Outer == nil {
			return validationErrorf("zigzag mode requires a step axis")
		}
	default:
		return validationErrorf("unknown mode %q", d.Mode)
	}

	for i, a := range d.Acts {
		switch a.Kind {
		case ActionMeasure:
			if a.Param == nil {
				return validationErrorf("action %d: measurement has no parameter", i)
			}
			if !a.Param.Readable() {
				return validationErrorf("action %d: parameter %q is not readable", i, a.Param.Identity().Name)
			}
		case ActionBreakIf:
			if a.Cond == nil {
				return validationErrorf("action %d: break condition has no predicate", i)
			}
		default:
			return validationErrorf("action %d: unknown kind %d", i, a.Kind)
		}
	}

	// duplicates are caught by schema validation, which sees the full
	// channel set including setpoint and timer names
	return d.Schema().Validate()
}

// directionSuffix returns the channel suffix for the given outer index: empty
// outside zigzag mode, "_0" for forward halves and "_1" for reverse halves.
func (d *LoopDescriptor) directionSuffix(outer int) string {
	if d.Mode != Zigzag {
		return ""
	}
	if outer%2 == 0 {
		return "_0"
	}
	return "_1"
}

// Schema derives the dataset schema: setpoint channels per swept axis, the
// implicit timer channel, then one channel per measurement in action order.
// In zigzag mode the inner setpoint and measured channels appear once per
// direction.
func (d *LoopDescriptor) Schema() dataset.Schema {
	suffixes := []string{""}
	if d.Mode == Zigzag {
		suffixes = []string{"_0", "_1"}
	}

	var chans []dataset.Channel
	if d.Outer != nil {
		id := d.Outer.Param.Identity()
		chans = append(chans, dataset.Channel{
			Name: id.Name + "_set", Label: id.Label, Unit: id.Unit, IsSetpoint: true,
		})
	}
	innerID := d.Inner.Param.Identity()
	for _, sfx := range suffixes {
		chans = append(chans, dataset.Channel{
			Name: innerID.Name + "_set" + sfx, Label: innerID.Label, Unit: innerID.Unit, IsSetpoint: true,
		})
	}
	chans = append(chans, dataset.Channel{Name: TimerChannel, Label: "Elapsed time", Unit: "s"})

	for _, a := range d.Acts {
		if a.Kind != ActionMeasure {
			continue
		}
		id := a.Param.Identity()
		for _, sfx := range suffixes {
			chans = append(chans, dataset.Channel{
				Name: id.Name + sfx, Label: id.Label, Unit: id.Unit,
			})
		}
	}

	outerNum := 1
	if d.Outer != nil {
		outerNum = d.Outer.Num
	}
	name := d.Name
	if name == "" {
		name = d.defaultName()
	}
	return dataset.Schema{
		Name:           name,
		Channels:       chans,
		OuterNum:       outerNum,
		InnerNum:       d.Inner.Num,
		Is2D:           d.Outer != nil,
		DeviceInfo:     d.DeviceInfo,
		InstrumentInfo: d.InstrumentInfo,
	}
}

// defaultName builds a run name from the swept axes, in the style
// "vg_set(0 1)V" / "vbias(0 2)mV vg(-1 1)V".
func (d *LoopDescriptor) defaultName() string {
	part := func(s SweepSpec) string {
		id := s.Param.Identity()
		return fmt.Sprintf("%s(%.6g %.6g)%s", id.Name, s.Start, s.Stop, id.Unit)
	}
	if d.Outer != nil {
		return part(*d.Outer) + " " + part(d.Inner)
	}
	return part(d.Inner)
}
