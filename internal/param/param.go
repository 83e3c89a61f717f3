// Package param defines the capability interface over settable and gettable
// physical or virtual quantities: instrument channels, scaled/derived values,
// and software-only values used as sweep axes.
//
// The sweep engine holds parameters as non-owning references for the duration
// of a run; construction, connection management and retry policy belong to the
// instrument layer that supplies them.
package param

import (
	"fmt"
	"sync"
)

// Identity describes a parameter for dataset labelling.
type Identity struct {
	Name  string // machine name, used as the channel name
	Label string // human-readable label for headers and plots
	Unit  string // physical unit, e.g. "V", "mA", "K"
}

// String returns "label (unit)" falling back to the name when no label is set.
func (id Identity) String() string {
	label := id.Label
	if label == "" {
		label = id.Name
	}
	if id.Unit == "" {
		return label
	}
	return fmt.Sprintf("%s (%s)", label, id.Unit)
}

// Parameter is the uniform interface the sweep engine drives. Read and Write
// may fail with *InstrumentError; the engine treats that as fatal to the run
// and never retries, since repeating a hardware write risks leaving the
// physical output in an inconsistent state.
type Parameter interface {
	Identity() Identity
	Readable() bool
	Writable() bool
	Read() (float64, error)
	Write(value float64) error
}

// InstrumentError reports a communication failure with the underlying device.
type InstrumentError struct {
	Op    string // "read" or "write"
	Param string // parameter name
	Err   error
}

func (e *InstrumentError) Error() string {
	return fmt.Sprintf("instrument %s of %q failed: %v", e.Op, e.Param, e.Err)
}

func (e *InstrumentError) Unwrap() error { return e.Err }

// Errf wraps err as an *InstrumentError for the given operation and parameter.
func Errf(op, name string, err error) error {
	return &InstrumentError{Op: op, Param: name, Err: err}
}

// Virtual is a software-only parameter holding its value in memory. It is
// both readable and writable and is safe for concurrent use. Virtual
// parameters serve as sweep axes that have no hardware behind them (counters,
// nominal setpoints) and as test doubles.
type Virtual struct {
	id Identity

	mu    sync.Mutex
	value float64
}

// NewVirtual creates a Virtual parameter with the given identity and initial
// value.
func NewVirtual(id Identity, initial float64) *Virtual {
	return &Virtual{id: id, value: initial}
}

func (v *Virtual) Identity() Identity { return v.id }
func (v *Virtual) Readable() bool     { return true }
func (v *Virtual) Writable() bool     { return true }

func (v *Virtual) Read() (float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.value, nil
}

func (v *Virtual) Write(value float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.value = value
	return nil
}

// Func adapts a pair of closures into a Parameter. A nil ReadFunc or
// WriteFunc marks the corresponding capability as absent.
type Func struct {
	ID        Identity
	ReadFunc  func() (float64, error)
	WriteFunc func(float64) error
}

func (f *Func) Identity() Identity { return f.ID }
func (f *Func) Readable() bool     { return f.ReadFunc != nil }
func (f *Func) Writable() bool     { return f.WriteFunc != nil }

func (f *Func) Read() (float64, error) {
	if f.ReadFunc == nil {
		return 0, fmt.Errorf("parameter %q is not readable", f.ID.Name)
	}
	return f.ReadFunc()
}

func (f *Func) Write(value float64) error {
	if f.WriteFunc == nil {
		return fmt.Errorf("parameter %q is not writable", f.ID.Name)
	}
	return f.WriteFunc(value)
}
