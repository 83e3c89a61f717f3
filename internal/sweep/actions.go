package sweep

import "github.com/banshee-data/sweepstation/internal/param"

// ActionKind tags the variant of an Action.
type ActionKind int

const (
	// ActionMeasure reads a parameter and records the value at the current
	// coordinate.
	ActionMeasure ActionKind = iota
	// ActionBreakIf evaluates a predicate; a true result ends the run early
	// while preserving collected data. It never writes to the dataset.
	ActionBreakIf
)

// Action is one per-step operation. Actions are evaluated in list order at
// every visited point; the variant is dispatched explicitly by the step
// executor, there is no runtime type inspection.
type Action struct {
	Kind ActionKind

	// Measure
	Param param.Parameter

	// BreakIf
	Name string
	Cond func() bool
}

// Measure records p's value at each visited point.
func Measure(p param.Parameter) Action {
	return Action{Kind: ActionMeasure, Param: p}
}

// BreakIf ends the run early when cond returns true. The name labels the
// break in run state and logs; cond must be side-effect free with respect to
// the dataset.
func BreakIf(name string, cond func() bool) Action {
	return Action{Kind: ActionBreakIf, Name: name, Cond: cond}
}
