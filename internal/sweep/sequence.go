package sweep

// Sequence is the setpoint sequencer for one axis: a finite, restartable
// sequence of num evenly spaced values from start to stop inclusive. It is a
// value type; reversing produces a new Sequence and never mutates shared
// state.
type Sequence struct {
	start, stop float64
	num         int
}

// NewSequence builds a sequence. num must be >= 1; num == 1 yields exactly
// [start].
func NewSequence(start, stop float64, num int) Sequence {
	return Sequence{start: start, stop: stop, num: num}
}

// Len returns the number of setpoints.
func (s Sequence) Len() int { return s.num }

// At returns the i-th setpoint by linear interpolation. Endpoints are exact:
// At(0) == start and At(Len()-1) == stop regardless of rounding in between.
func (s Sequence) At(i int) float64 {
	if i <= 0 || s.num == 1 {
		return s.start
	}
	if i >= s.num-1 {
		return s.stop
	}
	return s.start + (s.stop-s.start)*float64(i)/float64(s.num-1)
}

// Values materialises the full sequence.
func (s Sequence) Values() []float64 {
	out := make([]float64, s.num)
	for i := range out {
		out[i] = s.At(i)
	}
	return out
}

// Reversed returns the stop→start sequence over the same points.
func (s Sequence) Reversed() Sequence {
	return Sequence{start: s.stop, stop: s.start, num: s.num}
}
