package sweep

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// etaWindow is the number of recent step durations averaged for the
// time-remaining estimate.
const etaWindow = 32

// etaEstimator predicts run completion from a moving window of observed
// per-point durations.
type etaEstimator struct {
	durs []float64 // seconds, ring buffer
	next int
	full bool
}

func (e *etaEstimator) observe(d time.Duration) {
	if e.durs == nil {
		e.durs = make([]float64, etaWindow)
	}
	e.durs[e.next] = d.Seconds()
	e.next++
	if e.next == len(e.durs) {
		e.next = 0
		e.full = true
	}
}

// remaining estimates time left for n further points. Zero until at least one
// point has been observed.
func (e *etaEstimator) remaining(n int) time.Duration {
	var window []float64
	switch {
	case e.full:
		window = e.durs
	case e.next > 0:
		window = e.durs[:e.next]
	default:
		return 0
	}
	mean := stat.Mean(window, nil)
	return time.Duration(mean * float64(n) * float64(time.Second))
}
