package sweep

import (
	"time"

	"github.com/banshee-data/sweepstation/internal/param"
	"github.com/banshee-data/sweepstation/internal/timeutil"
)

// executor performs the per-point work of a loop: drive the axes, hold the
// settle delay, then run the action list in declared order. It is stateless
// apart from the descriptor and clock and is driven point by point.
type executor struct {
	desc  *LoopDescriptor
	clock timeutil.Clock
	inner Sequence
	outer Sequence // zero-valued for 1D loops
}

func newExecutor(desc *LoopDescriptor, clock timeutil.Clock) *executor {
	e := &executor{
		desc:  desc,
		clock: clock,
		inner: desc.Inner.sequence(),
	}
	if desc.Outer != nil {
		e.outer = desc.Outer.sequence()
	}
	return e
}

// settle waits out the remainder of delay measured from setAt, so time spent
// in the set call itself counts toward the settle period.
func (e *executor) settle(setAt time.Time, delay time.Duration) {
	if delay <= 0 {
		return
	}
	if rem := delay - e.clock.Now().Sub(setAt); rem > 0 {
		e.clock.Sleep(rem)
	}
}

// innerValue returns the physical setpoint for traversal position i at outer
// step o. In zigzag mode odd outer steps traverse the inner axis in reverse.
func (e *executor) innerValue(o, i int) float64 {
	if e.desc.Mode == Zigzag && o%2 == 1 {
		return e.inner.Reversed().At(i)
	}
	return e.inner.At(i)
}

// visit drives the instruments to point (o, i), waits the settle delays and
// runs the actions. It returns the values recorded so far keyed by channel
// name, whether a break condition fired at this point, and the first
// instrument error. Values captured before a break or error are returned so
// the caller can preserve them.
func (e *executor) visit(o, i int, elapsed float64) (map[string]float64, bool, error) {
	sfx := e.desc.directionSuffix(o)
	values := make(map[string]float64, len(e.desc.Acts)+3)

	if e.desc.Outer != nil {
		ov := e.outer.At(o)
		if i == 0 {
			setAt := e.clock.Now()
			if err := e.desc.Outer.Param.Write(ov); err != nil {
				return values, false, param.Errf("write", e.desc.Outer.Param.Identity().Name, err)
			}
			e.settle(setAt, e.desc.Outer.Delay)
		}
		values[e.desc.Outer.Param.Identity().Name+"_set"] = ov
	}

	iv := e.innerValue(o, i)
	setAt := e.clock.Now()
	if err := e.desc.Inner.Param.Write(iv); err != nil {
		return values, false, param.Errf("write", e.desc.Inner.Param.Identity().Name, err)
	}
	e.settle(setAt, e.desc.Inner.Delay)
	values[e.desc.Inner.Param.Identity().Name+"_set"+sfx] = iv
	values[TimerChannel] = elapsed

	for _, a := range e.desc.Acts {
		switch a.Kind {
		case ActionMeasure:
			v, err := a.Param.Read()
			if err != nil {
				return values, false, param.Errf("read", a.Param.Identity().Name, err)
			}
			values[a.Param.Identity().Name+sfx] = v
		case ActionBreakIf:
			if a.Cond() {
				return values, true, nil
			}
		}
	}
	return values, false, nil
}
