package sweep

import (
	"errors"
	"fmt"
)

// ValidationError reports a malformed LoopDescriptor. It is raised while
// arming, before any hardware is touched and before a dataset is allocated.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return "invalid loop: " + e.msg }

func validationErrorf(format string, v ...interface{}) *ValidationError {
	return &ValidationError{msg: fmt.Sprintf(format, v...)}
}

// ErrSafetyAbort is returned when the confirmation policy declines a sweep
// whose start value differs from the parameter's live value. The run never
// starts and no dataset is created.
var ErrSafetyAbort = errors.New("sweep declined by confirmation policy")

// ErrCancelled is returned when an external cancel request stops the run
// between points. The partial dataset is sealed before the error surfaces.
var ErrCancelled = errors.New("sweep cancelled")

// Reason distinguishes why a run reached its terminal state.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonBreakCondition  Reason = "break_condition"
	ReasonUserCancelled   Reason = "user_cancelled"
	ReasonInstrumentError Reason = "instrument_error"
)
