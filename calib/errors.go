package calib

import (
	"errors"
	"fmt"
)

// Sentinel errors. Callers match them with errors.Is; every failure inside the
// package wraps one of these with context.
var (
	// ErrTypeMismatch is returned when an input has the wrong shape or kind.
	ErrTypeMismatch = errors.New("calib: type mismatch")

	// ErrRangeViolation is returned when a coordinate falls outside its
	// normalized range, or is NaN.
	ErrRangeViolation = errors.New("calib: value out of range")

	// ErrPreconditionUnmet is returned when required state (geometry,
	// resolution, an active stream or calibration) is missing.
	ErrPreconditionUnmet = errors.New("calib: precondition unmet")

	// ErrDataInconsistency is returned when result data does not line up with
	// the targets that produced it.
	ErrDataInconsistency = errors.New("calib: data inconsistency")

	// ErrDeviceFailure is returned when the tracker reports an unrecoverable
	// calibration failure.
	ErrDeviceFailure = errors.New("calib: device failure")

	// ErrAborted is returned when the operator pressed the quit key.
	ErrAborted = errors.New("calib: aborted by operator")
)

// TargetError ties a failure to a specific calibration target.
type TargetError struct {
	Key string
	Err error
}

func (e *TargetError) Error() string {
	return fmt.Sprintf("target %q: %v", e.Key, e.Err)
}

func (e *TargetError) Unwrap() error {
	return e.Err
}
