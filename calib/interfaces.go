package calib

import (
	"context"
	"time"
)

// Renderer is the drawing and keyboard surface the calibration screens run
// on. Draw queues a command for the next frame; Flip presents it.
type Renderer interface {
	Draw(cmd DrawCommand)
	Flip() error

	// GetKeys returns the candidate keys pressed since the last poll without
	// blocking.
	GetKeys(candidates []string) []string

	// WaitKeys blocks until one of the candidates is pressed or the timeout
	// elapses. A timeout of zero waits forever.
	WaitKeys(candidates []string, timeout time.Duration) []string
}

// Calibrator is the tracker's calibration interface.
type Calibrator interface {
	EnterMode() error
	LeaveMode() error
	CollectData(ctx context.Context, p Point) (CalibrationStatus, error)
	DiscardData(p Point) error
	ComputeAndApply() (*CalibrationResult, error)
}

// GazeSource delivers the tracker's gaze stream and its fixed geometry.
type GazeSource interface {
	Subscribe(fn func(GazeFrame)) error
	Unsubscribe() error
	DisplayArea() (*DisplayAreaGeometry, error)
	TrackBox() (*TrackBoxGeometry, error)
}

// ResultReporter receives the outcome of a finished session.
type ResultReporter interface {
	Report(outcome *Outcome) error
}

// Sleeper pauses between screens. Tests substitute one that returns at once.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleepFunc adapts a function to Sleeper.
type SleepFunc func(ctx context.Context, d time.Duration) error

func (f SleepFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

type realSleeper struct{}

func (realSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RealSleeper waits on the wall clock and honors cancellation.
func RealSleeper() Sleeper {
	return realSleeper{}
}
