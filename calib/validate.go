package calib

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

const (
	validationPrompt      = "Wait for the experimenter."
	validationTargetSize  = 20.0
	validationGazeSize    = 50.0
	validationGazeOutline = 40.0
	validationWarmup      = 500 * time.Millisecond
)

// Validator shows the targets together with the live, smoothed gaze point so
// the operator can judge the applied calibration.
type Validator struct {
	geometry *Geometry
	renderer Renderer
	monitor  *GazeMonitor
	sleeper  Sleeper
	onGaze   func(Point)
}

// NewValidator creates the validation screen.
func NewValidator(g *Geometry, r Renderer, m *GazeMonitor, s Sleeper) *Validator {
	if s == nil {
		s = RealSleeper()
	}
	return &Validator{geometry: g, renderer: r, monitor: m, sleeper: s}
}

// OnGaze registers a callback receiving every smoothed gaze point that was
// drawn, in display-area space.
func (v *Validator) OnGaze(fn func(Point)) {
	v.onGaze = fn
}

// Run draws the validation screen until the continue key (nil) or the quit
// key (ErrAborted). The gaze stream is stopped either way.
func (v *Validator) Run(ctx context.Context, targets TargetList) (err error) {
	if len(targets) == 0 {
		return fmt.Errorf("%w: no validation targets", ErrPreconditionUnmet)
	}
	pixels := make([]Point, len(targets))
	for i, t := range targets {
		px, err := v.geometry.DisplayAreaToPixels(t.Position)
		if err != nil {
			return &TargetError{Key: t.Key, Err: err}
		}
		pixels[i] = px.Point()
	}

	if err := v.monitor.Start(); err != nil {
		return err
	}
	defer func() {
		if stopErr := v.monitor.Stop(); stopErr != nil && err == nil {
			err = stopErr
		}
	}()
	if err := v.sleeper.Sleep(ctx, validationWarmup); err != nil {
		return err
	}

	smoother := NewPointSmoother(NaNPoint())
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		gaze, err := v.monitor.AverageGazePoint()
		if errors.Is(err, ErrPreconditionUnmet) {
			gaze = NaNPoint()
		} else if err != nil {
			return err
		}
		if err := v.drawFrame(smoother.Smooth(gaze), pixels); err != nil {
			return err
		}
		if err := v.renderer.Flip(); err != nil {
			return fmt.Errorf("presenting validation: %w", err)
		}

		for _, key := range v.renderer.GetKeys([]string{QuitKey, ContinueKey}) {
			switch key {
			case QuitKey:
				return ErrAborted
			case ContinueKey:
				log.Println("Exiting calibration validation.")
				return nil
			}
		}
	}
}

func (v *Validator) drawFrame(gaze Point, targets []Point) error {
	if inUnitSquare(gaze) {
		px, err := v.geometry.DisplayAreaToPixels(gaze)
		if err != nil {
			return err
		}
		circle := Circle(px.Point(), validationGazeSize, ColorGazeLine, ColorGazeFill)
		circle.LineWidth = validationGazeOutline
		v.renderer.Draw(circle)
		if v.onGaze != nil {
			v.onGaze(gaze)
		}
	}

	for _, p := range targets {
		v.renderer.Draw(Circle(p, validationTargetSize, ColorRed, ColorRed))
	}

	msg := Message(validationPrompt)
	msg.Pos = Point{X: 0, Y: -0.5}
	msg.Fill = ColorTrackBox
	v.renderer.Draw(msg)
	return nil
}
