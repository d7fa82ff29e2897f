package calib

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"log"
	"time"
)

const (
	// distanceMargin is how far inside the track box, in millimeters, the
	// user must sit to count as well positioned.
	distanceMargin = 50.0

	eyeMarkerRadius = 0.07
	trackBoxWarmup  = 500 * time.Millisecond
	trackBoxLinger  = 2 * time.Second
)

// DistanceZone classifies how well the user's eye distance fits the track box.
type DistanceZone int

const (
	DistanceWrong DistanceZone = iota
	DistanceMedium
	DistanceCorrect
)

func (z DistanceZone) String() string {
	switch z {
	case DistanceCorrect:
		return "correct"
	case DistanceMedium:
		return "medium"
	default:
		return "wrong"
	}
}

// Color is the eye marker color for the zone.
func (z DistanceZone) Color() color.NRGBA {
	switch z {
	case DistanceCorrect:
		return ColorGreen
	case DistanceMedium:
		return ColorYellow
	default:
		return ColorRed
	}
}

// ClassifyDistance is correct within the box shrunk by the margin on both
// ends, medium strictly inside the margin bands, wrong otherwise.
func ClassifyDistance(d float64, tb *TrackBoxGeometry) DistanceZone {
	front, back := tb.FrontDistance, tb.BackDistance
	switch {
	case d >= front+distanceMargin && d <= back-distanceMargin:
		return DistanceCorrect
	case (d > front && d < front+distanceMargin) || (d > back-distanceMargin && d < back):
		return DistanceMedium
	default:
		return DistanceWrong
	}
}

// DistanceMessage is the feedback line shown under the track box.
func DistanceMessage(d float64) string {
	return fmt.Sprintf("You're currently %d cm away from the screen. \nPress 'c' to calibrate or 'q' to abort.", int(d/10))
}

// TrackBoxCheck shows where the tracker sees the user's eyes so they can
// settle into a good position before calibrating.
type TrackBoxCheck struct {
	geometry *Geometry
	renderer Renderer
	monitor  *GazeMonitor
	sleeper  Sleeper
}

// NewTrackBoxCheck creates the positioning screen.
func NewTrackBoxCheck(g *Geometry, r Renderer, m *GazeMonitor, s Sleeper) *TrackBoxCheck {
	if s == nil {
		s = RealSleeper()
	}
	return &TrackBoxCheck{geometry: g, renderer: r, monitor: m, sleeper: s}
}

// Run draws the positioning feedback until the continue key (nil) or the
// quit key (ErrAborted). The gaze stream is stopped either way.
func (c *TrackBoxCheck) Run(ctx context.Context) (err error) {
	box, err := c.geometry.TrackBoxOverlaySize()
	if err != nil {
		return err
	}
	if err := c.monitor.Start(); err != nil {
		return err
	}
	defer func() {
		if stopErr := c.monitor.Stop(); stopErr != nil && err == nil {
			err = stopErr
		}
	}()

	if err := c.sleeper.Sleep(ctx, trackBoxWarmup); err != nil {
		return err
	}

	distances := NewScalarSmoother(0)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := c.drawFrame(box, distances); err != nil {
			return err
		}
		if err := c.renderer.Flip(); err != nil {
			return fmt.Errorf("presenting track box: %w", err)
		}

		for _, key := range c.renderer.GetKeys([]string{QuitKey, ContinueKey}) {
			switch key {
			case QuitKey:
				return ErrAborted
			case ContinueKey:
				log.Println("Proceeding to calibration.")
				return c.sleeper.Sleep(ctx, trackBoxLinger)
			}
		}
	}
}

func (c *TrackBoxCheck) drawFrame(box Point, distances *SmoothingBuffer[float64]) error {
	c.renderer.Draw(DrawCommand{
		Kind:      ShapeRect,
		Units:     UnitsNorm,
		Width:     box.X,
		Height:    box.Y,
		LineWidth: 3,
		Line:      ColorTrackBox,
		Fill:      ColorTrackBox,
	})

	markers, err := c.monitor.EyeMarkers(c.geometry)
	if errors.Is(err, ErrPreconditionUnmet) {
		// No frame yet: draw the empty box.
		c.renderer.Draw(Message(DistanceMessage(0)))
		return nil
	}
	if err != nil {
		return err
	}

	raw, err := c.monitor.AverageEyeDistance()
	if err != nil {
		return err
	}
	dist := distances.Smooth(raw)
	zone := ClassifyDistance(dist, c.geometry.TrackBox)

	for _, m := range []struct {
		pos     Point
		visible bool
	}{{markers.Left, markers.LeftVisible}, {markers.Right, markers.RightVisible}} {
		if !m.visible {
			continue
		}
		c.renderer.Draw(DrawCommand{
			Kind:   ShapeCircle,
			Units:  UnitsNorm,
			Pos:    m.pos,
			Radius: eyeMarkerRadius,
			Line:   zone.Color(),
			Fill:   zone.Color(),
		})
	}

	msg := Message(DistanceMessage(dist))
	msg.Pos = Point{X: 0, Y: -0.65}
	c.renderer.Draw(msg)
	return nil
}
