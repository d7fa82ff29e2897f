package calib

import (
	"fmt"

	"github.com/paulmach/orb"
)

// eyeOverlayScale stretches the horizontal eye offset in the positioning
// overlay so small head movements stay visible.
const eyeOverlayScale = 1.7

var unitSquare = orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{1, 1}}

// inUnitSquare reports whether p lies in [0,1]x[0,1]. orb treats NaN as
// inside, so NaN is rejected first.
func inUnitSquare(p Point) bool {
	if p.IsNaN() {
		return false
	}
	return unitSquare.Contains(orb.Point{p.X, p.Y})
}

func checkUnit(p Point) error {
	if !inUnitSquare(p) {
		return fmt.Errorf("%w: point (%v, %v) outside [0,1]", ErrRangeViolation, p.X, p.Y)
	}
	return nil
}

// Geometry is the set of hardware and display measurements the coordinate
// conversions depend on. Fields are read-only once a session starts.
type Geometry struct {
	TrackBox    *TrackBoxGeometry
	DisplayArea *DisplayAreaGeometry
	Resolution  *Resolution
}

func (g *Geometry) requireBoxes() error {
	if g == nil || g.TrackBox == nil {
		return fmt.Errorf("%w: track box geometry not set", ErrPreconditionUnmet)
	}
	if g.DisplayArea == nil {
		return fmt.Errorf("%w: display area geometry not set", ErrPreconditionUnmet)
	}
	if g.DisplayArea.Width <= 0 || g.DisplayArea.Height <= 0 {
		return fmt.Errorf("%w: display area has no size", ErrPreconditionUnmet)
	}
	return nil
}

func (g *Geometry) requireResolution() error {
	if g == nil || g.Resolution == nil {
		return fmt.Errorf("%w: display resolution not set", ErrPreconditionUnmet)
	}
	if g.Resolution.Width <= 0 || g.Resolution.Height <= 0 {
		return fmt.Errorf("%w: resolution %dx%d", ErrRangeViolation, g.Resolution.Width, g.Resolution.Height)
	}
	return nil
}

// TrackBoxToDisplayArea rescales a normalized track box point by the ratio of
// track box size to display area size.
func (g *Geometry) TrackBoxToDisplayArea(p Point) (Point, error) {
	if err := g.requireBoxes(); err != nil {
		return Point{}, err
	}
	if err := checkUnit(p); err != nil {
		return Point{}, fmt.Errorf("track box to display area: %w", err)
	}
	return g.trackBoxToDisplayArea(p), nil
}

func (g *Geometry) trackBoxToDisplayArea(p Point) Point {
	return Point{
		X: p.X * g.TrackBox.Width / g.DisplayArea.Width,
		Y: p.Y * g.TrackBox.Height / g.DisplayArea.Height,
	}
}

// TrackBoxToWindowNorm maps a normalized track box point into window
// coordinates centered on the screen with +Y up.
func (g *Geometry) TrackBoxToWindowNorm(p Point) (Point, error) {
	if err := g.requireBoxes(); err != nil {
		return Point{}, err
	}
	if err := checkUnit(p); err != nil {
		return Point{}, fmt.Errorf("track box to window: %w", err)
	}
	da := g.trackBoxToDisplayArea(p)
	center := g.trackBoxToDisplayArea(Point{X: 1, Y: 1}).Scale(0.5)
	return Point{X: da.X - center.X, Y: -(da.Y - center.Y)}, nil
}

// TrackBoxEyeToWindow places an eye marker for the positioning overlay. The
// horizontal axis is mirrored so the user sees themselves as in a mirror.
func (g *Geometry) TrackBoxEyeToWindow(p Point) (Point, error) {
	n, err := g.TrackBoxToWindowNorm(p)
	if err != nil {
		return Point{}, err
	}
	return Point{X: -n.X * eyeOverlayScale, Y: n.Y}, nil
}

// TrackBoxOverlaySize is the size of the track box rectangle in window units.
func (g *Geometry) TrackBoxOverlaySize() (Point, error) {
	return g.TrackBoxToDisplayArea(Point{X: 1, Y: 1})
}

// DisplayAreaToPixels maps a display area point to pixels centered on the
// screen. Coordinates are truncated toward zero after the shift.
func (g *Geometry) DisplayAreaToPixels(p Point) (PixelPoint, error) {
	if err := g.requireResolution(); err != nil {
		return PixelPoint{}, err
	}
	if err := checkUnit(p); err != nil {
		return PixelPoint{}, fmt.Errorf("display area to pixels: %w", err)
	}
	w := float64(g.Resolution.Width)
	h := float64(g.Resolution.Height)
	return PixelPoint{
		X: int(p.X*w - w/2),
		Y: int(-(p.Y*h - h/2)),
	}, nil
}

// PixelsToDisplayArea is the inverse of DisplayAreaToPixels, up to the
// truncation applied on the way in.
func (g *Geometry) PixelsToDisplayArea(px PixelPoint) (Point, error) {
	if err := g.requireResolution(); err != nil {
		return Point{}, err
	}
	w := float64(g.Resolution.Width)
	h := float64(g.Resolution.Height)
	p := Point{
		X: (float64(px.X) + w/2) / w,
		Y: (h/2 - float64(px.Y)) / h,
	}
	if err := checkUnit(p); err != nil {
		return Point{}, fmt.Errorf("pixels to display area: %w", err)
	}
	return p, nil
}
