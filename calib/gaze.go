package calib

import (
	"fmt"
	"math"
	"sync"
)

// GazeMonitor owns the most recent frame of the gaze stream. The source may
// deliver frames on its own goroutine; readers always get a full copy.
type GazeMonitor struct {
	source GazeSource

	mu       sync.RWMutex
	latest   GazeFrame
	hasFrame bool
	tracking bool
}

// NewGazeMonitor creates a monitor for src. Nothing is subscribed until Start.
func NewGazeMonitor(src GazeSource) *GazeMonitor {
	return &GazeMonitor{source: src}
}

// Start subscribes to the gaze stream. Starting twice is a no-op.
func (m *GazeMonitor) Start() error {
	if m.source == nil {
		return fmt.Errorf("%w: no gaze source", ErrPreconditionUnmet)
	}
	m.mu.Lock()
	if m.tracking {
		m.mu.Unlock()
		return nil
	}
	m.tracking = true
	m.hasFrame = false
	m.mu.Unlock()

	if err := m.source.Subscribe(m.update); err != nil {
		m.mu.Lock()
		m.tracking = false
		m.mu.Unlock()
		return fmt.Errorf("subscribing to gaze stream: %w", err)
	}
	return nil
}

// Stop unsubscribes from the gaze stream.
func (m *GazeMonitor) Stop() error {
	m.mu.Lock()
	if !m.tracking {
		m.mu.Unlock()
		return nil
	}
	m.tracking = false
	m.mu.Unlock()

	if err := m.source.Unsubscribe(); err != nil {
		return fmt.Errorf("unsubscribing from gaze stream: %w", err)
	}
	return nil
}

// Tracking reports whether the monitor is subscribed.
func (m *GazeMonitor) Tracking() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tracking
}

func (m *GazeMonitor) update(f GazeFrame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.tracking {
		return
	}
	m.latest = f
	m.hasFrame = true
}

// Latest returns a copy of the newest frame.
func (m *GazeMonitor) Latest() (GazeFrame, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.tracking {
		return GazeFrame{}, fmt.Errorf("%w: gaze stream not started", ErrPreconditionUnmet)
	}
	if !m.hasFrame {
		return GazeFrame{}, fmt.Errorf("%w: no gaze data received yet", ErrPreconditionUnmet)
	}
	return m.latest, nil
}

// AverageGazePoint is the mean display-area gaze point of the valid eyes, or
// NaN coordinates when neither eye is valid.
func (m *GazeMonitor) AverageGazePoint() (Point, error) {
	f, err := m.Latest()
	if err != nil {
		return Point{}, err
	}
	return nanMeanPoints(gazeOrNaN(f.Left), gazeOrNaN(f.Right)), nil
}

// AverageEyePosition is the mean user-space origin of the valid eyes, or NaN
// coordinates when neither eye is valid.
func (m *GazeMonitor) AverageEyePosition() (Vec3, error) {
	f, err := m.Latest()
	if err != nil {
		return Vec3{}, err
	}
	var sum Vec3
	n := 0
	for _, eye := range []EyeData{f.Left, f.Right} {
		if !eye.OriginValid {
			continue
		}
		sum.X += eye.OriginInUserSpace.X
		sum.Y += eye.OriginInUserSpace.Y
		sum.Z += eye.OriginInUserSpace.Z
		n++
	}
	if n == 0 {
		return Vec3{X: math.NaN(), Y: math.NaN(), Z: math.NaN()}, nil
	}
	return Vec3{X: sum.X / float64(n), Y: sum.Y / float64(n), Z: sum.Z / float64(n)}, nil
}

// AverageEyeDistance is the mean distance of the valid eyes from the screen in
// millimeters, or 0 when neither eye is valid.
func (m *GazeMonitor) AverageEyeDistance() (float64, error) {
	pos, err := m.AverageEyePosition()
	if err != nil {
		return 0, err
	}
	if math.IsNaN(pos.Z) {
		return 0, nil
	}
	return pos.Z, nil
}

// EyeMarkers are the overlay positions of both eyes in window units.
type EyeMarkers struct {
	Left         Point
	Right        Point
	LeftVisible  bool
	RightVisible bool
}

// EyeMarkers maps both eye origins from the track box into the positioning
// overlay. An eye that is invalid or outside the box is not visible.
func (m *GazeMonitor) EyeMarkers(g *Geometry) (EyeMarkers, error) {
	f, err := m.Latest()
	if err != nil {
		return EyeMarkers{}, err
	}
	if err := g.requireBoxes(); err != nil {
		return EyeMarkers{}, err
	}

	var out EyeMarkers
	out.Left, out.LeftVisible = eyeMarker(g, f.Left)
	out.Right, out.RightVisible = eyeMarker(g, f.Right)
	return out, nil
}

func eyeMarker(g *Geometry, eye EyeData) (Point, bool) {
	if !eye.OriginValid {
		return Point{}, false
	}
	p, err := g.TrackBoxEyeToWindow(Point{X: eye.OriginInTrackBox.X, Y: eye.OriginInTrackBox.Y})
	if err != nil {
		return Point{}, false
	}
	return p, true
}

func gazeOrNaN(eye EyeData) Point {
	if !eye.GazeValid {
		return NaNPoint()
	}
	return eye.GazePoint
}
