package calib

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"
)

// simulatedOffset is how far each simulated eye lands from the target, in
// display-area units.
const simulatedOffset = 0.02

// SimulatedTrackBox is the geometry reported by the simulated tracker.
func SimulatedTrackBox() *TrackBoxGeometry {
	return NewTrackBoxGeometry(
		Vec3{X: -150, Y: -121, Z: 500},
		Vec3{X: 150, Y: -121, Z: 500},
		Vec3{X: -150, Y: 121, Z: 500},
		Vec3{X: 150, Y: 121, Z: 500},
		Vec3{X: -150, Y: -121, Z: 800},
	)
}

// SimulatedDisplayArea is the display area reported by the simulated tracker.
func SimulatedDisplayArea() *DisplayAreaGeometry {
	return NewDisplayAreaGeometry(
		Vec3{X: -237.45, Y: 259.32, Z: 93.58},
		Vec3{X: 239.19, Y: 259.32, Z: 93.58},
		Vec3{X: -237.45, Y: 13.21, Z: -10.88},
		Vec3{X: 239.19, Y: 13.21, Z: -10.88},
		267.36, 476.64,
	)
}

// SimulatedFrame is a frame with both eyes valid, centered in the track box
// and looking at gaze.
func SimulatedFrame(gaze Point) GazeFrame {
	return GazeFrame{
		Timestamp: time.Now(),
		Left: EyeData{
			OriginInTrackBox:  Vec3{X: 0.5, Y: 0.5},
			OriginInUserSpace: Vec3{Z: 650},
			GazePoint:         gaze,
			OriginValid:       true,
			GazeValid:         true,
		},
		Right: EyeData{
			OriginInTrackBox:  Vec3{X: 0.5, Y: 0.5},
			OriginInUserSpace: Vec3{Z: 652},
			GazePoint:         gaze,
			OriginValid:       true,
			GazeValid:         true,
		},
	}
}

// SimulatedTracker stands in for real hardware. It accepts every collection,
// reports one sample per point offset diagonally per eye, and streams frames
// whose gaze slowly circles the screen center.
type SimulatedTracker struct {
	interval time.Duration

	mu        sync.Mutex
	collected []Point
	inMode    bool
	callback  func(GazeFrame)
	cancel    context.CancelFunc
}

// NewSimulatedTracker creates a tracker streaming a frame every interval.
// An interval of zero delivers a single frame on subscribe.
func NewSimulatedTracker(interval time.Duration) *SimulatedTracker {
	return &SimulatedTracker{interval: interval}
}

func (t *SimulatedTracker) EnterMode() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inMode = true
	return nil
}

func (t *SimulatedTracker) LeaveMode() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inMode = false
	return nil
}

func (t *SimulatedTracker) CollectData(ctx context.Context, p Point) (CalibrationStatus, error) {
	if err := ctx.Err(); err != nil {
		return StatusFailure, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.inMode {
		return StatusFailure, fmt.Errorf("%w: not in calibration mode", ErrPreconditionUnmet)
	}
	t.collected = append(t.collected, p)
	return StatusSuccess, nil
}

func (t *SimulatedTracker) DiscardData(p Point) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := slices.Index(t.collected, p)
	if i < 0 {
		return fmt.Errorf("%w: no data collected at (%v, %v)", ErrDataInconsistency, p.X, p.Y)
	}
	t.collected = slices.Delete(t.collected, i, i+1)
	return nil
}

// ComputeAndApply reports the origin artifact followed by every collected
// point, as real hardware does.
func (t *SimulatedTracker) ComputeAndApply() (*CalibrationResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.inMode {
		return nil, fmt.Errorf("%w: not in calibration mode", ErrPreconditionUnmet)
	}
	points := make([]CalibrationPoint, 0, len(t.collected)+1)
	points = append(points, CalibrationPoint{
		Samples: []CalibrationSample{{
			Left:  CalibrationEyeSample{Valid: true},
			Right: CalibrationEyeSample{Valid: true},
		}},
	})
	for _, p := range t.collected {
		points = append(points, CalibrationPoint{
			Position: p,
			Samples: []CalibrationSample{{
				Left:  CalibrationEyeSample{Position: clampUnit(Point{X: p.X + simulatedOffset, Y: p.Y + simulatedOffset}), Valid: true},
				Right: CalibrationEyeSample{Position: clampUnit(Point{X: p.X - simulatedOffset, Y: p.Y - simulatedOffset}), Valid: true},
			}},
		})
	}
	return &CalibrationResult{Status: StatusSuccess, Points: points}, nil
}

func (t *SimulatedTracker) Subscribe(fn func(GazeFrame)) error {
	t.mu.Lock()
	if t.callback != nil {
		t.mu.Unlock()
		return fmt.Errorf("%w: already subscribed", ErrPreconditionUnmet)
	}
	t.callback = fn
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.mu.Unlock()

	fn(SimulatedFrame(Point{X: 0.5, Y: 0.5}))
	if t.interval > 0 {
		go t.stream(ctx, fn)
	}
	return nil
}

func (t *SimulatedTracker) Unsubscribe() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
	}
	t.callback = nil
	t.cancel = nil
	return nil
}

func (t *SimulatedTracker) DisplayArea() (*DisplayAreaGeometry, error) {
	return SimulatedDisplayArea(), nil
}

func (t *SimulatedTracker) TrackBox() (*TrackBoxGeometry, error) {
	return SimulatedTrackBox(), nil
}

func (t *SimulatedTracker) stream(ctx context.Context, fn func(GazeFrame)) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			phase := now.Sub(start).Seconds()
			gaze := Point{X: 0.5 + 0.05*math.Cos(phase), Y: 0.5 + 0.05*math.Sin(phase)}
			fn(SimulatedFrame(gaze))
		}
	}
}

func clampUnit(p Point) Point {
	return Point{X: math.Min(1, math.Max(0, p.X)), Y: math.Min(1, math.Max(0, p.Y))}
}
