package calib

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

var errTooManyFrames = errors.New("test renderer: frame limit reached")

// noSleep returns immediately unless ctx is done.
var noSleep = SleepFunc(func(ctx context.Context, d time.Duration) error {
	return ctx.Err()
})

// recordingRenderer keeps every presented frame and answers key polls from a
// script: the head of the script is delivered to the first poll that accepts
// it.
type recordingRenderer struct {
	mu        sync.Mutex
	pending   []DrawCommand
	frames    [][]DrawCommand
	script    []string
	maxFrames int
	flipErr   error
	onFlip    func(frame int)
}

func newRecordingRenderer(keys ...string) *recordingRenderer {
	return &recordingRenderer{script: keys, maxFrames: 10000}
}

func (r *recordingRenderer) Draw(cmd DrawCommand) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, cmd)
}

func (r *recordingRenderer) Flip() error {
	r.mu.Lock()
	if r.flipErr != nil {
		r.mu.Unlock()
		return r.flipErr
	}
	if len(r.frames) >= r.maxFrames {
		r.mu.Unlock()
		return errTooManyFrames
	}
	r.frames = append(r.frames, r.pending)
	r.pending = nil
	n := len(r.frames)
	onFlip := r.onFlip
	r.mu.Unlock()

	if onFlip != nil {
		onFlip(n)
	}
	return nil
}

func (r *recordingRenderer) GetKeys(candidates []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.script) > 0 && slices.Contains(candidates, r.script[0]) {
		key := r.script[0]
		r.script = r.script[1:]
		return []string{key}
	}
	return nil
}

func (r *recordingRenderer) WaitKeys(candidates []string, timeout time.Duration) []string {
	return r.GetKeys(candidates)
}

func (r *recordingRenderer) press(keys ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.script = append(r.script, keys...)
}

func (r *recordingRenderer) frameCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func (r *recordingRenderer) lastFrame() []DrawCommand {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		return nil
	}
	return r.frames[len(r.frames)-1]
}

// texts returns every text drawn, in frame order.
func (r *recordingRenderer) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, f := range r.frames {
		for _, c := range f {
			if c.Kind == ShapeText {
				out = append(out, c.Text)
			}
		}
	}
	return out
}

func commandsOfKind(frame []DrawCommand, kind ShapeKind) []DrawCommand {
	var out []DrawCommand
	for _, c := range frame {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// fakeSource delivers frame synchronously on Subscribe.
type fakeSource struct {
	mu           sync.Mutex
	frame        *GazeFrame
	subscribeErr error
	subscribed   int
	unsubscribed int
	callback     func(GazeFrame)
	trackBox     *TrackBoxGeometry
	displayArea  *DisplayAreaGeometry
}

func newFakeSource(frame *GazeFrame) *fakeSource {
	return &fakeSource{frame: frame, trackBox: SimulatedTrackBox(), displayArea: testDisplayArea()}
}

func (s *fakeSource) Subscribe(fn func(GazeFrame)) error {
	s.mu.Lock()
	if s.subscribeErr != nil {
		s.mu.Unlock()
		return s.subscribeErr
	}
	s.subscribed++
	s.callback = fn
	frame := s.frame
	s.mu.Unlock()

	if frame != nil {
		fn(*frame)
	}
	return nil
}

func (s *fakeSource) Unsubscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribed++
	s.callback = nil
	return nil
}

// emit pushes a frame to the current subscriber.
func (s *fakeSource) emit(f GazeFrame) {
	s.mu.Lock()
	fn := s.callback
	s.mu.Unlock()
	if fn != nil {
		fn(f)
	}
}

func (s *fakeSource) DisplayArea() (*DisplayAreaGeometry, error) { return s.displayArea, nil }
func (s *fakeSource) TrackBox() (*TrackBoxGeometry, error)       { return s.trackBox, nil }

// testDisplayArea is 476.64 mm wide and 267.36 mm high.
func testDisplayArea() *DisplayAreaGeometry {
	return NewDisplayAreaGeometry(Vec3{}, Vec3{}, Vec3{}, Vec3{}, 476.64, 267.36)
}

// testGeometry pairs the simulated track box with testDisplayArea on a
// 1366x768 screen.
func testGeometry() *Geometry {
	return &Geometry{
		TrackBox:    SimulatedTrackBox(),
		DisplayArea: testDisplayArea(),
		Resolution:  &Resolution{Width: 1366, Height: 768},
	}
}

// sampledPoint is a calibration point whose samples all sit at left/right.
func sampledPoint(pos, left, right Point, n int) CalibrationPoint {
	samples := make([]CalibrationSample, n)
	for i := range samples {
		samples[i] = CalibrationSample{
			Left:  CalibrationEyeSample{Position: left, Valid: true},
			Right: CalibrationEyeSample{Position: right, Valid: true},
		}
	}
	return CalibrationPoint{Position: pos, Samples: samples}
}

// resultFor builds a successful result for targets with the origin artifact
// first and each eye offset by d.
func resultFor(targets TargetList, d float64) *CalibrationResult {
	points := []CalibrationPoint{sampledPoint(Point{}, Point{}, Point{}, 1)}
	for _, t := range targets {
		p := t.Position
		points = append(points, sampledPoint(p,
			clampUnit(Point{X: p.X + d, Y: p.Y + d}),
			clampUnit(Point{X: p.X - d, Y: p.Y - d}), 3))
	}
	return &CalibrationResult{Status: StatusSuccess, Points: points}
}

func bothEyesFrame(gaze Point, distance float64) GazeFrame {
	f := SimulatedFrame(gaze)
	f.Left.OriginInUserSpace.Z = distance
	f.Right.OriginInUserSpace.Z = distance
	return f
}

// mockCalibrator records calls made through the Calibrator interface.
type mockCalibrator struct {
	mock.Mock
}

func (m *mockCalibrator) EnterMode() error {
	return m.Called().Error(0)
}

func (m *mockCalibrator) LeaveMode() error {
	return m.Called().Error(0)
}

func (m *mockCalibrator) CollectData(ctx context.Context, p Point) (CalibrationStatus, error) {
	args := m.Called(p)
	return args.Get(0).(CalibrationStatus), args.Error(1)
}

func (m *mockCalibrator) DiscardData(p Point) error {
	return m.Called(p).Error(0)
}

func (m *mockCalibrator) ComputeAndApply() (*CalibrationResult, error) {
	args := m.Called()
	res, _ := args.Get(0).(*CalibrationResult)
	return res, args.Error(1)
}
