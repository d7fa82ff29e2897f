package calib

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyDistance(t *testing.T) {
	tb := SimulatedTrackBox()
	tests := []struct {
		d    float64
		want DistanceZone
	}{
		{650, DistanceCorrect},
		{550, DistanceCorrect},
		{750, DistanceCorrect},
		{549, DistanceMedium},
		{501, DistanceMedium},
		{751, DistanceMedium},
		{799, DistanceMedium},
		{500, DistanceWrong},
		{800, DistanceWrong},
		{450, DistanceWrong},
		{0, DistanceWrong},
		{900, DistanceWrong},
	}
	for _, tt := range tests {
		if got := ClassifyDistance(tt.d, tb); got != tt.want {
			t.Errorf("ClassifyDistance(%v) = %s, want %s", tt.d, got, tt.want)
		}
	}
}

func TestDistanceZone_Color(t *testing.T) {
	assert.Equal(t, ColorGreen, DistanceCorrect.Color())
	assert.Equal(t, ColorYellow, DistanceMedium.Color())
	assert.Equal(t, ColorRed, DistanceWrong.Color())
	assert.Equal(t, "medium", DistanceMedium.String())
}

func TestDistanceMessage(t *testing.T) {
	assert.Equal(t,
		"You're currently 65 cm away from the screen. \nPress 'c' to calibrate or 'q' to abort.",
		DistanceMessage(651))
	assert.True(t, strings.HasPrefix(DistanceMessage(0), "You're currently 0 cm"))
}

// ---------------------------------------------------------------------------
// TrackBoxCheck
// ---------------------------------------------------------------------------

func TestTrackBoxCheck_Continue(t *testing.T) {
	frame := bothEyesFrame(Point{X: 0.5, Y: 0.5}, 650)
	src := newFakeSource(&frame)
	m := NewGazeMonitor(src)
	r := newRecordingRenderer(ContinueKey)

	require.NoError(t, NewTrackBoxCheck(testGeometry(), r, m, noSleep).Run(context.Background()))
	assert.Equal(t, 1, r.frameCount())
	assert.Equal(t, 1, src.unsubscribed)
	assert.False(t, m.Tracking())

	frameCmds := r.lastFrame()
	rects := commandsOfKind(frameCmds, ShapeRect)
	require.Len(t, rects, 1)
	assert.InDelta(t, 0.6294, rects[0].Width, 1e-4)
	assert.InDelta(t, 0.9051, rects[0].Height, 1e-4)

	eyes := commandsOfKind(frameCmds, ShapeCircle)
	require.Len(t, eyes, 2)
	for _, e := range eyes {
		assert.Equal(t, ColorGreen, e.Fill)
		assert.Equal(t, UnitsNorm, e.Units)
	}
	assert.Contains(t, r.texts()[0], "65 cm")
}

func TestTrackBoxCheck_TooClose(t *testing.T) {
	frame := bothEyesFrame(Point{X: 0.5, Y: 0.5}, 450)
	r := newRecordingRenderer(ContinueKey)

	require.NoError(t, NewTrackBoxCheck(testGeometry(), r, NewGazeMonitor(newFakeSource(&frame)), noSleep).Run(context.Background()))
	for _, e := range commandsOfKind(r.lastFrame(), ShapeCircle) {
		assert.Equal(t, ColorRed, e.Fill)
	}
}

func TestTrackBoxCheck_NoFrame(t *testing.T) {
	r := newRecordingRenderer(ContinueKey)

	require.NoError(t, NewTrackBoxCheck(testGeometry(), r, NewGazeMonitor(newFakeSource(nil)), noSleep).Run(context.Background()))
	assert.Empty(t, commandsOfKind(r.lastFrame(), ShapeCircle))
	assert.Equal(t, []string{DistanceMessage(0)}, r.texts())
}

func TestTrackBoxCheck_OneEyeHidden(t *testing.T) {
	frame := bothEyesFrame(Point{X: 0.5, Y: 0.5}, 650)
	frame.Left.OriginValid = false
	r := newRecordingRenderer(ContinueKey)

	require.NoError(t, NewTrackBoxCheck(testGeometry(), r, NewGazeMonitor(newFakeSource(&frame)), noSleep).Run(context.Background()))
	assert.Len(t, commandsOfKind(r.lastFrame(), ShapeCircle), 1)
}

func TestTrackBoxCheck_Quit(t *testing.T) {
	frame := bothEyesFrame(Point{X: 0.5, Y: 0.5}, 650)
	src := newFakeSource(&frame)

	err := NewTrackBoxCheck(testGeometry(), newRecordingRenderer(QuitKey), NewGazeMonitor(src), noSleep).Run(context.Background())
	assert.ErrorIs(t, err, ErrAborted)
	assert.Equal(t, 1, src.unsubscribed)
}

func TestTrackBoxCheck_WaitsForKey(t *testing.T) {
	frame := bothEyesFrame(Point{X: 0.5, Y: 0.5}, 650)
	r := newRecordingRenderer()
	r.onFlip = func(n int) {
		if n == 10 {
			r.press(ContinueKey)
		}
	}

	require.NoError(t, NewTrackBoxCheck(testGeometry(), r, NewGazeMonitor(newFakeSource(&frame)), noSleep).Run(context.Background()))
	assert.Equal(t, 10, r.frameCount())
}

func TestTrackBoxCheck_MissingGeometry(t *testing.T) {
	src := newFakeSource(nil)
	g := &Geometry{TrackBox: SimulatedTrackBox(), Resolution: &Resolution{Width: 1366, Height: 768}}

	err := NewTrackBoxCheck(g, newRecordingRenderer(ContinueKey), NewGazeMonitor(src), noSleep).Run(context.Background())
	assert.ErrorIs(t, err, ErrPreconditionUnmet)
	assert.Equal(t, 0, src.subscribed)
}
