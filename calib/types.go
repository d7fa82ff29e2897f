package calib

import (
	"fmt"
	"math"
	"time"
)

// Point is a 2D coordinate. Which space it lives in (track box, display
// area, window-normalized) is decided by the function that consumes it.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// NaNPoint returns the "no data" point used when no eye is valid.
func NaNPoint() Point {
	return Point{X: math.NaN(), Y: math.NaN()}
}

// IsNaN reports whether either coordinate is NaN.
func (p Point) IsNaN() bool {
	return math.IsNaN(p.X) || math.IsNaN(p.Y)
}

// Scale multiplies both coordinates by f.
func (p Point) Scale(f float64) Point {
	return Point{X: p.X * f, Y: p.Y * f}
}

// PointFromCoords builds a point from a loose coordinate list, as found in
// YAML target lists and JSON payloads.
func PointFromCoords(coords ...float64) (Point, error) {
	if len(coords) != 2 {
		return Point{}, fmt.Errorf("%w: expected 2 coordinates, got %d", ErrTypeMismatch, len(coords))
	}
	return Point{X: coords[0], Y: coords[1]}, nil
}

// PixelPoint is a position on the display in pixels, origin at the screen
// center with +Y pointing up.
type PixelPoint struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Point converts to a float point for drawing and distance math.
func (p PixelPoint) Point() Point {
	return Point{X: float64(p.X), Y: float64(p.Y)}
}

// Vec3 is a 3D coordinate in millimeters (or normalized track box units).
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// TrackBoxGeometry describes the physical volume in which the tracker can
// see the user's eyes.
type TrackBoxGeometry struct {
	FrontLowerLeft  Vec3 `json:"frontLowerLeft"`
	FrontLowerRight Vec3 `json:"frontLowerRight"`
	FrontUpperLeft  Vec3 `json:"frontUpperLeft"`
	FrontUpperRight Vec3 `json:"frontUpperRight"`
	BackLowerLeft   Vec3 `json:"backLowerLeft"`

	Height        float64 `json:"height"`
	Width         float64 `json:"width"`
	FrontDistance float64 `json:"frontDistance"`
	BackDistance  float64 `json:"backDistance"`
}

// NewTrackBoxGeometry derives the box dimensions from its corners.
func NewTrackBoxGeometry(fll, flr, ful, fur, bll Vec3) *TrackBoxGeometry {
	return &TrackBoxGeometry{
		FrontLowerLeft:  fll,
		FrontLowerRight: flr,
		FrontUpperLeft:  ful,
		FrontUpperRight: fur,
		BackLowerLeft:   bll,
		Height:          math.Abs(fll.Y - fur.Y),
		Width:           math.Abs(fll.X - flr.X),
		FrontDistance:   fll.Z,
		BackDistance:    bll.Z,
	}
}

// DisplayAreaGeometry describes the active screen surface as reported by the
// tracker hardware.
type DisplayAreaGeometry struct {
	TopLeft     Vec3    `json:"topLeft"`
	TopRight    Vec3    `json:"topRight"`
	BottomLeft  Vec3    `json:"bottomLeft"`
	BottomRight Vec3    `json:"bottomRight"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
}

// NewDisplayAreaGeometry records the corners and hardware reported size.
func NewDisplayAreaGeometry(tl, tr, bl, br Vec3, width, height float64) *DisplayAreaGeometry {
	return &DisplayAreaGeometry{
		TopLeft:     tl,
		TopRight:    tr,
		BottomLeft:  bl,
		BottomRight: br,
		Width:       width,
		Height:      height,
	}
}

// Resolution is the pixel size of the display.
type Resolution struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// EyeData is what the tracker reports for a single eye in one frame.
type EyeData struct {
	OriginInTrackBox  Vec3  `json:"originInTrackBox"`
	OriginInUserSpace Vec3  `json:"originInUserSpace"`
	GazePoint         Point `json:"gazePoint"`
	OriginValid       bool  `json:"originValid"`
	GazeValid         bool  `json:"gazeValid"`
}

// GazeFrame is one sample of the tracker's gaze stream.
type GazeFrame struct {
	Timestamp time.Time `json:"timestamp"`
	Left      EyeData   `json:"left"`
	Right     EyeData   `json:"right"`
}

// CalibrationTarget is a named point in display-area space.
type CalibrationTarget struct {
	Key      string `json:"key"`
	Position Point  `json:"position"`
}

// CalibrationEyeSample is one eye's gaze estimate while fixating a target.
type CalibrationEyeSample struct {
	Position Point `json:"position"`
	Valid    bool  `json:"valid"`
}

// CalibrationSample pairs the left and right eye estimates.
type CalibrationSample struct {
	Left  CalibrationEyeSample `json:"left"`
	Right CalibrationEyeSample `json:"right"`
}

// CalibrationPoint holds the samples collected for one target.
type CalibrationPoint struct {
	Position Point               `json:"position"`
	Samples  []CalibrationSample `json:"samples"`
}

// CalibrationStatus is the hardware's verdict on a collection or computation.
type CalibrationStatus int

const (
	StatusFailure CalibrationStatus = iota
	StatusSuccess
	StatusSuccessLeftEye
	StatusSuccessRightEye
)

func (s CalibrationStatus) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusSuccessLeftEye:
		return "success_left_eye"
	case StatusSuccessRightEye:
		return "success_right_eye"
	default:
		return "failure"
	}
}

func (s CalibrationStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names String produces.
func (s *CalibrationStatus) UnmarshalText(text []byte) error {
	for _, candidate := range []CalibrationStatus{StatusFailure, StatusSuccess, StatusSuccessLeftEye, StatusSuccessRightEye} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("%w: unknown calibration status %q", ErrTypeMismatch, text)
}

// EyeStatus reports which eyes a status covers.
func (s CalibrationStatus) EyeStatus() EyeStatus {
	switch s {
	case StatusSuccess:
		return EyesBoth
	case StatusSuccessLeftEye:
		return EyesLeftOnly
	case StatusSuccessRightEye:
		return EyesRightOnly
	default:
		return EyesNone
	}
}

// EyeStatus is the outcome of a calibration per eye.
type EyeStatus int

const (
	EyesNone EyeStatus = iota
	EyesLeftOnly
	EyesRightOnly
	EyesBoth
)

func (e EyeStatus) String() string {
	switch e {
	case EyesBoth:
		return "both"
	case EyesLeftOnly:
		return "left_only"
	case EyesRightOnly:
		return "right_only"
	default:
		return "none"
	}
}

// MarshalText lets EyeStatus appear as a string in JSON payloads.
func (e EyeStatus) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

func (e *EyeStatus) UnmarshalText(text []byte) error {
	for _, candidate := range []EyeStatus{EyesNone, EyesLeftOnly, EyesRightOnly, EyesBoth} {
		if candidate.String() == string(text) {
			*e = candidate
			return nil
		}
	}
	return fmt.Errorf("%w: unknown eye status %q", ErrTypeMismatch, text)
}

// CalibrationResult is the raw output of ComputeAndApply.
type CalibrationResult struct {
	Status CalibrationStatus  `json:"status"`
	Points []CalibrationPoint `json:"points"`
}

// AggregatedPoint is a drawable per-point summary in pixel space.
type AggregatedPoint struct {
	Key        string     `json:"key,omitempty"`
	Source     Point      `json:"source"`
	Target     PixelPoint `json:"target"`
	MeanLeft   PixelPoint `json:"meanLeft"`
	MeanRight  PixelPoint `json:"meanRight"`
	LeftError  float64    `json:"leftError"`
	RightError float64    `json:"rightError"`
}
