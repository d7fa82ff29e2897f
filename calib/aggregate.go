package calib

import (
	"fmt"
	"log"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Aggregate turns a raw calibration result into drawable per-point data in
// pixel space, ordered as the result lists its points.
//
// The tracker always reports a spurious first point, so index 0 is dropped
// before anything else. A point without samples has no mean and fails the
// pixel conversion with ErrRangeViolation.
func Aggregate(result *CalibrationResult, g *Geometry) ([]AggregatedPoint, error) {
	if result == nil {
		return nil, fmt.Errorf("%w: nil calibration result", ErrTypeMismatch)
	}

	points := dropOriginArtifact(result.Points)
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: calibration result has no usable points", ErrDataInconsistency)
	}

	out := make([]AggregatedPoint, 0, len(points))
	for i, cp := range points {
		left, right := meanEyePositions(cp.Samples)

		target, err := g.DisplayAreaToPixels(cp.Position)
		if err != nil {
			return nil, fmt.Errorf("point %d target: %w", i+1, err)
		}
		meanLeft, err := g.DisplayAreaToPixels(left)
		if err != nil {
			return nil, fmt.Errorf("point %d left eye mean: %w", i+1, err)
		}
		meanRight, err := g.DisplayAreaToPixels(right)
		if err != nil {
			return nil, fmt.Errorf("point %d right eye mean: %w", i+1, err)
		}

		out = append(out, AggregatedPoint{
			Source:     cp.Position,
			Target:     target,
			MeanLeft:   meanLeft,
			MeanRight:  meanRight,
			LeftError:  pixelDistance(target, meanLeft),
			RightError: pixelDistance(target, meanRight),
		})
	}
	return out, nil
}

// dropOriginArtifact removes the first reported point. The hardware emits it
// at the origin; anything else there is logged since it would mean a real
// target is being discarded.
func dropOriginArtifact(points []CalibrationPoint) []CalibrationPoint {
	if len(points) == 0 {
		return nil
	}
	if first := points[0].Position; first.X != 0 || first.Y != 0 {
		log.Printf("Warning: dropping first calibration point at (%.3f, %.3f), expected origin", first.X, first.Y)
	}
	return points[1:]
}

// meanEyePositions averages every sample per eye, valid or not, the same way
// the tracker's own result viewer does.
func meanEyePositions(samples []CalibrationSample) (left, right Point) {
	lefts := make([]Point, len(samples))
	rights := make([]Point, len(samples))
	for i, s := range samples {
		lefts[i] = s.Left.Position
		rights[i] = s.Right.Position
	}
	return MeanPoints(lefts), MeanPoints(rights)
}

func pixelDistance(a, b PixelPoint) float64 {
	return planar.Distance(orb.Point{float64(a.X), float64(a.Y)}, orb.Point{float64(b.X), float64(b.Y)})
}

// LabelPoints fills in each point's key by matching its source position
// against the targets.
func LabelPoints(points []AggregatedPoint, targets TargetList) error {
	for i := range points {
		key, ok := targets.KeyFor(points[i].Source)
		if !ok {
			return fmt.Errorf("%w: no target at (%v, %v)", ErrDataInconsistency, points[i].Source.X, points[i].Source.Y)
		}
		points[i].Key = key
	}
	return nil
}

// Score summarizes accuracy over a set of aggregated points, in pixels.
type Score struct {
	MeanLeftError  float64 `json:"meanLeftError"`
	MeanRightError float64 `json:"meanRightError"`
	MaxLeftError   float64 `json:"maxLeftError"`
	MaxRightError  float64 `json:"maxRightError"`
	WorstKey       string  `json:"worstKey,omitempty"`
}

// Summarize computes per-eye mean and max error. The worst key is the point
// with the largest error on either eye.
func Summarize(points []AggregatedPoint) Score {
	var s Score
	if len(points) == 0 {
		return s
	}
	worst := -1.0
	for _, p := range points {
		s.MeanLeftError += p.LeftError
		s.MeanRightError += p.RightError
		s.MaxLeftError = math.Max(s.MaxLeftError, p.LeftError)
		s.MaxRightError = math.Max(s.MaxRightError, p.RightError)
		if e := math.Max(p.LeftError, p.RightError); e > worst {
			worst = e
			s.WorstKey = p.Key
		}
	}
	n := float64(len(points))
	s.MeanLeftError /= n
	s.MeanRightError /= n
	return s
}
