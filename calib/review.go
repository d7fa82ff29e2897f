package calib

import (
	"context"
	"fmt"
	"slices"
)

const (
	reviewPrompt   = "Wait for the experimenter. \nUse number keys to select points for recalibration."
	reviewFinished = "Finished checking. Resuming calibration."

	reviewRingWidth  = 10.0
	reviewLabelSize  = 60.0
	reviewErrorWidth = 20.0
)

// Reviewer shows the aggregated calibration result and lets the operator
// pick the points that need to be collected again.
type Reviewer struct {
	geometry *Geometry
	renderer Renderer
	mode     *CalibrationMode
}

// NewReviewer creates a reviewer. Review requires mode to be active.
func NewReviewer(g *Geometry, r Renderer, mode *CalibrationMode) *Reviewer {
	return &Reviewer{geometry: g, renderer: r, mode: mode}
}

// Review draws the result until the operator presses the continue key and
// returns the selected redo targets in selection order. An empty list means
// the calibration is accepted. The quit key returns ErrAborted.
//
// Pressing a target key toggles it: a second press removes it from the
// selection, a third adds it back at the end.
func (rv *Reviewer) Review(ctx context.Context, result *CalibrationResult, targets TargetList) (TargetList, error) {
	if !rv.mode.Active() {
		return nil, fmt.Errorf("%w: no active calibration", ErrPreconditionUnmet)
	}
	if result == nil {
		return nil, fmt.Errorf("%w: nil calibration result", ErrTypeMismatch)
	}
	if len(targets) != len(result.Points)-1 {
		return nil, fmt.Errorf("%w: %d targets for %d result points", ErrDataInconsistency, len(targets), len(result.Points))
	}

	points, err := Aggregate(result, rv.geometry)
	if err != nil {
		return nil, err
	}
	if err := LabelPoints(points, targets); err != nil {
		return nil, err
	}

	candidates := append([]string{ContinueKey, QuitKey}, targets.Keys()...)
	var selected RedoSelection
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rv.drawResults(points, &selected)
		rv.renderer.Draw(Message(reviewPrompt))
		if err := rv.renderer.Flip(); err != nil {
			return nil, fmt.Errorf("presenting review: %w", err)
		}

		for _, key := range rv.renderer.GetKeys(candidates) {
			switch key {
			case QuitKey:
				return nil, ErrAborted
			case ContinueKey:
				if err := showMessage(rv.renderer, reviewFinished); err != nil {
					return nil, err
				}
				return selected.Targets(targets), nil
			default:
				if _, ok := targets.Lookup(key); ok {
					selected.Toggle(key)
				}
			}
		}
	}
}

func (rv *Reviewer) drawResults(points []AggregatedPoint, selected *RedoSelection) {
	for _, p := range points {
		ring := ColorWhite
		if selected.Contains(p.Key) {
			ring = ColorGreen
		}
		target := p.Target.Point()

		circle := Circle(target, LargeRadius, ring, ColorBackground)
		circle.LineWidth = reviewRingWidth
		rv.renderer.Draw(circle)
		rv.renderer.Draw(Text(target, p.Key, reviewLabelSize, ColorLabel))
		rv.renderer.Draw(Line(target, p.MeanLeft.Point(), reviewErrorWidth, ColorYellow))
		rv.renderer.Draw(Line(target, p.MeanRight.Point(), reviewErrorWidth, ColorRed))
	}
}

// RedoSelection is an ordered, duplicate-free set of target keys with toggle
// semantics. The zero value is empty.
type RedoSelection struct {
	keys []string
}

// Toggle adds key at the end, or removes it if already selected.
func (s *RedoSelection) Toggle(key string) {
	if i := slices.Index(s.keys, key); i >= 0 {
		s.keys = slices.Delete(s.keys, i, i+1)
		return
	}
	s.keys = append(s.keys, key)
}

// Contains reports whether key is selected.
func (s *RedoSelection) Contains(key string) bool {
	return slices.Contains(s.keys, key)
}

// Keys returns the selected keys in selection order.
func (s *RedoSelection) Keys() []string {
	return slices.Clone(s.keys)
}

// Targets resolves the selection against targets, keeping selection order.
func (s *RedoSelection) Targets(targets TargetList) TargetList {
	out := make(TargetList, 0, len(s.keys))
	for _, key := range s.keys {
		if t, ok := targets.Lookup(key); ok {
			out = append(out, t)
		}
	}
	return out
}
