package calib

import (
	"fmt"
	"math/rand/v2"
	"strconv"
)

// TargetList is an ordered set of calibration targets. Order is presentation
// order; keys are unique.
type TargetList []CalibrationTarget

var presetFive = TargetList{
	{Key: "1", Position: Point{X: 0.1, Y: 0.1}},
	{Key: "2", Position: Point{X: 0.9, Y: 0.1}},
	{Key: "3", Position: Point{X: 0.5, Y: 0.5}},
	{Key: "4", Position: Point{X: 0.1, Y: 0.9}},
	{Key: "5", Position: Point{X: 0.9, Y: 0.9}},
}

var presetNine = TargetList{
	{Key: "1", Position: Point{X: 0.1, Y: 0.1}},
	{Key: "2", Position: Point{X: 0.5, Y: 0.1}},
	{Key: "3", Position: Point{X: 0.9, Y: 0.1}},
	{Key: "4", Position: Point{X: 0.1, Y: 0.5}},
	{Key: "5", Position: Point{X: 0.5, Y: 0.5}},
	{Key: "6", Position: Point{X: 0.9, Y: 0.5}},
	{Key: "7", Position: Point{X: 0.1, Y: 0.9}},
	{Key: "8", Position: Point{X: 0.5, Y: 0.9}},
	{Key: "9", Position: Point{X: 0.9, Y: 0.9}},
}

// PresetTargets returns the standard 5 or 9 point layout.
func PresetTargets(n int) (TargetList, error) {
	switch n {
	case 5:
		return presetFive.Clone(), nil
	case 9:
		return presetNine.Clone(), nil
	default:
		return nil, fmt.Errorf("%w: %d calibration points, want 5 or 9", ErrRangeViolation, n)
	}
}

// Shuffled returns a copy of l in random order. Keys stay attached to their
// positions.
func (l TargetList) Shuffled(rng *rand.Rand) TargetList {
	out := l.Clone()
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// Clone returns an independent copy.
func (l TargetList) Clone() TargetList {
	out := make(TargetList, len(l))
	copy(out, l)
	return out
}

// Keys returns the target keys in order.
func (l TargetList) Keys() []string {
	keys := make([]string, len(l))
	for i, t := range l {
		keys[i] = t.Key
	}
	return keys
}

// Lookup finds a target by key.
func (l TargetList) Lookup(key string) (CalibrationTarget, bool) {
	for _, t := range l {
		if t.Key == key {
			return t, true
		}
	}
	return CalibrationTarget{}, false
}

// KeyFor finds the key whose position equals p exactly.
func (l TargetList) KeyFor(p Point) (string, bool) {
	for _, t := range l {
		if t.Position == p {
			return t.Key, true
		}
	}
	return "", false
}

// Validate checks that the list is usable for a calibration run.
func (l TargetList) Validate() error {
	if len(l) == 0 {
		return fmt.Errorf("%w: no calibration targets", ErrPreconditionUnmet)
	}
	seen := make(map[string]bool, len(l))
	positions := make(map[Point]string, len(l))
	for i, t := range l {
		if t.Key == "" {
			return fmt.Errorf("%w: target[%d] has no key", ErrTypeMismatch, i)
		}
		if t.Key == ContinueKey || t.Key == QuitKey {
			return fmt.Errorf("%w: target key %q is reserved", ErrRangeViolation, t.Key)
		}
		if seen[t.Key] {
			return fmt.Errorf("%w: duplicate target key %q", ErrDataInconsistency, t.Key)
		}
		seen[t.Key] = true
		if err := checkUnit(t.Position); err != nil {
			return &TargetError{Key: t.Key, Err: err}
		}
		// Review joins results back to keys by position.
		if other, ok := positions[t.Position]; ok {
			return fmt.Errorf("%w: targets %q and %q share position %v", ErrDataInconsistency, other, t.Key, t.Position)
		}
		positions[t.Position] = t.Key
	}
	return nil
}

// NumberedTargets assigns keys "1".."n" to positions in order.
func NumberedTargets(positions []Point) TargetList {
	out := make(TargetList, len(positions))
	for i, p := range positions {
		out[i] = CalibrationTarget{Key: strconv.Itoa(i + 1), Position: p}
	}
	return out
}
