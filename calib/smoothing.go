package calib

import "math"

// SmoothingCapacity is how many valid values a smoothing buffer retains
// between calls.
const SmoothingCapacity = 5

// SmoothingBuffer is a bounded moving average over a live stream of values.
// An invalid value (the sentinel) drops the oldest entry instead of being
// averaged in, so the output decays toward "no data" while tracking is lost.
type SmoothingBuffer[T any] struct {
	values   []T
	sentinel T
	equal    func(a, b T) bool
	mean     func([]T) T
}

// NewSmoothingBuffer creates an empty buffer. equal decides whether a value is
// the sentinel; mean reduces the buffer contents to one value.
func NewSmoothingBuffer[T any](sentinel T, equal func(a, b T) bool, mean func([]T) T) *SmoothingBuffer[T] {
	return &SmoothingBuffer[T]{
		values:   make([]T, 0, SmoothingCapacity+1),
		sentinel: sentinel,
		equal:    equal,
		mean:     mean,
	}
}

// NewPointSmoother smooths 2D points. A NaN sentinel matches any NaN input.
func NewPointSmoother(sentinel Point) *SmoothingBuffer[Point] {
	return NewSmoothingBuffer(sentinel, pointsMatch, MeanPoints)
}

// NewScalarSmoother smooths scalars such as the eye distance.
func NewScalarSmoother(sentinel float64) *SmoothingBuffer[float64] {
	return NewSmoothingBuffer(sentinel, scalarsMatch, MeanScalars)
}

// Smooth feeds v into the buffer and returns the current average.
//
// A valid v is appended and the mean is taken over everything held, which
// may briefly be one more than SmoothingCapacity, before the oldest entries
// are evicted. The sentinel evicts the oldest entry and returns the mean of
// what is left, or the sentinel itself when the buffer is empty.
func (b *SmoothingBuffer[T]) Smooth(v T) T {
	if b.equal(v, b.sentinel) {
		if len(b.values) > 0 {
			b.values = b.values[1:]
		}
		if len(b.values) == 0 {
			return b.sentinel
		}
		return b.mean(b.values)
	}

	b.values = append(b.values, v)
	result := b.mean(b.values)
	for len(b.values) > SmoothingCapacity {
		b.values = b.values[1:]
	}
	return result
}

// Values returns a copy of the retained values, oldest first.
func (b *SmoothingBuffer[T]) Values() []T {
	out := make([]T, len(b.values))
	copy(out, b.values)
	return out
}

// Len returns the number of retained values.
func (b *SmoothingBuffer[T]) Len() int {
	return len(b.values)
}

// Reset empties the buffer.
func (b *SmoothingBuffer[T]) Reset() {
	b.values = b.values[:0]
}

// MeanPoints is the coordinate-wise arithmetic mean. An empty list yields
// NaN coordinates.
func MeanPoints(points []Point) Point {
	if len(points) == 0 {
		return NaNPoint()
	}
	var sx, sy float64
	for _, p := range points {
		sx += p.X
		sy += p.Y
	}
	n := float64(len(points))
	return Point{X: sx / n, Y: sy / n}
}

// MeanScalars is the arithmetic mean. An empty list yields NaN.
func MeanScalars(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// nanMeanPoints averages the points that are not NaN.
func nanMeanPoints(points ...Point) Point {
	valid := make([]Point, 0, len(points))
	for _, p := range points {
		if !p.IsNaN() {
			valid = append(valid, p)
		}
	}
	return MeanPoints(valid)
}

func scalarsMatch(a, b float64) bool {
	return a == b || (math.IsNaN(a) && math.IsNaN(b))
}

func pointsMatch(a, b Point) bool {
	return scalarsMatch(a.X, b.X) && scalarsMatch(a.Y, b.Y)
}
