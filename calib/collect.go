package calib

import (
	"context"
	"fmt"
	"log"
	"slices"
	"time"
)

const (
	// AnimationFrames is the frame count of each move, shrink and grow phase.
	AnimationFrames = 50

	// LargeRadius and SmallRadius bound the target dot in pixels.
	LargeRadius = 50.0
	SmallRadius = 5.0

	QuitKey     = "q"
	ContinueKey = "c"

	// DefaultMaxAttempts bounds how often a target is re-collected before the
	// tracker is considered broken.
	DefaultMaxAttempts = 20

	// DefaultRetryBackoff is the pause between collection attempts.
	DefaultRetryBackoff = 100 * time.Millisecond
)

const (
	settleAfterMove    = 500 * time.Millisecond
	settleAfterShrink  = 500 * time.Millisecond
	settleAfterCollect = 300 * time.Millisecond
	settleAfterGrow    = 200 * time.Millisecond
)

// RetryPolicy controls re-collection of a target the tracker did not accept.
// MaxAttempts of zero retries forever.
type RetryPolicy struct {
	MaxAttempts int           `yaml:"maxAttempts" json:"maxAttempts"`
	Backoff     time.Duration `yaml:"backoff" json:"backoff"`
}

// DefaultRetryPolicy returns the bounded policy used unless configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxAttempts, Backoff: DefaultRetryBackoff}
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithRetryPolicy overrides the collection retry policy.
func WithRetryPolicy(p RetryPolicy) CollectorOption {
	return func(c *Collector) {
		c.retry = p
	}
}

// WithSleeper overrides how the collector waits between phases.
func WithSleeper(s Sleeper) CollectorOption {
	return func(c *Collector) {
		c.sleeper = s
	}
}

// Collector animates the target dot through each calibration point and asks
// the tracker to collect gaze data while the user fixates it.
type Collector struct {
	geometry   *Geometry
	renderer   Renderer
	calibrator Calibrator
	sleeper    Sleeper
	retry      RetryPolicy
}

// NewCollector creates a collector with the default retry policy.
func NewCollector(g *Geometry, r Renderer, cal Calibrator, opts ...CollectorOption) *Collector {
	c := &Collector{
		geometry:   g,
		renderer:   r,
		calibrator: cal,
		sleeper:    RealSleeper(),
		retry:      DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect runs the move, shrink, collect, grow sequence for every target in
// order. Pressing the quit key during any animation frame returns ErrAborted.
func (c *Collector) Collect(ctx context.Context, targets TargetList) error {
	if len(targets) == 0 {
		return fmt.Errorf("%w: nothing to collect", ErrPreconditionUnmet)
	}
	if c.calibrator == nil {
		return fmt.Errorf("%w: no calibrator", ErrPreconditionUnmet)
	}

	pixels := make([]Point, len(targets))
	for i, t := range targets {
		px, err := c.geometry.DisplayAreaToPixels(t.Position)
		if err != nil {
			return &TargetError{Key: t.Key, Err: err}
		}
		pixels[i] = px.Point()
	}

	start := wrapStartPolicy(pixels)
	for i, t := range targets {
		target := pixels[i]

		if err := c.animateMove(ctx, start, target); err != nil {
			return err
		}
		if err := c.sleeper.Sleep(ctx, settleAfterMove); err != nil {
			return err
		}
		if err := c.animateRadius(ctx, target, LargeRadius, SmallRadius); err != nil {
			return err
		}
		if err := c.sleeper.Sleep(ctx, settleAfterShrink); err != nil {
			return err
		}
		if err := c.collectWithRetry(ctx, t); err != nil {
			return err
		}
		if err := c.sleeper.Sleep(ctx, settleAfterCollect); err != nil {
			return err
		}
		if err := c.animateRadius(ctx, target, SmallRadius, LargeRadius); err != nil {
			return err
		}
		if err := c.sleeper.Sleep(ctx, settleAfterGrow); err != nil {
			return err
		}

		start = target
	}
	return nil
}

// wrapStartPolicy picks where the dot starts before the first target: the
// last target, so a run looks like one closed loop.
func wrapStartPolicy(pixels []Point) Point {
	return pixels[len(pixels)-1]
}

func (c *Collector) animateMove(ctx context.Context, from, to Point) error {
	step := Point{X: (to.X - from.X) / AnimationFrames, Y: (to.Y - from.Y) / AnimationFrames}
	for i := 1; i <= AnimationFrames; i++ {
		pos := Point{X: from.X + step.X*float64(i), Y: from.Y + step.Y*float64(i)}
		if i == AnimationFrames {
			pos = to
		}
		if err := c.frame(ctx, pos, LargeRadius); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collector) animateRadius(ctx context.Context, pos Point, from, to float64) error {
	step := (to - from) / AnimationFrames
	for i := 1; i <= AnimationFrames; i++ {
		radius := from + step*float64(i)
		if i == AnimationFrames {
			radius = to
		}
		if err := c.frame(ctx, pos, radius); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collector) frame(ctx context.Context, pos Point, radius float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.renderer.Draw(Circle(pos, radius, ColorRed, ColorRed))
	if err := c.renderer.Flip(); err != nil {
		return fmt.Errorf("presenting frame: %w", err)
	}
	if quitPressed(c.renderer) {
		return ErrAborted
	}
	return nil
}

func (c *Collector) collectWithRetry(ctx context.Context, t CalibrationTarget) error {
	for attempt := 1; ; attempt++ {
		status, err := c.calibrator.CollectData(ctx, t.Position)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("Collecting data for target %s failed (attempt %d): %v", t.Key, attempt, err)
		case status == StatusSuccess:
			return nil
		default:
			log.Printf("Tracker rejected target %s (attempt %d): %s", t.Key, attempt, status)
		}

		if c.retry.MaxAttempts > 0 && attempt >= c.retry.MaxAttempts {
			return &TargetError{
				Key: t.Key,
				Err: fmt.Errorf("%w: no successful collection after %d attempts", ErrDeviceFailure, attempt),
			}
		}
		if quitPressed(c.renderer) {
			return ErrAborted
		}
		if err := c.sleeper.Sleep(ctx, c.retry.Backoff); err != nil {
			return err
		}
	}
}

func quitPressed(r Renderer) bool {
	return slices.Contains(r.GetKeys([]string{QuitKey}), QuitKey)
}
