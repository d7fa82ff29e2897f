package calib

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

const (
	msgPosition = "Please position yourself so that the\neye-tracker can locate your eyes.\n\nPress 'c' to continue."
	msgFollow   = "Please focus your eyes on the red dot and follow it with your eyes as closely as possible.\n\nPress 'c' to continue."
	msgFailed   = "Calibration was not successful.\n\nClosing the calibration window."
	msgApplying = "Applying calibration..."
	msgScoring  = "Calculating calibration accuracy..."
	msgSuccess  = "Calibration was successful.\n\nMoving on to validation."
	msgRedo     = "Calibration is almost complete.\n\nPrepare to recalibrate a few points."
	msgComplete = "Finished validating the calibration.\n\nCalibration is complete. Closing window."

	promptTimeout = 10 * time.Second
	fixationPause = 3 * time.Second
	messagePause  = 3 * time.Second
	progressPause = 2 * time.Second
)

// Outcome summarizes a finished calibration session.
type Outcome struct {
	SessionID  string            `json:"sessionId"`
	StartedAt  time.Time         `json:"startedAt"`
	FinishedAt time.Time         `json:"finishedAt"`
	Eyes       EyeStatus         `json:"eyes"`
	Rounds     int               `json:"rounds"`
	Points     []AggregatedPoint `json:"points"`
	Score      Score             `json:"score"`
	Redone     [][]string        `json:"redone,omitempty"`
	Validated  bool              `json:"validated"`
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionSleeper overrides how the session waits between screens. The
// collector and the positioning and validation screens share it.
func WithSessionSleeper(s Sleeper) SessionOption {
	return func(sess *Session) {
		sess.sleeper = s
	}
}

// WithReporter hands the outcome of a successful session to r. Reporters
// run in the order they were added.
func WithReporter(r ResultReporter) SessionOption {
	return func(sess *Session) {
		sess.reporters = append(sess.reporters, r)
	}
}

// WithStateTracker publishes the session's phase as it runs.
func WithStateTracker(st *StateTracker) SessionOption {
	return func(sess *Session) {
		sess.state = st
	}
}

// WithCollectorOptions passes options through to the collector.
func WithCollectorOptions(opts ...CollectorOption) SessionOption {
	return func(sess *Session) {
		sess.collectorOpts = append(sess.collectorOpts, opts...)
	}
}

// WithValidationGaze receives the smoothed gaze during validation.
func WithValidationGaze(fn func(Point)) SessionOption {
	return func(sess *Session) {
		sess.onGaze = fn
	}
}

// Session drives a full calibration: positioning, collection rounds with
// operator review, and validation.
type Session struct {
	geometry      *Geometry
	renderer      Renderer
	mode          *CalibrationMode
	monitor       *GazeMonitor
	targets       TargetList
	sleeper       Sleeper
	reporters     []ResultReporter
	state         *StateTracker
	collectorOpts []CollectorOption
	onGaze        func(Point)
}

// NewSession wires a session together. The geometry must already hold the
// track box and display area of src and the display resolution.
func NewSession(g *Geometry, r Renderer, cal Calibrator, src GazeSource, targets TargetList, opts ...SessionOption) *Session {
	s := &Session{
		geometry: g,
		renderer: r,
		mode:     NewCalibrationMode(cal),
		monitor:  NewGazeMonitor(src),
		targets:  targets.Clone(),
		sleeper:  RealSleeper(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Monitor exposes the session's gaze monitor.
func (s *Session) Monitor() *GazeMonitor {
	return s.monitor
}

// Run executes the session. On any error the tracker is taken out of
// calibration mode and the gaze stream stopped. ErrAborted means the operator
// quit; ErrDeviceFailure means the tracker could not calibrate.
func (s *Session) Run(ctx context.Context) (out *Outcome, err error) {
	if err := s.targets.Validate(); err != nil {
		return nil, err
	}
	if err := s.geometry.requireBoxes(); err != nil {
		return nil, err
	}
	if err := s.geometry.requireResolution(); err != nil {
		return nil, err
	}

	out = &Outcome{SessionID: uuid.NewString(), StartedAt: time.Now()}
	log.Printf("Starting calibration session %s with %d targets", out.SessionID, len(s.targets))

	defer func() {
		if err == nil {
			return
		}
		if leaveErr := s.mode.LeaveMode(); leaveErr != nil {
			log.Printf("Error leaving calibration mode: %v", leaveErr)
		}
		if stopErr := s.monitor.Stop(); stopErr != nil {
			log.Printf("Error stopping gaze stream: %v", stopErr)
		}
		if s.state != nil {
			s.state.Fail(err)
		}
		log.Printf("Calibration session %s ended: %v", out.SessionID, err)
	}()

	s.setPhase(out, PhasePositioning)
	if err := showMessage(s.renderer, msgPosition); err != nil {
		return out, err
	}
	s.renderer.WaitKeys([]string{ContinueKey}, promptTimeout)

	if err := NewTrackBoxCheck(s.geometry, s.renderer, s.monitor, s.sleeper).Run(ctx); err != nil {
		return out, err
	}

	if err := s.calibrate(ctx, out); err != nil {
		return out, err
	}
	if err := s.fixation(ctx); err != nil {
		return out, err
	}

	s.setPhase(out, PhaseValidating)
	validator := NewValidator(s.geometry, s.renderer, s.monitor, s.sleeper)
	validator.OnGaze(s.onGaze)
	if err := validator.Run(ctx, s.targets); err != nil {
		return out, err
	}
	out.Validated = true

	if err := s.pause(ctx, msgComplete, messagePause); err != nil {
		return out, err
	}
	out.FinishedAt = time.Now()
	log.Printf("Calibration session %s complete: eyes=%s rounds=%d", out.SessionID, out.Eyes, out.Rounds)

	for _, r := range s.reporters {
		if err := r.Report(out); err != nil {
			log.Printf("Error reporting calibration outcome: %v", err)
		}
	}
	s.setPhase(out, PhaseComplete)
	return out, nil
}

func (s *Session) setPhase(out *Outcome, phase Phase) {
	if s.state != nil {
		s.state.SetPhase(out.SessionID, phase)
	}
}

func (s *Session) calibrate(ctx context.Context, out *Outcome) error {
	s.setPhase(out, PhaseCalibrating)
	if err := s.mode.EnterMode(); err != nil {
		return err
	}
	if err := showMessage(s.renderer, msgFollow); err != nil {
		return err
	}
	s.renderer.WaitKeys([]string{ContinueKey}, promptTimeout)
	if err := s.fixation(ctx); err != nil {
		return err
	}

	collector := NewCollector(s.geometry, s.renderer, s.mode,
		append([]CollectorOption{WithSleeper(s.sleeper)}, s.collectorOpts...)...)
	reviewer := NewReviewer(s.geometry, s.renderer, s.mode)

	round := s.targets
	for {
		out.Rounds++
		s.setPhase(out, PhaseCalibrating)
		if s.state != nil {
			s.state.SetRound(out.Rounds)
		}
		log.Printf("Calibration round %d: %v", out.Rounds, round.Keys())

		if err := collector.Collect(ctx, round); err != nil {
			return err
		}
		result, err := s.mode.ComputeAndApply()
		if err != nil {
			return fmt.Errorf("computing calibration: %w", err)
		}
		if result == nil {
			return fmt.Errorf("%w: tracker returned no calibration result", ErrTypeMismatch)
		}

		if result.Status == StatusFailure {
			if err := s.pause(ctx, msgFailed, messagePause); err != nil {
				return err
			}
			if err := s.mode.LeaveMode(); err != nil {
				log.Printf("Error leaving calibration mode: %v", err)
			}
			return fmt.Errorf("%w: calibration was not successful", ErrDeviceFailure)
		}

		out.Eyes = result.Status.EyeStatus()
		if out.Eyes != EyesBoth {
			log.Printf("Warning: calibration only succeeded for %s", out.Eyes)
		}

		if err := s.pause(ctx, msgApplying, progressPause); err != nil {
			return err
		}
		if err := s.pause(ctx, msgScoring, progressPause); err != nil {
			return err
		}

		s.setPhase(out, PhaseReviewing)
		redo, err := reviewer.Review(ctx, result, s.targets)
		if err != nil {
			return err
		}
		if out.Points, err = Aggregate(result, s.geometry); err != nil {
			return err
		}
		if err := LabelPoints(out.Points, s.targets); err != nil {
			return err
		}
		out.Score = Summarize(out.Points)

		if len(redo) == 0 {
			if err := s.pause(ctx, msgSuccess, messagePause); err != nil {
				return err
			}
			return s.mode.LeaveMode()
		}

		out.Redone = append(out.Redone, redo.Keys())
		if err := s.pause(ctx, msgRedo, messagePause); err != nil {
			return err
		}
		if err := s.fixation(ctx); err != nil {
			return err
		}
		for _, t := range redo {
			if err := s.mode.DiscardData(t.Position); err != nil {
				return &TargetError{Key: t.Key, Err: fmt.Errorf("discarding data: %w", err)}
			}
		}
		round = redo
	}
}

func (s *Session) pause(ctx context.Context, text string, d time.Duration) error {
	if err := showMessage(s.renderer, text); err != nil {
		return err
	}
	return s.sleeper.Sleep(ctx, d)
}

func (s *Session) fixation(ctx context.Context) error {
	s.renderer.Draw(FixationCross())
	if err := s.renderer.Flip(); err != nil {
		return err
	}
	return s.sleeper.Sleep(ctx, fixationPause)
}
