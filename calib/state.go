package calib

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"slices"
	"sync"
	"time"
)

// Phase is the stage a session is in.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhasePositioning Phase = "positioning"
	PhaseCalibrating Phase = "calibrating"
	PhaseReviewing   Phase = "reviewing"
	PhaseValidating  Phase = "validating"
	PhaseComplete    Phase = "complete"
	PhaseAborted     Phase = "aborted"
	PhaseFailed      Phase = "failed"
)

// SessionState is a snapshot of the running session for status endpoints.
type SessionState struct {
	SessionID string    `json:"sessionId,omitempty"`
	Phase     Phase     `json:"phase"`
	Round     int       `json:"round,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// StateTracker follows the current session and keeps finished outcomes. It
// implements ResultReporter, so a session can hand it its outcome directly.
type StateTracker struct {
	mu          sync.RWMutex
	state       SessionState
	outcomes    map[string]*Outcome
	latest      *Outcome
	historyPath string // JSON outcome history; empty disables persistence
}

// NewStateTracker creates an in-memory state tracker.
func NewStateTracker() *StateTracker {
	return &StateTracker{
		state:    SessionState{Phase: PhaseIdle, UpdatedAt: time.Now()},
		outcomes: make(map[string]*Outcome),
	}
}

// NewStateTrackerWithHistory creates a state tracker that persists outcomes to
// historyPath, loading any history already there.
func NewStateTrackerWithHistory(historyPath string) *StateTracker {
	st := NewStateTracker()
	st.historyPath = historyPath
	if historyPath == "" {
		return st
	}

	history, err := LoadHistory(historyPath)
	if err != nil {
		log.Printf("Warning: failed to load outcome history %s: %v", historyPath, err)
		return st
	}
	for _, o := range history {
		st.outcomes[o.SessionID] = o
		if st.latest == nil || o.FinishedAt.After(st.latest.FinishedAt) {
			st.latest = o
		}
	}
	return st
}

// SetPhase records that session id entered phase.
func (st *StateTracker) SetPhase(id string, phase Phase) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.state.SessionID != id {
		st.state = SessionState{SessionID: id}
	}
	st.state.Phase = phase
	st.state.UpdatedAt = time.Now()
}

// SetRound records the calibration round in progress.
func (st *StateTracker) SetRound(round int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.state.Round = round
	st.state.UpdatedAt = time.Now()
}

// Fail records how the current session ended. ErrAborted marks it aborted,
// anything else failed.
func (st *StateTracker) Fail(err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.state.Phase = PhaseFailed
	if errors.Is(err, ErrAborted) {
		st.state.Phase = PhaseAborted
	}
	st.state.Error = err.Error()
	st.state.UpdatedAt = time.Now()
}

// State returns the current session state.
func (st *StateTracker) State() SessionState {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.state
}

// Report stores a finished outcome and appends it to the history file.
func (st *StateTracker) Report(outcome *Outcome) error {
	if outcome == nil {
		return fmt.Errorf("%w: nil outcome", ErrTypeMismatch)
	}

	st.mu.Lock()
	st.outcomes[outcome.SessionID] = outcome
	st.latest = outcome
	if st.state.SessionID == outcome.SessionID {
		st.state.Phase = PhaseComplete
		st.state.UpdatedAt = time.Now()
	}
	path := st.historyPath
	history := st.sortedLocked()
	st.mu.Unlock()

	if path == "" {
		return nil
	}
	return SaveHistory(path, history)
}

// Outcome returns the outcome of session id.
func (st *StateTracker) Outcome(id string) (*Outcome, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	o, ok := st.outcomes[id]
	return o, ok
}

// Latest returns the most recently reported outcome.
func (st *StateTracker) Latest() (*Outcome, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.latest, st.latest != nil
}

// Outcomes returns every known outcome, oldest first.
func (st *StateTracker) Outcomes() []*Outcome {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.sortedLocked()
}

func (st *StateTracker) sortedLocked() []*Outcome {
	out := make([]*Outcome, 0, len(st.outcomes))
	for _, o := range st.outcomes {
		out = append(out, o)
	}
	slices.SortFunc(out, func(a, b *Outcome) int {
		return a.StartedAt.Compare(b.StartedAt)
	})
	return out
}

// LoadHistory reads an outcome history file. A missing file is an empty
// history.
func LoadHistory(path string) ([]*Outcome, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading outcome history: %w", err)
	}

	var history []*Outcome
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("parsing outcome history: %w", err)
	}
	return history, nil
}

// SaveHistory writes the outcome history as indented JSON.
func SaveHistory(path string, history []*Outcome) error {
	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling outcome history: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing outcome history: %w", err)
	}
	return nil
}
