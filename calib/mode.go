package calib

import (
	"fmt"
	"sync"
)

// CalibrationMode wraps a Calibrator and tracks whether calibration mode is
// currently entered, so teardown paths know whether to leave it.
type CalibrationMode struct {
	Calibrator

	mu     sync.Mutex
	active bool
}

// NewCalibrationMode wraps cal. A nil calibrator is never active.
func NewCalibrationMode(cal Calibrator) *CalibrationMode {
	return &CalibrationMode{Calibrator: cal}
}

// EnterMode enters calibration mode on the tracker.
func (m *CalibrationMode) EnterMode() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Calibrator == nil {
		return fmt.Errorf("%w: no calibrator", ErrPreconditionUnmet)
	}
	if m.active {
		return nil
	}
	if err := m.Calibrator.EnterMode(); err != nil {
		return fmt.Errorf("entering calibration mode: %w", err)
	}
	m.active = true
	return nil
}

// LeaveMode leaves calibration mode. It is a no-op when not active.
func (m *CalibrationMode) LeaveMode() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return nil
	}
	m.active = false
	if err := m.Calibrator.LeaveMode(); err != nil {
		return fmt.Errorf("leaving calibration mode: %w", err)
	}
	return nil
}

// Active reports whether calibration mode is entered.
func (m *CalibrationMode) Active() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}
