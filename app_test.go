package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kwv/gazecal/calib"
)

// writeTestConfig writes body to a config file in a temp dir.
func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gazecal.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// newTestApp returns an App that never sleeps and whose simulated tracker
// delivers a single frame per subscription.
func newTestApp(out *bytes.Buffer) *App {
	app := NewApp(out)
	app.sleeper = calib.SleepFunc(func(ctx context.Context, d time.Duration) error {
		return ctx.Err()
	})
	app.simInterval = 0
	return app
}

const smallDisplayConfig = `display:
  resolution:
    width: 320
    height: 180
calibration:
  points: 5
`

func TestNewApp(t *testing.T) {
	app := NewApp(&bytes.Buffer{})
	if app == nil {
		t.Fatal("NewApp returned nil")
		return
	}
	if app.State == nil {
		t.Error("State should be initialized")
	}
	if app.sleeper == nil || app.rng == nil {
		t.Error("sleeper and rng should be initialized")
	}
}

func TestApplyOptions(t *testing.T) {
	app := NewApp(&bytes.Buffer{})
	opts := AppOptions{
		ConfigFile: "test-config.yaml",
		Points:     9,
		Headless:   true,
		Keys:       []string{"c", "q"},
		HttpPort:   9090,
	}
	app.ApplyOptions(opts)

	if app.opts.ConfigFile != "test-config.yaml" {
		t.Errorf("ConfigFile = %s, want test-config.yaml", app.opts.ConfigFile)
	}
	if app.opts.Points != 9 || !app.opts.Headless || app.opts.HttpPort != 9090 {
		t.Errorf("opts = %+v", app.opts)
	}
}

func TestApplyOptions_HistoryFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if err := calib.SaveHistory(path, []*calib.Outcome{testOutcome("old", base)}); err != nil {
		t.Fatalf("SaveHistory: %v", err)
	}

	app := NewApp(&bytes.Buffer{})
	app.ApplyOptions(AppOptions{HistoryFile: path})

	latest, ok := app.State.Latest()
	if !ok || latest.SessionID != "old" {
		t.Errorf("Latest = %v, want the outcome loaded from history", latest)
	}
}

// ---------------------------------------------------------------------------
// loadConfig
// ---------------------------------------------------------------------------

func TestLoadConfig_Defaults(t *testing.T) {
	app := NewApp(&bytes.Buffer{})
	config, err := app.loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if config.Display.Resolution != (calib.Resolution{Width: 1366, Height: 768}) {
		t.Errorf("Resolution = %+v, want default", config.Display.Resolution)
	}
	if app.Config != config {
		t.Error("loadConfig should store the config on the app")
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	path := writeTestConfig(t, `calibration:
  targets:
    - key: a
      position: [0.2, 0.2]
output:
  reportPath: from-config.svg
`)
	app := NewApp(&bytes.Buffer{})
	app.ApplyOptions(AppOptions{
		ConfigFile:  path,
		Points:      9,
		ReportFile:  "from-flag.png",
		SnapshotDir: "/tmp/frames",
	})

	config, err := app.loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if config.Calibration.Points != 9 || len(config.Calibration.Targets) != 0 {
		t.Errorf("--points should replace the explicit targets, got %+v", config.Calibration)
	}
	if config.Output.ReportPath != "from-flag.png" {
		t.Errorf("ReportPath = %q, want from-flag.png", config.Output.ReportPath)
	}
	if config.Output.SnapshotDir != "/tmp/frames" {
		t.Errorf("SnapshotDir = %q, want /tmp/frames", config.Output.SnapshotDir)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		opts AppOptions
	}{
		{"missing file", AppOptions{ConfigFile: filepath.Join(t.TempDir(), "nope.yaml")}},
		{"invalid points", AppOptions{Points: 7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := NewApp(&bytes.Buffer{})
			app.ApplyOptions(tt.opts)
			if _, err := app.loadConfig(); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

// ---------------------------------------------------------------------------
// RunCheckConfig
// ---------------------------------------------------------------------------

func TestRunCheckConfig(t *testing.T) {
	var out bytes.Buffer
	app := NewApp(&out)
	app.ApplyOptions(AppOptions{CheckConfig: true})

	if err := app.RunCheckConfig(); err != nil {
		t.Fatalf("RunCheckConfig: %v", err)
	}
	for _, want := range []string{
		"Display: 1366x768",
		"Targets (5):",
		"  3: (0.50, 0.50) -> pixel (0, 0)",
		"Retry: 20 attempts, 100ms backoff",
		"MQTT: disabled",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestRunCheckConfig_MQTTAndShuffle(t *testing.T) {
	path := writeTestConfig(t, `mqtt:
  broker: tcp://broker:1883
  gazeTopic: tracker/gaze
  geometryTopic: tracker/geometry
  commandTopic: tracker/calibration
calibration:
  points: 9
  shuffle: true
`)
	var out bytes.Buffer
	app := NewApp(&out)
	app.ApplyOptions(AppOptions{ConfigFile: path})

	if err := app.RunCheckConfig(); err != nil {
		t.Fatalf("RunCheckConfig: %v", err)
	}
	for _, want := range []string{
		"Targets (9):",
		"shuffled",
		"MQTT: tcp://broker:1883 (gaze tracker/gaze, geometry tracker/geometry, commands tracker/calibration)",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

// ---------------------------------------------------------------------------
// RunSession
// ---------------------------------------------------------------------------

func TestRunSession_SimulatedHeadless(t *testing.T) {
	dir := t.TempDir()
	report := filepath.Join(dir, "report.svg")
	snapshots := filepath.Join(dir, "frames")

	var out bytes.Buffer
	app := newTestApp(&out)
	app.ApplyOptions(AppOptions{
		ConfigFile:  writeTestConfig(t, smallDisplayConfig),
		Simulate:    true,
		Headless:    true,
		Keys:        strings.Split(defaultKeys, ","),
		ReportFile:  report,
		SnapshotDir: snapshots,
	})

	if err := app.RunSession(); err != nil {
		t.Fatalf("RunSession: %v", err)
	}

	latest, ok := app.State.Latest()
	if !ok {
		t.Fatal("outcome should be reported to the state tracker")
	}
	if latest.Eyes != calib.EyesBoth || len(latest.Points) != 5 {
		t.Errorf("outcome = %+v", latest)
	}
	if app.State.State().Phase != calib.PhaseComplete {
		t.Errorf("Phase = %q, want complete", app.State.State().Phase)
	}

	for _, want := range []string{"Calibration " + latest.SessionID + " complete", "Mean error:", "Report written to " + report} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}

	data, err := os.ReadFile(report)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !bytes.Contains(data, []byte("<svg")) {
		t.Error("report is not an SVG")
	}

	if app.Snapshot == nil || len(app.Snapshot.Snapshots()) == 0 {
		t.Error("headless run should save snapshots")
	}
	if app.Display != nil {
		t.Error("headless run should not create a remote display")
	}
}

func TestRunSession_Aborted(t *testing.T) {
	var out bytes.Buffer
	app := newTestApp(&out)
	app.ApplyOptions(AppOptions{
		ConfigFile: writeTestConfig(t, smallDisplayConfig),
		Simulate:   true,
		Headless:   true,
		Keys:       []string{"c", "q"},
	})

	err := app.RunSession()
	if !errors.Is(err, calib.ErrAborted) {
		t.Fatalf("RunSession = %v, want ErrAborted", err)
	}
	if app.State.State().Phase != calib.PhaseAborted {
		t.Errorf("Phase = %q, want aborted", app.State.State().Phase)
	}
}

func TestRunSession_NoTracker(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")
	app := newTestApp(&bytes.Buffer{})
	app.ApplyOptions(AppOptions{Headless: true})

	err := app.RunSession()
	if err == nil || !strings.Contains(err.Error(), "no tracker") {
		t.Errorf("RunSession = %v, want no tracker error", err)
	}
}

func TestRunSession_MQTTNeedsCommandTopic(t *testing.T) {
	t.Setenv("MQTT_BROKER", "tcp://127.0.0.1:1")
	path := writeTestConfig(t, "mqtt:\n  gazeTopic: tracker/gaze\n")
	app := newTestApp(&bytes.Buffer{})
	app.ApplyOptions(AppOptions{ConfigFile: path, Headless: true})

	err := app.RunSession()
	if err == nil || !strings.Contains(err.Error(), "commandTopic") {
		t.Errorf("RunSession = %v, want commandTopic error", err)
	}
	if app.MQTTClient == nil {
		t.Error("MQTT client should have been created")
	}
}

// ---------------------------------------------------------------------------
// writeReport
// ---------------------------------------------------------------------------

func TestWriteReport(t *testing.T) {
	o := testOutcome("s-1", time.Now())
	dir := t.TempDir()

	for _, name := range []string{"report.svg", "report.PNG"} {
		path := filepath.Join(dir, name)
		if err := writeReport(path, o, testResolution); err != nil {
			t.Fatalf("writeReport(%s): %v", name, err)
		}
		info, err := os.Stat(path)
		if err != nil || info.Size() == 0 {
			t.Errorf("%s not written: %v", name, err)
		}
	}

	data, _ := os.ReadFile(filepath.Join(dir, "report.PNG"))
	if !bytes.HasPrefix(data, []byte("\x89PNG")) {
		t.Error(".PNG extension should produce a PNG")
	}

	if err := writeReport(filepath.Join(dir, "missing", "r.svg"), o, testResolution); err == nil {
		t.Error("expected error for unwritable path")
	}
	if err := writeReport(filepath.Join(dir, "zero.svg"), o, calib.Resolution{}); !errors.Is(err, calib.ErrRangeViolation) {
		t.Errorf("writeReport with zero resolution = %v, want ErrRangeViolation", err)
	}
}

func TestWriteReport_WriteFailure(t *testing.T) {
	if _, err := os.Stat("/dev/full"); err != nil {
		t.Skip("/dev/full not available")
	}
	err := writeReport("/dev/full", testOutcome("s-1", time.Now()), testResolution)
	if err == nil || !strings.Contains(err.Error(), "writing report") {
		t.Errorf("writeReport to a full device = %v, want a writing report error", err)
	}
}
