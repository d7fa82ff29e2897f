package main

import (
	"bytes"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kwv/gazecal/calib"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

var testResolution = calib.Resolution{Width: 320, Height: 180}

func testOutcome(id string, started time.Time) *calib.Outcome {
	return &calib.Outcome{
		SessionID:  id,
		StartedAt:  started,
		FinishedAt: started.Add(time.Minute),
		Eyes:       calib.EyesBoth,
		Rounds:     1,
		Points: []calib.AggregatedPoint{
			{Key: "1", Target: calib.PixelPoint{X: -100, Y: 60}, MeanLeft: calib.PixelPoint{X: -90, Y: 55}, MeanRight: calib.PixelPoint{X: -110, Y: 65}, LeftError: 11.2, RightError: 11.2},
			{Key: "2", Target: calib.PixelPoint{X: 100, Y: 60}, MeanLeft: calib.PixelPoint{X: 95, Y: 58}, MeanRight: calib.PixelPoint{X: 120, Y: 70}, LeftError: 5.4, RightError: 22.4},
		},
		Score:     calib.Score{MeanLeftError: 8.3, MeanRightError: 16.8, MaxLeftError: 11.2, MaxRightError: 22.4, WorstKey: "2"},
		Validated: true,
	}
}

// populatedTracker returns a StateTracker that already holds two outcomes.
func populatedTracker() *calib.StateTracker {
	st := calib.NewStateTracker()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	st.Report(testOutcome("first", base))
	st.Report(testOutcome("second", base.Add(time.Hour)))
	return st
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// ---------------------------------------------------------------------------
// /health
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	st := calib.NewStateTracker()
	st.SetPhase("s-1", calib.PhaseCalibrating)
	h := newHTTPServer(st, calib.NewRemoteDisplay(testResolution), testResolution)

	rec := serve(h, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var body struct {
		Status   string             `json:"status"`
		Session  calib.SessionState `json:"session"`
		Displays int                `json:"displays"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
	if body.Session.SessionID != "s-1" || body.Session.Phase != calib.PhaseCalibrating {
		t.Errorf("session = %+v, want s-1 calibrating", body.Session)
	}
	if body.Displays != 0 {
		t.Errorf("displays = %d, want 0", body.Displays)
	}
}

func TestHealthEndpoint_Headless(t *testing.T) {
	h := newHTTPServer(calib.NewStateTracker(), nil, testResolution)
	if rec := serve(h, http.MethodGet, "/health"); rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Display endpoints
// ---------------------------------------------------------------------------

func TestDisplayPage(t *testing.T) {
	h := newHTTPServer(calib.NewStateTracker(), calib.NewRemoteDisplay(testResolution), testResolution)

	rec := serve(h, http.MethodGet, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "/display") {
		t.Error("display page should connect to /display")
	}

	if rec := serve(h, http.MethodGet, "/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("/nope status = %d, want 404", rec.Code)
	}
}

func TestDisplayEndpoints_Headless(t *testing.T) {
	h := newHTTPServer(calib.NewStateTracker(), nil, testResolution)

	for _, path := range []string{"/", "/display"} {
		if rec := serve(h, http.MethodGet, path); rec.Code != http.StatusNotFound {
			t.Errorf("%s status = %d, want 404 without a remote display", path, rec.Code)
		}
	}
}

// ---------------------------------------------------------------------------
// Outcome endpoints
// ---------------------------------------------------------------------------

func TestOutcomeEndpoint(t *testing.T) {
	tests := []struct {
		name   string
		state  *calib.StateTracker
		target string
		code   int
		wantID string
	}{
		{"no outcome", calib.NewStateTracker(), "/outcome", http.StatusNotFound, ""},
		{"latest", populatedTracker(), "/outcome", http.StatusOK, "second"},
		{"by id", populatedTracker(), "/outcome?id=first", http.StatusOK, "first"},
		{"unknown id", populatedTracker(), "/outcome?id=missing", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(newHTTPServer(tt.state, nil, testResolution), http.MethodGet, tt.target)
			if rec.Code != tt.code {
				t.Fatalf("status = %d, want %d", rec.Code, tt.code)
			}
			if tt.wantID == "" {
				return
			}
			var o calib.Outcome
			if err := json.Unmarshal(rec.Body.Bytes(), &o); err != nil {
				t.Fatalf("decode outcome: %v", err)
			}
			if o.SessionID != tt.wantID {
				t.Errorf("SessionID = %q, want %q", o.SessionID, tt.wantID)
			}
			if o.Eyes != calib.EyesBoth || len(o.Points) != 2 {
				t.Errorf("outcome = %+v", o)
			}
		})
	}
}

func TestOutcomesEndpoint(t *testing.T) {
	rec := serve(newHTTPServer(populatedTracker(), nil, testResolution), http.MethodGet, "/outcomes")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var outcomes []calib.Outcome
	if err := json.Unmarshal(rec.Body.Bytes(), &outcomes); err != nil {
		t.Fatalf("decode outcomes: %v", err)
	}
	if len(outcomes) != 2 || outcomes[0].SessionID != "first" || outcomes[1].SessionID != "second" {
		t.Errorf("outcomes = %+v, want first then second", outcomes)
	}

	rec = serve(newHTTPServer(calib.NewStateTracker(), nil, testResolution), http.MethodGet, "/outcomes")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("empty outcomes = %q, want []", rec.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Report endpoints
// ---------------------------------------------------------------------------

func TestReportSVGEndpoint(t *testing.T) {
	rec := serve(newHTTPServer(calib.NewStateTracker(), nil, testResolution), http.MethodGet, "/report.svg")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status without outcome = %d, want 503", rec.Code)
	}

	rec = serve(newHTTPServer(populatedTracker(), nil, testResolution), http.MethodGet, "/report.svg?id=first")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/svg+xml" {
		t.Errorf("Content-Type = %q, want image/svg+xml", ct)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("<svg")) {
		t.Error("response does not contain <svg tag")
	}
}

func TestReportPNGEndpoint(t *testing.T) {
	rec := serve(newHTTPServer(calib.NewStateTracker(), nil, testResolution), http.MethodGet, "/report.png")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status without outcome = %d, want 503", rec.Code)
	}

	rec = serve(newHTTPServer(populatedTracker(), nil, testResolution), http.MethodGet, "/report.png")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q, want image/png", ct)
	}
	img, err := png.Decode(rec.Body)
	if err != nil {
		t.Fatalf("decode PNG: %v", err)
	}
	if dx := img.Bounds().Dx(); dx < 319 || dx > 321 {
		t.Errorf("PNG width = %d, want about 320", dx)
	}
}
