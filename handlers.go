package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/kwv/gazecal/calib"
)

// newHTTPServer creates an HTTP server with all endpoints. display may be nil
// when the session renders headless.
func newHTTPServer(state *calib.StateTracker, display *calib.RemoteDisplay, res calib.Resolution) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] /health request from %s", r.RemoteAddr)
		w.Header().Set("Content-Type", "application/json")
		status := struct {
			Status    string             `json:"status"`
			Timestamp time.Time          `json:"timestamp"`
			Session   calib.SessionState `json:"session"`
			Displays  int                `json:"displays"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			Session:   state.State(),
		}
		if display != nil {
			status.Displays = display.Clients()
		}
		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Printf("Error encoding health status: %v", err)
		}
	})

	// Calibration screen: a browser page drawing what /display streams
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if display == nil {
			http.Error(w, "No remote display in headless mode", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if _, err := w.Write([]byte(displayPage)); err != nil {
			log.Printf("Error writing display page: %v", err)
		}
	})

	mux.HandleFunc("/display", func(w http.ResponseWriter, r *http.Request) {
		if display == nil {
			http.Error(w, "No remote display in headless mode", http.StatusNotFound)
			return
		}
		display.ServeHTTP(w, r)
	})

	// Outcome of a session: ?id=<sessionId>, or the latest one
	mux.HandleFunc("/outcome", func(w http.ResponseWriter, r *http.Request) {
		outcome, ok := lookupOutcome(state, r)
		if !ok {
			http.Error(w, "No calibration outcome available", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		if err := json.NewEncoder(w).Encode(outcome); err != nil {
			log.Printf("Error encoding outcome: %v", err)
		}
	})

	mux.HandleFunc("/outcomes", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(state.Outcomes()); err != nil {
			log.Printf("Error encoding outcomes: %v", err)
		}
	})

	// Accuracy report endpoints
	mux.HandleFunc("/report.svg", func(w http.ResponseWriter, r *http.Request) {
		outcome, ok := lookupOutcome(state, r)
		if !ok {
			http.Error(w, "No calibration outcome available", http.StatusServiceUnavailable)
			return
		}
		report := calib.NewReportRenderer(outcome.Points, res)
		report.Highlight = outcome.Score.WorstKey

		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		if err := report.RenderToSVG(w); err != nil {
			log.Printf("Error encoding report SVG: %v", err)
		}
	})

	mux.HandleFunc("/report.png", func(w http.ResponseWriter, r *http.Request) {
		outcome, ok := lookupOutcome(state, r)
		if !ok {
			http.Error(w, "No calibration outcome available", http.StatusServiceUnavailable)
			return
		}
		report := calib.NewReportRenderer(outcome.Points, res)
		report.Highlight = outcome.Score.WorstKey

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := report.RenderToPNG(w); err != nil {
			log.Printf("Error encoding report PNG: %v", err)
		}
	})

	return mux
}

func lookupOutcome(state *calib.StateTracker, r *http.Request) (*calib.Outcome, bool) {
	if id := r.URL.Query().Get("id"); id != "" {
		return state.Outcome(id)
	}
	return state.Latest()
}

const displayPage = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>gazecal</title>
<style>html,body{margin:0;height:100%;background:#b3b3b3;overflow:hidden}canvas{display:block}</style>
</head>
<body>
<canvas id="screen"></canvas>
<script>
const canvas = document.getElementById("screen");
const ctx = canvas.getContext("2d");
const rgba = c => "rgba(" + c.R + "," + c.G + "," + c.B + "," + (c.A / 255) + ")";

function draw(frame) {
  const w = frame.resolution.width, h = frame.resolution.height;
  canvas.width = w; canvas.height = h;
  ctx.fillStyle = "#b3b3b3";
  ctx.fillRect(0, 0, w, h);
  const pos = (p, u) => u === "norm" ? [w / 2 + p.x * w / 2, h / 2 - p.y * h / 2] : [w / 2 + p.x, h / 2 - p.y];
  const len = (v, u, horiz) => u === "norm" ? v * (horiz ? w : h) / 2 : v;
  for (const c of frame.commands || []) {
    const [x, y] = pos(c.pos, c.units);
    ctx.lineWidth = c.lineWidth || 1;
    ctx.strokeStyle = rgba(c.line);
    ctx.fillStyle = rgba(c.fill);
    switch (c.kind) {
    case "circle":
      ctx.beginPath();
      ctx.arc(x, y, len(c.radius, c.units, false), 0, 2 * Math.PI);
      ctx.fill(); ctx.stroke();
      break;
    case "line": {
      const [x2, y2] = pos(c.end, c.units);
      ctx.beginPath(); ctx.moveTo(x, y); ctx.lineTo(x2, y2); ctx.stroke();
      break;
    }
    case "rect": {
      const rw = len(c.width, c.units, true), rh = len(c.height, c.units, false);
      ctx.fillRect(x - rw / 2, y - rh / 2, rw, rh);
      break;
    }
    case "cross": {
      const half = len(c.width, c.units, false) / 2;
      ctx.beginPath();
      ctx.moveTo(x - half, y); ctx.lineTo(x + half, y);
      ctx.moveTo(x, y - half); ctx.lineTo(x, y + half);
      ctx.stroke();
      break;
    }
    case "text": {
      const size = Math.max(12, len(c.textHeight || 0.05, c.units, false));
      ctx.font = size + "px sans-serif";
      ctx.textAlign = "center";
      const lines = c.text.split("\n");
      lines.forEach((line, i) => ctx.fillText(line, x, y + (i - (lines.length - 1) / 2) * size * 1.2));
      break;
    }
    }
  }
}

const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/display");
ws.onmessage = e => draw(JSON.parse(e.data));
document.addEventListener("keydown", e => ws.send(JSON.stringify({key: e.key})));
</script>
</body>
</html>
`
