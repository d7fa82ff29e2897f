package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/kwv/gazecal/calib"
)

const (
	geometryTimeout     = 30 * time.Second
	simulatedInterval   = 20 * time.Millisecond
	httpShutdownTimeout = 5 * time.Second
)

// App encapsulates the application state and dependencies
type App struct {
	Config     *calib.Config
	State      *calib.StateTracker
	MQTTClient *calib.MQTTClient
	Publisher  *calib.Publisher
	Display    *calib.RemoteDisplay
	Snapshot   *calib.SnapshotRenderer

	opts        AppOptions
	out         io.Writer
	sleeper     calib.Sleeper
	rng         *rand.Rand
	simInterval time.Duration
}

// NewApp creates a new App instance
func NewApp(out io.Writer) *App {
	return &App{
		State:       calib.NewStateTracker(),
		out:         out,
		sleeper:     calib.RealSleeper(),
		rng:         rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
		simInterval: simulatedInterval,
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.opts = opts
	if opts.HistoryFile != "" {
		a.State = calib.NewStateTrackerWithHistory(opts.HistoryFile)
	}
}

// loadConfig reads the config file, or the defaults when none is given, and
// applies the command line overrides.
func (a *App) loadConfig() (*calib.Config, error) {
	config := calib.DefaultConfig()
	if a.opts.ConfigFile != "" {
		var err error
		if config, err = calib.LoadConfig(a.opts.ConfigFile); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		log.Printf("Loaded config from %s", a.opts.ConfigFile)
	}

	if a.opts.Points != 0 {
		config.Calibration.Points = a.opts.Points
		config.Calibration.Targets = nil
	}
	if a.opts.ReportFile != "" {
		config.Output.ReportPath = a.opts.ReportFile
	}
	if a.opts.SnapshotDir != "" {
		config.Output.SnapshotDir = a.opts.SnapshotDir
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	a.Config = config
	return config, nil
}

// RunCheckConfig validates the configuration and prints the targets with
// their screen positions.
func (a *App) RunCheckConfig() error {
	config, err := a.loadConfig()
	if err != nil {
		return err
	}
	targets, err := config.Targets(nil)
	if err != nil {
		return err
	}

	res := config.Display.Resolution
	g := &calib.Geometry{Resolution: &res}

	fmt.Fprintf(a.out, "Display: %dx%d\n", res.Width, res.Height)
	fmt.Fprintf(a.out, "Targets (%d):\n", len(targets))
	for _, t := range targets {
		px, err := g.DisplayAreaToPixels(t.Position)
		if err != nil {
			return &calib.TargetError{Key: t.Key, Err: err}
		}
		fmt.Fprintf(a.out, "  %s: (%.2f, %.2f) -> pixel (%d, %d)\n", t.Key, t.Position.X, t.Position.Y, px.X, px.Y)
	}
	if config.Calibration.Shuffle {
		fmt.Fprintln(a.out, "Targets are shuffled at the start of each session")
	}
	retry := config.RetryPolicy()
	fmt.Fprintf(a.out, "Retry: %d attempts, %v backoff\n", retry.MaxAttempts, retry.Backoff)

	if config.MQTT.Broker != "" {
		fmt.Fprintf(a.out, "MQTT: %s (gaze %s, geometry %s, commands %s)\n",
			config.MQTT.Broker, config.MQTT.GazeTopic, config.MQTT.GeometryTopic, config.MQTT.CommandTopic)
	} else {
		fmt.Fprintln(a.out, "MQTT: disabled")
	}
	return nil
}

// RunSession runs one calibration session end to end.
func (a *App) RunSession() error {
	config, err := a.loadConfig()
	if err != nil {
		return err
	}
	targets, err := config.Targets(a.rng)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, cal, err := a.connectTracker(ctx, config)
	if err != nil {
		return err
	}
	defer func() {
		if a.MQTTClient != nil {
			a.MQTTClient.Disconnect()
		}
	}()

	res := config.Display.Resolution
	renderer, err := a.newRenderer(config)
	if err != nil {
		return err
	}

	if !a.opts.Headless || a.opts.Remote {
		srv := a.startHTTPServer(res)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Printf("[HTTP] Shutdown error: %v", err)
			}
		}()
	}

	tb, err := src.TrackBox()
	if err != nil {
		return err
	}
	da, err := src.DisplayArea()
	if err != nil {
		return err
	}
	g := &calib.Geometry{TrackBox: tb, DisplayArea: da, Resolution: &res}

	sessionOpts := []calib.SessionOption{
		calib.WithSessionSleeper(a.sleeper),
		calib.WithStateTracker(a.State),
		calib.WithReporter(a.State),
		calib.WithCollectorOptions(calib.WithRetryPolicy(config.RetryPolicy())),
	}
	if a.Publisher != nil {
		sessionOpts = append(sessionOpts,
			calib.WithReporter(a.Publisher),
			calib.WithValidationGaze(a.Publisher.PublishGaze))
	}

	outcome, err := calib.NewSession(g, renderer, cal, src, targets, sessionOpts...).Run(ctx)
	if err != nil {
		return fmt.Errorf("calibration session: %w", err)
	}

	a.printOutcome(outcome)

	if path := config.Output.ReportPath; path != "" {
		if err := writeReport(path, outcome, res); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Report written to %s\n", path)
	}
	return nil
}

// connectTracker returns the gaze source and calibrator: the simulated
// tracker, or the MQTT tracker bridge once its geometry has arrived.
func (a *App) connectTracker(ctx context.Context, config *calib.Config) (calib.GazeSource, calib.Calibrator, error) {
	if a.opts.Simulate {
		log.Println("Using simulated tracker")
		sim := calib.NewSimulatedTracker(a.simInterval)
		return sim, sim, nil
	}

	client, err := calib.InitMQTT(config)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize MQTT: %w", err)
	}
	if client == nil {
		return nil, nil, errors.New("no tracker: set mqtt.broker (or MQTT_BROKER), or use --simulate")
	}
	a.MQTTClient = client

	if config.MQTT.CommandTopic == "" {
		return nil, nil, errors.New("mqtt.commandTopic is required to calibrate over MQTT")
	}

	waitCtx, cancel := context.WithTimeout(ctx, geometryTimeout)
	defer cancel()
	log.Printf("Waiting for tracker geometry on %s...", config.MQTT.GeometryTopic)
	if err := client.WaitForGeometry(waitCtx); err != nil {
		return nil, nil, err
	}

	a.Publisher = calib.NewPublisher(client.GetClient())
	if os.Getenv("MQTT_PUBLISH_PREFIX") == "" && config.MQTT.PublishPrefix != "" {
		a.Publisher.SetPublishPrefix(config.MQTT.PublishPrefix)
	}
	fmt.Fprintln(a.out, "MQTT outcome publisher initialized")

	return client, calib.NewMQTTCalibrator(client.GetClient(), config.MQTT.CommandTopic), nil
}

func (a *App) newRenderer(config *calib.Config) (calib.Renderer, error) {
	res := config.Display.Resolution
	if a.opts.Headless {
		a.Snapshot = calib.NewSnapshotRenderer(res, a.opts.Keys)
		if dir := config.Output.SnapshotDir; dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("creating snapshot dir: %w", err)
			}
			a.Snapshot.SetSnapshotDir(dir)
		}
		log.Printf("Rendering headless at %dx%d with keys %v", res.Width, res.Height, a.opts.Keys)
		return a.Snapshot, nil
	}

	a.Display = calib.NewRemoteDisplay(res)
	fmt.Fprintf(a.out, "Open http://localhost:%d/ to show the calibration screen\n", a.opts.HttpPort)
	return a.Display, nil
}

func (a *App) startHTTPServer(res calib.Resolution) *http.Server {
	srv := &http.Server{
		Addr:    fmt.Sprintf("0.0.0.0:%d", a.opts.HttpPort),
		Handler: newHTTPServer(a.State, a.Display, res),
	}
	go func() {
		log.Printf("[HTTP] Starting server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[HTTP] Server error: %v", err)
		}
	}()
	return srv
}

func (a *App) printOutcome(o *calib.Outcome) {
	fmt.Fprintf(a.out, "\nCalibration %s complete\n", o.SessionID)
	fmt.Fprintln(a.out, "=====================")
	fmt.Fprintf(a.out, "Eyes: %s, rounds: %d\n", o.Eyes, o.Rounds)
	for _, redo := range o.Redone {
		fmt.Fprintf(a.out, "Recalibrated: %s\n", strings.Join(redo, ", "))
	}
	for _, p := range o.Points {
		fmt.Fprintf(a.out, "  %s at (%d,%d): left %.1f px, right %.1f px\n",
			p.Key, p.Target.X, p.Target.Y, p.LeftError, p.RightError)
	}
	fmt.Fprintf(a.out, "Mean error: left %.1f px, right %.1f px (worst point %s)\n",
		o.Score.MeanLeftError, o.Score.MeanRightError, o.Score.WorstKey)
}

// writeReport renders the outcome's accuracy report. The file extension
// picks the format: .png for raster, anything else SVG.
func writeReport(path string, o *calib.Outcome, res calib.Resolution) error {
	r := calib.NewReportRenderer(o.Points, res)
	r.Highlight = o.Score.WorstKey

	var buf bytes.Buffer
	var err error
	if strings.EqualFold(filepath.Ext(path), ".png") {
		err = r.RenderToPNG(&buf)
	} else {
		err = r.RenderToSVG(&buf)
	}
	if err != nil {
		return fmt.Errorf("rendering report: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}
