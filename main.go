package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/kwv/gazecal/calib"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the command line options.
type AppOptions struct {
	ConfigFile  string
	Points      int
	Simulate    bool
	Headless    bool
	Keys        []string
	Remote      bool
	HttpPort    int
	ReportFile  string
	SnapshotDir string
	HistoryFile string
	CheckConfig bool
}

// AppRunner is what run dispatches to; tests substitute a mock.
type AppRunner interface {
	ApplyOptions(opts AppOptions)
	RunCheckConfig() error
	RunSession() error
}

// Exit codes. An operator abort is reported apart from failures.
const (
	exitAborted = 1
	exitFailure = 2
)

// defaultKeys answers the five prompts of a session that needs no redo.
const defaultKeys = "c,c,c,c,c"

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp(os.Stdout)); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Printf("gazecal: %v", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if errors.Is(err, calib.ErrAborted) {
		return exitAborted
	}
	return exitFailure
}

func run(args []string, out io.Writer, app AppRunner) error {
	fs := flag.NewFlagSet("gazecal", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	var keys string
	fs.StringVar(&opts.ConfigFile, "config", "", "Path to configuration file (defaults apply when empty)")
	fs.IntVar(&opts.Points, "points", 0, "Calibration points: 5 or 9 (overrides the config file)")
	fs.BoolVar(&opts.Simulate, "simulate", false, "Use the simulated tracker instead of the MQTT bridge")
	fs.BoolVar(&opts.Headless, "headless", false, "Render offscreen and answer prompts from --keys")
	fs.StringVar(&keys, "keys", defaultKeys, "Comma separated key presses for --headless")
	fs.BoolVar(&opts.Remote, "remote", false, "Serve the HTTP endpoints in --headless mode (always on otherwise)")
	fs.IntVar(&opts.HttpPort, "http-port", 8080, "HTTP server port")
	fs.StringVar(&opts.ReportFile, "report", "", "Write the accuracy report to this .svg or .png file")
	fs.StringVar(&opts.SnapshotDir, "snapshot-dir", "", "Save a thumbnail of each screen answered in --headless mode")
	fs.StringVar(&opts.HistoryFile, "history", "", "Append outcomes to this JSON history file")
	fs.BoolVar(&opts.CheckConfig, "check-config", false, "Validate the configuration, print the targets and exit")

	if err := fs.Parse(args); err != nil {
		return err
	}
	opts.Keys = splitKeys(keys)

	fmt.Fprintf(out, "gazecal version: %s\n", Version)
	app.ApplyOptions(opts)

	if opts.CheckConfig {
		return app.RunCheckConfig()
	}
	return app.RunSession()
}

func splitKeys(s string) []string {
	var keys []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
