package calib

import (
	"fmt"
	"math/rand/v2"
)

// Config is the YAML configuration of a calibration station.
type Config struct {
	MQTT        MQTTConfig        `yaml:"mqtt" json:"mqtt"`
	Display     DisplayConfig     `yaml:"display" json:"display"`
	Calibration CalibrationConfig `yaml:"calibration" json:"calibration"`
	Output      OutputConfig      `yaml:"output,omitempty" json:"output,omitempty"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
	GazeTopic     string `yaml:"gazeTopic,omitempty" json:"gazeTopic,omitempty"`         // Gaze frames, JSON GazeFrame
	GeometryTopic string `yaml:"geometryTopic,omitempty" json:"geometryTopic,omitempty"` // Retained tracker geometry
	CommandTopic  string `yaml:"commandTopic,omitempty" json:"commandTopic,omitempty"`   // Calibration requests; replies on {commandTopic}/reply
}

// DisplayConfig describes the screen the targets are shown on.
type DisplayConfig struct {
	Resolution Resolution `yaml:"resolution" json:"resolution"`
}

// CalibrationConfig selects the targets and retry behavior.
type CalibrationConfig struct {
	Points  int            `yaml:"points,omitempty" json:"points,omitempty"` // 5 or 9 when Targets is empty
	Shuffle bool           `yaml:"shuffle,omitempty" json:"shuffle,omitempty"`
	Targets []TargetConfig `yaml:"targets,omitempty" json:"targets,omitempty"`
	Retry   *RetryPolicy   `yaml:"retry,omitempty" json:"retry,omitempty"`
}

// TargetConfig is a target as written in YAML: a key and a coordinate pair.
type TargetConfig struct {
	Key      string    `yaml:"key" json:"key"`
	Position []float64 `yaml:"position" json:"position"`
}

// OutputConfig controls where reports and snapshots go.
type OutputConfig struct {
	ReportPath  string `yaml:"reportPath,omitempty" json:"reportPath,omitempty"`
	SnapshotDir string `yaml:"snapshotDir,omitempty" json:"snapshotDir,omitempty"`
}

// DefaultConfig returns a five point setup on a 1366x768 display.
func DefaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			PublishPrefix: "gazecal",
			ClientID:      "gazecal",
		},
		Display: DisplayConfig{
			Resolution: Resolution{Width: 1366, Height: 768},
		},
		Calibration: CalibrationConfig{
			Points: 5,
		},
	}
}

// Targets builds the target list. Explicit targets win over the preset; rng
// is only used when shuffling is enabled.
func (c *Config) Targets(rng *rand.Rand) (TargetList, error) {
	var targets TargetList
	if len(c.Calibration.Targets) > 0 {
		targets = make(TargetList, 0, len(c.Calibration.Targets))
		for i, tc := range c.Calibration.Targets {
			p, err := PointFromCoords(tc.Position...)
			if err != nil {
				return nil, fmt.Errorf("calibration.targets[%d]: %w", i, err)
			}
			targets = append(targets, CalibrationTarget{Key: tc.Key, Position: p})
		}
	} else {
		n := c.Calibration.Points
		if n == 0 {
			n = 5
		}
		var err error
		if targets, err = PresetTargets(n); err != nil {
			return nil, err
		}
	}

	if err := targets.Validate(); err != nil {
		return nil, err
	}
	if c.Calibration.Shuffle && rng != nil {
		targets = targets.Shuffled(rng)
	}
	return targets, nil
}

// RetryPolicy returns the configured policy or the default one.
func (c *Config) RetryPolicy() RetryPolicy {
	if c.Calibration.Retry == nil {
		return DefaultRetryPolicy()
	}
	return *c.Calibration.Retry
}
