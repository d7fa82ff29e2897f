package calib

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads the station configuration from a YAML file. Fields left
// out of the file keep their DefaultConfig values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the fields a session cannot run without.
func (c *Config) Validate() error {
	res := c.Display.Resolution
	if res.Width <= 0 || res.Height <= 0 {
		return fmt.Errorf("display.resolution must be positive, got %dx%d", res.Width, res.Height)
	}
	if c.MQTT.GeometryTopic != "" && c.MQTT.GazeTopic == "" {
		return fmt.Errorf("mqtt.gazeTopic is required when mqtt.geometryTopic is set")
	}
	if c.Calibration.Retry != nil && c.Calibration.Retry.MaxAttempts < 0 {
		return fmt.Errorf("calibration.retry.maxAttempts must not be negative")
	}
	if _, err := c.Targets(nil); err != nil {
		return fmt.Errorf("calibration targets: %w", err)
	}
	return nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
