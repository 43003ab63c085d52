package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the instrument configuration.
type Config struct {
	Bus         BusConfig         `yaml:"bus"`
	Network     NetworkConfig     `yaml:"network"`
	Identity    IdentityConfig    `yaml:"identity"`
	Measurement MeasurementConfig `yaml:"measurement"`
	Simulator   SimulatorConfig   `yaml:"simulator"`
	Log         LogConfig         `yaml:"log"`
}

// BusConfig contains the serial bus bridge configuration.
type BusConfig struct {
	Port    string        `yaml:"port"`
	Baud    int           `yaml:"baud"`
	Timeout time.Duration `yaml:"timeout"` // per-transaction deadline
}

// NetworkConfig contains SCPI server and discovery configuration.
type NetworkConfig struct {
	Port             int           `yaml:"port"`
	Hostname         string        `yaml:"hostname"`
	MaxConnections   int           `yaml:"max_connections"`
	MetricsPort      int           `yaml:"metrics_port"` // 0 disables the metrics endpoint
	AnnounceInterval time.Duration `yaml:"announce_interval"`
}

// IdentityConfig contains the instrument identity reported by *IDN?.
type IdentityConfig struct {
	Manufacturer string `yaml:"manufacturer"`
	Model        string `yaml:"model"`
	Serial       string `yaml:"serial"`
	Version      string `yaml:"version"`
	SCPIVersion  string `yaml:"scpi_version"`
}

// MeasurementConfig contains sampling and display parameters.
type MeasurementConfig struct {
	SampleInterval  time.Duration `yaml:"sample_interval"`
	DisplayInterval time.Duration `yaml:"display_interval"`
	DefaultAverage  int           `yaml:"default_average"`
	DetectEvery     int           `yaml:"detect_every"` // sensor detect every Nth sampling tick
}

// SimulatorConfig contains the simulated bus configuration (-sim mode and tests).
type SimulatorConfig struct {
	NoiseLevel float64 `yaml:"noise_level"` // V
	PowerDBm   float64 `yaml:"power_dbm"`   // simulated input power
}

// LogConfig contains logging configuration.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Bus: BusConfig{
			Port:    "/dev/ttyACM0",
			Baud:    115200,
			Timeout: 100 * time.Millisecond,
		},
		Network: NetworkConfig{
			Port:             5025,
			Hostname:         "rfmeter",
			MaxConnections:   3,
			MetricsPort:      9100,
			AnnounceInterval: 60 * time.Second,
		},
		Identity: IdentityConfig{
			Manufacturer: "HomeLab",
			Model:        "RFPM-2CH",
			Serial:       "001",
			Version:      "1.0.0",
			SCPIVersion:  "1999.0",
		},
		Measurement: MeasurementConfig{
			SampleInterval:  50 * time.Millisecond,
			DisplayInterval: 200 * time.Millisecond,
			DefaultAverage:  16,
			DetectEvery:     10,
		},
		Simulator: SimulatorConfig{
			NoiseLevel: 0.001,
			PowerDBm:   -10.0,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Bus.Port == "" {
		c.Bus.Port = def.Bus.Port
	}
	if c.Bus.Baud == 0 {
		c.Bus.Baud = def.Bus.Baud
	}
	if c.Bus.Timeout == 0 {
		c.Bus.Timeout = def.Bus.Timeout
	}

	if c.Network.Port == 0 {
		c.Network.Port = def.Network.Port
	}
	if c.Network.Hostname == "" {
		c.Network.Hostname = def.Network.Hostname
	}
	if c.Network.MaxConnections == 0 {
		c.Network.MaxConnections = def.Network.MaxConnections
	}
	if c.Network.AnnounceInterval == 0 {
		c.Network.AnnounceInterval = def.Network.AnnounceInterval
	}

	if c.Identity.Manufacturer == "" {
		c.Identity.Manufacturer = def.Identity.Manufacturer
	}
	if c.Identity.Model == "" {
		c.Identity.Model = def.Identity.Model
	}
	if c.Identity.Serial == "" {
		c.Identity.Serial = def.Identity.Serial
	}
	if c.Identity.Version == "" {
		c.Identity.Version = def.Identity.Version
	}
	if c.Identity.SCPIVersion == "" {
		c.Identity.SCPIVersion = def.Identity.SCPIVersion
	}

	if c.Measurement.SampleInterval == 0 {
		c.Measurement.SampleInterval = def.Measurement.SampleInterval
	}
	if c.Measurement.DisplayInterval == 0 {
		c.Measurement.DisplayInterval = def.Measurement.DisplayInterval
	}
	if c.Measurement.DefaultAverage == 0 {
		c.Measurement.DefaultAverage = def.Measurement.DefaultAverage
	}
	if c.Measurement.DetectEvery == 0 {
		c.Measurement.DetectEvery = def.Measurement.DetectEvery
	}

	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
}
