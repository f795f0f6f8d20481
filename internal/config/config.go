// Package config holds the tacd daemon configuration.
// Configuration is read from a YAML file with environment variable
// overrides for deployment; every field has a usable default so the daemon
// starts without any file at all (demo setups).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the daemon looks for its configuration unless
// overridden on the command line.
const DefaultPath = "/etc/tacd/config.yaml"

// Config holds all tacd configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Hardware HardwareConfig `yaml:"hardware"`
	Network  NetworkConfig  `yaml:"network"`
	Labgrid  LabgridConfig  `yaml:"labgrid"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the web interface.
type ServerConfig struct {
	Listen string `yaml:"listen"`

	// Timeout for draining connections on shutdown.
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// HardwareConfig configures the measurement and switching backends.
type HardwareConfig struct {
	// DemoMode replaces every hardware access with a synthetic backend so
	// the daemon can run on a development machine.
	DemoMode bool `yaml:"demo_mode"`

	// Sysfs file carrying the SoC temperature in millidegree celsius.
	HwmonPath string `yaml:"hwmon_path"`

	TemperatureInterval string  `yaml:"temperature_interval"`
	TemperatureWarn     float64 `yaml:"temperature_warn"`

	// Directory containing one <LINE_NAME>/value file per output line.
	GpioDir string `yaml:"gpio_dir"`

	// Directory containing one raw sample file per ADC channel.
	AdcDir      string `yaml:"adc_dir"`
	AdcInterval string `yaml:"adc_interval"`
}

// NetworkConfig configures link state reporting.
type NetworkConfig struct {
	// Interfaces to watch, e.g. the uplink and the DUT switch port.
	Interfaces []string `yaml:"interfaces"`

	PollInterval string `yaml:"poll_interval"`
}

// LabgridConfig configures the labgrid exporter integration.
type LabgridConfig struct {
	// EnvironmentFile is the exporter environment edited from the web UI.
	EnvironmentFile string `yaml:"environment_file"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          ":8080",
			ShutdownTimeout: "5s",
		},
		Hardware: HardwareConfig{
			DemoMode:            false,
			HwmonPath:           "/sys/class/hwmon/hwmon0/temp1_input",
			TemperatureInterval: "500ms",
			TemperatureWarn:     65,
			GpioDir:             "/dev/gpio-by-name",
			AdcDir:              "/sys/bus/iio/devices/iio:device0",
			AdcInterval:         "200ms",
		},
		Network: NetworkConfig{
			Interfaces:   []string{"uplink", "dut"},
			PollInterval: "5s",
		},
		Labgrid: LabgridConfig{
			EnvironmentFile: "/etc/labgrid/environment.yaml",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads the configuration file at path. A missing file yields the
// defaults; a malformed file is an error. Environment overrides are applied
// in both cases.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to a YAML file, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("TACD_LISTEN"); v != "" {
		c.Server.Listen = v
	}
	if v := os.Getenv("TACD_DEMO_MODE"); v != "" {
		if demo, err := strconv.ParseBool(v); err == nil {
			c.Hardware.DemoMode = demo
		}
	}
	if v := os.Getenv("TACD_HWMON_PATH"); v != "" {
		c.Hardware.HwmonPath = v
	}
	if v := os.Getenv("TACD_LABGRID_ENVIRONMENT"); v != "" {
		c.Labgrid.EnvironmentFile = v
	}
	if v := os.Getenv("TACD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// TemperatureInterval returns the temperature poll interval as a duration.
func (c *Config) TemperatureInterval() time.Duration {
	return parseDuration(c.Hardware.TemperatureInterval, 500*time.Millisecond)
}

// AdcInterval returns the ADC sample interval as a duration.
func (c *Config) AdcInterval() time.Duration {
	return parseDuration(c.Hardware.AdcInterval, 200*time.Millisecond)
}

// NetworkPollInterval returns the link state poll interval as a duration.
func (c *Config) NetworkPollInterval() time.Duration {
	return parseDuration(c.Network.PollInterval, 5*time.Second)
}

// ShutdownTimeout returns the HTTP drain timeout as a duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return parseDuration(c.Server.ShutdownTimeout, 5*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
