package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration. Values come from
// three layers, later layers winning: built-in defaults, an optional
// YAML file, then ALARMCLOCK_* environment variables.
type Config struct {
	// URL is the ICS subscription endpoint describing alarm times.
	URL string `yaml:"url"`

	// RelayPin is the BCM number of the digital output driving the
	// relay (bed shaker, buzzer, light).
	RelayPin int `yaml:"relay_pin"`

	// SensorPin is the BCM number of the digital input wired to the
	// bed-occupancy sensor.
	SensorPin int `yaml:"sensor_pin"`

	// RefreshSeconds is the calendar refresh cadence.
	RefreshSeconds int `yaml:"refresh_seconds"`

	// TickSeconds is the scheduler decision cadence. Sub-minute so the
	// trigger latency stays bounded.
	TickSeconds int `yaml:"tick_seconds"`

	// HorizonDays is how far ahead recurrences are expanded.
	HorizonDays int `yaml:"horizon_days"`

	// Timezone is the IANA timezone alarms are evaluated in. Empty
	// means the system local zone.
	Timezone string `yaml:"timezone"`

	// CacheDir is where the ICS HTTP cache lives.
	CacheDir string `yaml:"cache_dir"`

	// NoGPIO disables all hardware access, substituting stubs. Used for
	// development off the Pi.
	NoGPIO bool `yaml:"no_gpio"`
}

// Environment variable names, kept compatible with the original shell
// deployment of this controller.
const (
	EnvURL              = "ALARMCLOCK_URL"
	EnvRelayPin         = "ALARMCLOCK_RELAY_PIN"
	EnvSensorPin        = "ALARMCLOCK_SENSOR_PIN"
	EnvRefreshFrequency = "ALARMCLOCK_REFRESH_FREQUENCY"
	EnvNoGPIO           = "ALARMCLOCK_NO_GPIO"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		RelayPin:       4,
		SensorPin:      17,
		RefreshSeconds: 300,
		TickSeconds:    1,
		HorizonDays:    7,
		Timezone:       "",
		CacheDir:       "./var/ics-cache",
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.RelayPin <= 0 {
		c.RelayPin = 4
	}
	if c.SensorPin <= 0 {
		c.SensorPin = 17
	}
	if c.RefreshSeconds <= 0 {
		c.RefreshSeconds = 300
	}
	if c.TickSeconds <= 0 {
		c.TickSeconds = 1
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = 7
	}
	if c.CacheDir == "" {
		c.CacheDir = "./var/ics-cache"
	}
}

// applyEnv overlays ALARMCLOCK_* environment variables onto c.
// Malformed numeric values are reported as errors rather than ignored;
// configuration problems are the one fatal class.
func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvURL); v != "" {
		c.URL = v
	}
	if v := os.Getenv(EnvRelayPin); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvRelayPin, err)
		}
		c.RelayPin = n
	}
	if v := os.Getenv(EnvSensorPin); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvSensorPin, err)
		}
		c.SensorPin = n
	}
	if v := os.Getenv(EnvRefreshFrequency); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvRefreshFrequency, err)
		}
		c.RefreshSeconds = n
	}
	// Presence alone disables GPIO, matching the original deployment.
	if os.Getenv(EnvNoGPIO) != "" {
		c.NoGPIO = true
	}
	return nil
}

// Validate checks that the configuration is usable. It is called after
// Normalize and applyEnv, so only genuinely missing or malformed values
// remain to be caught.
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.New("calendar URL must be set (url in config file or " + EnvURL + ")")
	}
	if c.RelayPin <= 0 || c.SensorPin <= 0 {
		return errors.New("relay and sensor pins must be positive BCM numbers")
	}
	if c.RelayPin == c.SensorPin {
		return errors.New("relay and sensor pins must differ")
	}
	if c.RefreshSeconds <= 0 || c.TickSeconds <= 0 {
		return errors.New("refresh and tick intervals must be positive")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// RefreshInterval returns the calendar refresh cadence.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshSeconds) * time.Second
}

// TickInterval returns the scheduler decision cadence.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickSeconds) * time.Second
}

// Horizon returns the recurrence expansion window.
func (c *Config) Horizon() time.Duration {
	return time.Duration(c.HorizonDays) * 24 * time.Hour
}

// Location resolves the configured timezone, defaulting to time.Local.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Load builds the effective configuration.
//
// Behavior:
//   - Start from DefaultConfig.
//   - If path names an existing file, unmarshal YAML over the defaults.
//     A missing file is not an error; the controller is routinely
//     deployed with environment variables only.
//   - Overlay ALARMCLOCK_* environment variables.
//   - Normalize, then Validate.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist):
			// Environment-only deployment.
		default:
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
