// Package config loads the uartscope configuration file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/uartscope/internal/device"
	"github.com/srg/uartscope/internal/devicefactory"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	RestoreIdentifier string      `yaml:"restore_identifier" default:"uartscope"`
	Backend           string      `yaml:"backend" default:"auto"`
	LogLevel          string      `yaml:"log_level" default:"panic"`
	Scan              ScanConfig  `yaml:"scan"`
	UART              UARTConfig  `yaml:"uart"`
	Gauge             GaugeConfig `yaml:"gauge"`
	LogLines          uint32      `yaml:"log_lines" default:"64"`
}

// ScanConfig holds scan settings.
type ScanConfig struct {
	Duration        time.Duration `yaml:"duration" default:"10s"` // 0 scans until interrupted
	AllowDuplicates bool          `yaml:"allow_duplicates"`
	AllServices     bool          `yaml:"all_services"`
}

// UARTConfig names the service and characteristic values are read from.
type UARTConfig struct {
	Service        string `yaml:"service" default:"6e400001b5a3f393e0a9e50e24dcca9e"`
	Characteristic string `yaml:"characteristic" default:"6e400003b5a3f393e0a9e50e24dcca9e"`
}

// GaugeConfig is the range numeric values are drawn against.
type GaugeConfig struct {
	Min   float64 `yaml:"min" default:"0"`
	Max   float64 `yaml:"max" default:"100"`
	Width int     `yaml:"width" default:"30"`
}

// DefaultPath returns ~/.config/uartscope/config.yaml, or "" without a home directory.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "uartscope", "config.yaml")
}

// Default returns a Config with every default filled in.
func Default() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads the YAML file at path over the defaults and validates the result.
// An empty path loads DefaultPath, which may be missing.
func Load(path string) (*Config, error) {
	optional := false
	if path == "" {
		path = DefaultPath()
		optional = true
	}

	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(expandTilde(path))
	if err != nil {
		if optional && errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.UART.Service = device.NormalizeUUID(c.UART.Service)
	c.UART.Characteristic = device.NormalizeUUID(c.UART.Characteristic)
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.RestoreIdentifier == "" {
		return errors.New("restore_identifier must not be empty")
	}

	backendOK := false
	for _, b := range devicefactory.Backends() {
		if c.Backend == b {
			backendOK = true
			break
		}
	}
	if !backendOK {
		return fmt.Errorf("backend must be one of %s, got %q", strings.Join(devicefactory.Backends(), ", "), c.Backend)
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}

	if c.Scan.Duration < 0 {
		return fmt.Errorf("scan.duration must not be negative, got %s", c.Scan.Duration)
	}

	if _, err := device.ValidateUUID(c.UART.Service); err != nil {
		return fmt.Errorf("uart.service: %w", err)
	}
	if _, err := device.ValidateUUID(c.UART.Characteristic); err != nil {
		return fmt.Errorf("uart.characteristic: %w", err)
	}

	if c.Gauge.Max <= c.Gauge.Min {
		return fmt.Errorf("gauge.max (%g) must be greater than gauge.min (%g)", c.Gauge.Max, c.Gauge.Min)
	}
	if c.Gauge.Width <= 0 {
		return fmt.Errorf("gauge.width must be > 0, got %d", c.Gauge.Width)
	}
	if c.LogLines == 0 {
		return errors.New("log_lines must be > 0")
	}
	return nil
}

// ParseLogLevel maps a log_level value to a logrus level. "panic" keeps the
// logger silent for normal operation.
func ParseLogLevel(level string) (logrus.Level, error) {
	switch level {
	case "", "panic":
		return logrus.PanicLevel, nil
	case "debug":
		return logrus.DebugLevel, nil
	case "info":
		return logrus.InfoLevel, nil
	case "warn":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return logrus.PanicLevel, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", level)
	}
}

// NewLogger builds the application logger at the configured level.
func (c *Config) NewLogger() *logrus.Logger {
	level, err := ParseLogLevel(c.LogLevel)
	if err != nil {
		level = logrus.PanicLevel
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger
}

func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
