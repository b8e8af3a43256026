package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/uartscope/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "uartscope", cfg.RestoreIdentifier)
	assert.Equal(t, "auto", cfg.Backend)
	assert.Equal(t, "panic", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.Scan.Duration)
	assert.False(t, cfg.Scan.AllowDuplicates)
	assert.False(t, cfg.Scan.AllServices)
	assert.Equal(t, device.UARTServiceUUID, cfg.UART.Service)
	assert.Equal(t, device.UARTTXCharUUID, cfg.UART.Characteristic)
	assert.Equal(t, 0.0, cfg.Gauge.Min)
	assert.Equal(t, 100.0, cfg.Gauge.Max)
	assert.Equal(t, 30, cfg.Gauge.Width)
	assert.Equal(t, uint32(64), cfg.LogLines)
	assert.NoError(t, cfg.Validate(), "defaults MUST be valid")
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
restore_identifier: bench
backend: TinyGo
log_level: debug
scan:
  duration: 30s
  allow_duplicates: true
  all_services: true
uart:
  service: 180D
  characteristic: 2A37
gauge:
  min: -40
  max: 85
  width: 12
log_lines: 8
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "bench", cfg.RestoreIdentifier)
	assert.Equal(t, "tinygo", cfg.Backend, "backend MUST be normalized")
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.Scan.Duration)
	assert.True(t, cfg.Scan.AllowDuplicates)
	assert.True(t, cfg.Scan.AllServices)
	assert.Equal(t, "180d", cfg.UART.Service)
	assert.Equal(t, "2a37", cfg.UART.Characteristic)
	assert.Equal(t, -40.0, cfg.Gauge.Min)
	assert.Equal(t, 85.0, cfg.Gauge.Max)
	assert.Equal(t, 12, cfg.Gauge.Width)
	assert.Equal(t, uint32(8), cfg.LogLines)
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := writeConfig(t, "gauge:\n  max: 250\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 250.0, cfg.Gauge.Max)
	assert.Equal(t, 30, cfg.Gauge.Width)
	assert.Equal(t, "auto", cfg.Backend)
	assert.Equal(t, 10*time.Second, cfg.Scan.Duration)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoadMissingDefaultFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err, "a missing default file MUST NOT be an error")
	assert.Equal(t, Default(), cfg)
}

func TestLoadDefaultFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".config", "uartscope")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("log_lines: 5\n"), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, uint32(5), cfg.LogLines)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "gauge: [unclosed\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"empty restore identifier", func(c *Config) { c.RestoreIdentifier = "" }, "restore_identifier"},
		{"unknown backend", func(c *Config) { c.Backend = "bluez" }, "backend must be one of"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "invalid log level"},
		{"negative duration", func(c *Config) { c.Scan.Duration = -time.Second }, "scan.duration"},
		{"bad service", func(c *Config) { c.UART.Service = "xyz" }, "uart.service"},
		{"bad characteristic", func(c *Config) { c.UART.Characteristic = "123" }, "uart.characteristic"},
		{"empty gauge range", func(c *Config) { c.Gauge.Min, c.Gauge.Max = 5, 5 }, "gauge.max"},
		{"zero gauge width", func(c *Config) { c.Gauge.Width = 0 }, "gauge.width"},
		{"zero log lines", func(c *Config) { c.LogLines = 0 }, "log_lines"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]logrus.Level{
		"":      logrus.PanicLevel,
		"panic": logrus.PanicLevel,
		"debug": logrus.DebugLevel,
		"info":  logrus.InfoLevel,
		"warn":  logrus.WarnLevel,
		"error": logrus.ErrorLevel,
	}
	for in, want := range tests {
		got, err := ParseLogLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLogLevel("trace")
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "warn"

	logger := cfg.NewLogger()
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
}
