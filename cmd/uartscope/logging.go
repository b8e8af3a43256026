package main

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/uartscope/internal/config"
)

// loadConfig reads the config file named by --config and applies the global
// flag overrides. --log-level takes precedence over log_level in the file.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		if _, err := config.ParseLogLevel(level); err != nil {
			return nil, err
		}
		cfg.LogLevel = level
	}
	if backend, _ := cmd.Flags().GetString("backend"); backend != "" {
		cfg.Backend = strings.ToLower(strings.TrimSpace(backend))
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return cfg, nil
}

// configureLogger creates the command logger from the effective configuration.
// Without --log-level or log_level the logger stays silent.
func configureLogger(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	return cfg, cfg.NewLogger(), nil
}
