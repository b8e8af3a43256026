package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "uartscope",
	Short: "Scan for and monitor Nordic UART peripherals",
	Long: `Command-line companion for BLE peripherals that stream sensor values over
the Nordic UART service:

- Scan and list nearby UART peripherals
- Connect to one and subscribe to its TX characteristic
- Decode fixed-width values and show them against a gauge

Settings are read from ~/.config/uartscope/config.yaml; flags override them.`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(monitorCmd)

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/uartscope/config.yaml)")
	rootCmd.PersistentFlags().String("backend", "", "BLE backend (auto, go-ble, tinygo)")

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
	rootCmd.SetVersionTemplate(fmt.Sprintf("uartscope {{.Version}} (commit %s, built %s)\n", commit, date))
}
