package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/uartscope/internal/screen"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for UART peripherals",
	Long: `Scan for Bluetooth Low Energy peripherals that advertise the Nordic UART
service and list them in the order they were found.

On a terminal the list is redrawn as peripherals appear. The scan stops after
--duration, or on Ctrl+C, and the final list is printed.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration   time.Duration
	scanFormat     string
	scanAll        bool
	scanDuplicates bool
)

func init() {
	initScanFlags()
}

// initScanFlags (re)defines the scan flags with their defaults.
func initScanFlags() {
	scanCmd.ResetFlags()
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration (0 to scan until Ctrl+C)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().BoolVarP(&scanAll, "all", "a", false, "List every peripheral, not only UART ones")
	scanCmd.Flags().BoolVar(&scanDuplicates, "duplicates", false, "Ask the platform to report every advertisement")
}

func runScan(cmd *cobra.Command, args []string) error {
	validFormats := []string{"table", "json"}
	isValidFormat := false
	for _, format := range validFormats {
		if scanFormat == format {
			isValidFormat = true
			break
		}
	}
	if !isValidFormat {
		return fmt.Errorf("invalid format '%s': must be one of %v", scanFormat, validFormats)
	}

	cfg, logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	duration := cfg.Scan.Duration
	if cmd.Flags().Changed("duration") {
		duration = scanDuration
	}
	allServices := cfg.Scan.AllServices || scanAll
	allowDuplicates := cfg.Scan.AllowDuplicates || scanDuplicates

	var filter []string
	if !allServices {
		filter = []string{cfg.UART.Service}
	}

	a, err := openAdapter(cfg, logger, filter)
	if err != nil {
		return fmt.Errorf("failed to open bluetooth adapter: %w", err)
	}
	defer func() { _ = a.Close() }()

	power := newPowerWatcher(a)
	defer power.close(a)

	changes := make(chan struct{}, 1)
	list := screen.NewList(a, func() {
		select {
		case changes <- struct{}{}:
		default:
		}
	})
	defer list.Close()

	ctx, cancel := interruptContext(cmd.Context())
	defer cancel()
	if duration > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, duration)
		defer cancelTimeout()
	}

	out := cmd.OutOrStdout()
	live := scanFormat == "table" && isTerminal(out)

	logger.WithFields(logrus.Fields{
		"duration":   duration,
		"filter":     filter,
		"duplicates": allowDuplicates,
	}).Debug("Starting scan")
	list.StartScanning(allowDuplicates)

	scanErr := waitForScan(ctx, changes, power.failed, func() {
		if live {
			clearScreen(out)
			_ = renderRows(out, list.Rows(), terminalWidth(out))
		}
	})
	list.StopScanning()

	if scanErr != nil {
		return scanErr
	}

	if live {
		clearScreen(out)
	}
	return displayRows(out, list.Rows(), scanFormat)
}

// waitForScan calls redraw on every list change until ctx ends or the radio
// fails. Reaching the deadline or Ctrl+C ends the scan normally.
func waitForScan(ctx context.Context, changes <-chan struct{}, failed <-chan error, redraw func()) error {
	for {
		select {
		case <-ctx.Done():
			if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return nil
		case err := <-failed:
			return err
		case <-changes:
			redraw()
		}
	}
}

func displayRows(w io.Writer, rows []screen.Row, format string) error {
	if format == "json" {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Fprintln(w, "No peripherals discovered")
		return nil
	}
	return renderRows(w, rows, 0)
}

// renderRows writes the peripheral table. Names are cut to fit width when it is
// known.
func renderRows(w io.Writer, rows []screen.Row, width int) error {
	nameWidth := 32
	if width > 0 {
		nameWidth = max(12, min(nameWidth, width-44))
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tNAME\tID")
	for i, r := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", i+1, truncateName(r.Name, nameWidth), r.ID)
	}
	return tw.Flush()
}

// truncateName cuts name to at most width characters, ending in "...".
func truncateName(name string, width int) string {
	if utf8.RuneCountInString(name) <= width {
		return name
	}
	runes := []rune(name)
	return string(runes[:width-3]) + "..."
}
