package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/uartscope/internal/adapter"
	"github.com/srg/uartscope/internal/device"
	"github.com/srg/uartscope/internal/screen"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor <peripheral-id>",
	Short: "Connect to a peripheral and print the values it sends",
	Long: `Connects to a UART peripheral, subscribes to its TX characteristic and prints
every value it sends. Values of 4 and 8 bytes are shown as numbers with a gauge
against the --min/--max range; anything else is shown as hex.

The peripheral is looked up among restored and already discovered peripherals
first, then scanned for. Monitoring ends on Ctrl+C or when the link drops.

Examples:
  uartscope monitor AA:BB:CC:DD:EE:FF
  uartscope monitor AA:BB:CC:DD:EE:FF --min -40 --max 85 --hex`,
	Args: cobra.ExactArgs(1),
	RunE: runMonitor,
}

var (
	monitorService string
	monitorChar    string
	monitorMin     float64
	monitorMax     float64
	monitorHex     bool
	monitorTimeout time.Duration
)

func init() {
	initMonitorFlags()
}

// initMonitorFlags (re)defines the monitor flags with their defaults.
func initMonitorFlags() {
	monitorCmd.ResetFlags()
	monitorCmd.Flags().StringVar(&monitorService, "service", "", "Service UUID (default: Nordic UART)")
	monitorCmd.Flags().StringVar(&monitorChar, "char", "", "Characteristic UUID to subscribe to (default: UART TX)")
	monitorCmd.Flags().Float64Var(&monitorMin, "min", 0, "Gauge minimum")
	monitorCmd.Flags().Float64Var(&monitorMax, "max", 100, "Gauge maximum")
	monitorCmd.Flags().BoolVar(&monitorHex, "hex", false, "Also print the raw bytes of numeric values")
	monitorCmd.Flags().DurationVar(&monitorTimeout, "timeout", 30*time.Second, "How long to scan for the peripheral")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("service") {
		cfg.UART.Service = monitorService
	}
	if cmd.Flags().Changed("char") {
		cfg.UART.Characteristic = monitorChar
	}
	if cmd.Flags().Changed("min") {
		cfg.Gauge.Min = monitorMin
	}
	if cmd.Flags().Changed("max") {
		cfg.Gauge.Max = monitorMax
	}
	if err := validateMonitorSettings(cfg.UART.Service, cfg.UART.Characteristic, cfg.Gauge.Min, cfg.Gauge.Max); err != nil {
		return err
	}
	cfg.UART.Service = device.NormalizeUUID(cfg.UART.Service)
	cfg.UART.Characteristic = device.NormalizeUUID(cfg.UART.Characteristic)

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	a, err := openAdapter(cfg, logger, []string{cfg.UART.Service})
	if err != nil {
		return fmt.Errorf("failed to open bluetooth adapter: %w", err)
	}
	defer func() { _ = a.Close() }()

	power := newPowerWatcher(a)
	defer power.close(a)

	ctx, cancel := interruptContext(cmd.Context())
	defer cancel()

	out := cmd.OutOrStdout()
	tty := isTerminal(out)

	p, err := findPeripheral(ctx, a, args[0], monitorTimeout, power.failed, out, tty)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{"id": p.ID(), "name": p.Name()}).Debug("Monitoring peripheral")

	m := newMonitor(a, p, screen.DetailConfig{
		Service:        cfg.UART.Service,
		Characteristic: cfg.UART.Characteristic,
		Min:            cfg.Gauge.Min,
		Max:            cfg.Gauge.Max,
		ShowRaw:        monitorHex,
		LogLines:       cfg.LogLines,
	}, screen.Gauge{Width: cfg.Gauge.Width, NoColor: !tty})
	defer m.close()

	return m.run(ctx, out, power.failed)
}

func validateMonitorSettings(service, char string, lo, hi float64) error {
	if _, err := device.ValidateUUID(service); err != nil {
		return fmt.Errorf("invalid service UUID: %w", err)
	}
	if _, err := device.ValidateUUID(char); err != nil {
		return fmt.Errorf("invalid characteristic UUID: %w", err)
	}
	if hi <= lo {
		return fmt.Errorf("--max (%g) must be greater than --min (%g)", hi, lo)
	}
	return nil
}

// discoveryWaiter waits for one peripheral to show up in the discovered set.
type discoveryWaiter struct {
	a     *adapter.Adapter
	id    string
	found chan device.Peripheral
}

func (w *discoveryWaiter) OnDiscoveredPeripheralsChange(p device.Peripheral) {
	if p == nil {
		// Reset or restore: look the id up in the new set.
		var ok bool
		if p, ok = w.lookup(); !ok {
			return
		}
	}
	if !matchID(p.ID(), w.id) {
		return
	}
	select {
	case w.found <- p:
	default:
	}
}

func (w *discoveryWaiter) lookup() (device.Peripheral, bool) {
	for _, p := range w.a.DiscoveredPeripherals() {
		if matchID(p.ID(), w.id) {
			return p, true
		}
	}
	return nil, false
}

// findPeripheral returns the peripheral with id, scanning for it for at most
// timeout when it is not already known.
func findPeripheral(ctx context.Context, a *adapter.Adapter, id string, timeout time.Duration,
	failed <-chan error, out io.Writer, tty bool) (device.Peripheral, error) {
	w := &discoveryWaiter{a: a, id: id, found: make(chan device.Peripheral, 1)}
	adapter.RegisterObserver(a, w)
	defer adapter.UnregisterObserver(a, w)

	a.WaitIdle()
	if p, ok := w.lookup(); ok {
		return p, nil
	}

	if tty {
		progress := NewProgressPrinter(out, "Looking for "+id, "Scanning", timeout)
		progress.Start()
		defer progress.Stop()
	}

	a.StartScanning(false)
	defer a.StopScanning()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case p := <-w.found:
		return p, nil
	case err := <-failed:
		return nil, err
	case <-deadline:
		return nil, &device.NotFoundError{Resource: "peripheral", UUIDs: []string{id}}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// monitor drives a screen.Detail: it connects, starts the subscription once the
// link is up, and prints what the screen logs.
type monitor struct {
	a      *adapter.Adapter
	detail *screen.Detail
	gauge  screen.Gauge

	changes chan struct{}
	lost    chan error
}

func newMonitor(a *adapter.Adapter, p device.Peripheral, cfg screen.DetailConfig, gauge screen.Gauge) *monitor {
	m := &monitor{
		a:       a,
		gauge:   gauge,
		changes: make(chan struct{}, 1),
		lost:    make(chan error, 1),
	}
	m.detail = screen.NewDetail(a, p, cfg, screen.WithOnChange(m.changed))
	adapter.RegisterObserver(a, m)
	return m
}

func (m *monitor) close() {
	adapter.UnregisterObserver(m.a, m)
	m.detail.Close()
}

func (m *monitor) changed() {
	select {
	case m.changes <- struct{}{}:
	default:
	}
}

func (m *monitor) OnPeripheralConnectFailure(p device.Peripheral, err error) {
	if !matchID(p.ID(), m.detail.Peripheral().ID()) {
		return
	}
	m.fail(fmt.Errorf("failed to connect: %w", err))
}

func (m *monitor) OnPeripheralDisconnect(p device.Peripheral, err error) {
	if !matchID(p.ID(), m.detail.Peripheral().ID()) {
		return
	}
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrConnectionLost, err)
	} else {
		err = ErrConnectionLost
	}
	m.fail(err)
}

// fail reports err once the current round of observer calls is over, so the
// detail screen has logged the event first.
func (m *monitor) fail(err error) {
	m.a.UI().Async(func() {
		select {
		case m.lost <- err:
		default:
		}
	})
}

// run connects and prints until ctx ends or the link is gone. Ctrl+C is a
// normal exit.
func (m *monitor) run(ctx context.Context, out io.Writer, failed <-chan error) error {
	m.detail.ToggleConnection()

	begun := false
	var printed uint64
	flush := func() {
		for _, line := range m.detail.DrainLog() {
			fmt.Fprintln(out, line)
		}
		if n := m.detail.ValueCount(); n != printed {
			printed = n
			if progress, ok := m.detail.Progress(); ok {
				fmt.Fprintln(out, "   "+m.gauge.Render(progress))
			}
		}
	}
	flush()

	for {
		select {
		case <-ctx.Done():
			flush()
			if err := ctx.Err(); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil

		case err := <-failed:
			flush()
			return err

		case err := <-m.lost:
			flush()
			return err

		case <-m.changes:
			if !begun && m.detail.Peripheral().State() == device.Connected {
				begun = true
				m.detail.BeginUpdating()
			}
			flush()
		}
	}
}
