package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/srg/uartscope/internal/adapter"
	"github.com/srg/uartscope/internal/config"
	"github.com/srg/uartscope/internal/device"
	"golang.org/x/term"
)

// newAdapter creates the process-wide adapter.
// Can be overridden in tests.
var newAdapter = adapter.Initialize

// openAdapter initializes the adapter for cfg. filter limits scanning to
// peripherals advertising one of the given services; nil scans for everything.
func openAdapter(cfg *config.Config, logger *logrus.Logger, filter []string) (*adapter.Adapter, error) {
	opts := []adapter.Option{
		adapter.WithLogger(logger),
		adapter.WithBackend(cfg.Backend),
		adapter.WithRestoreServices(cfg.UART.Service),
	}
	if len(filter) > 0 {
		opts = append(opts, adapter.WithScanFilter(filter...))
	}

	a, err := newAdapter(cfg.RestoreIdentifier, opts...)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// interruptContext returns a context cancelled on Ctrl+C or SIGTERM.
func interruptContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// terminalWidth returns the width of w, or 0 if it is not a terminal.
func terminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok {
		return 0
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return width
}

func clearScreen(w io.Writer) {
	fmt.Fprint(w, "\033[2J\033[H")
}

// powerWatcher reports power states that make the command pointless.
type powerWatcher struct {
	failed chan error
}

func newPowerWatcher(a *adapter.Adapter) *powerWatcher {
	w := &powerWatcher{failed: make(chan error, 1)}
	adapter.RegisterObserver(a, w)
	w.OnAdapterStateChange(a.State())
	return w
}

func (w *powerWatcher) close(a *adapter.Adapter) {
	adapter.UnregisterObserver(a, w)
}

func (w *powerWatcher) OnAdapterStateChange(state device.PowerState) {
	var err error
	switch state {
	case device.PowerOff:
		err = device.ErrBluetoothOff
	case device.PowerUnauthorized:
		err = fmt.Errorf("bluetooth access is not authorized for this process: %w", device.ErrUnsupported)
	case device.PowerUnsupported:
		err = fmt.Errorf("bluetooth LE is not available: %w", device.ErrUnsupported)
	default:
		return
	}

	select {
	case w.failed <- err:
	default:
	}
}

// matchID compares peripheral IDs the way users type them.
func matchID(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
