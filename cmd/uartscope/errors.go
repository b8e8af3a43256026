package main

import (
	"errors"
	"fmt"

	"github.com/srg/uartscope/internal/device"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the link dropped while monitoring. A disconnect
	// the user asked for is not an error.
	ErrConnectionLost = errors.New("connection lost")
)

// FormatUserError turns err into the one-line message printed on exit.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var notFound *device.NotFoundError
	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off; turn it on and try again"
	case errors.Is(err, device.ErrUnsupported):
		return fmt.Sprintf("%v (try another --backend)", err)
	case errors.As(err, &notFound):
		if notFound.Resource == "peripheral" {
			return fmt.Sprintf("%s; is it advertising and in range?", notFound.Error())
		}
		return notFound.Error()
	case errors.Is(err, ErrConnectionLost):
		return fmt.Sprintf("%v; the peripheral went out of range or was switched off", err)
	default:
		return err.Error()
	}
}
