package goble

import (
	"fmt"
	"strings"

	"github.com/srg/uartscope/internal/device"
)

// NormalizeError maps go-ble error strings to the device sentinels. go-ble reports
// a dropped link as a plain "disconnected" error, which the generic mapping does
// not know about.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	normalized := device.NormalizeError(err)
	if normalized != err {
		return normalized
	}

	if strings.Contains(strings.ToLower(err.Error()), "disconnected") {
		return fmt.Errorf("%w: %v", device.ErrNotConnected, err)
	}
	return err
}

// powerStateFor tells what a device creation error says about the radio.
func powerStateFor(err error) device.PowerState {
	switch {
	case err == nil:
		return device.PowerOn
	case device.IsConnectionError(err, device.BluetoothOff):
		return device.PowerOff
	case strings.Contains(strings.ToLower(err.Error()), "permission"),
		strings.Contains(strings.ToLower(err.Error()), "not permitted"):
		return device.PowerUnauthorized
	default:
		return device.PowerUnsupported
	}
}
