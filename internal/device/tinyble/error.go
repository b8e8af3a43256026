package tinyble

import (
	"fmt"
	"strings"

	"github.com/srg/uartscope/internal/device"
)

// NormalizeError maps tinygo and BlueZ error texts to the device sentinels.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	normalized := device.NormalizeError(err)
	if normalized != err {
		return normalized
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "org.bluez.error.notready"),
		strings.Contains(msg, "not powered"):
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	case strings.Contains(msg, "org.bluez.error.notconnected"):
		return fmt.Errorf("%w: %v", device.ErrNotConnected, err)
	case strings.Contains(msg, "org.bluez.error.alreadyconnected"):
		return fmt.Errorf("%w: %v", device.ErrAlreadyConnected, err)
	}
	return err
}

// powerStateFor tells what an enable error says about the radio.
func powerStateFor(err error) device.PowerState {
	switch {
	case err == nil:
		return device.PowerOn
	case device.IsConnectionError(err, device.BluetoothOff):
		return device.PowerOff
	case strings.Contains(strings.ToLower(err.Error()), "permission"),
		strings.Contains(strings.ToLower(err.Error()), "accessdenied"):
		return device.PowerUnauthorized
	default:
		return device.PowerUnsupported
	}
}
