package tinyble

import "github.com/srg/uartscope/internal/device"

// The tinygo CoreBluetooth binding cannot be linked next to go-ble's, so on
// darwin this backend only ever reports an unsupported radio.
func newPlatformRadio() (Radio, error) {
	return nil, device.ErrUnsupported
}
