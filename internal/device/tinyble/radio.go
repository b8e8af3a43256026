package tinyble

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/srg/uartscope/internal/device"
	"github.com/srg/uartscope/internal/device/bluez"
)

// ScanReport is one advertisement as seen by the radio. Services only lists the
// UUIDs of the scan filter that the advertisement carries: tinygo can test for
// a service but not enumerate them.
type ScanReport struct {
	Address   string
	RSSI      int
	LocalName string
	Services  []string
}

// Radio is the slice of the tinygo adapter the central drives.
type Radio interface {
	Enable() error
	// Scan blocks until StopScan is called.
	Scan(filter []string, fn func(ScanReport)) error
	StopScan() error
	// Connect blocks until the link is up or failed.
	Connect(addr string) (Link, error)
	SetConnectHandler(fn func(addr string, connected bool))
}

// Link is an established connection.
type Link interface {
	DiscoverServices(uuids []string) ([]RemoteService, error)
	Disconnect() error
}

// RemoteService is a service found on a Link.
type RemoteService interface {
	UUID() string
	DiscoverCharacteristics(uuids []string) ([]RemoteCharacteristic, error)
}

// RemoteCharacteristic is a characteristic found on a RemoteService. A nil
// callback disables notifications.
type RemoteCharacteristic interface {
	UUID() string
	EnableNotifications(fn func([]byte)) error
}

// System supplies what the radio does not report itself.
type System interface {
	PowerState() device.PowerState
	WatchPower(ctx context.Context, fn func(device.PowerState)) error
	ConnectedDevices(services []string) ([]bluez.Device, error)
	Close() error
}

// RadioFactory creates the radio (can be overridden in tests)
//
//nolint:revive // RadioFactory name is intentional for test mocking
var RadioFactory = newPlatformRadio

// SystemFactory opens the system state source (can be overridden in tests)
//
//nolint:revive // SystemFactory name is intentional for test mocking
var SystemFactory func(logger *logrus.Logger) (System, error) = newPlatformSystem
