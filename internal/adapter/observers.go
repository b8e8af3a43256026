package adapter

import "github.com/srg/uartscope/internal/device"

// Observers implement any subset of the interfaces below. Every method is called
// on the UI executor, never concurrently with another observer call.

// DiscoveredPeripheralsObserver is told when the discovered set changes. A nil
// peripheral means the whole set changed and must be fetched again with
// DiscoveredPeripherals; otherwise p is the one peripheral that was added.
type DiscoveredPeripheralsObserver interface {
	OnDiscoveredPeripheralsChange(p device.Peripheral)
}

type ConnectObserver interface {
	OnPeripheralConnect(p device.Peripheral)
}

type DisconnectObserver interface {
	OnPeripheralDisconnect(p device.Peripheral, err error)
}

type ConnectFailureObserver interface {
	OnPeripheralConnectFailure(p device.Peripheral, err error)
}

// StateObserver is told when the radio power state changes.
type StateObserver interface {
	OnAdapterStateChange(state device.PowerState)
}

// ScanningStateObserver is told when the central starts or stops scanning.
type ScanningStateObserver interface {
	OnScanningStateChange(scanning bool)
}

// PeripheralStateObserver is told whenever a peripheral's connection state moves,
// including the transient Connecting and Disconnecting states.
type PeripheralStateObserver interface {
	OnPeripheralStateChange(p device.Peripheral, state device.ConnectionState)
}
