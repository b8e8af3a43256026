package device

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/srg/uartscope/internal/dispatch"
)

// NotFoundError represents an error when a GATT resource is not found
type NotFoundError struct {
	Resource string   // "peripheral", "service", "characteristic"
	UUIDs    []string // One or more identifiers (e.g., [serviceUUID] or [serviceUUID, charUUID])
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	// A characteristic lives in a service
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// ConnectionErrorKind represents the specific kind of connection failure
type ConnectionErrorKind string

const (
	NotConnected     ConnectionErrorKind = "not_connected"
	AlreadyConnected ConnectionErrorKind = "already_connected"
	NotInitialized   ConnectionErrorKind = "not_initialized"
	BluetoothOff     ConnectionErrorKind = "bluetooth_off"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	Kind ConnectionErrorKind
	Msg  string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by Kind
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{Kind: NotConnected}
	ErrAlreadyConnected = &ConnectionError{Kind: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{Kind: NotInitialized}
	ErrBluetoothOff     = &ConnectionError{Kind: BluetoothOff, Msg: "bluetooth is turned off"}
)

// Operation errors
var (
	ErrTimeout     = errors.New("timeout")
	ErrUnsupported = errors.New("unsupported")
	ErrCancelled   = errors.New("connection cancelled")
)

// NormalizeError maps well-known platform error strings to structured ConnectionError types.
// The original error is wrapped so its context survives.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return err
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "not connected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	case containsIgnoreCase(msg, "not initialized"):
		return fmt.Errorf("%w: %v", ErrNotInitialized, err)
	case containsIgnoreCase(msg, "central manager has invalid state"),
		containsIgnoreCase(msg, "bluetooth is turned off"),
		containsIgnoreCase(msg, "adapter is not powered"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	default:
		return err
	}
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// IsConnectionError reports whether err is a ConnectionError of the given kind
func IsConnectionError(err error, kind ConnectionErrorKind) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.Kind == kind
	}
	return false
}

// PowerState is the radio state reported by the central.
type PowerState int

const (
	PowerUnknown PowerState = iota
	PowerResetting
	PowerUnsupported
	PowerUnauthorized
	PowerOff
	PowerOn
)

func (s PowerState) String() string {
	switch s {
	case PowerResetting:
		return "Resetting"
	case PowerUnsupported:
		return "Unsupported"
	case PowerUnauthorized:
		return "Unauthorized"
	case PowerOff:
		return "Powered Off"
	case PowerOn:
		return "Powered On"
	default:
		return "Unknown"
	}
}

// ConnectionState is the link state of a single peripheral.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Disconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Disconnecting:
		return "Disconnecting"
	default:
		return "Disconnected"
	}
}

// Advertisement is the data carried by a single advertising report.
type Advertisement interface {
	LocalName() string
	ManufacturerData() []byte
	Services() []string
	TxPowerLevel() int
	Connectable() bool

	RSSI() int
	Addr() string
}

// Peripheral is a remote device handle. ID is stable for the life of the process
// and is the identity used to deduplicate discoveries.
//
// The GATT requests below never block and never return errors: their outcome is
// reported on the PeripheralDelegate, on the central's background executor.
type Peripheral interface {
	ID() string
	Name() string
	State() ConnectionState
	Services() []Service

	SetDelegate(d PeripheralDelegate)
	DiscoverServices(uuids []string)
	DiscoverCharacteristics(uuids []string, svc Service)
	SetNotify(enabled bool, ch Characteristic)
}

// Service represents a discovered GATT service
type Service interface {
	UUID() string
	KnownName() string
	Peripheral() Peripheral
	Characteristics() []Characteristic
}

// Characteristic represents a discovered GATT characteristic
type Characteristic interface {
	UUID() string
	KnownName() string
	Service() Service
	CanNotify() bool
	IsNotifying() bool
}

// ConnectOptions mirrors the platform connect options. Every flag asks the platform
// to alert the user for that event while the process is suspended.
type ConnectOptions struct {
	NotifyOnConnection    bool
	NotifyOnDisconnection bool
	NotifyOnNotification  bool
}

// AllNotifications enables every connect-time alert.
var AllNotifications = ConnectOptions{
	NotifyOnConnection:    true,
	NotifyOnDisconnection: true,
	NotifyOnNotification:  true,
}

// Central is the platform central-manager capability.
//
// Every request is fire-and-forget; results arrive on the CentralDelegate given in
// CentralOptions. All delegate calls are delivered on CentralOptions.Queue, one at a
// time.
type Central interface {
	State() PowerState
	IsScanning() bool

	Scan(services []string, allowDuplicates bool)
	StopScan()
	Connect(p Peripheral, opts ConnectOptions)
	CancelConnection(p Peripheral)

	Close() error
}

// CentralDelegate receives central-level platform callbacks.
type CentralDelegate interface {
	OnStateUpdate(state PowerState)
	OnDiscover(p Peripheral, adv Advertisement)
	OnConnect(p Peripheral)
	OnConnectFailure(p Peripheral, err error)
	OnDisconnect(p Peripheral, err error)
	OnScanningChange(scanning bool)
	OnRestore(peripherals []Peripheral)
}

// PeripheralDelegate receives the outcome of GATT requests made on a peripheral.
type PeripheralDelegate interface {
	OnServicesDiscovered(p Peripheral, err error)
	OnCharacteristicsDiscovered(p Peripheral, svc Service, err error)
	OnNotifyStateUpdate(p Peripheral, ch Characteristic, err error)
	OnValueUpdate(p Peripheral, ch Characteristic, value []byte, err error)
}

// CentralOptions configures a Central at creation time.
type CentralOptions struct {
	// RestoreIdentifier names the central for platform state restoration.
	RestoreIdentifier string
	// RestoreServices limits which already-connected peripherals are restored.
	RestoreServices []string
	// Queue is the background serial executor every delegate call runs on.
	Queue dispatch.Executor
	// Delegate receives central callbacks.
	Delegate CentralDelegate
	Logger   *logrus.Logger
}

// Validate checks that the options can drive a Central.
func (o *CentralOptions) Validate() error {
	if o.Queue == nil {
		return fmt.Errorf("central options: %w: queue is required", ErrNotInitialized)
	}
	if o.Delegate == nil {
		return fmt.Errorf("central options: %w: delegate is required", ErrNotInitialized)
	}
	if o.Logger == nil {
		o.Logger = logrus.New()
	}
	return nil
}
