// Package adapter is the single process-wide entry point to the BLE central.
//
// It owns the platform Central, funnels every platform callback through one
// background serial queue, keeps the set of peripherals discovered during the
// current scan, and fans each event out to weakly held observers on the UI queue.
package adapter

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/uartscope/internal/device"
	"github.com/srg/uartscope/internal/devicefactory"
	"github.com/srg/uartscope/internal/dispatch"
	"github.com/srg/uartscope/internal/observer"
)

// CentralFactory creates the platform Central for a backend name.
// Can be overridden in tests to inject a fake central.
var CentralFactory = devicefactory.NewCentral

// Adapter is the facade over a device.Central.
type Adapter struct {
	central device.Central
	queue   *dispatch.Queue
	ui      dispatch.Executor

	observers  *observer.Registry
	discovered *discoveredSet
	scanFilter []string

	// lastState is only touched on queue.
	lastState map[string]device.ConnectionState

	logger *logrus.Logger
}

type options struct {
	backend         string
	logger          *logrus.Logger
	ui              dispatch.Executor
	strict          *bool
	scanFilter      []string
	restoreServices []string
}

// Option configures the adapter created by Initialize or New.
type Option func(*options)

// WithLogger sets the logger. A nil logger keeps the default.
func WithLogger(logger *logrus.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithBackend selects the platform backend by name, see devicefactory.
func WithBackend(name string) Option {
	return func(o *options) {
		o.backend = name
	}
}

// WithUIExecutor replaces the UI queue observers are called on.
func WithUIExecutor(ui dispatch.Executor) Option {
	return func(o *options) {
		if ui != nil {
			o.ui = ui
		}
	}
}

// WithStrictObservers controls whether a dangling observer entry panics.
func WithStrictObservers(strict bool) Option {
	return func(o *options) {
		o.strict = &strict
	}
}

// WithScanFilter limits scanning to peripherals advertising one of uuids.
// No filter means every peripheral is reported.
func WithScanFilter(uuids ...string) Option {
	return func(o *options) {
		o.scanFilter = device.NormalizeUUIDs(uuids)
	}
}

// WithRestoreServices limits state restoration to peripherals exposing one of uuids.
func WithRestoreServices(uuids ...string) Option {
	return func(o *options) {
		o.restoreServices = device.NormalizeUUIDs(uuids)
	}
}

var (
	instanceMu sync.Mutex
	instance   *Adapter
)

// Initialize creates the process-wide adapter. restoreIdentifier names the central
// for platform state restoration. Calling it twice is a programming error.
func Initialize(restoreIdentifier string, opts ...Option) (*Adapter, error) {
	instanceMu.Lock()
	defer instanceMu.Unlock()

	if instance != nil {
		panic("adapter: Initialize called more than once")
	}

	a, err := New(restoreIdentifier, opts...)
	if err != nil {
		return nil, err
	}
	instance = a
	return a, nil
}

// Current returns the adapter created by Initialize. It panics if Initialize has
// not been called.
func Current() *Adapter {
	instanceMu.Lock()
	defer instanceMu.Unlock()

	if instance == nil {
		panic("adapter: Current called before Initialize")
	}
	return instance
}

// New creates an adapter that is not registered as the process-wide instance.
func New(restoreIdentifier string, opts ...Option) (*Adapter, error) {
	o := options{
		logger: logrus.New(),
		ui:     dispatch.Main(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	registryOpts := []observer.Option{observer.WithLogger(o.logger)}
	if o.strict != nil {
		registryOpts = append(registryOpts, observer.WithStrict(*o.strict))
	}

	a := &Adapter{
		queue:      dispatch.NewQueue("ble-central"),
		ui:         o.ui,
		observers:  observer.New(registryOpts...),
		discovered: newDiscoveredSet(),
		scanFilter: o.scanFilter,
		lastState:  make(map[string]device.ConnectionState),
		logger:     o.logger,
	}

	central, err := CentralFactory(o.backend, device.CentralOptions{
		RestoreIdentifier: restoreIdentifier,
		RestoreServices:   o.restoreServices,
		Queue:             a.queue,
		Delegate:          &centralDelegate{a: a},
		Logger:            o.logger,
	})
	if err != nil {
		a.queue.Close()
		return nil, fmt.Errorf("failed to create central: %w", err)
	}
	a.central = central

	a.logger.WithFields(logrus.Fields{
		"restore_id": restoreIdentifier,
		"backend":    o.backend,
	}).Debug("Adapter initialized")

	return a, nil
}

// RegisterObserver adds obs to the observers notified of adapter events. The
// adapter does not keep obs alive; obs must be unregistered before it is dropped.
// Registering the same observer again overwrites its entry; it is still notified once.
func RegisterObserver[T any](a *Adapter, obs *T) {
	observer.Register(a.observers, obs)
}

// UnregisterObserver removes obs.
func UnregisterObserver[T any](a *Adapter, obs *T) {
	observer.Unregister(a.observers, obs)
}

// ObserverCount returns the number of registered observers.
func (a *Adapter) ObserverCount() int {
	return a.observers.Len()
}

// StartScanning clears the discovered set, tells observers it was reset, then asks
// the central to scan. The request is accepted in any power state.
func (a *Adapter) StartScanning(allowDuplicates bool) {
	a.queue.Async(func() {
		a.discovered.replace(nil)
		a.notifyDiscoveredChange(nil)
		a.central.Scan(a.scanFilter, allowDuplicates)
	})
}

// StopScanning asks the central to stop scanning. Safe to call when not scanning.
func (a *Adapter) StopScanning() {
	a.queue.Async(func() {
		a.central.StopScan()
	})
}

// IsScanning reports the central's own scanning flag.
func (a *Adapter) IsScanning() bool {
	return a.central.IsScanning()
}

// State returns the central's power state.
func (a *Adapter) State() device.PowerState {
	return a.central.State()
}

// Connect asks the central to connect p with every connect-time alert enabled.
func (a *Adapter) Connect(p device.Peripheral) {
	a.queue.Async(func() {
		a.central.Connect(p, device.AllNotifications)
		a.observePeripheralState(p)
	})
}

// Disconnect cancels a pending or established connection to p.
func (a *Adapter) Disconnect(p device.Peripheral) {
	a.queue.Async(func() {
		a.central.CancelConnection(p)
		a.observePeripheralState(p)
	})
}

// WaitIdle blocks until the background queue has handled every event the central
// reported so far, restored peripherals included.
func (a *Adapter) WaitIdle() {
	a.queue.Sync(func() {})
}

// UI returns the executor observers are called on.
func (a *Adapter) UI() dispatch.Executor {
	return a.ui
}

// DiscoveredPeripherals returns the discovered set ordered by ID.
func (a *Adapter) DiscoveredPeripherals() []device.Peripheral {
	return a.discovered.list()
}

// Peripheral looks a discovered peripheral up by ID.
func (a *Adapter) Peripheral(id string) (device.Peripheral, bool) {
	return a.discovered.get(id)
}

// Close stops scanning and releases the central. Pending notifications already
// handed to the UI queue are still delivered.
func (a *Adapter) Close() error {
	var err error
	a.queue.Sync(func() {
		a.central.StopScan()
		err = a.central.Close()
	})
	a.queue.Close()
	return err
}

// notify hands fn to the UI queue, which calls it once per live observer. An empty
// registry skips the hop.
func (a *Adapter) notify(fn func(obs any)) {
	if a.observers.Len() == 0 {
		return
	}
	a.ui.Async(func() {
		for _, obs := range a.observers.Snapshot() {
			fn(obs)
		}
	})
}

func (a *Adapter) notifyDiscoveredChange(p device.Peripheral) {
	a.notify(func(obs any) {
		if o, ok := obs.(DiscoveredPeripheralsObserver); ok {
			o.OnDiscoveredPeripheralsChange(p)
		}
	})
}

// observePeripheralState emits a state notification if p moved since last seen.
// Runs on the background queue.
func (a *Adapter) observePeripheralState(p device.Peripheral) {
	state := p.State()
	if last, ok := a.lastState[p.ID()]; ok && last == state {
		return
	}
	a.lastState[p.ID()] = state

	a.notify(func(obs any) {
		if o, ok := obs.(PeripheralStateObserver); ok {
			o.OnPeripheralStateChange(p, state)
		}
	})
}
