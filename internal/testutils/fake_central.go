package testutils

import (
	"sync"

	"github.com/srg/uartscope/internal/device"
)

// ScanCall records one Scan request.
type ScanCall struct {
	Services        []string
	AllowDuplicates bool
}

// ConnectCall records one Connect request.
type ConnectCall struct {
	ID      string
	Options device.ConnectOptions
}

// FakeCentral is an in-memory device.Central. Requests are recorded; outcomes are
// either produced automatically (AutoConnect) or driven by the test through the
// Emit* methods. Every delegate call is delivered on the queue given to the
// factory, like a real backend.
type FakeCentral struct {
	mu sync.Mutex

	opts     device.CentralOptions
	created  bool
	state    device.PowerState
	scanning bool
	closed   bool

	// AutoConnect resolves Connect and CancelConnection immediately. A peripheral
	// built with WithConnectError fails instead of connecting.
	AutoConnect bool

	scans       []ScanCall
	stopScans   int
	connects    []ConnectCall
	cancels     []string
	restoreWith []device.Peripheral
}

var _ device.Central = (*FakeCentral)(nil)

// NewFakeCentral creates a powered-on fake central with AutoConnect enabled.
func NewFakeCentral() *FakeCentral {
	return &FakeCentral{
		state:       device.PowerOn,
		AutoConnect: true,
	}
}

// WithRestoredPeripherals makes the factory report peripherals as restored state.
func (f *FakeCentral) WithRestoredPeripherals(peripherals ...device.Peripheral) *FakeCentral {
	f.restoreWith = peripherals
	return f
}

// Factory returns a central factory that hands out this fake.
func (f *FakeCentral) Factory() func(string, device.CentralOptions) (device.Central, error) {
	return func(_ string, opts device.CentralOptions) (device.Central, error) {
		if err := opts.Validate(); err != nil {
			return nil, err
		}

		f.mu.Lock()
		f.opts = opts
		f.created = true
		restored := f.restoreWith
		state := f.state
		f.mu.Unlock()

		if len(restored) > 0 {
			f.deliver(func(d device.CentralDelegate) { d.OnRestore(restored) })
		}
		f.deliver(func(d device.CentralDelegate) { d.OnStateUpdate(state) })
		return f, nil
	}
}

// Options returns the options the factory was called with.
func (f *FakeCentral) Options() device.CentralOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opts
}

func (f *FakeCentral) State() device.PowerState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *FakeCentral) IsScanning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scanning
}

func (f *FakeCentral) Scan(services []string, allowDuplicates bool) {
	f.mu.Lock()
	f.scans = append(f.scans, ScanCall{Services: services, AllowDuplicates: allowDuplicates})
	changed := !f.scanning
	f.scanning = true
	f.mu.Unlock()

	if changed {
		f.deliver(func(d device.CentralDelegate) { d.OnScanningChange(true) })
	}
}

func (f *FakeCentral) StopScan() {
	f.mu.Lock()
	f.stopScans++
	changed := f.scanning
	f.scanning = false
	f.mu.Unlock()

	if changed {
		f.deliver(func(d device.CentralDelegate) { d.OnScanningChange(false) })
	}
}

func (f *FakeCentral) Connect(p device.Peripheral, opts device.ConnectOptions) {
	f.mu.Lock()
	f.connects = append(f.connects, ConnectCall{ID: p.ID(), Options: opts})
	auto := f.AutoConnect
	f.mu.Unlock()

	fp, ok := p.(*FakePeripheral)
	if !ok {
		return
	}
	if fp.State() == device.Connected {
		return
	}
	fp.SetState(device.Connecting)

	if !auto {
		return
	}
	if err := fp.connectErr; err != nil {
		f.EmitConnectFailure(fp, err)
		return
	}
	f.EmitConnect(fp)
}

func (f *FakeCentral) CancelConnection(p device.Peripheral) {
	f.mu.Lock()
	f.cancels = append(f.cancels, p.ID())
	auto := f.AutoConnect
	f.mu.Unlock()

	fp, ok := p.(*FakePeripheral)
	if !ok || fp.State() == device.Disconnected {
		return
	}
	fp.SetState(device.Disconnecting)

	if auto {
		f.EmitDisconnect(fp, nil)
	}
}

func (f *FakeCentral) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (f *FakeCentral) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Scans returns every recorded Scan request.
func (f *FakeCentral) Scans() []ScanCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ScanCall(nil), f.scans...)
}

// StopScanCount returns how many times StopScan was called.
func (f *FakeCentral) StopScanCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopScans
}

// Connects returns every recorded Connect request.
func (f *FakeCentral) Connects() []ConnectCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ConnectCall(nil), f.connects...)
}

// Cancels returns the IDs passed to CancelConnection.
func (f *FakeCentral) Cancels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancels...)
}

// EmitPowerState changes the power state and reports it.
func (f *FakeCentral) EmitPowerState(state device.PowerState) {
	f.mu.Lock()
	f.state = state
	f.mu.Unlock()
	f.deliver(func(d device.CentralDelegate) { d.OnStateUpdate(state) })
}

// EmitDiscover reports an advertisement from p.
func (f *FakeCentral) EmitDiscover(p *FakePeripheral) {
	adv := p.Advertisement()
	f.deliver(func(d device.CentralDelegate) { d.OnDiscover(p, adv) })
}

// EmitConnect completes a pending connection.
func (f *FakeCentral) EmitConnect(p *FakePeripheral) {
	f.deliver(func(d device.CentralDelegate) {
		p.SetState(device.Connected)
		d.OnConnect(p)
	})
}

// EmitConnectFailure fails a pending connection.
func (f *FakeCentral) EmitConnectFailure(p *FakePeripheral, err error) {
	f.deliver(func(d device.CentralDelegate) {
		p.SetState(device.Disconnected)
		d.OnConnectFailure(p, err)
	})
}

// EmitDisconnect reports the link to p as gone. A nil err means a requested disconnect.
func (f *FakeCentral) EmitDisconnect(p *FakePeripheral, err error) {
	f.deliver(func(d device.CentralDelegate) {
		p.SetState(device.Disconnected)
		p.ResetGATT()
		d.OnDisconnect(p, err)
	})
}

// EmitRestore reports peripherals restored by the platform.
func (f *FakeCentral) EmitRestore(peripherals ...device.Peripheral) {
	f.deliver(func(d device.CentralDelegate) { d.OnRestore(peripherals) })
}

// Flush waits until every delivery queued so far has run.
func (f *FakeCentral) Flush() {
	f.mu.Lock()
	queue := f.opts.Queue
	f.mu.Unlock()
	if queue == nil {
		return
	}

	done := make(chan struct{})
	if queue.Async(func() { close(done) }) {
		<-done
	}
}

func (f *FakeCentral) deliver(fn func(d device.CentralDelegate)) {
	f.mu.Lock()
	opts := f.opts
	f.mu.Unlock()

	if opts.Queue == nil || opts.Delegate == nil {
		return
	}
	opts.Queue.Async(func() { fn(opts.Delegate) })
}
