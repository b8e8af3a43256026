package screen

import (
	"fmt"
	"sync"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/srg/uartscope/internal/adapter"
	"github.com/srg/uartscope/internal/device"
	"github.com/srg/uartscope/internal/dispatch"
)

// DefaultLogLines is the log capacity used when DetailConfig leaves it unset.
const DefaultLogLines = 64

// DetailConfig selects what the detail screen subscribes to and how values show.
type DetailConfig struct {
	Service        string
	Characteristic string

	// Min and Max are the range numeric values are shown against.
	Min, Max float64

	// ShowRaw appends the raw bytes to numeric values.
	ShowRaw bool

	LogLines uint32
}

// Button is the title and enabled state of one of the screen's buttons.
type Button struct {
	Title   string
	Enabled bool
}

// Detail is the screen of a single peripheral. It connects and disconnects,
// finds the configured service and characteristic and subscribes to it, and
// keeps a bounded log of what happened.
type Detail struct {
	adapter    *adapter.Adapter
	peripheral device.Peripheral
	cfg        DetailConfig
	ui         dispatch.Executor
	onChange   func()

	log mpmc.RichOverlappedRingBuffer[string]

	mu              sync.Mutex
	service         device.Service
	characteristics []device.Characteristic
	updating        bool
	progress        float64
	hasProgress     bool
	last            *device.Value
	values          uint64
}

var (
	_ adapter.ConnectObserver         = (*Detail)(nil)
	_ adapter.DisconnectObserver      = (*Detail)(nil)
	_ adapter.PeripheralStateObserver = (*Detail)(nil)
	_ device.PeripheralDelegate       = (*Detail)(nil)
)

// DetailOption configures a Detail.
type DetailOption func(*Detail)

// WithUIExecutor sets the executor peripheral callbacks are moved to. The
// default is the adapter's UI executor.
func WithUIExecutor(ui dispatch.Executor) DetailOption {
	return func(d *Detail) {
		if ui != nil {
			d.ui = ui
		}
	}
}

// WithOnChange sets a function called on the UI executor after every change.
func WithOnChange(fn func()) DetailOption {
	return func(d *Detail) {
		d.onChange = fn
	}
}

// NewDetail opens the screen for p: it becomes p's delegate and an adapter
// observer until Close.
func NewDetail(a *adapter.Adapter, p device.Peripheral, cfg DetailConfig, opts ...DetailOption) *Detail {
	if cfg.Service == "" {
		cfg.Service = device.UARTServiceUUID
	}
	if cfg.Characteristic == "" {
		cfg.Characteristic = device.UARTTXCharUUID
	}
	if cfg.LogLines == 0 {
		cfg.LogLines = DefaultLogLines
	}

	d := &Detail{
		adapter:    a,
		peripheral: p,
		cfg:        cfg,
		ui:         a.UI(),
		log:        mpmc.NewOverlappedRingBuffer[string](cfg.LogLines),
	}
	for _, opt := range opts {
		opt(d)
	}

	p.SetDelegate(d)
	adapter.RegisterObserver(a, d)
	d.print(DisplayName(p))
	return d
}

// Close disconnects the peripheral and detaches the screen from it.
func (d *Detail) Close() {
	d.peripheral.SetDelegate(nil)
	adapter.UnregisterObserver(d.adapter, d)
	d.adapter.Disconnect(d.peripheral)
}

// Peripheral returns the peripheral the screen is for.
func (d *Detail) Peripheral() device.Peripheral {
	return d.peripheral
}

// ToggleConnection connects a disconnected peripheral and disconnects it in any
// other state.
func (d *Detail) ToggleConnection() {
	if d.peripheral.State() == device.Disconnected {
		d.adapter.Connect(d.peripheral)
		return
	}
	d.disconnect()
}

func (d *Detail) disconnect() {
	d.clearLog()
	d.print(DisplayName(d.peripheral))

	d.mu.Lock()
	d.updating = false
	d.mu.Unlock()

	d.adapter.Disconnect(d.peripheral)
	d.changed()
}

// BeginUpdating moves the subscription one step forward: find the service,
// then the characteristic, then toggle notifications.
func (d *Detail) BeginUpdating() {
	d.mu.Lock()
	service, characteristics, updating := d.service, d.characteristics, d.updating
	d.mu.Unlock()

	switch {
	case service == nil:
		d.peripheral.DiscoverServices([]string{d.cfg.Service})
	case characteristics == nil:
		d.discoverCharacteristics()
	default:
		d.setNotify(!updating)
	}
}

func (d *Detail) discoverCharacteristics() {
	d.mu.Lock()
	service := d.service
	d.mu.Unlock()
	if service == nil {
		return
	}
	d.peripheral.DiscoverCharacteristics([]string{d.cfg.Characteristic}, service)
}

func (d *Detail) setNotify(on bool) {
	d.mu.Lock()
	characteristics := d.characteristics
	if characteristics != nil {
		d.updating = on
	}
	d.mu.Unlock()
	if characteristics == nil {
		return
	}

	for _, ch := range characteristics {
		d.peripheral.SetNotify(on, ch)
	}
	d.changed()
}

// IsUpdating reports whether notifications were requested.
func (d *Detail) IsUpdating() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.updating
}

// ToggleButton is the connect button for the current peripheral state.
func (d *Detail) ToggleButton() Button {
	switch d.peripheral.State() {
	case device.Connected:
		return Button{Title: "Disconnect", Enabled: true}
	case device.Connecting:
		return Button{Title: "Connecting", Enabled: false}
	case device.Disconnecting:
		return Button{Title: "Disconnecting", Enabled: false}
	default:
		return Button{Title: "Connect", Enabled: true}
	}
}

// UpdatingButton is the start/stop button. It is only usable while connected.
func (d *Detail) UpdatingButton() Button {
	title := "Start"
	if d.IsUpdating() {
		title = "Stop"
	}
	return Button{Title: title, Enabled: d.peripheral.State() == device.Connected}
}

// Progress returns the last numeric value mapped onto [Min,Max], and whether a
// numeric value arrived yet.
func (d *Detail) Progress() (float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.progress, d.hasProgress
}

// LastValue returns the last decoded value.
func (d *Detail) LastValue() (device.Value, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil {
		return device.Value{}, false
	}
	return *d.last, true
}

// ValueCount returns how many values were received since the screen opened.
func (d *Detail) ValueCount() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.values
}

// DrainLog removes and returns the log lines written since the last call,
// oldest first. Lines beyond the log capacity are lost, oldest first.
func (d *Detail) DrainLog() []string {
	var lines []string
	for !d.log.IsEmpty() {
		line, err := d.log.Dequeue()
		if err != nil {
			break
		}
		lines = append(lines, line)
	}
	return lines
}

func (d *Detail) clearLog() {
	_ = d.DrainLog()
}

func (d *Detail) print(text string) {
	_, _ = d.log.EnqueueM("-> " + text)
}

func (d *Detail) changed() {
	if d.onChange != nil {
		d.onChange()
	}
}

func (d *Detail) isMine(p device.Peripheral) bool {
	return p != nil && p.ID() == d.peripheral.ID()
}

// Adapter observer, called on the UI executor.

func (d *Detail) OnPeripheralConnect(p device.Peripheral) {
	if !d.isMine(p) {
		return
	}
	d.print("Connected")
	d.changed()
}

func (d *Detail) OnPeripheralDisconnect(p device.Peripheral, _ error) {
	if !d.isMine(p) {
		return
	}
	d.mu.Lock()
	d.service = nil
	d.characteristics = nil
	d.updating = false
	d.mu.Unlock()

	d.print("Disconnected")
	d.changed()
}

func (d *Detail) OnPeripheralStateChange(p device.Peripheral, _ device.ConnectionState) {
	if !d.isMine(p) {
		return
	}
	d.changed()
}

// Peripheral delegate, called on the central's background queue. Everything
// past the arguments is handled on the UI executor.

func (d *Detail) OnServicesDiscovered(p device.Peripheral, _ error) {
	d.ui.Async(func() {
		var found device.Service
		for _, s := range p.Services() {
			if s.UUID() == device.NormalizeUUID(d.cfg.Service) {
				found = s
				break
			}
		}
		if found == nil {
			return
		}

		d.mu.Lock()
		d.service = found
		d.mu.Unlock()
		d.discoverCharacteristics()
	})
}

func (d *Detail) OnCharacteristicsDiscovered(_ device.Peripheral, svc device.Service, err error) {
	d.ui.Async(func() {
		if err != nil {
			d.print(err.Error())
			d.changed()
			return
		}

		characteristics := svc.Characteristics()
		if len(characteristics) == 0 {
			return
		}

		d.mu.Lock()
		d.characteristics = characteristics
		d.mu.Unlock()
		d.setNotify(true)
	})
}

func (d *Detail) OnNotifyStateUpdate(_ device.Peripheral, _ device.Characteristic, err error) {
	if err == nil {
		return
	}
	d.ui.Async(func() {
		d.print(err.Error())
		d.changed()
	})
}

func (d *Detail) OnValueUpdate(_ device.Peripheral, _ device.Characteristic, value []byte, err error) {
	d.ui.Async(func() {
		if err != nil {
			d.print(err.Error())
			d.changed()
			return
		}
		if value == nil {
			return
		}

		v := device.DecodeValue(value)
		text := v.String()
		if d.cfg.ShowRaw && v.IsNumber() {
			text = fmt.Sprintf("%s %s", text, device.FormatOpaque(v.Raw))
		}

		d.mu.Lock()
		d.last = &v
		d.values++
		if v.IsNumber() {
			d.progress = Normalize(v.Number, d.cfg.Min, d.cfg.Max)
			d.hasProgress = true
		}
		d.mu.Unlock()

		d.print(text)
		d.changed()
	})
}
