// Package screen holds the two terminal-independent screen models: the list of
// discovered peripherals and the detail view of one peripheral.
//
// Both are adapter observers. Their observer methods run on the UI executor;
// their accessors may be called from any goroutine.
package screen

import (
	"sync"

	"github.com/srg/uartscope/internal/adapter"
	"github.com/srg/uartscope/internal/device"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// UnnamedPeripheral is shown for peripherals that advertise no name.
const UnnamedPeripheral = "Unnamed"

// DisplayName returns the peripheral name, or UnnamedPeripheral.
func DisplayName(p device.Peripheral) string {
	if name := p.Name(); name != "" {
		return name
	}
	return UnnamedPeripheral
}

// Row is one line of the peripheral list.
type Row struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// List is the discovered peripherals screen. Rows keep arrival order; a reset
// reloads them from the adapter.
type List struct {
	adapter  *adapter.Adapter
	onChange func()

	mu          sync.Mutex
	peripherals *orderedmap.OrderedMap[string, device.Peripheral]
	scanning    bool
}

var (
	_ adapter.DiscoveredPeripheralsObserver = (*List)(nil)
	_ adapter.ScanningStateObserver         = (*List)(nil)
)

// NewList creates the list, loads the current discovered set and registers it
// with a. onChange, if set, is called on the UI executor after every change.
func NewList(a *adapter.Adapter, onChange func()) *List {
	l := &List{
		adapter:     a,
		onChange:    onChange,
		peripherals: orderedmap.New[string, device.Peripheral](),
		scanning:    a.IsScanning(),
	}
	adapter.RegisterObserver(a, l)
	l.reload()
	return l
}

// Close unregisters the list. It must be called before the list is dropped.
func (l *List) Close() {
	adapter.UnregisterObserver(l.adapter, l)
}

func (l *List) reload() {
	m := orderedmap.New[string, device.Peripheral]()
	for _, p := range l.adapter.DiscoveredPeripherals() {
		m.Set(p.ID(), p)
	}

	l.mu.Lock()
	l.peripherals = m
	l.mu.Unlock()
}

func (l *List) OnDiscoveredPeripheralsChange(p device.Peripheral) {
	if p == nil {
		l.reload()
	} else {
		l.mu.Lock()
		l.peripherals.Set(p.ID(), p)
		l.mu.Unlock()
	}
	l.changed()
}

func (l *List) OnScanningStateChange(scanning bool) {
	l.mu.Lock()
	l.scanning = scanning
	l.mu.Unlock()
	l.changed()
}

func (l *List) changed() {
	if l.onChange != nil {
		l.onChange()
	}
}

// Rows returns the list content in display order.
func (l *List) Rows() []Row {
	l.mu.Lock()
	defer l.mu.Unlock()

	rows := make([]Row, 0, l.peripherals.Len())
	for pair := l.peripherals.Oldest(); pair != nil; pair = pair.Next() {
		rows = append(rows, Row{ID: pair.Key, Name: DisplayName(pair.Value)})
	}
	return rows
}

// Peripheral returns the listed peripheral with id.
func (l *List) Peripheral(id string) (device.Peripheral, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.peripherals.Get(id)
}

// Len returns the number of rows.
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.peripherals.Len()
}

// IsScanning reports the last scanning state seen.
func (l *List) IsScanning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.scanning
}

// StartEnabled and StopEnabled mirror the two scan buttons.
func (l *List) StartEnabled() bool { return !l.IsScanning() }
func (l *List) StopEnabled() bool  { return l.IsScanning() }

func (l *List) StartScanning(allowDuplicates bool) {
	l.adapter.StartScanning(allowDuplicates)
}

func (l *List) StopScanning() {
	l.adapter.StopScanning()
}
