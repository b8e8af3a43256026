package testutils

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/srg/uartscope/internal/device"
)

// CharacteristicConfig represents a GATT characteristic configuration for faking
type CharacteristicConfig struct {
	UUID       string `json:"uuid"`
	Properties string `json:"properties,omitempty"` // e.g., "read,write,notify"
}

// ServiceConfig represents a GATT service configuration for faking
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// PeripheralProfileConfig represents the complete fake peripheral
type PeripheralProfileConfig struct {
	ID       string          `json:"id"`
	Name     string          `json:"name,omitempty"`
	RSSI     int             `json:"rssi,omitempty"`
	Services []ServiceConfig `json:"services"`
}

// PeripheralBuilder builds FakePeripheral instances with a GATT profile
type PeripheralBuilder struct {
	profile    PeripheralProfileConfig
	connectErr error
	gattErr    error
}

// NewPeripheralBuilder creates a builder for a peripheral with the given ID.
func NewPeripheralBuilder(id string) *PeripheralBuilder {
	return &PeripheralBuilder{
		profile: PeripheralProfileConfig{ID: id, RSSI: -60},
	}
}

// WithName sets the advertised name
func (b *PeripheralBuilder) WithName(name string) *PeripheralBuilder {
	b.profile.Name = name
	return b
}

// WithRSSI sets the advertised signal strength
func (b *PeripheralBuilder) WithRSSI(rssi int) *PeripheralBuilder {
	b.profile.RSSI = rssi
	return b
}

// WithService adds a service to the profile
func (b *PeripheralBuilder) WithService(uuid string) *PeripheralBuilder {
	b.profile.Services = append(b.profile.Services, ServiceConfig{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *PeripheralBuilder) WithCharacteristic(uuid, properties string) *PeripheralBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}

	last := len(b.profile.Services) - 1
	b.profile.Services[last].Characteristics = append(b.profile.Services[last].Characteristics,
		CharacteristicConfig{UUID: uuid, Properties: properties})
	return b
}

// WithUART adds the UART service with its RX and TX characteristics.
func (b *PeripheralBuilder) WithUART() *PeripheralBuilder {
	return b.WithService(device.UARTServiceUUID).
		WithCharacteristic(device.UARTRXCharUUID, "write").
		WithCharacteristic(device.UARTTXCharUUID, "notify")
}

// WithConnectError makes an auto-resolving central fail every connect with err.
func (b *PeripheralBuilder) WithConnectError(err error) *PeripheralBuilder {
	b.connectErr = err
	return b
}

// WithGATTError makes every GATT request complete with err.
func (b *PeripheralBuilder) WithGATTError(err error) *PeripheralBuilder {
	b.gattErr = err
	return b
}

// FromJSON fills the profile from JSON
func (b *PeripheralBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var config PeripheralProfileConfig
	if err := json.Unmarshal([]byte(jsonStr), &config); err != nil {
		panic(fmt.Sprintf("PeripheralBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	if config.ID == "" {
		config.ID = b.profile.ID
	}

	b.profile = config
	return b
}

// Build creates the peripheral. central delivers its delegate callbacks.
func (b *PeripheralBuilder) Build(central *FakeCentral) *FakePeripheral {
	return &FakePeripheral{
		PeripheralBase: device.NewPeripheralBase(b.profile.ID, b.profile.Name),
		central:        central,
		profile:        b.profile,
		connectErr:     b.connectErr,
		gattErr:        b.gattErr,
	}
}

// GATTCall records one GATT request made on a FakePeripheral.
type GATTCall struct {
	Op    string // "services", "characteristics", "notify"
	UUIDs []string
	On    bool
}

// FakePeripheral is a device.Peripheral whose GATT requests are answered from a
// static profile.
type FakePeripheral struct {
	*device.PeripheralBase

	central    *FakeCentral
	profile    PeripheralProfileConfig
	connectErr error
	gattErr    error

	mu    sync.Mutex
	calls []GATTCall
}

var _ device.Peripheral = (*FakePeripheral)(nil)

// Advertisement returns the advertisement the peripheral is discovered with.
func (p *FakePeripheral) Advertisement() device.Advertisement {
	var services []string
	for _, s := range p.profile.Services {
		services = append(services, device.NormalizeUUID(s.UUID))
	}
	return &FakeAdvertisement{
		Name:          p.profile.Name,
		Address:       p.profile.ID,
		Rssi:          p.profile.RSSI,
		ServiceUUIDs:  services,
		IsConnectable: true,
	}
}

// Calls returns the GATT requests made so far.
func (p *FakePeripheral) Calls() []GATTCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]GATTCall(nil), p.calls...)
}

func (p *FakePeripheral) record(call GATTCall) {
	p.mu.Lock()
	p.calls = append(p.calls, call)
	p.mu.Unlock()
}

func (p *FakePeripheral) gattError() error {
	if p.gattErr != nil {
		return p.gattErr
	}
	if p.State() != device.Connected {
		return device.ErrNotConnected
	}
	return nil
}

func (p *FakePeripheral) DiscoverServices(uuids []string) {
	filter := device.NormalizeUUIDs(uuids)
	p.record(GATTCall{Op: "services", UUIDs: filter})

	p.central.deliverPeripheral(p, func(d device.PeripheralDelegate) {
		err := p.gattError()
		if err == nil {
			for _, cfg := range p.profile.Services {
				uuid := device.NormalizeUUID(cfg.UUID)
				if len(filter) > 0 && !slices.Contains(filter, uuid) {
					continue
				}
				if _, ok := p.FindService(uuid); !ok {
					p.PutService(device.NewService(uuid, p, cfg))
				}
			}
		}
		d.OnServicesDiscovered(p, err)
	})
}

func (p *FakePeripheral) DiscoverCharacteristics(uuids []string, svc device.Service) {
	filter := device.NormalizeUUIDs(uuids)
	p.record(GATTCall{Op: "characteristics", UUIDs: filter})

	p.central.deliverPeripheral(p, func(d device.PeripheralDelegate) {
		err := p.gattError()
		gs, ok := svc.(*device.GATTService)
		if err == nil && ok {
			cfg, _ := gs.Handle.(ServiceConfig)
			for _, cc := range cfg.Characteristics {
				uuid := device.NormalizeUUID(cc.UUID)
				if len(filter) > 0 && !slices.Contains(filter, uuid) {
					continue
				}
				if _, exists := gs.FindCharacteristic(uuid); !exists {
					canNotify := strings.Contains(cc.Properties, "notify") || strings.Contains(cc.Properties, "indicate")
					gs.PutCharacteristic(device.NewCharacteristic(uuid, gs, canNotify, cc))
				}
			}
		}
		d.OnCharacteristicsDiscovered(p, svc, err)
	})
}

func (p *FakePeripheral) SetNotify(enabled bool, ch device.Characteristic) {
	p.record(GATTCall{Op: "notify", UUIDs: []string{ch.UUID()}, On: enabled})

	p.central.deliverPeripheral(p, func(d device.PeripheralDelegate) {
		err := p.gattError()
		if err == nil && !ch.CanNotify() {
			err = fmt.Errorf("characteristic %s: %w", ch.UUID(), device.ErrUnsupported)
		}
		if gc, ok := ch.(*device.GATTCharacteristic); ok && err == nil {
			gc.SetNotifying(enabled)
		}
		d.OnNotifyStateUpdate(p, ch, err)
	})
}

// EmitValue delivers a notification for the characteristic with charUUID. Nothing
// is delivered if the characteristic has not been discovered.
func (p *FakePeripheral) EmitValue(charUUID string, value []byte, err error) {
	p.central.deliverPeripheral(p, func(d device.PeripheralDelegate) {
		for _, svc := range p.Services() {
			gs := svc.(*device.GATTService)
			if ch, ok := gs.FindCharacteristic(charUUID); ok {
				d.OnValueUpdate(p, ch, value, err)
				return
			}
		}
	})
}

func (f *FakeCentral) deliverPeripheral(p *FakePeripheral, fn func(d device.PeripheralDelegate)) {
	f.mu.Lock()
	queue := f.opts.Queue
	f.mu.Unlock()
	if queue == nil {
		return
	}

	queue.Async(func() {
		if d := p.Delegate(); d != nil {
			fn(d)
		}
	})
}

// FakeAdvertisement is a device.Advertisement with plain fields
type FakeAdvertisement struct {
	Name          string
	Address       string
	Rssi          int
	ServiceUUIDs  []string
	Manufacturer  []byte
	TxPower       int
	IsConnectable bool
}

func (a *FakeAdvertisement) LocalName() string        { return a.Name }
func (a *FakeAdvertisement) ManufacturerData() []byte { return a.Manufacturer }
func (a *FakeAdvertisement) Services() []string       { return a.ServiceUUIDs }
func (a *FakeAdvertisement) TxPowerLevel() int        { return a.TxPower }
func (a *FakeAdvertisement) Connectable() bool        { return a.IsConnectable }
func (a *FakeAdvertisement) RSSI() int                { return a.Rssi }
func (a *FakeAdvertisement) Addr() string             { return a.Address }
