package goble

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/uartscope/internal/device"
)

// Peripheral is a device.Peripheral reached through go-ble.
type Peripheral struct {
	*device.PeripheralBase

	central *Central
	addr    ble.Addr

	linkMu     sync.Mutex
	cli        ble.Client
	dialCancel context.CancelFunc
	cancelled  bool
	releaseCh  chan struct{}
}

var _ device.Peripheral = (*Peripheral)(nil)

func newPeripheral(c *Central, addr ble.Addr, name string) *Peripheral {
	return &Peripheral{
		PeripheralBase: device.NewPeripheralBase(addr.String(), name),
		central:        c,
		addr:           addr,
	}
}

// transition moves the state from -> to and reports whether it did.
func (p *Peripheral) transition(from, to device.ConnectionState) bool {
	p.linkMu.Lock()
	defer p.linkMu.Unlock()
	if p.State() != from {
		return false
	}
	if to == device.Connecting {
		p.cancelled = false
	}
	p.SetState(to)
	return true
}

func (p *Peripheral) setDialCancel(cancel context.CancelFunc) {
	p.linkMu.Lock()
	p.dialCancel = cancel
	p.linkMu.Unlock()
}

// cancelDial records a cancel for a pending connect and aborts the dial if it
// is still running. It reports false when the peripheral is not connecting.
func (p *Peripheral) cancelDial() bool {
	p.linkMu.Lock()
	if p.State() != device.Connecting {
		p.linkMu.Unlock()
		return false
	}
	p.cancelled = true
	cancel := p.dialCancel
	p.linkMu.Unlock()

	if cancel != nil {
		cancel()
	}
	return true
}

func (p *Peripheral) takeCancelled() bool {
	p.linkMu.Lock()
	defer p.linkMu.Unlock()
	cancelled := p.cancelled
	p.cancelled = false
	return cancelled
}

// establish attaches cli and moves Connecting to Connected in one step. It
// fails if a cancel was recorded while the dial was in flight.
func (p *Peripheral) establish(cli ble.Client) bool {
	p.linkMu.Lock()
	defer p.linkMu.Unlock()
	if p.cancelled || p.State() != device.Connecting {
		return false
	}
	p.cli = cli
	p.releaseCh = make(chan struct{})
	p.SetState(device.Connected)
	return true
}

func (p *Peripheral) detach() {
	p.linkMu.Lock()
	p.cli = nil
	p.linkMu.Unlock()
}

func (p *Peripheral) client() ble.Client {
	p.linkMu.Lock()
	defer p.linkMu.Unlock()
	return p.cli
}

// released is closed once a requested disconnect has completed.
func (p *Peripheral) released() <-chan struct{} {
	p.linkMu.Lock()
	defer p.linkMu.Unlock()
	return p.releaseCh
}

func (p *Peripheral) release() {
	p.linkMu.Lock()
	defer p.linkMu.Unlock()
	if p.releaseCh != nil {
		select {
		case <-p.releaseCh:
		default:
			close(p.releaseCh)
		}
	}
}

func parseUUIDs(uuids []string) ([]ble.UUID, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	result := make([]ble.UUID, 0, len(uuids))
	for _, u := range uuids {
		normalized := device.NormalizeUUID(u)
		if len(normalized) == 8 {
			// ble.Parse only takes 16 and 128-bit forms
			normalized = device.ExpandUUID(normalized)
		}
		parsed, err := ble.Parse(normalized)
		if err != nil {
			return nil, fmt.Errorf("invalid UUID %q: %w", u, err)
		}
		result = append(result, parsed)
	}
	return result, nil
}

// DiscoverServices discovers services matching uuids, or all of them for nil.
func (p *Peripheral) DiscoverServices(uuids []string) {
	cli := p.client()
	p.central.gatt.Async(func() {
		err := p.discoverServices(cli, uuids)
		p.central.deliverPeripheral(p, func(d device.PeripheralDelegate) { d.OnServicesDiscovered(p, err) })
	})
}

func (p *Peripheral) discoverServices(cli ble.Client, uuids []string) error {
	if cli == nil {
		return device.ErrNotConnected
	}
	filter, err := parseUUIDs(uuids)
	if err != nil {
		return err
	}

	services, err := cli.DiscoverServices(filter)
	if err != nil {
		return NormalizeError(err)
	}
	for _, s := range services {
		p.PutService(device.NewService(s.UUID.String(), p, s))
	}

	p.central.logger.WithFields(logrus.Fields{
		"id":       p.ID(),
		"services": len(services),
	}).Debug("Services discovered")
	return nil
}

// DiscoverCharacteristics discovers characteristics of svc matching uuids.
func (p *Peripheral) DiscoverCharacteristics(uuids []string, svc device.Service) {
	cli := p.client()
	p.central.gatt.Async(func() {
		err := p.discoverCharacteristics(cli, uuids, svc)
		p.central.deliverPeripheral(p, func(d device.PeripheralDelegate) { d.OnCharacteristicsDiscovered(p, svc, err) })
	})
}

func (p *Peripheral) discoverCharacteristics(cli ble.Client, uuids []string, svc device.Service) error {
	if cli == nil {
		return device.ErrNotConnected
	}
	gs, ok := svc.(*device.GATTService)
	if !ok {
		return &device.NotFoundError{Resource: "service", UUIDs: []string{svc.UUID()}}
	}
	bs, ok := gs.Handle.(*ble.Service)
	if !ok {
		return &device.NotFoundError{Resource: "service", UUIDs: []string{svc.UUID()}}
	}
	filter, err := parseUUIDs(uuids)
	if err != nil {
		return err
	}

	chars, err := cli.DiscoverCharacteristics(filter, bs)
	if err != nil {
		return NormalizeError(err)
	}
	for _, ch := range chars {
		canNotify := ch.Property&(ble.CharNotify|ble.CharIndicate) != 0
		if canNotify {
			// Subscribing needs the CCCD handle, which only descriptor discovery fills in.
			if _, err := cli.DiscoverDescriptors(nil, ch); err != nil {
				p.central.logger.WithError(err).WithField("char_uuid", ch.UUID.String()).Debug("Descriptor discovery failed")
			}
		}
		gs.PutCharacteristic(device.NewCharacteristic(ch.UUID.String(), gs, canNotify, ch))
	}
	return nil
}

// SetNotify subscribes to or unsubscribes from ch. Indications are used when the
// characteristic cannot notify.
func (p *Peripheral) SetNotify(enabled bool, ch device.Characteristic) {
	cli := p.client()
	p.central.gatt.Async(func() {
		err := p.setNotify(cli, enabled, ch)
		p.central.deliverPeripheral(p, func(d device.PeripheralDelegate) { d.OnNotifyStateUpdate(p, ch, err) })
	})
}

func (p *Peripheral) setNotify(cli ble.Client, enabled bool, ch device.Characteristic) error {
	if cli == nil {
		return device.ErrNotConnected
	}
	gc, ok := ch.(*device.GATTCharacteristic)
	if !ok {
		return &device.NotFoundError{Resource: "characteristic", UUIDs: []string{ch.UUID()}}
	}
	bc, ok := gc.Handle.(*ble.Characteristic)
	if !ok {
		return &device.NotFoundError{Resource: "characteristic", UUIDs: []string{ch.UUID()}}
	}
	if !gc.CanNotify() {
		return fmt.Errorf("characteristic %s: %w", gc.UUID(), device.ErrUnsupported)
	}

	indicate := bc.Property&ble.CharNotify == 0
	if !enabled {
		if err := cli.Unsubscribe(bc, indicate); err != nil {
			return NormalizeError(err)
		}
		gc.SetNotifying(false)
		return nil
	}

	err := cli.Subscribe(bc, indicate, func(data []byte) {
		value := append([]byte(nil), data...)
		p.central.deliverPeripheral(p, func(d device.PeripheralDelegate) { d.OnValueUpdate(p, gc, value, nil) })
	})
	if err != nil {
		return NormalizeError(err)
	}
	gc.SetNotifying(true)
	return nil
}
