package tinyble

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/uartscope/internal/device"
)

// Peripheral is a device.Peripheral reached through tinygo. Its ID is the
// address the radio reports.
type Peripheral struct {
	*device.PeripheralBase

	central *Central

	linkMu    sync.Mutex
	link      Link
	cancelled bool
}

var _ device.Peripheral = (*Peripheral)(nil)

func newPeripheral(c *Central, addr, name string) *Peripheral {
	return &Peripheral{
		PeripheralBase: device.NewPeripheralBase(addr, name),
		central:        c,
	}
}

func (p *Peripheral) transition(from, to device.ConnectionState) bool {
	p.linkMu.Lock()
	defer p.linkMu.Unlock()
	if p.State() != from {
		return false
	}
	p.cancelled = false
	p.SetState(to)
	return true
}

// markCancelled records a cancel for a pending connect. It reports false when
// the peripheral is not connecting.
func (p *Peripheral) markCancelled() bool {
	p.linkMu.Lock()
	defer p.linkMu.Unlock()
	if p.State() != device.Connecting {
		return false
	}
	p.cancelled = true
	return true
}

func (p *Peripheral) takeCancelled() bool {
	p.linkMu.Lock()
	defer p.linkMu.Unlock()
	cancelled := p.cancelled
	p.cancelled = false
	return cancelled
}

// establish attaches link and moves Connecting to Connected in one step. It
// fails if a cancel was recorded while the connect was in flight.
func (p *Peripheral) establish(link Link) bool {
	p.linkMu.Lock()
	defer p.linkMu.Unlock()
	if p.cancelled || p.State() != device.Connecting {
		return false
	}
	p.link = link
	p.SetState(device.Connected)
	return true
}

// detach drops the link and returns it, or nil if there was none.
func (p *Peripheral) detach() Link {
	p.linkMu.Lock()
	defer p.linkMu.Unlock()
	link := p.link
	p.link = nil
	return link
}

func (p *Peripheral) current() Link {
	p.linkMu.Lock()
	defer p.linkMu.Unlock()
	return p.link
}

// DiscoverServices discovers services matching uuids, or all of them for nil.
func (p *Peripheral) DiscoverServices(uuids []string) {
	link := p.current()
	p.central.gatt.Async(func() {
		err := p.discoverServices(link, uuids)
		p.central.deliverPeripheral(p, func(d device.PeripheralDelegate) { d.OnServicesDiscovered(p, err) })
	})
}

func (p *Peripheral) discoverServices(link Link, uuids []string) error {
	if link == nil {
		return device.ErrNotConnected
	}
	services, err := link.DiscoverServices(uuids)
	if err != nil {
		return NormalizeError(err)
	}
	for _, s := range services {
		p.PutService(device.NewService(s.UUID(), p, s))
	}

	p.central.logger.WithFields(logrus.Fields{
		"id":       p.ID(),
		"services": len(services),
	}).Debug("Services discovered")
	return nil
}

// DiscoverCharacteristics discovers characteristics of svc matching uuids.
func (p *Peripheral) DiscoverCharacteristics(uuids []string, svc device.Service) {
	link := p.current()
	p.central.gatt.Async(func() {
		err := p.discoverCharacteristics(link, uuids, svc)
		p.central.deliverPeripheral(p, func(d device.PeripheralDelegate) { d.OnCharacteristicsDiscovered(p, svc, err) })
	})
}

func (p *Peripheral) discoverCharacteristics(link Link, uuids []string, svc device.Service) error {
	if link == nil {
		return device.ErrNotConnected
	}
	gs, ok := svc.(*device.GATTService)
	if !ok {
		return &device.NotFoundError{Resource: "service", UUIDs: []string{svc.UUID()}}
	}
	rs, ok := gs.Handle.(RemoteService)
	if !ok {
		return &device.NotFoundError{Resource: "service", UUIDs: []string{svc.UUID()}}
	}

	chars, err := rs.DiscoverCharacteristics(uuids)
	if err != nil {
		return NormalizeError(err)
	}
	for _, ch := range chars {
		// tinygo does not expose properties; EnableNotifications reports the
		// characteristics that cannot notify.
		gs.PutCharacteristic(device.NewCharacteristic(ch.UUID(), gs, true, ch))
	}
	return nil
}

// SetNotify enables or disables notifications on ch.
func (p *Peripheral) SetNotify(enabled bool, ch device.Characteristic) {
	link := p.current()
	p.central.gatt.Async(func() {
		err := p.setNotify(link, enabled, ch)
		p.central.deliverPeripheral(p, func(d device.PeripheralDelegate) { d.OnNotifyStateUpdate(p, ch, err) })
	})
}

func (p *Peripheral) setNotify(link Link, enabled bool, ch device.Characteristic) error {
	if link == nil {
		return device.ErrNotConnected
	}
	gc, ok := ch.(*device.GATTCharacteristic)
	if !ok {
		return &device.NotFoundError{Resource: "characteristic", UUIDs: []string{ch.UUID()}}
	}
	rc, ok := gc.Handle.(RemoteCharacteristic)
	if !ok {
		return &device.NotFoundError{Resource: "characteristic", UUIDs: []string{ch.UUID()}}
	}

	if !enabled {
		if err := rc.EnableNotifications(nil); err != nil {
			return NormalizeError(err)
		}
		gc.SetNotifying(false)
		return nil
	}

	err := rc.EnableNotifications(func(data []byte) {
		value := append([]byte(nil), data...)
		p.central.deliverPeripheral(p, func(d device.PeripheralDelegate) { d.OnValueUpdate(p, gc, value, nil) })
	})
	if err != nil {
		return fmt.Errorf("characteristic %s: %w", gc.UUID(), NormalizeError(err))
	}
	gc.SetNotifying(true)
	return nil
}
