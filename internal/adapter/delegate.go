package adapter

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/uartscope/internal/device"
)

// centralDelegate turns central callbacks into observer notifications. The central
// calls it on the adapter's background queue only.
type centralDelegate struct {
	a *Adapter
}

var _ device.CentralDelegate = (*centralDelegate)(nil)

func (d *centralDelegate) OnStateUpdate(state device.PowerState) {
	d.a.logger.WithField("state", state.String()).Debug("Central state updated")
	d.a.notify(func(obs any) {
		if o, ok := obs.(StateObserver); ok {
			o.OnAdapterStateChange(state)
		}
	})
}

func (d *centralDelegate) OnDiscover(p device.Peripheral, adv device.Advertisement) {
	if !d.a.discovered.add(p) {
		return
	}

	fields := logrus.Fields{"id": p.ID(), "name": p.Name()}
	if adv != nil {
		fields["rssi"] = adv.RSSI()
	}
	d.a.logger.WithFields(fields).Debug("Peripheral discovered")

	d.a.notifyDiscoveredChange(p)
}

func (d *centralDelegate) OnConnect(p device.Peripheral) {
	d.a.logger.WithField("id", p.ID()).Debug("Peripheral connected")
	d.a.observePeripheralState(p)
	d.a.notify(func(obs any) {
		if o, ok := obs.(ConnectObserver); ok {
			o.OnPeripheralConnect(p)
		}
	})
}

func (d *centralDelegate) OnConnectFailure(p device.Peripheral, err error) {
	d.a.logger.WithField("id", p.ID()).WithError(err).Debug("Peripheral connection failed")
	d.a.observePeripheralState(p)
	d.a.notify(func(obs any) {
		if o, ok := obs.(ConnectFailureObserver); ok {
			o.OnPeripheralConnectFailure(p, err)
		}
	})
}

func (d *centralDelegate) OnDisconnect(p device.Peripheral, err error) {
	d.a.logger.WithField("id", p.ID()).WithError(err).Debug("Peripheral disconnected")
	d.a.observePeripheralState(p)
	d.a.notify(func(obs any) {
		if o, ok := obs.(DisconnectObserver); ok {
			o.OnPeripheralDisconnect(p, err)
		}
	})
}

func (d *centralDelegate) OnScanningChange(scanning bool) {
	d.a.notify(func(obs any) {
		if o, ok := obs.(ScanningStateObserver); ok {
			o.OnScanningStateChange(scanning)
		}
	})
}

func (d *centralDelegate) OnRestore(peripherals []device.Peripheral) {
	d.a.logger.WithField("count", len(peripherals)).Debug("Restoring peripherals")
	d.a.discovered.replace(peripherals)
	for _, p := range peripherals {
		if p != nil {
			d.a.lastState[p.ID()] = p.State()
		}
	}
	d.a.notifyDiscoveredChange(nil)
}
