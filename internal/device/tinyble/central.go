// Package tinyble implements device.Central on top of tinygo.org/x/bluetooth,
// which talks to BlueZ on linux and WinRT on windows.
//
// tinygo has no radio-state API. On linux the power state and the restoration
// set come from BlueZ over D-Bus; elsewhere the central reports PowerOn once the
// adapter is enabled and never restores.
package tinyble

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/uartscope/internal/device"
	"github.com/srg/uartscope/internal/dispatch"
)

// Central is a device.Central backed by a tinygo adapter.
type Central struct {
	opts   device.CentralOptions
	logger *logrus.Logger
	gatt   *dispatch.Queue

	radio       Radio
	system      System
	stopWatcher context.CancelFunc

	mu       sync.Mutex
	enabled  bool
	closed   bool
	scanDone chan struct{}
	// lastScanDone is closed when the most recent radio scan has returned.
	// StopScan leaves it set so the next scan waits for the teardown.
	lastScanDone chan struct{}

	state    atomic.Int32
	scanning atomic.Bool

	peripherals *hashmap.Map[string, *Peripheral]
}

var _ device.Central = (*Central)(nil)

// NewCentral enables the adapter and reports its power state. When a restore
// identifier is set, links BlueZ already holds to peripherals that offer one of
// the restore services are reported through OnRestore first.
func NewCentral(opts device.CentralOptions) (device.Central, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	c := &Central{
		opts:        opts,
		logger:      opts.Logger,
		gatt:        dispatch.NewQueue("tinyble-gatt"),
		peripherals: hashmap.New[string, *Peripheral](),
	}

	radio, err := RadioFactory()
	if err != nil {
		c.logger.WithError(err).Warn("Bluetooth radio is not available")
		c.setState(device.PowerUnsupported)
		return c, nil
	}
	c.radio = radio

	if system, err := SystemFactory(c.logger); err != nil {
		c.logger.WithError(err).Debug("System Bluetooth state is not available")
	} else {
		c.system = system
	}

	if err := radio.Enable(); err != nil {
		err = NormalizeError(err)
		c.logger.WithError(err).Warn("Failed to enable Bluetooth adapter")
		c.setState(powerStateFor(err))
		return c, nil
	}
	c.enabled = true
	radio.SetConnectHandler(c.handleConnectEvent)

	c.restore()

	if c.system == nil {
		c.setState(device.PowerOn)
		return c, nil
	}
	c.setState(c.system.PowerState())

	ctx, cancel := context.WithCancel(context.Background())
	c.stopWatcher = cancel
	if err := c.system.WatchPower(ctx, c.setState); err != nil {
		c.logger.WithError(err).Warn("Failed to watch adapter power")
	}
	return c, nil
}

func (c *Central) restore() {
	if c.opts.RestoreIdentifier == "" || c.system == nil {
		return
	}

	devices, err := c.system.ConnectedDevices(c.opts.RestoreServices)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to list connected devices")
		return
	}

	restored := make([]device.Peripheral, 0, len(devices))
	for _, d := range devices {
		restored = append(restored, c.peripheral(d.Address, d.Name))
	}

	c.logger.WithFields(logrus.Fields{
		"restore_id":  c.opts.RestoreIdentifier,
		"peripherals": len(restored),
	}).Info("Restoring peripherals")
	c.deliver(func(d device.CentralDelegate) { d.OnRestore(restored) })
}

func (c *Central) setState(s device.PowerState) {
	if device.PowerState(c.state.Swap(int32(s))) == s {
		return
	}
	c.deliver(func(d device.CentralDelegate) { d.OnStateUpdate(s) })
}

func (c *Central) State() device.PowerState {
	return device.PowerState(c.state.Load())
}

func (c *Central) IsScanning() bool {
	return c.scanning.Load()
}

// Scan starts scanning, replacing a scan already in progress. Duplicate reports
// are dropped per scan unless allowDuplicates is set.
func (c *Central) Scan(services []string, allowDuplicates bool) {
	filter := device.NormalizeUUIDs(services)

	c.mu.Lock()
	if c.closed || !c.enabled {
		c.mu.Unlock()
		c.logger.WithField("state", c.State().String()).Debug("Scan ignored")
		return
	}
	active, prevDone := c.scanDone != nil, c.lastScanDone
	done := make(chan struct{})
	c.scanDone, c.lastScanDone = done, done
	c.mu.Unlock()

	if active {
		_ = c.radio.StopScan()
	}
	c.setScanning(true)

	dispatch.Go(context.Background(), "tinyble-scan", func(context.Context) {
		defer close(done)
		if prevDone != nil {
			<-prevDone
		}
		if !c.isCurrentScan(done) {
			return
		}

		c.logger.WithFields(logrus.Fields{
			"services":   filter,
			"duplicates": allowDuplicates,
		}).Debug("Scanning started")

		seen := make(map[string]struct{})
		err := c.radio.Scan(filter, func(r ScanReport) {
			if !allowDuplicates {
				if _, ok := seen[r.Address]; ok {
					return
				}
				seen[r.Address] = struct{}{}
			}
			c.handleReport(r, filter)
		})
		if err != nil {
			err = NormalizeError(err)
			c.logger.WithError(err).Warn("Scan stopped with error")
			if device.IsConnectionError(err, device.BluetoothOff) {
				c.setState(device.PowerOff)
			}
		}

		c.mu.Lock()
		current := c.scanDone == done
		if current {
			c.scanDone = nil
		}
		c.mu.Unlock()

		if current {
			c.setScanning(false)
		}
	})
}

func (c *Central) isCurrentScan(done chan struct{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scanDone == done
}

// StopScan stops the current scan. Does nothing when not scanning.
func (c *Central) StopScan() {
	c.mu.Lock()
	done := c.scanDone
	c.scanDone = nil
	c.mu.Unlock()

	if done == nil {
		return
	}
	if err := c.radio.StopScan(); err != nil {
		c.logger.WithError(err).Debug("StopScan failed")
	}
	c.setScanning(false)
}

func (c *Central) setScanning(on bool) {
	if c.scanning.Swap(on) == on {
		return
	}
	c.deliver(func(d device.CentralDelegate) { d.OnScanningChange(on) })
}

func (c *Central) handleReport(r ScanReport, filter []string) {
	if len(filter) > 0 && len(r.Services) == 0 {
		return
	}

	adv := newAdvertisement(r)
	p := c.peripheral(r.Address, r.LocalName)
	c.deliver(func(d device.CentralDelegate) { d.OnDiscover(p, adv) })
}

// peripheral returns the handle for addr, creating it on first sight.
func (c *Central) peripheral(addr, name string) *Peripheral {
	if p, ok := c.peripherals.Get(addr); ok {
		p.SetName(name)
		return p
	}
	p, _ := c.peripherals.GetOrInsert(addr, newPeripheral(c, addr, name))
	return p
}

// Connect dials p. tinygo cannot abort a pending connect, so a cancelled dial
// is torn down as soon as it completes and reported as a disconnect.
func (c *Central) Connect(p device.Peripheral, opts device.ConnectOptions) {
	tp, ok := p.(*Peripheral)
	if !ok {
		c.deliver(func(d device.CentralDelegate) { d.OnConnectFailure(p, device.ErrUnsupported) })
		return
	}
	if !c.enabled {
		c.deliver(func(d device.CentralDelegate) { d.OnConnectFailure(tp, device.ErrBluetoothOff) })
		return
	}
	if !tp.transition(device.Disconnected, device.Connecting) {
		c.logger.WithFields(logrus.Fields{"id": tp.ID(), "state": tp.State().String()}).Debug("Connect ignored")
		return
	}

	c.logger.WithFields(logrus.Fields{
		"id":                  tp.ID(),
		"notify_connect":      opts.NotifyOnConnection,
		"notify_disconnect":   opts.NotifyOnDisconnection,
		"notify_notification": opts.NotifyOnNotification,
	}).Debug("Connecting to peripheral")

	dispatch.Go(context.Background(), "tinyble-connect", func(context.Context) {
		link, err := c.radio.Connect(tp.ID())

		if err == nil && tp.establish(link) {
			c.deliver(func(d device.CentralDelegate) { d.OnConnect(tp) })
			return
		}

		if tp.takeCancelled() || err == nil {
			if link != nil {
				_ = link.Disconnect()
			}
			tp.SetState(device.Disconnected)
			c.deliver(func(d device.CentralDelegate) { d.OnDisconnect(tp, nil) })
			return
		}

		err = NormalizeError(err)
		tp.SetState(device.Disconnected)
		c.deliver(func(d device.CentralDelegate) { d.OnConnectFailure(tp, err) })
	})
}

// handleConnectEvent receives link changes from tinygo. Only losses matter: a
// successful connect is already reported by Connect.
func (c *Central) handleConnectEvent(addr string, connected bool) {
	if connected {
		return
	}
	tp, ok := c.peripherals.Get(addr)
	if !ok || tp.detach() == nil {
		return
	}
	c.linkClosed(tp)
}

func (c *Central) linkClosed(tp *Peripheral) {
	tp.ResetGATT()
	prev := tp.SetState(device.Disconnected)

	var err error
	if prev != device.Disconnecting {
		err = device.ErrNotConnected
	}
	c.logger.WithField("id", tp.ID()).WithError(err).Debug("Link closed")
	c.deliver(func(d device.CentralDelegate) { d.OnDisconnect(tp, err) })
}

// CancelConnection cancels a pending connect or closes an established link.
func (c *Central) CancelConnection(p device.Peripheral) {
	tp, ok := p.(*Peripheral)
	if !ok {
		return
	}

	if tp.markCancelled() {
		return
	}
	if !tp.transition(device.Connected, device.Disconnecting) {
		return
	}
	dispatch.Go(context.Background(), "tinyble-disconnect", func(context.Context) {
		link := tp.detach()
		if link == nil {
			return
		}
		if err := link.Disconnect(); err != nil {
			c.logger.WithError(err).Warn("Failed to disconnect")
		}
		c.linkClosed(tp)
	})
}

// Close stops scanning, drops every link and stops watching the system.
func (c *Central) Close() error {
	c.StopScan()

	c.peripherals.Range(func(_ string, p *Peripheral) bool {
		c.CancelConnection(p)
		return true
	})

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	if c.stopWatcher != nil {
		c.stopWatcher()
	}
	c.gatt.Close()

	if c.system != nil {
		return c.system.Close()
	}
	return nil
}

func (c *Central) deliver(fn func(d device.CentralDelegate)) {
	c.opts.Queue.Async(func() { fn(c.opts.Delegate) })
}

func (c *Central) deliverPeripheral(p *Peripheral, fn func(d device.PeripheralDelegate)) {
	c.opts.Queue.Async(func() {
		if d := p.Delegate(); d != nil {
			fn(d)
		}
	})
}
