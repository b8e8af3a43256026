// Package goble implements device.Central on top of github.com/go-ble/ble.
//
// go-ble exposes a blocking API: Scan and Dial block, GATT calls block. Every
// blocking call runs on its own goroutine and reports back through the delegate
// on the central's background queue. go-ble has no radio-state or restoration
// API; the power state is inferred from whether the HCI or CoreBluetooth device
// could be opened, and restoration is never reported.
package goble

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/uartscope/internal/device"
	"github.com/srg/uartscope/internal/dispatch"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newPlatformDevice

// Central is a device.Central backed by a go-ble device.
type Central struct {
	opts   device.CentralOptions
	logger *logrus.Logger
	gatt   *dispatch.Queue

	mu         sync.Mutex
	dev        ble.Device
	scanCancel context.CancelFunc
	scanDone   chan struct{}
	// lastScanDone is closed when the most recent platform scan has returned.
	// StopScan leaves it set so the next scan waits for the teardown.
	lastScanDone chan struct{}
	closed       bool

	state    atomic.Int32
	scanning atomic.Bool

	// peripherals keeps one handle per address so identity survives rescans.
	peripherals *hashmap.Map[string, *Peripheral]
}

var _ device.Central = (*Central)(nil)

// NewCentral opens the platform device and reports its power state. A device
// that cannot be opened is not an error: the central reports the matching power
// state and tries again on the next request.
func NewCentral(opts device.CentralOptions) (device.Central, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	c := &Central{
		opts:        opts,
		logger:      opts.Logger,
		gatt:        dispatch.NewQueue("goble-gatt"),
		peripherals: hashmap.New[string, *Peripheral](),
	}

	if opts.RestoreIdentifier != "" {
		c.logger.WithField("restore_id", opts.RestoreIdentifier).Debug("State restoration is not available with go-ble")
	}

	c.mu.Lock()
	_, _ = c.ensureDeviceLocked()
	c.mu.Unlock()

	return c, nil
}

// ensureDeviceLocked opens the platform device if needed and publishes any power
// state change. Caller holds c.mu.
func (c *Central) ensureDeviceLocked() (ble.Device, error) {
	if c.dev != nil {
		return c.dev, nil
	}
	if c.closed {
		return nil, device.ErrNotInitialized
	}

	dev, err := DeviceFactory()
	err = NormalizeError(err)
	c.setState(powerStateFor(err))
	if err != nil {
		c.logger.WithError(err).Warn("Failed to open BLE device")
		return nil, err
	}

	ble.SetDefaultDevice(dev)
	c.dev = dev
	return dev, nil
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

// Scan starts scanning, replacing a scan already in progress. go-ble has no
// service filter, so services is applied to each advertisement.
func (c *Central) Scan(services []string, allowDuplicates bool) {
	filter := device.NormalizeUUIDs(services)

	c.mu.Lock()
	prevCancel, prevDone := c.scanCancel, c.lastScanDone
	dev, err := c.ensureDeviceLocked()
	if err != nil {
		c.scanCancel, c.scanDone = nil, nil
		c.mu.Unlock()
		if prevCancel != nil {
			prevCancel()
		}
		c.setScanning(false)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.scanCancel, c.scanDone, c.lastScanDone = cancel, done, done
	c.mu.Unlock()

	if prevCancel != nil {
		prevCancel()
	}
	c.setScanning(true)

	dispatch.Go(ctx, "goble-scan", func(ctx context.Context) {
		defer close(done)
		if prevDone != nil {
			<-prevDone
		}

		c.logger.WithFields(logrus.Fields{
			"services":   filter,
			"duplicates": allowDuplicates,
		}).Debug("Scanning started")

		err := dev.Scan(ctx, allowDuplicates, func(a ble.Advertisement) {
			c.handleAdvertisement(a, filter)
		})
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			err = NormalizeError(err)
			c.logger.WithError(err).Warn("Scan stopped with error")
			if device.IsConnectionError(err, device.BluetoothOff) {
				c.setState(device.PowerOff)
			}
		}

		c.mu.Lock()
		current := c.scanDone == done
		if current {
			c.scanCancel, c.scanDone = nil, nil
		}
		c.mu.Unlock()

		if current {
			c.setScanning(false)
		}
	})
}

// StopScan stops the current scan. Does nothing when not scanning.
func (c *Central) StopScan() {
	c.mu.Lock()
	cancel := c.scanCancel
	c.scanCancel, c.scanDone = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	c.setScanning(false)
}

func (c *Central) setScanning(on bool) {
	if c.scanning.Swap(on) == on {
		return
	}
	c.deliver(func(d device.CentralDelegate) { d.OnScanningChange(on) })
}

func (c *Central) handleAdvertisement(a ble.Advertisement, filter []string) {
	adv := NewAdvertisement(a)
	if !AdvertisesAny(adv, filter) {
		return
	}

	p := c.peripheral(a.Addr(), a.LocalName())
	c.deliver(func(d device.CentralDelegate) { d.OnDiscover(p, adv) })
}

// peripheral returns the handle for addr, creating it on first sight.
func (c *Central) peripheral(addr ble.Addr, name string) *Peripheral {
	id := addr.String()
	if p, ok := c.peripherals.Get(id); ok {
		p.SetName(name)
		return p
	}
	p, _ := c.peripherals.GetOrInsert(id, newPeripheral(c, addr, name))
	return p
}

// Connect dials p. The outcome is reported as OnConnect or OnConnectFailure.
// go-ble has no notion of connect-time alerts, so opts only gets logged.
func (c *Central) Connect(p device.Peripheral, opts device.ConnectOptions) {
	gp, ok := p.(*Peripheral)
	if !ok {
		c.deliver(func(d device.CentralDelegate) { d.OnConnectFailure(p, device.ErrUnsupported) })
		return
	}
	if !gp.transition(device.Disconnected, device.Connecting) {
		c.logger.WithFields(logrus.Fields{"id": gp.ID(), "state": gp.State().String()}).Debug("Connect ignored")
		return
	}

	c.mu.Lock()
	dev, err := c.ensureDeviceLocked()
	c.mu.Unlock()
	if err != nil {
		gp.SetState(device.Disconnected)
		c.deliver(func(d device.CentralDelegate) { d.OnConnectFailure(gp, err) })
		return
	}

	c.logger.WithFields(logrus.Fields{
		"id":                  gp.ID(),
		"notify_connect":      opts.NotifyOnConnection,
		"notify_disconnect":   opts.NotifyOnDisconnection,
		"notify_notification": opts.NotifyOnNotification,
	}).Debug("Dialing peripheral")

	ctx, cancel := context.WithCancel(context.Background())
	gp.setDialCancel(cancel)

	dispatch.Go(ctx, "goble-dial", func(ctx context.Context) {
		defer cancel()

		client, err := dev.Dial(ctx, gp.addr)
		gp.setDialCancel(nil)

		if err == nil && gp.establish(client) {
			c.deliver(func(d device.CentralDelegate) { d.OnConnect(gp) })
			c.monitor(gp, client)
			return
		}

		if gp.takeCancelled() || ctx.Err() != nil || err == nil {
			// Cancelled while pending: reported as a disconnect without error.
			if client != nil {
				_ = client.CancelConnection()
			}
			gp.SetState(device.Disconnected)
			c.deliver(func(d device.CentralDelegate) { d.OnDisconnect(gp, nil) })
			return
		}

		err = NormalizeError(err)
		gp.SetState(device.Disconnected)
		c.deliver(func(d device.CentralDelegate) { d.OnConnectFailure(gp, err) })
	})
}

// monitor waits for the link to go away and reports it. Runs on the dial goroutine.
func (c *Central) monitor(gp *Peripheral, client ble.Client) {
	var disconnected <-chan struct{}
	if dc, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		disconnected = dc.Disconnected()
	}

	select {
	case <-disconnected:
	case <-gp.released():
	}

	gp.detach()
	gp.ResetGATT()
	prev := gp.SetState(device.Disconnected)

	var err error
	if prev != device.Disconnecting {
		err = device.ErrNotConnected
	}
	c.logger.WithField("id", gp.ID()).WithError(err).Debug("Link closed")
	c.deliver(func(d device.CentralDelegate) { d.OnDisconnect(gp, err) })
}

// CancelConnection cancels a pending dial or closes an established link.
func (c *Central) CancelConnection(p device.Peripheral) {
	gp, ok := p.(*Peripheral)
	if !ok {
		return
	}

	if gp.cancelDial() {
		return
	}
	if !gp.transition(device.Connected, device.Disconnecting) {
		return
	}
	client := gp.client()
	dispatch.Go(context.Background(), "goble-disconnect", func(context.Context) {
		if client != nil {
			if err := client.CancelConnection(); err != nil {
				c.logger.WithError(err).Warn("Failed to cancel connection")
			}
		}
		gp.release()
	})
}

// Close stops scanning, drops every link and releases the device.
func (c *Central) Close() error {
	c.StopScan()

	c.peripherals.Range(func(_ string, p *Peripheral) bool {
		c.CancelConnection(p)
		return true
	})

	c.mu.Lock()
	c.closed = true
	dev := c.dev
	c.dev = nil
	c.mu.Unlock()

	c.gatt.Close()

	if dev == nil {
		return nil
	}
	return NormalizeError(dev.Stop())
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
