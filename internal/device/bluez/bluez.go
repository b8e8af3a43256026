// Package bluez reads adapter and device state from the BlueZ daemon over the
// system D-Bus. It gives the tinygo backend what tinygo does not expose: the
// radio power state and the links that were already up before the process
// started.
package bluez

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	dbus "github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/uartscope/internal/device"
)

const (
	bluezService    = "org.bluez"
	adapterIface    = "org.bluez.Adapter1"
	deviceIface     = "org.bluez.Device1"
	objManagerIface = "org.freedesktop.DBus.ObjectManager"
	propsIface      = "org.freedesktop.DBus.Properties"
)

// ErrNoAdapter is returned when BlueZ manages no adapter.
var ErrNoAdapter = errors.New("bluez: no adapter found")

// Device is a BlueZ-known remote device.
type Device struct {
	Path      string
	Address   string
	Name      string
	Connected bool
	Services  []string
}

// connectSystemBus opens a private system bus connection. The shared one from
// dbus.SystemBus is also used by tinygo and must never be closed.
var connectSystemBus = func() (*dbus.Conn, error) { return dbus.ConnectSystemBus() }

// Client talks to BlueZ on its own system bus connection.
type Client struct {
	bus     *dbus.Conn
	logger  *logrus.Logger
	adapter dbus.ObjectPath

	mu       sync.Mutex
	watching []chan *dbus.Signal
}

// Open connects to the system bus and picks the first adapter.
func Open(logger *logrus.Logger) (*Client, error) {
	if logger == nil {
		logger = logrus.New()
	}

	bus, err := connectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("bluez: system bus: %w", err)
	}

	c := &Client{bus: bus, logger: logger}
	objs, err := c.managedObjects()
	if err != nil {
		_ = bus.Close()
		return nil, err
	}
	adapters := adapterPaths(objs)
	if len(adapters) == 0 {
		_ = bus.Close()
		return nil, ErrNoAdapter
	}
	c.adapter = adapters[0]

	logger.WithField("adapter", string(c.adapter)).Debug("Using BlueZ adapter")
	return c, nil
}

func (c *Client) managedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, error) {
	obj := c.bus.Object(bluezService, dbus.ObjectPath("/"))
	var objs map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	if call := obj.Call(objManagerIface+".GetManagedObjects", 0); call.Err != nil {
		return nil, fmt.Errorf("bluez: GetManagedObjects: %w", call.Err)
	} else if err := call.Store(&objs); err != nil {
		return nil, fmt.Errorf("bluez: decode GetManagedObjects: %w", err)
	}
	return objs, nil
}

// PowerState reads the adapter's Powered property.
func (c *Client) PowerState() device.PowerState {
	v, err := c.bus.Object(bluezService, c.adapter).GetProperty(adapterIface + ".Powered")
	if err != nil {
		c.logger.WithError(err).Debug("Failed to read adapter power")
		return device.PowerUnknown
	}
	powered, ok := v.Value().(bool)
	if !ok {
		return device.PowerUnknown
	}
	return powerState(powered)
}

// WatchPower calls fn with every power change of the adapter until ctx is done.
func (c *Client) WatchPower(ctx context.Context, fn func(device.PowerState)) error {
	opts := []dbus.MatchOption{
		dbus.WithMatchObjectPath(c.adapter),
		dbus.WithMatchInterface(propsIface),
		dbus.WithMatchMember("PropertiesChanged"),
	}
	if err := c.bus.AddMatchSignal(opts...); err != nil {
		return fmt.Errorf("bluez: AddMatchSignal: %w", err)
	}

	sigCh := make(chan *dbus.Signal, 16)
	c.bus.Signal(sigCh)

	go func() {
		defer func() {
			c.bus.RemoveSignal(sigCh)
			_ = c.bus.RemoveMatchSignal(opts...)
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-sigCh:
				if !ok {
					return
				}
				if sig == nil || sig.Path != c.adapter {
					continue
				}
				if powered, ok := poweredChange(sig.Body); ok {
					fn(powerState(powered))
				}
			}
		}
	}()
	return nil
}

// ConnectedDevices lists the devices of the adapter that BlueZ reports as
// connected and that advertise any of services (all of them for empty services).
func (c *Client) ConnectedDevices(services []string) ([]Device, error) {
	objs, err := c.managedObjects()
	if err != nil {
		return nil, err
	}

	filter := device.NormalizeUUIDs(services)
	var out []Device
	for path, ifaces := range objs {
		if !strings.HasPrefix(string(path), string(c.adapter)+"/") {
			continue
		}
		dev, ok := deviceFromInterfaces(path, ifaces)
		if !ok || !dev.Connected || !hasAny(dev.Services, filter) {
			continue
		}
		out = append(out, dev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

// Close releases the client's private bus connection. Watchers started by
// WatchPower stop with it.
func (c *Client) Close() error {
	if c.bus == nil {
		return nil
	}
	return c.bus.Close()
}

func powerState(powered bool) device.PowerState {
	if powered {
		return device.PowerOn
	}
	return device.PowerOff
}

func adapterPaths(objs map[dbus.ObjectPath]map[string]map[string]dbus.Variant) []dbus.ObjectPath {
	var out []dbus.ObjectPath
	for path, ifaces := range objs {
		if _, ok := ifaces[adapterIface]; ok {
			out = append(out, path)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func deviceFromInterfaces(path dbus.ObjectPath, ifaces map[string]map[string]dbus.Variant) (Device, bool) {
	props, ok := ifaces[deviceIface]
	if !ok {
		return Device{}, false
	}

	dev := Device{Path: string(path)}
	if v, ok := props["Address"]; ok {
		dev.Address, _ = v.Value().(string)
	}
	if v, ok := props["Alias"]; ok {
		dev.Name, _ = v.Value().(string)
	}
	if v, ok := props["Name"]; ok {
		if name, _ := v.Value().(string); name != "" {
			dev.Name = name
		}
	}
	if v, ok := props["Connected"]; ok {
		dev.Connected, _ = v.Value().(bool)
	}
	if v, ok := props["UUIDs"]; ok {
		uuids, _ := v.Value().([]string)
		dev.Services = device.NormalizeUUIDs(uuids)
	}
	if dev.Address == "" {
		dev.Address = addressFromPath(path)
	}
	return dev, true
}

// poweredChange extracts Powered from a PropertiesChanged body.
func poweredChange(body []any) (bool, bool) {
	if len(body) < 2 {
		return false, false
	}
	if iface, _ := body[0].(string); iface != adapterIface {
		return false, false
	}
	changed, _ := body[1].(map[string]dbus.Variant)
	v, ok := changed["Powered"]
	if !ok {
		return false, false
	}
	powered, ok := v.Value().(bool)
	return powered, ok
}

func hasAny(services, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, s := range services {
		for _, f := range filter {
			if s == f {
				return true
			}
		}
	}
	return false
}

// addressFromPath turns .../dev_AA_BB_CC_DD_EE_FF into AA:BB:CC:DD:EE:FF.
func addressFromPath(p dbus.ObjectPath) string {
	s := string(p)
	idx := strings.LastIndex(s, "/dev_")
	if idx < 0 {
		return ""
	}
	return strings.ReplaceAll(s[idx+5:], "_", ":")
}
