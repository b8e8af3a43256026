//go:build !darwin

package tinyble

import (
	"fmt"

	"github.com/srg/uartscope/internal/device"
	"tinygo.org/x/bluetooth"
)

type tinygoRadio struct {
	adapter *bluetooth.Adapter
}

func newPlatformRadio() (Radio, error) {
	return &tinygoRadio{adapter: bluetooth.DefaultAdapter}, nil
}

func (r *tinygoRadio) Enable() error {
	return r.adapter.Enable()
}

func (r *tinygoRadio) Scan(filter []string, fn func(ScanReport)) error {
	uuids, err := parseUUIDs(filter)
	if err != nil {
		return err
	}

	return r.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		report := ScanReport{
			Address:   result.Address.String(),
			RSSI:      int(result.RSSI),
			LocalName: result.LocalName(),
		}
		for i, u := range uuids {
			if result.HasServiceUUID(u) {
				report.Services = append(report.Services, device.NormalizeUUID(filter[i]))
			}
		}
		fn(report)
	})
}

func (r *tinygoRadio) StopScan() error {
	return r.adapter.StopScan()
}

func (r *tinygoRadio) Connect(addr string) (Link, error) {
	var address bluetooth.Address
	address.Set(addr)

	dev, err := r.adapter.Connect(address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, err
	}
	return &tinygoLink{dev: dev}, nil
}

func (r *tinygoRadio) SetConnectHandler(fn func(addr string, connected bool)) {
	r.adapter.SetConnectHandler(func(dev bluetooth.Device, connected bool) {
		fn(dev.Address.String(), connected)
	})
}

type tinygoLink struct {
	dev bluetooth.Device
}

func (l *tinygoLink) DiscoverServices(uuids []string) ([]RemoteService, error) {
	filter, err := parseUUIDs(uuids)
	if err != nil {
		return nil, err
	}
	services, err := l.dev.DiscoverServices(filter)
	if err != nil {
		return nil, err
	}
	result := make([]RemoteService, 0, len(services))
	for i := range services {
		result = append(result, &tinygoService{svc: services[i]})
	}
	return result, nil
}

func (l *tinygoLink) Disconnect() error {
	return l.dev.Disconnect()
}

type tinygoService struct {
	svc bluetooth.DeviceService
}

func (s *tinygoService) UUID() string {
	return s.svc.UUID().String()
}

func (s *tinygoService) DiscoverCharacteristics(uuids []string) ([]RemoteCharacteristic, error) {
	filter, err := parseUUIDs(uuids)
	if err != nil {
		return nil, err
	}
	chars, err := s.svc.DiscoverCharacteristics(filter)
	if err != nil {
		return nil, err
	}
	result := make([]RemoteCharacteristic, 0, len(chars))
	for i := range chars {
		result = append(result, &tinygoCharacteristic{ch: chars[i]})
	}
	return result, nil
}

type tinygoCharacteristic struct {
	ch bluetooth.DeviceCharacteristic
}

func (c *tinygoCharacteristic) UUID() string {
	return c.ch.UUID().String()
}

func (c *tinygoCharacteristic) EnableNotifications(fn func([]byte)) error {
	return c.ch.EnableNotifications(fn)
}

func parseUUIDs(uuids []string) ([]bluetooth.UUID, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	result := make([]bluetooth.UUID, 0, len(uuids))
	for _, u := range uuids {
		parsed, err := bluetooth.ParseUUID(device.ExpandUUID(u))
		if err != nil {
			return nil, fmt.Errorf("invalid UUID %q: %w", u, err)
		}
		result = append(result, parsed)
	}
	return result, nil
}
