package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/uartscope/internal/device"
)

// Advertisement wraps ble.Advertisement to implement the device.Advertisement interface
type Advertisement struct {
	adv ble.Advertisement
}

// NewAdvertisement creates a new Advertisement wrapper
func NewAdvertisement(adv ble.Advertisement) device.Advertisement {
	return &Advertisement{adv: adv}
}

func (a *Advertisement) LocalName() string        { return a.adv.LocalName() }
func (a *Advertisement) ManufacturerData() []byte { return a.adv.ManufacturerData() }
func (a *Advertisement) TxPowerLevel() int        { return int(a.adv.TxPowerLevel()) }
func (a *Advertisement) Connectable() bool        { return a.adv.Connectable() }
func (a *Advertisement) RSSI() int                { return a.adv.RSSI() }
func (a *Advertisement) Addr() string             { return a.adv.Addr().String() }

// Services returns the advertised and overflow service UUIDs, normalized.
func (a *Advertisement) Services() []string {
	var result []string
	for _, u := range a.adv.Services() {
		result = append(result, device.NormalizeUUID(u.String()))
	}
	for _, u := range a.adv.OverflowService() {
		result = append(result, device.NormalizeUUID(u.String()))
	}
	return result
}

// AdvertisesAny reports whether the advertisement lists any of the normalized
// service UUIDs. An empty filter matches everything.
func AdvertisesAny(adv device.Advertisement, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, s := range adv.Services() {
		for _, f := range filter {
			if s == f {
				return true
			}
		}
	}
	return false
}
