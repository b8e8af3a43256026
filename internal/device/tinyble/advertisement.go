package tinyble

import "github.com/srg/uartscope/internal/device"

// Advertisement is what a tinygo scan result carries. tinygo does not surface
// manufacturer data, TX power or connectability uniformly across platforms.
type Advertisement struct {
	report ScanReport
}

func newAdvertisement(r ScanReport) device.Advertisement {
	return &Advertisement{report: r}
}

func (a *Advertisement) LocalName() string        { return a.report.LocalName }
func (a *Advertisement) ManufacturerData() []byte { return nil }
func (a *Advertisement) Services() []string       { return a.report.Services }
func (a *Advertisement) TxPowerLevel() int        { return 0 }
func (a *Advertisement) Connectable() bool        { return true }
func (a *Advertisement) RSSI() int                { return a.report.RSSI }
func (a *Advertisement) Addr() string             { return a.report.Address }
