// Package devicefactory picks the platform backend that implements
// device.Central.
package devicefactory

import (
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/srg/uartscope/internal/device"
	"github.com/srg/uartscope/internal/device/goble"
	"github.com/srg/uartscope/internal/device/tinyble"
)

// Backend names accepted by NewCentral.
const (
	BackendAuto   = "auto"
	BackendGoBLE  = "go-ble"
	BackendTinyGo = "tinygo"
)

// Constructors maps backend names to their constructors. This is a variable so
// that it can be overridden in tests.
var Constructors = map[string]func(device.CentralOptions) (device.Central, error){
	BackendGoBLE:  goble.NewCentral,
	BackendTinyGo: tinyble.NewCentral,
}

// DefaultBackend returns the backend "auto" resolves to on goos. go-ble drives
// CoreBluetooth on darwin; everywhere else tinygo goes through the system stack
// and needs no raw HCI access.
func DefaultBackend(goos string) string {
	if goos == "darwin" {
		return BackendGoBLE
	}
	return BackendTinyGo
}

// Backends lists the accepted backend names.
func Backends() []string {
	names := []string{BackendAuto}
	for name := range Constructors {
		names = append(names, name)
	}
	sort.Strings(names[1:])
	return names
}

// NewCentral creates the central for backend. An empty name means "auto".
func NewCentral(backend string, opts device.CentralOptions) (device.Central, error) {
	name := strings.ToLower(strings.TrimSpace(backend))
	if name == "" || name == BackendAuto {
		name = DefaultBackend(runtime.GOOS)
	}

	ctor, ok := Constructors[name]
	if !ok {
		return nil, fmt.Errorf("unknown backend %q (expected one of: %s)", backend, strings.Join(Backends(), ", "))
	}

	if opts.Logger != nil {
		opts.Logger.WithField("backend", name).Debug("Creating BLE central")
	}
	return ctor(opts)
}
