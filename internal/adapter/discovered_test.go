package adapter

import (
	"fmt"
	"testing"

	"github.com/srg/uartscope/internal/device"
	"github.com/stretchr/testify/assert"
)

// stubPeripheral is a peripheral that ignores GATT requests.
type stubPeripheral struct {
	*device.PeripheralBase
}

func newStub(id, name string) *stubPeripheral {
	return &stubPeripheral{PeripheralBase: device.NewPeripheralBase(id, name)}
}

func (*stubPeripheral) DiscoverServices([]string)                        {}
func (*stubPeripheral) DiscoverCharacteristics([]string, device.Service) {}
func (*stubPeripheral) SetNotify(bool, device.Characteristic)            {}

func TestDiscoveredSetDeduplicatesInAnyOrder(t *testing.T) {
	peripherals := map[string]device.Peripheral{}
	for _, id := range []string{"A", "B", "C"} {
		peripherals[id] = newStub(id, "")
	}

	orders := [][]string{
		{"A", "B", "C"},
		{"C", "B", "A", "A", "B"},
		{"B", "B", "B", "C", "A", "C"},
		{"A", "A"},
	}

	for _, order := range orders {
		t.Run(fmt.Sprint(order), func(t *testing.T) {
			set := newDiscoveredSet()
			distinct := map[string]bool{}
			for _, id := range order {
				added := set.add(peripherals[id])
				assert.Equal(t, !distinct[id], added, "add(%s) MUST report whether it was new", id)
				distinct[id] = true
			}

			assert.Equal(t, len(distinct), set.len())
			var ids []string
			for _, p := range set.list() {
				ids = append(ids, p.ID())
			}
			assert.IsIncreasing(t, ids)
		})
	}
}

func TestDiscoveredSetReplace(t *testing.T) {
	set := newDiscoveredSet()
	set.add(newStub("A", ""))

	restored := newStub("R", "restored")
	set.replace([]device.Peripheral{restored, nil})

	assert.Equal(t, 1, set.len())
	_, ok := set.get("A")
	assert.False(t, ok)
	got, ok := set.get("R")
	assert.True(t, ok)
	assert.Same(t, restored, got.(*stubPeripheral))

	set.replace(nil)
	assert.Empty(t, set.list())
}
