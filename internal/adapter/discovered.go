package adapter

import (
	"sort"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/srg/uartscope/internal/device"
)

// discoveredSet is the set of peripherals seen in the current scan session, keyed by
// ID. Only the background queue mutates it; readers on other goroutines see either
// the old or the new map across a reset.
type discoveredSet struct {
	current atomic.Pointer[hashmap.Map[string, device.Peripheral]]
}

func newDiscoveredSet() *discoveredSet {
	s := &discoveredSet{}
	s.current.Store(hashmap.New[string, device.Peripheral]())
	return s
}

// add inserts p and reports whether it was new.
func (s *discoveredSet) add(p device.Peripheral) bool {
	_, loaded := s.current.Load().GetOrInsert(p.ID(), p)
	return !loaded
}

// replace swaps the whole set for peripherals.
func (s *discoveredSet) replace(peripherals []device.Peripheral) {
	m := hashmap.New[string, device.Peripheral]()
	for _, p := range peripherals {
		if p != nil {
			m.Insert(p.ID(), p)
		}
	}
	s.current.Store(m)
}

func (s *discoveredSet) get(id string) (device.Peripheral, bool) {
	return s.current.Load().Get(id)
}

func (s *discoveredSet) len() int {
	return s.current.Load().Len()
}

// list returns the peripherals ordered by ID.
func (s *discoveredSet) list() []device.Peripheral {
	m := s.current.Load()
	result := make([]device.Peripheral, 0, m.Len())
	m.Range(func(_ string, p device.Peripheral) bool {
		result = append(result, p)
		return true
	})
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID() < result[j].ID()
	})
	return result
}
