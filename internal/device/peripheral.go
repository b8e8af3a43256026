package device

import (
	"sort"
	"sync"
	"sync/atomic"
)

// ----------------------------
// Peripheral
// ----------------------------

// PeripheralBase holds the state every backend peripheral shares. Backends embed it
// and add the GATT requests.
type PeripheralBase struct {
	id string

	mu       sync.RWMutex
	name     string
	delegate PeripheralDelegate
	services []*GATTService

	state atomic.Int32
}

// NewPeripheralBase creates the shared part of a peripheral handle.
func NewPeripheralBase(id, name string) *PeripheralBase {
	return &PeripheralBase{id: id, name: name}
}

func (p *PeripheralBase) ID() string {
	return p.id
}

func (p *PeripheralBase) Name() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.name
}

// SetName updates the advertised name. An empty name never replaces a known one.
func (p *PeripheralBase) SetName(name string) {
	if name == "" {
		return
	}
	p.mu.Lock()
	p.name = name
	p.mu.Unlock()
}

func (p *PeripheralBase) State() ConnectionState {
	return ConnectionState(p.state.Load())
}

// SetState stores s and returns the previous state.
func (p *PeripheralBase) SetState(s ConnectionState) ConnectionState {
	return ConnectionState(p.state.Swap(int32(s)))
}

func (p *PeripheralBase) SetDelegate(d PeripheralDelegate) {
	p.mu.Lock()
	p.delegate = d
	p.mu.Unlock()
}

// Delegate returns the current delegate, or nil.
func (p *PeripheralBase) Delegate() PeripheralDelegate {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.delegate
}

// Services returns discovered services sorted by UUID.
func (p *PeripheralBase) Services() []Service {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]Service, 0, len(p.services))
	for _, s := range p.services {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UUID() < result[j].UUID()
	})
	return result
}

// PutService adds svc, replacing any service with the same UUID.
func (p *PeripheralBase) PutService(svc *GATTService) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, s := range p.services {
		if s.uuid == svc.uuid {
			p.services[i] = svc
			return
		}
	}
	p.services = append(p.services, svc)
}

// FindService looks a discovered service up by UUID in any accepted format.
func (p *PeripheralBase) FindService(uuid string) (*GATTService, bool) {
	uuid = NormalizeUUID(uuid)
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, s := range p.services {
		if s.uuid == uuid {
			return s, true
		}
	}
	return nil, false
}

// ResetGATT forgets every discovered service. Called on disconnect.
func (p *PeripheralBase) ResetGATT() {
	p.mu.Lock()
	p.services = nil
	p.mu.Unlock()
}

// ----------------------------
// GATT Service
// ----------------------------

// GATTService represents a GATT service and its characteristics. Handle carries the
// backend object it was built from.
type GATTService struct {
	uuid       string
	knownName  string
	peripheral Peripheral
	Handle     any

	mu              sync.RWMutex
	characteristics []*GATTCharacteristic
}

// NewService creates a service owned by p.
func NewService(uuid string, p Peripheral, handle any) *GATTService {
	uuid = NormalizeUUID(uuid)
	return &GATTService{
		uuid:       uuid,
		knownName:  LookupName(uuid),
		peripheral: p,
		Handle:     handle,
	}
}

func (s *GATTService) UUID() string {
	return s.uuid
}

func (s *GATTService) KnownName() string {
	return s.knownName
}

func (s *GATTService) Peripheral() Peripheral {
	return s.peripheral
}

func (s *GATTService) Characteristics() []Characteristic {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Characteristic, 0, len(s.characteristics))
	for _, c := range s.characteristics {
		result = append(result, c)
	}
	// Sort by UUID for consistent ordering
	sort.Slice(result, func(i, j int) bool {
		return result[i].UUID() < result[j].UUID()
	})
	return result
}

// PutCharacteristic adds ch, replacing any characteristic with the same UUID.
func (s *GATTService) PutCharacteristic(ch *GATTCharacteristic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.characteristics {
		if c.uuid == ch.uuid {
			s.characteristics[i] = ch
			return
		}
	}
	s.characteristics = append(s.characteristics, ch)
}

// FindCharacteristic looks a characteristic up by UUID in any accepted format.
func (s *GATTService) FindCharacteristic(uuid string) (*GATTCharacteristic, bool) {
	uuid = NormalizeUUID(uuid)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.characteristics {
		if c.uuid == uuid {
			return c, true
		}
	}
	return nil, false
}

// ----------------------------
// GATT Characteristic
// ----------------------------

// GATTCharacteristic represents a GATT characteristic. Handle carries the backend
// object it was built from.
type GATTCharacteristic struct {
	uuid      string
	knownName string
	service   *GATTService
	canNotify bool
	Handle    any

	notifying atomic.Bool
}

// NewCharacteristic creates a characteristic owned by svc.
func NewCharacteristic(uuid string, svc *GATTService, canNotify bool, handle any) *GATTCharacteristic {
	uuid = NormalizeUUID(uuid)
	return &GATTCharacteristic{
		uuid:      uuid,
		knownName: LookupName(uuid),
		service:   svc,
		canNotify: canNotify,
		Handle:    handle,
	}
}

func (c *GATTCharacteristic) UUID() string {
	return c.uuid
}

func (c *GATTCharacteristic) KnownName() string {
	return c.knownName
}

func (c *GATTCharacteristic) Service() Service {
	if c.service == nil {
		return nil
	}
	return c.service
}

func (c *GATTCharacteristic) CanNotify() bool {
	return c.canNotify
}

func (c *GATTCharacteristic) IsNotifying() bool {
	return c.notifying.Load()
}

// SetNotifying records the subscription state.
func (c *GATTCharacteristic) SetNotifying(on bool) {
	c.notifying.Store(on)
}
