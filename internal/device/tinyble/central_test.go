package tinyble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/srg/uartscope/internal/device"
	"github.com/srg/uartscope/internal/device/bluez"
	"github.com/srg/uartscope/internal/dispatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type fakeCharacteristic struct {
	uuid string
	err  error

	mu      sync.Mutex
	handler func([]byte)
}

func (c *fakeCharacteristic) UUID() string { return c.uuid }

func (c *fakeCharacteristic) EnableNotifications(fn func([]byte)) error {
	if c.err != nil {
		return c.err
	}
	c.mu.Lock()
	c.handler = fn
	c.mu.Unlock()
	return nil
}

func (c *fakeCharacteristic) notify(data []byte) bool {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h == nil {
		return false
	}
	h(data)
	return true
}

type fakeService struct {
	uuid  string
	chars []*fakeCharacteristic
}

func (s *fakeService) UUID() string { return s.uuid }

func (s *fakeService) DiscoverCharacteristics([]string) ([]RemoteCharacteristic, error) {
	result := make([]RemoteCharacteristic, 0, len(s.chars))
	for _, ch := range s.chars {
		result = append(result, ch)
	}
	return result, nil
}

type fakeLink struct {
	services     []*fakeService
	disconnected chan struct{}
}

func (l *fakeLink) DiscoverServices(uuids []string) ([]RemoteService, error) {
	var result []RemoteService
	for _, s := range l.services {
		if len(uuids) == 0 || device.NormalizeUUID(uuids[0]) == device.NormalizeUUID(s.uuid) {
			result = append(result, s)
		}
	}
	return result, nil
}

func (l *fakeLink) Disconnect() error {
	close(l.disconnected)
	return nil
}

type fakeRadio struct {
	enableErr  error
	reports    []ScanReport
	connectErr error
	link       *fakeLink
	release    chan struct{}
	// onConnect runs just before Connect hands back the link.
	onConnect func()

	// stopDelay is how long a stopped scan takes to return.
	stopDelay   time.Duration
	scans       atomic.Int32
	maxParallel atomic.Int32

	mu      sync.Mutex
	stop    chan struct{}
	handler func(string, bool)
}

func (r *fakeRadio) Enable() error { return r.enableErr }

func (r *fakeRadio) Scan(filter []string, fn func(ScanReport)) error {
	n := r.scans.Add(1)
	defer r.scans.Add(-1)
	for {
		peak := r.maxParallel.Load()
		if n <= peak || r.maxParallel.CompareAndSwap(peak, n) {
			break
		}
	}

	stop := make(chan struct{})
	r.mu.Lock()
	r.stop = stop
	r.mu.Unlock()

	for _, rep := range r.reports {
		if len(filter) > 0 {
			var matched []string
			for _, s := range rep.Services {
				for _, f := range filter {
					if s == f {
						matched = append(matched, s)
					}
				}
			}
			rep.Services = matched
		}
		fn(rep)
	}
	<-stop
	time.Sleep(r.stopDelay)
	return nil
}

func (r *fakeRadio) StopScan() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop == nil {
		return errors.New("not scanning")
	}
	close(r.stop)
	r.stop = nil
	return nil
}

func (r *fakeRadio) Connect(string) (Link, error) {
	if r.release != nil {
		<-r.release
	}
	if r.connectErr != nil {
		return nil, r.connectErr
	}
	if r.onConnect != nil {
		r.onConnect()
	}
	return r.link, nil
}

func (r *fakeRadio) SetConnectHandler(fn func(string, bool)) {
	r.mu.Lock()
	r.handler = fn
	r.mu.Unlock()
}

func (r *fakeRadio) dropLink(addr string) {
	r.mu.Lock()
	h := r.handler
	r.mu.Unlock()
	h(addr, false)
}

type fakeSystem struct {
	power   device.PowerState
	devices []bluez.Device

	mu    sync.Mutex
	watch func(device.PowerState)
}

func (s *fakeSystem) PowerState() device.PowerState { return s.power }

func (s *fakeSystem) WatchPower(_ context.Context, fn func(device.PowerState)) error {
	s.mu.Lock()
	s.watch = fn
	s.mu.Unlock()
	return nil
}

func (s *fakeSystem) ConnectedDevices([]string) ([]bluez.Device, error) { return s.devices, nil }

func (s *fakeSystem) Close() error { return nil }

func (s *fakeSystem) emit(state device.PowerState) {
	s.mu.Lock()
	fn := s.watch
	s.mu.Unlock()
	fn(state)
}

// recorder is a central and peripheral delegate that records events as text.
type recorder struct {
	events chan string
	values chan []byte
}

func newRecorder() *recorder {
	return &recorder{events: make(chan string, 64), values: make(chan []byte, 16)}
}

func (r *recorder) OnStateUpdate(state device.PowerState) { r.events <- "state " + state.String() }
func (r *recorder) OnDiscover(p device.Peripheral, adv device.Advertisement) {
	r.events <- fmt.Sprintf("discover %s %s %d", p.ID(), p.Name(), adv.RSSI())
}
func (r *recorder) OnConnect(p device.Peripheral) { r.events <- "connect " + p.ID() }
func (r *recorder) OnConnectFailure(p device.Peripheral, err error) {
	r.events <- fmt.Sprintf("connect-failure %s %v", p.ID(), err)
}
func (r *recorder) OnDisconnect(p device.Peripheral, err error) {
	r.events <- fmt.Sprintf("disconnect %s %v", p.ID(), err)
}
func (r *recorder) OnScanningChange(scanning bool) { r.events <- fmt.Sprintf("scanning %v", scanning) }
func (r *recorder) OnRestore(ps []device.Peripheral) {
	ids := make([]string, 0, len(ps))
	for _, p := range ps {
		ids = append(ids, p.ID()+"/"+p.Name())
	}
	r.events <- fmt.Sprintf("restore %v", ids)
}
func (r *recorder) OnServicesDiscovered(p device.Peripheral, err error) {
	r.events <- fmt.Sprintf("services %d %v", len(p.Services()), err)
}
func (r *recorder) OnCharacteristicsDiscovered(_ device.Peripheral, svc device.Service, err error) {
	r.events <- fmt.Sprintf("characteristics %d %v", len(svc.Characteristics()), err)
}
func (r *recorder) OnNotifyStateUpdate(_ device.Peripheral, ch device.Characteristic, err error) {
	r.events <- fmt.Sprintf("notify %v %v", ch.IsNotifying(), err)
}
func (r *recorder) OnValueUpdate(_ device.Peripheral, _ device.Characteristic, value []byte, _ error) {
	r.values <- value
}

type CentralTestSuite struct {
	suite.Suite

	logger *logrus.Logger
	queue  *dispatch.Queue
	rec    *recorder
	radio  *fakeRadio
	system *fakeSystem
	tx     *fakeCharacteristic

	originalRadio  func() (Radio, error)
	originalSystem func(*logrus.Logger) (System, error)
}

func (s *CentralTestSuite) SetupTest() {
	s.logger, _ = test.NewNullLogger()
	s.queue = dispatch.NewQueue("tinyble-test")
	s.rec = newRecorder()

	s.tx = &fakeCharacteristic{uuid: device.ExpandUUID(device.UARTTXCharUUID)}
	s.radio = &fakeRadio{
		reports: []ScanReport{
			{Address: "AA:BB:CC:DD:EE:01", RSSI: -40, LocalName: "Sensor", Services: []string{device.UARTServiceUUID}},
			{Address: "AA:BB:CC:DD:EE:01", RSSI: -41, LocalName: "Sensor", Services: []string{device.UARTServiceUUID}},
			{Address: "AA:BB:CC:DD:EE:02", RSSI: -70, LocalName: "Other"},
		},
		link: &fakeLink{
			disconnected: make(chan struct{}),
			services: []*fakeService{{
				uuid: device.ExpandUUID(device.UARTServiceUUID),
				chars: []*fakeCharacteristic{
					{uuid: device.ExpandUUID(device.UARTRXCharUUID), err: errors.New("notify not supported")},
					s.tx,
				},
			}},
		},
	}
	s.system = nil

	s.originalRadio, s.originalSystem = RadioFactory, SystemFactory
	RadioFactory = func() (Radio, error) { return s.radio, nil }
	SystemFactory = func(*logrus.Logger) (System, error) {
		if s.system == nil {
			return nil, device.ErrUnsupported
		}
		return s.system, nil
	}
}

func (s *CentralTestSuite) TearDownTest() {
	RadioFactory, SystemFactory = s.originalRadio, s.originalSystem
	s.queue.Close()
}

func (s *CentralTestSuite) newCentral(restoreID string) *Central {
	c, err := NewCentral(device.CentralOptions{
		RestoreIdentifier: restoreID,
		RestoreServices:   []string{device.UARTServiceUUID},
		Queue:             s.queue,
		Delegate:          s.rec,
		Logger:            s.logger,
	})
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = c.Close() })
	return c.(*Central)
}

func (s *CentralTestSuite) expect(event string) {
	s.T().Helper()
	select {
	case got := <-s.rec.events:
		s.Require().Equal(event, got)
	case <-time.After(2 * time.Second):
		s.FailNow("timed out waiting for event", event)
	}
}

func (s *CentralTestSuite) TestPoweredOnWithoutSystemState() {
	c := s.newCentral("")
	s.expect("state Powered On")
	s.Equal(device.PowerOn, c.State())
}

func (s *CentralTestSuite) TestEnableFailureSetsPowerState() {
	s.radio.enableErr = errors.New("adapter is not powered")
	c := s.newCentral("")
	s.expect("state Powered Off")

	c.Scan(nil, false)
	s.False(c.IsScanning())

	p := c.peripheral("AA:BB:CC:DD:EE:01", "")
	c.Connect(p, device.AllNotifications)
	s.expect("connect-failure AA:BB:CC:DD:EE:01 " + device.ErrBluetoothOff.Error())
}

func (s *CentralTestSuite) TestMissingRadioIsUnsupported() {
	RadioFactory = func() (Radio, error) { return nil, device.ErrUnsupported }
	c := s.newCentral("")
	s.expect("state Unsupported")

	c.Scan(nil, false)
	c.StopScan()
	s.False(c.IsScanning())
}

func (s *CentralTestSuite) TestPowerFollowsSystem() {
	s.system = &fakeSystem{power: device.PowerOff}
	c := s.newCentral("")
	s.expect("state Powered Off")

	s.system.emit(device.PowerOn)
	s.expect("state Powered On")
	s.Equal(device.PowerOn, c.State())

	s.system.emit(device.PowerOn)
	s.Never(func() bool { return len(s.rec.events) > 0 }, 50*time.Millisecond, 10*time.Millisecond,
		"an unchanged state MUST NOT be reported")
}

func (s *CentralTestSuite) TestRestoresConnectedDevices() {
	s.system = &fakeSystem{
		power:   device.PowerOn,
		devices: []bluez.Device{{Address: "AA:BB:CC:DD:EE:09", Name: "Restored", Connected: true}},
	}
	c := s.newCentral("uartscope")

	s.expect("restore [AA:BB:CC:DD:EE:09/Restored]")
	s.expect("state Powered On")

	p, ok := c.peripherals.Get("AA:BB:CC:DD:EE:09")
	s.Require().True(ok)
	s.Equal(device.Disconnected, p.State())
}

func (s *CentralTestSuite) TestNoRestoreWithoutIdentifier() {
	s.system = &fakeSystem{
		power:   device.PowerOn,
		devices: []bluez.Device{{Address: "AA:BB:CC:DD:EE:09", Connected: true}},
	}
	s.newCentral("")
	s.expect("state Powered On")
}

func (s *CentralTestSuite) TestScanFiltersAndDeduplicates() {
	c := s.newCentral("")
	s.expect("state Powered On")

	c.Scan([]string{device.UARTServiceUUID}, false)
	s.expect("scanning true")
	s.expect("discover AA:BB:CC:DD:EE:01 Sensor -40")
	s.True(c.IsScanning())

	c.StopScan()
	s.expect("scanning false")

	c.Scan(nil, true)
	s.expect("scanning true")
	s.expect("discover AA:BB:CC:DD:EE:01 Sensor -40")
	s.expect("discover AA:BB:CC:DD:EE:01 Sensor -41")
	s.expect("discover AA:BB:CC:DD:EE:02 Other -70")

	c.StopScan()
	s.expect("scanning false")
	c.StopScan()
	s.Never(func() bool { return len(s.rec.events) > 0 }, 50*time.Millisecond, 10*time.Millisecond)
}

func (s *CentralTestSuite) TestConnectDiscoverAndNotify() {
	c := s.newCentral("")
	s.expect("state Powered On")

	p := c.peripheral("AA:BB:CC:DD:EE:01", "Sensor")
	p.SetDelegate(s.rec)

	c.Connect(p, device.AllNotifications)
	s.expect("connect AA:BB:CC:DD:EE:01")
	s.Equal(device.Connected, p.State())

	p.DiscoverServices([]string{device.UARTServiceUUID})
	s.expect("services 1 <nil>")

	svc, ok := p.FindService(device.UARTServiceUUID)
	s.Require().True(ok)
	p.DiscoverCharacteristics(nil, svc)
	s.expect("characteristics 2 <nil>")

	tx, ok := svc.FindCharacteristic(device.UARTTXCharUUID)
	s.Require().True(ok)
	p.SetNotify(true, tx)
	s.expect("notify true <nil>")

	s.True(s.tx.notify([]byte{0, 0, 128, 63}))
	select {
	case v := <-s.rec.values:
		s.Equal([]byte{0, 0, 128, 63}, v)
	case <-time.After(2 * time.Second):
		s.FailNow("value not delivered")
	}

	p.SetNotify(false, tx)
	s.expect("notify false <nil>")
	s.False(s.tx.notify([]byte{1}))

	rx, _ := svc.FindCharacteristic(device.UARTRXCharUUID)
	p.SetNotify(true, rx)
	s.expect("notify false characteristic " + device.UARTRXCharUUID + ": notify not supported")

	c.CancelConnection(p)
	s.expect("disconnect AA:BB:CC:DD:EE:01 <nil>")
	s.Equal(device.Disconnected, p.State())
	s.Empty(p.Services())

	select {
	case <-s.radio.link.disconnected:
	default:
		s.Fail("link MUST be disconnected")
	}
}

func (s *CentralTestSuite) TestLinkLossIsReportedWithError() {
	c := s.newCentral("")
	s.expect("state Powered On")

	p := c.peripheral("AA:BB:CC:DD:EE:01", "")
	c.Connect(p, device.AllNotifications)
	s.expect("connect AA:BB:CC:DD:EE:01")

	s.radio.dropLink("AA:BB:CC:DD:EE:01")
	s.expect("disconnect AA:BB:CC:DD:EE:01 " + device.ErrNotConnected.Error())

	s.radio.dropLink("AA:BB:CC:DD:EE:01")
	s.Never(func() bool { return len(s.rec.events) > 0 }, 50*time.Millisecond, 10*time.Millisecond,
		"a second loss report for the same link MUST be ignored")
}

func (s *CentralTestSuite) TestConnectFailureIsNormalized() {
	s.radio.connectErr = errors.New("org.bluez.Error.NotReady: Resource Not Ready")
	c := s.newCentral("")
	s.expect("state Powered On")

	p := c.peripheral("AA:BB:CC:DD:EE:01", "")
	c.Connect(p, device.AllNotifications)
	s.expect("connect-failure AA:BB:CC:DD:EE:01 " + device.ErrBluetoothOff.Error() + ": org.bluez.Error.NotReady: Resource Not Ready")
	s.Equal(device.Disconnected, p.State())
}

func (s *CentralTestSuite) TestCancelPendingConnect() {
	s.radio.release = make(chan struct{})
	c := s.newCentral("")
	s.expect("state Powered On")

	p := c.peripheral("AA:BB:CC:DD:EE:01", "")
	c.Connect(p, device.AllNotifications)
	s.Equal(device.Connecting, p.State())

	c.CancelConnection(p)
	close(s.radio.release)

	s.expect("disconnect AA:BB:CC:DD:EE:01 <nil>")
	s.Equal(device.Disconnected, p.State())
	select {
	case <-s.radio.link.disconnected:
	case <-time.After(time.Second):
		s.Fail("late link MUST be torn down")
	}
}

func (s *CentralTestSuite) TestRestartAfterStopWaitsForPreviousScan() {
	s.radio.stopDelay = 50 * time.Millisecond
	c := s.newCentral("")
	s.expect("state Powered On")

	c.Scan(nil, false)
	s.expect("scanning true")
	s.expect("discover AA:BB:CC:DD:EE:01 Sensor -40")
	s.expect("discover AA:BB:CC:DD:EE:02 Other -70")

	c.StopScan()
	s.expect("scanning false")

	c.Scan(nil, false)
	s.expect("scanning true")
	s.expect("discover AA:BB:CC:DD:EE:01 Sensor -40")
	s.expect("discover AA:BB:CC:DD:EE:02 Other -70")

	s.Equal(int32(1), s.radio.maxParallel.Load(), "a new scan MUST NOT start before the stopped one returned")
	s.True(c.IsScanning())
	s.Equal(int32(1), s.radio.scans.Load())
}

func (s *CentralTestSuite) TestDisconnectDuringConnectCompletionWins() {
	c := s.newCentral("")
	s.expect("state Powered On")

	p := c.peripheral("AA:BB:CC:DD:EE:01", "")
	s.radio.onConnect = func() { c.CancelConnection(p) }

	c.Connect(p, device.AllNotifications)
	s.expect("disconnect AA:BB:CC:DD:EE:01 <nil>")
	s.Equal(device.Disconnected, p.State())
	s.Nil(p.current())
	select {
	case <-s.radio.link.disconnected:
	case <-time.After(time.Second):
		s.Fail("the late link MUST be torn down")
	}
}

func (s *CentralTestSuite) TestCancelRecordedAfterConnectReturnedBlocksEstablish() {
	c := s.newCentral("")
	s.expect("state Powered On")

	p := c.peripheral("AA:BB:CC:DD:EE:01", "")
	s.Require().True(p.transition(device.Disconnected, device.Connecting))

	c.CancelConnection(p)

	s.False(p.establish(s.radio.link))
	s.Equal(device.Connecting, p.State())
	s.Nil(p.current())
	s.True(p.takeCancelled())
}

func (s *CentralTestSuite) TestCancelWhileDisconnectedIsIgnored() {
	c := s.newCentral("")
	s.expect("state Powered On")

	p := c.peripheral("AA:BB:CC:DD:EE:01", "")
	c.CancelConnection(p)
	s.Equal(device.Disconnected, p.State())
	s.False(p.takeCancelled(), "no cancel MUST be recorded outside a pending connect")
}

func (s *CentralTestSuite) TestGATTRequiresConnection() {
	c := s.newCentral("")
	s.expect("state Powered On")

	p := c.peripheral("AA:BB:CC:DD:EE:01", "")
	p.SetDelegate(s.rec)
	p.DiscoverServices(nil)
	s.expect("services 0 " + device.ErrNotConnected.Error())
}

func TestCentralTestSuite(t *testing.T) {
	suite.Run(t, new(CentralTestSuite))
}

func TestNormalizeError(t *testing.T) {
	assert.NoError(t, NormalizeError(nil))
	assert.ErrorIs(t, NormalizeError(errors.New("org.bluez.Error.NotReady")), device.ErrBluetoothOff)
	assert.ErrorIs(t, NormalizeError(errors.New("org.bluez.Error.NotConnected")), device.ErrNotConnected)
	assert.ErrorIs(t, NormalizeError(errors.New("org.bluez.Error.AlreadyConnected")), device.ErrAlreadyConnected)

	plain := errors.New("le-connection-abort-by-local")
	assert.Same(t, plain, NormalizeError(plain))
}

func TestPowerStateFor(t *testing.T) {
	assert.Equal(t, device.PowerOn, powerStateFor(nil))
	assert.Equal(t, device.PowerOff, powerStateFor(NormalizeError(errors.New("org.bluez.Error.NotReady"))))
	assert.Equal(t, device.PowerUnauthorized, powerStateFor(errors.New("org.freedesktop.DBus.Error.AccessDenied")))
	assert.Equal(t, device.PowerUnsupported, powerStateFor(errors.New("no adapter")))
}

func TestAdvertisement(t *testing.T) {
	adv := newAdvertisement(ScanReport{Address: "AA:BB", RSSI: -55, LocalName: "x", Services: []string{"180f"}})
	assert.Equal(t, "x", adv.LocalName())
	assert.Equal(t, "AA:BB", adv.Addr())
	assert.Equal(t, -55, adv.RSSI())
	assert.Equal(t, []string{"180f"}, adv.Services())
	assert.True(t, adv.Connectable())
	assert.Nil(t, adv.ManufacturerData())
}
