package testutils

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/uartscope/internal/adapter"
	"github.com/srg/uartscope/internal/device"
	"github.com/srg/uartscope/internal/dispatch"
	"github.com/stretchr/testify/suite"
)

// FakeCentralSuite runs each test against a fresh adapter backed by a FakeCentral.
//
// Observer callbacks run on a private UI queue so tests never share the process
// UI queue. Settle waits for the background and UI queues to go idle.
//
//	type ListSuite struct {
//	    testutils.FakeCentralSuite
//	}
//
//	func (s *ListSuite) TestSomething() {
//	    p := testutils.NewPeripheralBuilder("AA").WithUART().Build(s.Central)
//	    s.Adapter.StartScanning(false)
//	    s.Central.EmitDiscover(p)
//	    s.Settle()
//	}
type FakeCentralSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	Central *FakeCentral
	UI      *dispatch.Queue
	Adapter *adapter.Adapter

	// ConfigureCentral, if set, runs on the fresh FakeCentral before the adapter is created.
	ConfigureCentral func(c *FakeCentral)
	// AdapterOptions are appended to the options the suite always passes.
	AdapterOptions []adapter.Option

	originalFactory func(string, device.CentralOptions) (device.Central, error)
}

// SetupTest creates the fake central, the UI queue and the adapter.
func (s *FakeCentralSuite) SetupTest() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger

	s.Central = NewFakeCentral()
	if s.ConfigureCentral != nil {
		s.ConfigureCentral(s.Central)
	}

	s.originalFactory = adapter.CentralFactory
	adapter.CentralFactory = s.Central.Factory()

	s.UI = dispatch.NewQueue("test-ui")

	opts := append([]adapter.Option{
		adapter.WithLogger(s.Logger),
		adapter.WithUIExecutor(s.UI),
		adapter.WithStrictObservers(false),
	}, s.AdapterOptions...)

	a, err := adapter.New("test-restore-id", opts...)
	s.Require().NoError(err, "adapter MUST be created")
	s.Adapter = a
	s.Settle()
}

// TearDownTest closes the adapter and restores the central factory.
func (s *FakeCentralSuite) TearDownTest() {
	if s.Adapter != nil {
		s.Require().NoError(s.Adapter.Close())
		s.Adapter = nil
	}
	if s.UI != nil {
		s.UI.Close()
		s.UI = nil
	}
	if s.originalFactory != nil {
		adapter.CentralFactory = s.originalFactory
	}
}

// Settle waits until the background queue and the UI queue have run everything
// queued so far, including work one queue hands to the other.
func (s *FakeCentralSuite) Settle() {
	for i := 0; i < 4; i++ {
		s.Central.Flush()
		s.UI.Sync(func() {})
	}
}

// OnUI runs fn on the UI queue and waits for it.
func (s *FakeCentralSuite) OnUI(fn func()) {
	s.UI.Sync(fn)
}
