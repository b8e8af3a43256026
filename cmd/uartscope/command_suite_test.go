package main

import (
	"bytes"
	"sync"
	"time"

	"github.com/spf13/pflag"
	"github.com/srg/uartscope/internal/adapter"
	"github.com/srg/uartscope/internal/device"
	"github.com/srg/uartscope/internal/dispatch"
	"github.com/srg/uartscope/internal/testutils"
	"github.com/stretchr/testify/suite"
)

// syncBuffer is a bytes.Buffer safe to read while a command writes to it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// commandResult is what an asynchronously executed command produced.
type commandResult struct {
	err error
}

// CommandTestSuite runs commands against a FakeCentral. Each command gets a
// fresh, non-singleton adapter whose observers run on a private UI queue.
type CommandTestSuite struct {
	suite.Suite

	Central *testutils.FakeCentral
	UI      *dispatch.Queue
	Out     *syncBuffer

	originalFactory    func(string, device.CentralOptions) (device.Central, error)
	originalNewAdapter func(string, ...adapter.Option) (*adapter.Adapter, error)
}

func (s *CommandTestSuite) SetupTest() {
	// No config file unless a test writes one.
	s.T().Setenv("HOME", s.T().TempDir())

	s.Central = testutils.NewFakeCentral()
	s.UI = dispatch.NewQueue("cmd-test-ui")
	s.Out = &syncBuffer{}

	s.originalFactory = adapter.CentralFactory
	adapter.CentralFactory = s.Central.Factory()

	s.originalNewAdapter = newAdapter
	newAdapter = func(id string, opts ...adapter.Option) (*adapter.Adapter, error) {
		opts = append(opts, adapter.WithUIExecutor(s.UI), adapter.WithStrictObservers(false))
		return adapter.New(id, opts...)
	}

	initScanFlags()
	initMonitorFlags()
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	rootCmd.PersistentFlags().VisitAll(reset)
	rootCmd.Flags().VisitAll(reset)
}

func (s *CommandTestSuite) TearDownTest() {
	adapter.CentralFactory = s.originalFactory
	newAdapter = s.originalNewAdapter
	s.UI.Close()
}

// ExecuteCommand runs the root command with args and waits for it.
func (s *CommandTestSuite) ExecuteCommand(args ...string) error {
	return s.Wait(s.ExecuteAsync(args...))
}

// ExecuteAsync starts the root command with args in the background.
func (s *CommandTestSuite) ExecuteAsync(args ...string) <-chan commandResult {
	rootCmd.SetOut(s.Out)
	rootCmd.SetErr(s.Out)
	rootCmd.SetArgs(args)

	done := make(chan commandResult, 1)
	go func() {
		done <- commandResult{err: rootCmd.Execute()}
	}()
	return done
}

// Wait returns the command error, failing the test if it does not finish.
func (s *CommandTestSuite) Wait(done <-chan commandResult) error {
	select {
	case res := <-done:
		return res.err
	case <-time.After(5 * time.Second):
		s.FailNow("command did not finish")
		return nil
	}
}

// WaitForScan waits until the command asked the central to scan.
func (s *CommandTestSuite) WaitForScan() {
	s.Require().Eventually(func() bool {
		return len(s.Central.Scans()) > 0
	}, 2*time.Second, 5*time.Millisecond, "command MUST start scanning")
}
