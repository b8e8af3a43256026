package testutils

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
	Hook   *test.Hook
}

// NewTestHelper creates a test helper whose logger records entries instead of printing them.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	hook := test.NewLocal(logger)

	return &TestHelper{
		T:      t,
		Logger: logger,
		Hook:   hook,
	}
}

// LoggedMessages returns the messages logged at level or above.
func (h *TestHelper) LoggedMessages(level logrus.Level) []string {
	var messages []string
	for _, e := range h.Hook.AllEntries() {
		if e.Level <= level {
			messages = append(messages, e.Message)
		}
	}
	return messages
}
