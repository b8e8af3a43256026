package testutils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingT captures failures instead of failing the running test.
type recordingT struct {
	messages []string
}

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.messages = append(r.messages, fmt.Sprintf(format, args...))
}

func TestTextAsserter(t *testing.T) {
	t.Run("ignores ANSI colors by default", func(t *testing.T) {
		rt := &recordingT{}
		NewTextAsserter(rt).Assert("\x1b[31mred\x1b[0m", "red")
		assert.Empty(t, rt.messages)
	})

	t.Run("screen options trim outer and trailing whitespace", func(t *testing.T) {
		rt := &recordingT{}
		NewTextAsserter(rt).WithOptions(ScreenOptions...).Assert("\n  a   \nb\t\n\n", "  a\nb")
		assert.Empty(t, rt.messages)
	})

	t.Run("reports a unified diff", func(t *testing.T) {
		rt := &recordingT{}
		NewTextAsserter(rt).Assert("one\ntwo\n", "one\nthree\n")

		require.Len(t, rt.messages, 1)
		assert.Contains(t, rt.messages[0], "-three")
		assert.Contains(t, rt.messages[0], "+two")
	})

	t.Run("colors make whitespace visible", func(t *testing.T) {
		rt := &recordingT{}
		NewTextAsserter(rt).WithOptions(WithEnableColors(true)).Assert("a b\n", "a  b\n")

		require.Len(t, rt.messages, 1)
		assert.Contains(t, rt.messages[0], "a·b")
		assert.Contains(t, rt.messages[0], "\x1b[")
	})
}

func TestJSONAsserter(t *testing.T) {
	t.Run("extra keys are ignored by default", func(t *testing.T) {
		rt := &recordingT{}
		NewJSONAsserter(rt).Assert(`{"id":"AA","rssi":-40}`, `{"id":"AA"}`)
		assert.Empty(t, rt.messages)
	})

	t.Run("presence placeholder matches any value", func(t *testing.T) {
		rt := &recordingT{}
		NewJSONAsserter(rt).Assert(`{"id":"AA","seen":"12:00"}`, `{"id":"AA","seen":"<<PRESENCE>>"}`)
		assert.Empty(t, rt.messages)
	})

	t.Run("root arrays are compared", func(t *testing.T) {
		rt := &recordingT{}
		NewJSONAsserter(rt).Assert(`[{"id":"AA"},{"id":"BB"}]`, `[{"id":"AA"},{"id":"CC"}]`)
		require.Len(t, rt.messages, 1)
		assert.Contains(t, rt.messages[0], "CC")
	})

	t.Run("ignored fields are dropped at any depth", func(t *testing.T) {
		rt := &recordingT{}
		NewJSONAsserter(rt).
			WithOptions(WithIgnoreExtraKeys(false), WithIgnoredFields("ts")).
			Assert(`{"rows":[{"id":"AA","ts":1}]}`, `{"rows":[{"id":"AA","ts":2}]}`)
		assert.Empty(t, rt.messages)
	})

	t.Run("invalid JSON is reported", func(t *testing.T) {
		rt := &recordingT{}
		NewJSONAsserter(rt).Assert(`{`, `{}`)
		require.Len(t, rt.messages, 1)
		assert.Contains(t, rt.messages[0], "invalid actual JSON")
	})
}
