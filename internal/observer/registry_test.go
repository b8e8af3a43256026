package observer

import (
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"
	"weak"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// probe carries pointers so it gets its own heap object and can be collected.
type probe struct {
	name string
	next *probe
}

func newProbe(name string) *probe {
	return &probe{name: name}
}

func collect(t *testing.T, wp weak.Pointer[probe]) {
	t.Helper()
	require.Eventually(t, func() bool {
		runtime.GC()
		return wp.Value() == nil
	}, 5*time.Second, 10*time.Millisecond, "probe MUST be collectable while registered")
}

func TestRegistry_RegisterTwiceKeepsOneEntry(t *testing.T) {
	r := New()
	p := newProbe("a")

	Register(r, p)
	Register(r, p)

	assert.Equal(t, 1, r.Len())
	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.Same(t, p, snap[0])

	Unregister(r, p)
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Snapshot())
}

func TestRegistry_DistinctObserversAreDistinctEntries(t *testing.T) {
	r := New()
	a, b := newProbe("a"), newProbe("b")

	Register(r, a)
	Register(r, b)
	assert.Equal(t, 2, r.Len())

	Unregister(r, a)
	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.Same(t, b, snap[0])
}

func TestRegistry_NilAndUnknownAreIgnored(t *testing.T) {
	r := New()

	Register[probe](r, nil)
	Unregister[probe](r, nil)
	Unregister(r, newProbe("never registered"))

	assert.Equal(t, 0, r.Len())
	assert.Nil(t, r.Snapshot())
}

func TestRegistry_DoesNotKeepObserversAlive(t *testing.T) {
	logger, hook := test.NewNullLogger()
	r := New(WithStrict(false), WithLogger(logger))

	p := newProbe("short-lived")
	wp := weak.Make(p)
	Register(r, p)
	p = nil

	collect(t, wp)

	assert.Empty(t, r.Snapshot(), "dangling entries MUST be skipped")
	assert.Equal(t, 0, r.Len(), "dangling entries MUST be pruned")

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "*observer.probe", hook.LastEntry().Data["observer"])
}

func TestRegistry_StrictModePanicsOnDanglingEntry(t *testing.T) {
	r := New(WithStrict(true))

	p := newProbe("leaked")
	wp := weak.Make(p)
	Register(r, p)
	p = nil

	collect(t, wp)

	defer func() {
		rec := recover()
		require.NotNil(t, rec, "Snapshot MUST panic")
		err, ok := rec.(error)
		require.True(t, ok)
		assert.True(t, errors.Is(err, ErrDanglingObserver))
	}()
	r.Snapshot()
}

func TestRegistry_ConcurrentRegistration(t *testing.T) {
	r := New()
	probes := make([]*probe, 64)
	for i := range probes {
		probes[i] = newProbe("p")
	}

	var wg sync.WaitGroup
	for _, p := range probes {
		wg.Add(1)
		go func(p *probe) {
			defer wg.Done()
			Register(r, p)
			_ = r.Snapshot()
		}(p)
	}
	wg.Wait()

	assert.Equal(t, len(probes), r.Len())
	runtime.KeepAlive(probes)
}
