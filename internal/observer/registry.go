// Package observer keeps a set of observers without owning them.
//
// Observers are held through weak pointers: registering never extends an
// observer's lifetime. Observers are still expected to unregister before they
// go away; an entry whose observer was collected first is reported as a bug.
package observer

import (
	"errors"
	"fmt"
	"sync"
	"weak"

	"github.com/sirupsen/logrus"
)

// ErrDanglingObserver is the panic value (wrapped) raised in strict mode when an
// observer was collected while still registered.
var ErrDanglingObserver = errors.New("observer was released without being unregistered")

type entry struct {
	typeName string
	resolve  func() any
}

// Registry maps observer identity to a non-owning reference.
type Registry struct {
	mu      sync.Mutex
	entries map[any]entry

	strict bool
	logger *logrus.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithStrict makes Snapshot panic on a dangling entry instead of pruning it.
func WithStrict(strict bool) Option {
	return func(r *Registry) {
		r.strict = strict
	}
}

// WithLogger sets the logger used to report pruned entries.
func WithLogger(logger *logrus.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates an empty registry. Strict mode defaults to on in builds tagged debug.
func New(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[any]entry),
		strict:  strictDefault,
		logger:  logrus.New(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds obs. Registering the same observer again overwrites its entry.
func Register[T any](r *Registry, obs *T) {
	if obs == nil {
		return
	}

	wp := weak.Make(obs)
	e := entry{
		typeName: fmt.Sprintf("%T", obs),
		resolve: func() any {
			if p := wp.Value(); p != nil {
				return p
			}
			return nil
		},
	}

	r.mu.Lock()
	r.entries[wp] = e
	r.mu.Unlock()
}

// Unregister removes obs. Unknown observers are ignored.
func Unregister[T any](r *Registry, obs *T) {
	if obs == nil {
		return
	}

	r.mu.Lock()
	delete(r.entries, weak.Make(obs))
	r.mu.Unlock()
}

// Len returns the number of entries, including ones not yet found dangling.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Snapshot returns every live observer, in no particular order. The result holds
// strong references, so callers should drop it once they are done.
func (r *Registry) Snapshot() []any {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) == 0 {
		return nil
	}

	live := make([]any, 0, len(r.entries))
	for key, e := range r.entries {
		obs := e.resolve()
		if obs != nil {
			live = append(live, obs)
			continue
		}

		if r.strict {
			panic(fmt.Errorf("%w: %s", ErrDanglingObserver, e.typeName))
		}
		r.logger.WithField("observer", e.typeName).Warn("Pruning observer released without being unregistered")
		delete(r.entries, key)
	}
	return live
}
