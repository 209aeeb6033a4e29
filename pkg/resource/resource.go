// Package resource tracks releasable handles to decoded images.
//
// A Handle is the addressable counterpart of a frame held for display: the
// presentation layer reads it by ID, the owner releases it exactly once.
// Released handles can no longer be read.
package resource

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/teslashibe/framewatch/pkg/frame"
)

// Sentinel errors for handle lifecycle misuse.
var (
	// ErrNotFound is returned when reading an unknown or released handle.
	ErrNotFound = errors.New("resource: handle not found")

	// ErrReleased is returned when releasing a handle twice.
	ErrReleased = errors.New("resource: handle already released")

	// ErrStatic is returned when releasing a static handle.
	ErrStatic = errors.New("resource: static handle cannot be released")
)

// URLPrefix is the path under which handles are addressable.
const URLPrefix = "/blob/"

// Handle is an opaque reference to a frame held by a Registry.
type Handle struct {
	id       string
	name     string
	static   bool
	released atomic.Bool
}

// ID returns the handle's unique identifier.
func (h *Handle) ID() string { return h.id }

// Name returns the name of the frame the handle was acquired for.
func (h *Handle) Name() string { return h.name }

// URL returns the address under which the presentation layer can fetch it.
func (h *Handle) URL() string { return URLPrefix + h.id }

// Static reports whether the handle is a never-released placeholder.
func (h *Handle) Static() bool { return h.static }

// Released reports whether Release has been called on the handle.
func (h *Handle) Released() bool { return h.released.Load() }

func (h *Handle) String() string {
	return fmt.Sprintf("%s(%s)", h.URL(), h.name)
}

// Registry owns the frames behind live handles.
// It is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	live map[string]*entry

	acquired atomic.Uint64
	released atomic.Uint64
}

type entry struct {
	handle *Handle
	frame  *frame.Frame
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{live: make(map[string]*entry)}
}

// Acquire registers f and returns a new releasable handle for it.
// The registry keeps a reference to f until the handle is released; callers
// must treat f as immutable afterwards.
func (r *Registry) Acquire(f *frame.Frame) *Handle {
	return r.acquire(f, false)
}

// AcquireStatic registers f under a handle that can never be released.
func (r *Registry) AcquireStatic(f *frame.Frame) *Handle {
	return r.acquire(f, true)
}

func (r *Registry) acquire(f *frame.Frame, static bool) *Handle {
	h := &Handle{
		id:     uuid.NewString(),
		name:   f.Name,
		static: static,
	}

	r.mu.Lock()
	r.live[h.id] = &entry{handle: h, frame: f}
	r.mu.Unlock()

	if !static {
		r.acquired.Add(1)
	}
	return h
}

// Read returns the frame behind the handle with the given ID.
func (r *Registry) Read(id string) (*frame.Frame, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.live[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.frame, nil
}

// Release drops the frame behind h. It must be called exactly once per
// non-static handle.
func (r *Registry) Release(h *Handle) error {
	if h == nil {
		return fmt.Errorf("%w: nil handle", ErrNotFound)
	}
	if h.static {
		return fmt.Errorf("%w: %s", ErrStatic, h)
	}
	if !h.released.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: %s", ErrReleased, h)
	}

	r.mu.Lock()
	delete(r.live, h.id)
	r.mu.Unlock()

	r.released.Add(1)
	return nil
}

// Outstanding returns the number of acquired, not yet released, non-static
// handles.
func (r *Registry) Outstanding() int {
	return int(r.acquired.Load() - r.released.Load())
}

// Stats returns lifetime acquire and release counts (static handles excluded).
func (r *Registry) Stats() (acquired, released uint64) {
	return r.acquired.Load(), r.released.Load()
}
