// Package history keeps the bounded, most-recent-first list of past results
// and the single live preview slot.
//
// Both types own resource handles and release them through a Releaser before
// dropping them. Neither is safe for concurrent use; the owner serializes
// access.
package history

import (
	"errors"
	"fmt"
	"time"

	"github.com/teslashibe/framewatch/pkg/resource"
)

// ErrInvalidCapacity is returned for a capacity below one.
var ErrInvalidCapacity = errors.New("history: capacity must be at least 1")

// Releaser releases resource handles. *resource.Registry implements it.
type Releaser interface {
	Release(h *resource.Handle) error
}

// Entry is one rendered result.
type Entry struct {
	Handle     *resource.Handle
	Caption    string
	Status     string
	Detections string
	Created    time.Time
}

// History is a fixed-capacity list, newest first.
type History struct {
	capacity int
	entries  []*Entry
	releaser Releaser
}

// New creates an empty history holding at most capacity entries.
func New(capacity int, releaser Releaser) (*History, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCapacity, capacity)
	}
	return &History{
		capacity: capacity,
		entries:  make([]*Entry, 0, capacity),
		releaser: releaser,
	}, nil
}

// Len returns the number of entries.
func (h *History) Len() int { return len(h.entries) }

// Cap returns the capacity.
func (h *History) Cap() int { return h.capacity }

// Push inserts e at the front. When the history is full the oldest entry's
// handle is released first, then the entry is removed. The evicted entry is
// returned (nil if none).
//
// If the release fails the history is left unchanged and e is not inserted.
func (h *History) Push(e *Entry) (*Entry, error) {
	var evicted *Entry
	if len(h.entries) == h.capacity {
		back := h.entries[len(h.entries)-1]
		if err := h.releaser.Release(back.Handle); err != nil {
			return nil, fmt.Errorf("history: evict %s: %w", back.Handle, err)
		}
		h.entries[len(h.entries)-1] = nil
		h.entries = h.entries[:len(h.entries)-1]
		evicted = back
	}

	h.entries = append(h.entries, nil)
	copy(h.entries[1:], h.entries)
	h.entries[0] = e
	return evicted, nil
}

// Entries returns a copy of the entries, newest first.
func (h *History) Entries() []*Entry {
	out := make([]*Entry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Clear releases every handle, oldest first, and empties the history.
// Entries whose release fails are kept and the errors are joined.
func (h *History) Clear() error {
	var errs []error
	var kept []*Entry
	for i := len(h.entries) - 1; i >= 0; i-- {
		e := h.entries[i]
		if err := h.releaser.Release(e.Handle); err != nil {
			errs = append(errs, err)
			kept = append([]*Entry{e}, kept...)
		}
	}
	h.entries = make([]*Entry, 0, h.capacity)
	h.entries = append(h.entries, kept...)
	return errors.Join(errs...)
}
