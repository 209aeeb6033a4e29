package history

import (
	"errors"
	"testing"

	"github.com/teslashibe/framewatch/pkg/frame"
	"github.com/teslashibe/framewatch/pkg/resource"
)

// spyReleaser releases through a real registry and records, for every
// release, whether the handle was still visible in the history.
type spyReleaser struct {
	reg      *resource.Registry
	history  *History
	released []string
	visible  []bool
	fail     map[string]bool
}

func (s *spyReleaser) Release(h *resource.Handle) error {
	if s.fail[h.Name()] {
		return errors.New("boom")
	}
	if s.history != nil {
		found := false
		for _, e := range s.history.entries {
			if e.Handle == h {
				found = true
			}
		}
		s.visible = append(s.visible, found)
	}
	s.released = append(s.released, h.Name())
	return s.reg.Release(h)
}

func newSpy(t *testing.T, capacity int) (*History, *spyReleaser) {
	t.Helper()
	spy := &spyReleaser{reg: resource.NewRegistry(), fail: map[string]bool{}}
	h, err := New(capacity, spy)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	spy.history = h
	return h, spy
}

func (s *spyReleaser) entry(name string) *Entry {
	f := &frame.Frame{Name: name, Data: []byte(name)}
	return &Entry{Handle: s.reg.Acquire(f), Caption: name}
}

func names(h *History) []string {
	var out []string
	for _, e := range h.Entries() {
		out = append(out, e.Caption)
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNew_InvalidCapacity(t *testing.T) {
	if _, err := New(0, resource.NewRegistry()); !errors.Is(err, ErrInvalidCapacity) {
		t.Errorf("got %v, want ErrInvalidCapacity", err)
	}
}

func TestPush_MostRecentFirst(t *testing.T) {
	h, spy := newSpy(t, 5)

	for _, n := range []string{"A", "B", "C"} {
		if _, err := h.Push(spy.entry(n)); err != nil {
			t.Fatalf("Push %s: %v", n, err)
		}
	}

	if got := names(h); !equal(got, []string{"C", "B", "A"}) {
		t.Errorf("order: got %v, want [C B A]", got)
	}
	if len(spy.released) != 0 {
		t.Errorf("nothing should be released below capacity, got %v", spy.released)
	}
}

func TestPush_EvictsOldestAtCapacity(t *testing.T) {
	h, spy := newSpy(t, 3)
	for _, n := range []string{"A", "B", "C"} {
		h.Push(spy.entry(n))
	}

	evicted, err := h.Push(spy.entry("D"))
	if err != nil {
		t.Fatalf("Push D: %v", err)
	}

	if got := names(h); !equal(got, []string{"D", "C", "B"}) {
		t.Errorf("order: got %v, want [D C B]", got)
	}
	if evicted == nil || evicted.Caption != "A" {
		t.Fatalf("evicted: got %v, want A", evicted)
	}
	if !equal(spy.released, []string{"A"}) {
		t.Errorf("released: got %v, want [A]", spy.released)
	}
	if !evicted.Handle.Released() {
		t.Error("evicted handle should be released")
	}
	// Released while still in the sequence, i.e. before removal.
	if len(spy.visible) != 1 || !spy.visible[0] {
		t.Errorf("handle must be released before the entry is removed, visible=%v", spy.visible)
	}
	if spy.reg.Outstanding() != 3 {
		t.Errorf("Outstanding: got %d, want 3", spy.reg.Outstanding())
	}
}

func TestPush_BoundHoldsForLongRuns(t *testing.T) {
	const capacity = 4
	h, spy := newSpy(t, capacity)

	for i := 0; i < 50; i++ {
		if _, err := h.Push(spy.entry(string(rune('a' + i%26)))); err != nil {
			t.Fatalf("Push %d: %v", i, err)
		}
		if h.Len() > capacity {
			t.Fatalf("Len %d exceeds capacity %d after push %d", h.Len(), capacity, i)
		}
		if spy.reg.Outstanding() != h.Len() {
			t.Fatalf("Outstanding %d != Len %d: leaked or over-released", spy.reg.Outstanding(), h.Len())
		}
	}

	if len(spy.released) != 50-capacity {
		t.Errorf("released: got %d, want %d", len(spy.released), 50-capacity)
	}
}

func TestPush_ReleaseFailureLeavesHistoryUnchanged(t *testing.T) {
	h, spy := newSpy(t, 2)
	h.Push(spy.entry("A"))
	h.Push(spy.entry("B"))
	spy.fail["A"] = true

	if _, err := h.Push(spy.entry("C")); err == nil {
		t.Fatal("expected error")
	}
	if got := names(h); !equal(got, []string{"B", "A"}) {
		t.Errorf("order: got %v, want [B A]", got)
	}
}

func TestClear(t *testing.T) {
	h, spy := newSpy(t, 3)
	for _, n := range []string{"A", "B", "C"} {
		h.Push(spy.entry(n))
	}

	if err := h.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if h.Len() != 0 {
		t.Errorf("Len after Clear: got %d", h.Len())
	}
	if !equal(spy.released, []string{"A", "B", "C"}) {
		t.Errorf("released: got %v, want oldest first [A B C]", spy.released)
	}
	if spy.reg.Outstanding() != 0 {
		t.Errorf("Outstanding: got %d, want 0", spy.reg.Outstanding())
	}

	// Usable after clearing.
	h.Push(spy.entry("D"))
	if got := names(h); !equal(got, []string{"D"}) {
		t.Errorf("after Clear: got %v", got)
	}
}

func TestClear_KeepsFailedEntries(t *testing.T) {
	h, spy := newSpy(t, 3)
	for _, n := range []string{"A", "B", "C"} {
		h.Push(spy.entry(n))
	}
	spy.fail["B"] = true

	if err := h.Clear(); err == nil {
		t.Fatal("expected error")
	}
	if got := names(h); !equal(got, []string{"B"}) {
		t.Errorf("kept: got %v, want [B]", got)
	}
}

func TestPreview(t *testing.T) {
	reg := resource.NewRegistry()
	placeholder := reg.AcquireStatic(&frame.Frame{Name: "placeholder.png"})
	p := NewPreview(placeholder, reg)

	if !p.ShowingPlaceholder() {
		t.Fatal("expected placeholder initially")
	}

	a := reg.Acquire(&frame.Frame{Name: "a.png"})
	if err := p.Replace(a); err != nil {
		t.Fatalf("Replace a: %v", err)
	}
	if placeholder.Released() {
		t.Error("placeholder must never be released")
	}

	b := reg.Acquire(&frame.Frame{Name: "b.png"})
	if err := p.Replace(b); err != nil {
		t.Fatalf("Replace b: %v", err)
	}
	if !a.Released() {
		t.Error("previous preview should be released")
	}
	if p.Current() != b {
		t.Error("current should be b")
	}

	if err := p.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if !b.Released() || !p.ShowingPlaceholder() {
		t.Error("Reset should release b and show the placeholder")
	}
	if reg.Outstanding() != 0 {
		t.Errorf("Outstanding: got %d, want 0", reg.Outstanding())
	}

	// Resetting while on the placeholder is a no-op.
	if err := p.Reset(); err != nil {
		t.Errorf("second Reset: %v", err)
	}
}
