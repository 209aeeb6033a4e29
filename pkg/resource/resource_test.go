package resource

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/teslashibe/framewatch/pkg/frame"
)

func testFrame(name string) *frame.Frame {
	return &frame.Frame{Name: name, MediaType: frame.MediaTypePNG, Data: []byte(name)}
}

func TestRegistry_AcquireReadRelease(t *testing.T) {
	r := NewRegistry()

	h := r.Acquire(testFrame("a.png"))
	if !strings.HasPrefix(h.URL(), URLPrefix) {
		t.Errorf("URL: got %q, want prefix %q", h.URL(), URLPrefix)
	}
	if r.Outstanding() != 1 {
		t.Errorf("Outstanding after acquire: got %d, want 1", r.Outstanding())
	}

	f, err := r.Read(h.ID())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if f.Name != "a.png" {
		t.Errorf("Read name: got %q, want a.png", f.Name)
	}

	if err := r.Release(h); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if !h.Released() {
		t.Error("Expected handle to report released")
	}
	if r.Outstanding() != 0 {
		t.Errorf("Outstanding after release: got %d, want 0", r.Outstanding())
	}

	if _, err := r.Read(h.ID()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Read after release: got %v, want ErrNotFound", err)
	}
}

func TestRegistry_DoubleRelease(t *testing.T) {
	r := NewRegistry()
	h := r.Acquire(testFrame("a.png"))

	if err := r.Release(h); err != nil {
		t.Fatalf("first Release: %v", err)
	}
	if err := r.Release(h); !errors.Is(err, ErrReleased) {
		t.Errorf("second Release: got %v, want ErrReleased", err)
	}

	acquired, released := r.Stats()
	if acquired != 1 || released != 1 {
		t.Errorf("Stats: got (%d, %d), want (1, 1)", acquired, released)
	}
}

func TestRegistry_StaticNeverReleased(t *testing.T) {
	r := NewRegistry()
	h := r.AcquireStatic(testFrame("placeholder.png"))

	if !h.Static() {
		t.Fatal("Expected static handle")
	}
	if err := r.Release(h); !errors.Is(err, ErrStatic) {
		t.Errorf("Release static: got %v, want ErrStatic", err)
	}
	if _, err := r.Read(h.ID()); err != nil {
		t.Errorf("static handle should stay readable: %v", err)
	}
	if r.Outstanding() != 0 {
		t.Errorf("static handles are not outstanding: got %d", r.Outstanding())
	}
}

func TestRegistry_ConcurrentRelease(t *testing.T) {
	r := NewRegistry()
	h := r.Acquire(testFrame("a.png"))

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Release(h) == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Errorf("exactly one release should succeed, got %d", succeeded)
	}
}
