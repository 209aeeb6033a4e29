package poller

import "time"

// Slot is one rendered image: the live preview or a history item.
type Slot struct {
	URL         string `json:"url"`
	Name        string `json:"name"`
	Caption     string `json:"caption,omitempty"`
	Status      string `json:"status,omitempty"`
	Placeholder bool   `json:"placeholder,omitempty"`
}

// Snapshot is the observable state: live preview, live status text and the
// history list, newest first.
type Snapshot struct {
	Preview   Slot      `json:"preview"`
	Status    string    `json:"status"`
	History   []Slot    `json:"history"`
	Capacity  int       `json:"capacity"`
	Cycle     uint64    `json:"cycle"`
	Version   uint64    `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Surface is a presentation layer. Render is called after every state
// change with a copy of the state; it must not block for long.
type Surface interface {
	Render(Snapshot)
}

// SurfaceFunc adapts a function to Surface.
type SurfaceFunc func(Snapshot)

// Render implements Surface.
func (f SurfaceFunc) Render(s Snapshot) { f(s) }
