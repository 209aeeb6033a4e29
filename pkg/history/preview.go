package history

import (
	"fmt"

	"github.com/teslashibe/framewatch/pkg/resource"
)

// Preview is the single live slot. It starts on a static placeholder that is
// never released; every other handle it holds is released before being
// replaced.
type Preview struct {
	placeholder *resource.Handle
	current     *resource.Handle
	releaser    Releaser
}

// NewPreview creates a slot showing placeholder.
func NewPreview(placeholder *resource.Handle, releaser Releaser) *Preview {
	return &Preview{
		placeholder: placeholder,
		current:     placeholder,
		releaser:    releaser,
	}
}

// Current returns the handle on display.
func (p *Preview) Current() *resource.Handle { return p.current }

// ShowingPlaceholder reports whether the placeholder is on display.
func (p *Preview) ShowingPlaceholder() bool { return p.current == p.placeholder }

// Replace releases the current handle (unless it is the placeholder) and
// installs next. On release failure the slot is unchanged.
func (p *Preview) Replace(next *resource.Handle) error {
	if p.current != nil && p.current != p.placeholder {
		if err := p.releaser.Release(p.current); err != nil {
			return fmt.Errorf("preview: release %s: %w", p.current, err)
		}
	}
	p.current = next
	return nil
}

// Reset puts the placeholder back, releasing the current handle.
func (p *Preview) Reset() error {
	return p.Replace(p.placeholder)
}
