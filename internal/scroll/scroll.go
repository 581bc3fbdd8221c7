package scroll

import "sync"

// Offset is a viewport scroll position.
type Offset struct {
	X, Y float64
}

// Viewport is the scrollable surface of a consuming view.
type Viewport interface {
	ScrollOffset() Offset
	ScrollTo(Offset)
}

// FrameScheduler runs a callback on the next paint frame.
type FrameScheduler interface {
	RequestFrame(fn func())
}

// Preserver captures and restores scroll offsets. A nil or disabled
// Preserver does nothing.
type Preserver struct {
	viewport Viewport
	frames   FrameScheduler

	mu      sync.Mutex
	enabled bool
}

// New creates a preserver for viewport.
func New(viewport Viewport, frames FrameScheduler, enabled bool) *Preserver {
	return &Preserver{viewport: viewport, frames: frames, enabled: enabled}
}

// SetEnabled turns preservation on or off.
func (p *Preserver) SetEnabled(enabled bool) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = enabled
}

func (p *Preserver) active() bool {
	if p == nil || p.viewport == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// Capture returns the current offset. ok is false when preservation is
// off, in which case Restore must not be called with the result.
func (p *Preserver) Capture() (Offset, bool) {
	if !p.active() {
		return Offset{}, false
	}
	return p.viewport.ScrollOffset(), true
}

// Restore scrolls back to off on the next frame. Without a frame scheduler
// it scrolls immediately.
func (p *Preserver) Restore(off Offset) {
	if !p.active() {
		return
	}
	if p.frames == nil {
		p.viewport.ScrollTo(off)
		return
	}
	p.frames.RequestFrame(func() { p.viewport.ScrollTo(off) })
}

// Preserve runs write between a capture and a restore.
func (p *Preserver) Preserve(write func()) {
	off, ok := p.Capture()
	write()
	if ok {
		p.Restore(off)
	}
}
