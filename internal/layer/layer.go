// Package layer defines the independently scheduled visual elements that the
// compositor stacks into a frame.
package layer

import (
	"hash/maphash"
	"image"
	"sync/atomic"
	"time"

	"github.com/OkinawaBoss/WeatharrStation/internal/logger"
)

// MinInterval is the floor applied to every layer cadence
const MinInterval = time.Millisecond

// Layer is a rectangular element that owns its surface and redraws it on its
// own cadence. Surface and Tick are only touched by the scheduler goroutine;
// SetVisible may be called from anywhere.
type Layer interface {
	// Name identifies the layer in logs and status output
	Name() string

	// Bounds is the layer's rectangle in frame coordinates
	Bounds() image.Rectangle

	// Z orders painting; higher values paint over lower ones
	Z() int

	// Interval is the minimum time between ticks
	Interval() time.Duration

	// Surface is the layer-local RGBA buffer, origin at (0,0)
	Surface() *image.RGBA

	// Tick redraws if needed and returns the changed layer-local rectangles.
	// An empty result means nothing changed.
	Tick(now time.Time) []image.Rectangle

	SetVisible(visible bool)
	Visible() bool
}

// DrawFunc renders the layer's content onto its surface
type DrawFunc func(now time.Time, dst *image.RGBA) error

// Base carries the bookkeeping every concrete layer shares. Embed it and call
// Render from Tick.
type Base struct {
	name     string
	bounds   image.Rectangle
	z        int
	interval time.Duration
	surface  *image.RGBA

	visible    atomic.Bool
	forceDirty atomic.Bool

	seed     maphash.Seed
	lastHash uint64
	hashed   bool
}

// NewBase creates a visible layer at bounds with the given cadence
func NewBase(name string, bounds image.Rectangle, z int, interval time.Duration) *Base {
	if interval < MinInterval {
		interval = MinInterval
	}
	bounds = bounds.Canon()
	b := &Base{
		name:     name,
		bounds:   bounds,
		z:        z,
		interval: interval,
		surface:  image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy())),
		seed:     maphash.MakeSeed(),
	}
	b.visible.Store(true)
	return b
}

func (b *Base) Name() string            { return b.name }
func (b *Base) Bounds() image.Rectangle { return b.bounds }
func (b *Base) Z() int                  { return b.z }
func (b *Base) Interval() time.Duration { return b.interval }
func (b *Base) Surface() *image.RGBA    { return b.surface }
func (b *Base) Visible() bool           { return b.visible.Load() }

// Size returns the surface dimensions
func (b *Base) Size() (width, height int) { return b.bounds.Dx(), b.bounds.Dy() }

// SetZ changes the paint priority; only valid before the scheduler starts
func (b *Base) SetZ(z int) {
	b.z = z
}

// SetVisible toggles visibility. A hidden to visible transition forces the
// next tick to report the whole surface dirty.
func (b *Base) SetVisible(visible bool) {
	was := b.visible.Swap(visible)
	if visible && !was {
		b.forceDirty.Store(true)
	}
}

// Render runs draw against the surface and converts the outcome into a dirty
// set. Errors and panics from draw are logged and reported as no change.
func (b *Base) Render(now time.Time, draw DrawFunc) (dirty []image.Rectangle) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithComponent("layer").Error().
				Str("layer", b.name).
				Interface("panic", r).
				Msg("Layer draw panicked")
			dirty = nil
		}
	}()

	if err := draw(now, b.surface); err != nil {
		logger.WithComponent("layer").Warn().
			Err(err).
			Str("layer", b.name).
			Msg("Layer draw failed")
		return nil
	}
	return b.Changed()
}

// Changed hashes the surface and reports it dirty when the content differs
// from the last reported state or a redraw was forced by SetVisible.
func (b *Base) Changed() []image.Rectangle {
	h := maphash.Bytes(b.seed, b.surface.Pix)
	forced := b.forceDirty.Swap(false)
	if b.hashed && h == b.lastHash && !forced {
		return nil
	}
	b.lastHash = h
	b.hashed = true
	return []image.Rectangle{b.surface.Bounds()}
}

// Unchanged is what a layer returns from Tick when its inputs did not change.
// A pending forced refresh still reports the whole surface.
func (b *Base) Unchanged() []image.Rectangle {
	if b.forceDirty.Swap(false) {
		return []image.Rectangle{b.surface.Bounds()}
	}
	return nil
}

// Scale converts a base-resolution measurement to pixels at scale s, never
// returning less than floor.
func Scale(v float64, s float64, floor int) int {
	n := int(v*s + 0.5)
	if n < floor {
		return floor
	}
	return n
}
