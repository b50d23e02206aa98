// Package compositor paints the visible layers into double-buffered frames.
package compositor

import (
	"image"
	"image/color"
	"image/draw"
	"sort"
	"sync"

	"github.com/OkinawaBoss/WeatharrStation/internal/layer"
)

// Compositor owns a front buffer (last presented) and a back buffer (being
// rebuilt). Compose and Present are called from the scheduler goroutine;
// Front may be read concurrently.
type Compositor struct {
	width  int
	height int
	base   *image.Uniform

	mu       sync.RWMutex
	front    *image.RGBA
	back     *image.RGBA
	composed bool

	order []layer.Layer
}

// New creates a compositor for width x height frames cleared to base
func New(width, height int, base color.RGBA) *Compositor {
	return &Compositor{
		width:  width,
		height: height,
		base:   image.NewUniform(base),
		front:  newFrame(width, height, base),
		back:   image.NewRGBA(image.Rect(0, 0, width, height)),
	}
}

func newFrame(width, height int, base color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(base), image.Point{}, draw.Src)
	return img
}

// Size returns the frame dimensions
func (c *Compositor) Size() (int, int) {
	return c.width, c.height
}

// Compose rebuilds the back buffer: clear to the base color, then paint
// every visible, non-empty layer in ascending Z. Layers with equal Z keep
// their order in layers.
func (c *Compositor) Compose(layers []layer.Layer) {
	c.order = append(c.order[:0], layers...)
	sort.SliceStable(c.order, func(i, j int) bool {
		return c.order[i].Z() < c.order[j].Z()
	})

	back := c.back
	draw.Draw(back, back.Bounds(), c.base, image.Point{}, draw.Src)

	for _, l := range c.order {
		if !l.Visible() {
			continue
		}
		r := l.Bounds()
		if r.Empty() {
			continue
		}
		draw.Draw(back, r, l.Surface(), image.Point{}, draw.Over)
	}

	c.mu.Lock()
	c.composed = true
	c.mu.Unlock()
}

// Present makes the most recent composition the front buffer and returns
// it. Without an intervening Compose it returns the current front untouched.
func (c *Compositor) Present() *image.RGBA {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.composed {
		c.front, c.back = c.back, c.front
		c.composed = false
	}
	return c.front
}

// Front returns the last presented frame. Callers must not modify it and
// must copy it before handing it to another goroutine that outlives the
// next Present.
func (c *Compositor) Front() *image.RGBA {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.front
}
