package layers

import (
	"image"
	"image/draw"
	"time"

	"github.com/OkinawaBoss/WeatharrStation/internal/layer"
	"github.com/OkinawaBoss/WeatharrStation/internal/render"
)

// Header is the page title shown in the middle of the header band
type Header struct {
	*layer.Base
	env   Env
	title string
}

// NewHeader creates a static page title layer
func NewHeader(env Env, page string, bounds image.Rectangle, title string) *Header {
	return &Header{
		Base:  layer.NewBase(page+".header", bounds, 60, time.Minute),
		env:   env,
		title: title,
	}
}

func (h *Header) Tick(now time.Time) []image.Rectangle {
	return h.Render(now, func(_ time.Time, dst *image.RGBA) error {
		w, _ := h.Size()
		draw.Draw(dst, dst.Bounds(), image.Transparent, image.Point{}, draw.Src)
		render.TextCenter(dst, h.env.bold(48), w/2, 0, h.title, colorHighlight)
		return nil
	})
}
