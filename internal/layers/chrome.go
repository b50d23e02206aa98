package layers

import (
	"image"
	"image/color"
	"time"

	"github.com/OkinawaBoss/WeatharrStation/internal/layer"
	"github.com/OkinawaBoss/WeatharrStation/internal/render"
	"github.com/OkinawaBoss/WeatharrStation/internal/weather"
)

// Chrome is the full-frame background: header band, title, location and the
// ticker tray. It only redraws when the location name changes.
type Chrome struct {
	*layer.Base
	env      Env
	title    string
	fallback string
	drawn    string
}

// NewChrome creates the background for a width x height frame
func NewChrome(env Env, width, height int, title, location string) *Chrome {
	return &Chrome{
		Base:     layer.NewBase("chrome", image.Rect(0, 0, width, height), 0, 30*time.Second),
		env:      env,
		title:    title,
		fallback: location,
	}
}

func (c *Chrome) location() string {
	if loc, ok := c.env.Data.Read()[weather.KeyLocation].(weather.Location); ok && loc.Name != "" {
		return loc.Name
	}
	return c.fallback
}

func (c *Chrome) Tick(now time.Time) []image.Rectangle {
	name := c.location()
	if c.drawn != "" && name == c.drawn {
		return c.Unchanged()
	}
	return c.Render(now, func(_ time.Time, dst *image.RGBA) error {
		c.draw(dst, name)
		c.drawn = name
		return nil
	})
}

func (c *Chrome) draw(dst *image.RGBA, name string) {
	e := c.env
	w, h := c.Size()

	render.Fill(dst, color.RGBA{12, 16, 22, 255})
	render.FillRect(dst, image.Rect(0, 0, w, e.px(220)), color.RGBA{20, 28, 40, 235})

	render.Text(dst, e.bold(68), e.px(64), e.px(40), c.title, colorTextSoft)
	render.Text(dst, e.face(42), e.px(64), e.px(124), name, colorTextDim)

	tray := image.Rect(e.px(48), h-e.px(64)-e.px(20), w-e.px(48), h-e.px(20))
	render.RoundedRect(dst, tray, e.px(24), color.RGBA{16, 24, 40, 235})
}
