package layers

import (
	"fmt"
	"image"
	"image/draw"
	"math"
	"time"

	"github.com/OkinawaBoss/WeatharrStation/internal/layer"
	"github.com/OkinawaBoss/WeatharrStation/internal/render"
	"github.com/OkinawaBoss/WeatharrStation/internal/weather"
)

// Clock shows the local time, date and current temperature, right aligned
type Clock struct {
	*layer.Base
	env   Env
	state [3]string
}

// NewClock creates the clock overlay at bounds
func NewClock(env Env, bounds image.Rectangle) *Clock {
	return &Clock{
		Base: layer.NewBase("clock", bounds, 200, time.Second),
		env:  env,
	}
}

// TemperatureText formats the observed temperature, falling back to the
// forecast one
func TemperatureText(c weather.Current) string {
	if c.TempF != nil {
		return fmt.Sprintf("%d°F", int(math.Round(*c.TempF)))
	}
	if c.ForecastTemp != nil {
		unit := c.ForecastUnit
		if unit == "" {
			unit = "F"
		}
		return fmt.Sprintf("%d°%s", *c.ForecastTemp, unit)
	}
	return ""
}

func (c *Clock) Tick(now time.Time) []image.Rectangle {
	local := c.env.now(now)
	cur, _ := c.env.Data.Read()[weather.KeyCurrent].(weather.Current)
	state := [3]string{
		local.Format("3:04:05 PM"),
		local.Format("Monday, January 2"),
		TemperatureText(cur),
	}
	if state == c.state {
		return c.Unchanged()
	}
	return c.Render(now, func(_ time.Time, dst *image.RGBA) error {
		c.draw(dst, state)
		c.state = state
		return nil
	})
}

func (c *Clock) draw(dst *image.RGBA, state [3]string) {
	e := c.env
	w, _ := c.Size()
	right := w - e.px(16)

	draw.Draw(dst, dst.Bounds(), image.Transparent, image.Point{}, draw.Src)
	render.TextRight(dst, e.face(72), right, 0, state[0], colorTextSoft)
	render.TextRight(dst, e.face(36), right, e.px(82), state[1], colorTextDim)
	if state[2] != "" {
		render.TextRight(dst, e.face(36), right, e.px(132), state[2], colorHighlight)
	}
}
