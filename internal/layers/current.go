package layers

import (
	"fmt"
	"image"
	"image/color"
	"time"

	"github.com/OkinawaBoss/WeatharrStation/internal/layer"
	"github.com/OkinawaBoss/WeatharrStation/internal/render"
	"github.com/OkinawaBoss/WeatharrStation/internal/weather"
)

// Current is the current conditions panel
type Current struct {
	*layer.Base
	env Env
}

// NewCurrent creates the panel at bounds
func NewCurrent(env Env, bounds image.Rectangle) *Current {
	return &Current{
		Base: layer.NewBase("current", bounds, 50, 5*time.Second),
		env:  env,
	}
}

func (c *Current) Tick(now time.Time) []image.Rectangle {
	return c.Render(now, c.draw)
}

func orDash(v *float64, format string) string {
	if v == nil {
		return "--"
	}
	return fmt.Sprintf(format, *v)
}

// ConditionRows are the label/value pairs of the details grid
func ConditionRows(d weather.Current) [][2]string {
	ceiling := "Unlimited"
	if d.CeilingFt != nil {
		ceiling = fmt.Sprintf("%d ft", int(*d.CeilingFt))
	}
	return [][2]string{
		{"Humidity", orDash(d.Humidity, "%.0f%%")},
		{"Dewpoint", orDash(d.DewF, "%.1f°F")},
		{"Heat Index", orDash(d.HeatIndexF, "%.1f°F")},
		{"Pressure", orDash(d.PressureInHg, "%.2f inHg")},
		{"Visibility", orDash(d.VisibilityMi, "%.1f mi")},
		{"Ceiling", ceiling},
	}
}

// WindText formats speed and direction, "Calm" when not reported or still
func WindText(d weather.Current) string {
	if d.WindMPH == nil || *d.WindMPH < 0.5 {
		return "Calm"
	}
	dir := d.WindDir
	if dir == "" {
		dir = "--"
	}
	return fmt.Sprintf("%s %.1f mph", dir, *d.WindMPH)
}

func (c *Current) draw(_ time.Time, dst *image.RGBA) error {
	e := c.env
	w, _ := c.Size()
	d, _ := e.Data.Read()[weather.KeyCurrent].(weather.Current)

	render.Fill(dst, color.RGBA{20, 30, 44, 235})

	temp := "--°F"
	if d.TempF != nil {
		temp = fmt.Sprintf("%.1f°F", *d.TempF)
	}
	cond := d.Condition()
	if cond == "" {
		cond = "--"
	}

	x := e.px(32)
	render.Text(dst, e.bold(72), x, e.px(20), temp, colorText)
	render.Text(dst, e.face(36), x, e.px(120), cond, colorTextSoft)
	render.Text(dst, e.face(36), x, e.px(172), "Wind "+WindText(d), colorTextDim)
	if d.StationName != "" {
		render.TextRight(dst, e.face(26), w-e.px(32), e.px(32), d.StationName, colorLabel)
	}

	small := e.face(26)
	colW := w / 2
	for i, row := range ConditionRows(d) {
		cx := x + (i%2)*colW
		cy := e.px(236) + (i/2)*e.px(60)
		render.Text(dst, small, cx, cy, row[0], colorLabel)
		render.Text(dst, small, cx, cy+e.px(28), row[1], colorText)
	}
	return nil
}
