package layers

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"time"

	"github.com/OkinawaBoss/WeatharrStation/internal/layer"
	"github.com/OkinawaBoss/WeatharrStation/internal/render"
	"github.com/OkinawaBoss/WeatharrStation/internal/weather"
)

var (
	colorAxis   = color.RGBA{120, 140, 160, 255}
	colorTemp   = color.RGBA{255, 162, 57, 255}
	colorPrecip = color.RGBA{30, 144, 255, 255}
	colorCloud  = color.RGBA{200, 200, 200, 255}
)

// Hourly graphs temperature, precipitation chance and sky cover for the
// coming hours
type Hourly struct {
	*layer.Base
	env Env
}

// NewHourly creates the graph at bounds
func NewHourly(env Env, bounds image.Rectangle) *Hourly {
	return &Hourly{
		Base: layer.NewBase("hourly", bounds, 50, 15*time.Second),
		env:  env,
	}
}

func (g *Hourly) Tick(now time.Time) []image.Rectangle {
	return g.Render(now, g.draw)
}

// TempRange returns the y axis range for temps: at least ten degrees wide,
// centred on the data, with two degrees of headroom either side
func TempRange(points []weather.HourlyPoint) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, p := range points {
		if p.Temp == nil {
			continue
		}
		lo = math.Min(lo, *p.Temp)
		hi = math.Max(hi, *p.Temp)
	}
	if math.IsInf(lo, 1) {
		lo, hi = 0, 100
	}
	if hi-lo < 10 {
		pad := (10 - (hi - lo)) / 2
		lo -= pad
		hi += pad
	}
	return lo - 2, hi + 2
}

func (g *Hourly) draw(_ time.Time, dst *image.RGBA) error {
	e := g.env
	w, h := g.Size()
	points, _ := e.Data.Read()[weather.KeyHourly].([]weather.HourlyPoint)

	render.Fill(dst, color.RGBA{24, 32, 44, 235})
	if len(points) == 0 {
		render.Text(dst, e.face(28), e.px(12), e.px(12), "Hourly data unavailable", colorText)
		return nil
	}

	left, right := e.px(80), w-e.px(80)
	top, bottom := e.px(60), h-e.px(120)
	axisW := e.px(2)
	render.Line(dst, image.Pt(left, top), image.Pt(left, bottom), axisW, colorAxis)
	render.Line(dst, image.Pt(left, bottom), image.Pt(right, bottom), axisW, colorAxis)

	yMin, yMax := TempRange(points)
	span := float64(bottom - top)
	xFor := func(i int) int {
		n := max(1, len(points)-1)
		return left + int(float64(i)/float64(n)*float64(right-left))
	}
	yForTemp := func(v float64) int {
		return bottom - int((v-yMin)/(yMax-yMin)*span)
	}
	yForPct := func(v float64) int {
		return bottom - int(v/100*span)
	}

	tiny := e.face(22)
	half := render.TextHeight(tiny) / 2
	for i := 0; i <= 4; i++ {
		frac := float64(i) / 4
		y := bottom - int(frac*span)
		render.Line(dst, image.Pt(left-e.px(8), y), image.Pt(left, y), axisW, color.RGBA{160, 180, 200, 255})
		render.Text(dst, tiny, e.px(8), y-half, fmt.Sprintf("%.0f°F", yMin+(yMax-yMin)*frac), colorLabel)
	}
	for _, v := range []float64{0, 25, 50, 75, 100} {
		y := yForPct(v)
		render.Line(dst, image.Pt(right, y), image.Pt(right+e.px(8), y), axisW, color.RGBA{100, 160, 220, 255})
		render.Text(dst, tiny, right+e.px(16), y-half, fmt.Sprintf("%.0f%%", v), colorLabel)
	}

	var temps, precip, cloud []image.Point
	for i, p := range points {
		x := xFor(i)
		if p.Temp != nil {
			temps = append(temps, image.Pt(x, yForTemp(*p.Temp)))
		}
		precip = append(precip, image.Pt(x, yForPct(p.Precip)))
		if p.Cloud != nil {
			cloud = append(cloud, image.Pt(x, yForPct(*p.Cloud)))
		}
	}
	render.Polyline(dst, cloud, e.px(5), colorCloud)
	render.Polyline(dst, precip, e.px(5), colorPrecip)
	render.Polyline(dst, temps, e.px(6), colorTemp)
	for _, pt := range temps {
		render.Dot(dst, pt, e.px(6), colorText)
	}

	for i, p := range points {
		render.TextCenter(dst, tiny, xFor(i), bottom+e.px(8), p.Label, colorTextDim)
	}

	// legend
	ly := h - e.px(48)
	lx := left
	for _, item := range []struct {
		label string
		c     color.RGBA
	}{{"Temperature", colorTemp}, {"Precip %", colorPrecip}, {"Sky cover %", colorCloud}} {
		render.FillRect(dst, image.Rect(lx, ly+half-e.px(3), lx+e.px(32), ly+half+e.px(3)), item.c)
		render.Text(dst, tiny, lx+e.px(40), ly, item.label, colorTextDim)
		lx += e.px(40) + render.Measure(tiny, item.label) + e.px(48)
	}
	return nil
}
