package layers

import (
	"image"
	"image/color"
	"time"

	"github.com/OkinawaBoss/WeatharrStation/internal/layer"
	"github.com/OkinawaBoss/WeatharrStation/internal/render"
	"github.com/OkinawaBoss/WeatharrStation/internal/weather"
	"golang.org/x/image/font"
)

var (
	mapFill     = color.RGBA{24, 32, 44, 235}
	mapTint     = color.RGBA{8, 12, 24, 255}
	mapGrid     = color.RGBA{40, 60, 80, 255}
	mapOutline  = color.RGBA{0, 0, 0, 255}
	mapForecast = color.RGBA{255, 230, 120, 255}
)

// mapPanel draws the shared parts of the map pages: the tile background or
// a plain grid, and the lat/lon projection
type mapPanel struct {
	env    Env
	source image.Image
	scaled *image.RGBA
}

func (m *mapPanel) background(dst *image.RGBA, md *weather.MapData) {
	w, h := dst.Bounds().Dx(), dst.Bounds().Dy()
	render.Fill(dst, mapFill)

	if md.Base != nil {
		if md.Base != m.source || m.scaled == nil || m.scaled.Bounds() != dst.Bounds() {
			m.source = md.Base
			m.scaled = render.Scaled(md.Base, w, h)
		}
		copy(dst.Pix, m.scaled.Pix)
		render.BlendRect(dst, dst.Bounds(), mapTint, 96.0/255)
		return
	}

	line := max(1, m.env.px(2))
	for _, f := range []float64{0.25, 0.5, 0.75} {
		x, y := int(float64(w)*f), int(float64(h)*f)
		render.BlendRect(dst, image.Rect(x, 0, x+line, h), mapGrid, 160.0/255)
		render.BlendRect(dst, image.Rect(0, y, w, y+line), mapGrid, 160.0/255)
	}
}

// project maps a coordinate into the surface. Boxes narrower than half a
// degree are padded so a single point is not pinned to an edge.
func project(b weather.Bounds, lat, lon float64, w, h int) image.Point {
	if b.LatMax-b.LatMin < 0.5 {
		b.LatMin, b.LatMax = b.LatMin-0.25, b.LatMax+0.25
	}
	if b.LonMax-b.LonMin < 0.5 {
		b.LonMin, b.LonMax = b.LonMin-0.25, b.LonMax+0.25
	}
	x := (lon - b.LonMin) / (b.LonMax - b.LonMin) * float64(w)
	y := float64(h) - (lat-b.LatMin)/(b.LatMax-b.LatMin)*float64(h)
	return image.Pt(int(x), int(y))
}

// outlinedText draws s over a dark outline so it reads on any background
func outlinedText(dst *image.RGBA, face font.Face, x, y int, s string, c color.RGBA, outline int) {
	for dx := -outline; dx <= outline; dx++ {
		for dy := -outline; dy <= outline; dy++ {
			if dx != 0 || dy != 0 {
				render.Text(dst, face, x+dx, y+dy, s, mapOutline)
			}
		}
	}
	render.Text(dst, face, x, y, s, c)
}

// clampLabel keeps a label of width tw inside a surface of width w
func clampLabel(x, tw, w, margin int) int {
	return max(margin, min(x, w-tw-margin))
}

// Regional plots the latest observed temperature for the cities around the
// station
type Regional struct {
	*layer.Base
	panel mapPanel
}

// NewRegional creates the regional conditions map at bounds
func NewRegional(env Env, bounds image.Rectangle) *Regional {
	return &Regional{
		Base:  layer.NewBase("regional", bounds, 50, 20*time.Second),
		panel: mapPanel{env: env},
	}
}

func (r *Regional) Tick(now time.Time) []image.Rectangle {
	return r.Render(now, r.draw)
}

func (r *Regional) draw(_ time.Time, dst *image.RGBA) error {
	e := r.panel.env
	w, h := r.Size()
	md, _ := e.Data.Read()[weather.KeyRegional].(*weather.MapData)
	if md == nil || len(md.Points) == 0 {
		render.Fill(dst, mapFill)
		render.Text(dst, e.face(30), e.px(16), e.px(16), "No nearby station data", colorText)
		return nil
	}
	r.panel.background(dst, md)

	face := e.bold(28)
	for _, pt := range md.Points {
		p := project(md.Bounds, pt.Lat, pt.Lon, w, h)
		render.Dot(dst, p, e.px(7), colorText)

		label := pt.Name + " " + pt.Temp
		x := clampLabel(p.X+e.px(16), render.Measure(face, label), w, e.px(8))
		y := max(e.px(8), min(p.Y-e.px(16), h-render.TextHeight(face)-e.px(8)))
		outlinedText(dst, face, x, y, label, colorText, e.px(2))
	}
	return nil
}

// ForecastMap plots the next forecast high and low for the cities around
// the station. Labels that would overlap are pushed down.
type ForecastMap struct {
	*layer.Base
	panel mapPanel
}

// NewForecastMap creates the forecast map at bounds
func NewForecastMap(env Env, bounds image.Rectangle) *ForecastMap {
	return &ForecastMap{
		Base:  layer.NewBase("forecast_map", bounds, 50, 15*time.Second),
		panel: mapPanel{env: env},
	}
}

func (f *ForecastMap) Tick(now time.Time) []image.Rectangle {
	return f.Render(now, f.draw)
}

func (f *ForecastMap) draw(_ time.Time, dst *image.RGBA) error {
	e := f.panel.env
	w, h := f.Size()
	md, _ := e.Data.Read()[weather.KeyForecastMap].(*weather.MapData)
	if md == nil || len(md.Points) == 0 {
		render.Fill(dst, mapFill)
		render.Text(dst, e.face(30), e.px(16), e.px(16), "Forecast data unavailable", colorText)
		return nil
	}
	f.panel.background(dst, md)

	nameFace, tempFace := e.bold(28), e.face(26)
	for i, at := range forecastLabels(md, w, h, e) {
		pt := md.Points[i]
		p := project(md.Bounds, pt.Lat, pt.Lon, w, h)
		render.Dot(dst, p, e.px(6), colorText)
		render.Dot(dst, p, max(1, e.px(3)), mapFill)

		outlinedText(dst, nameFace, at.X, at.Y, pt.Name, colorText, e.px(2))
		outlinedText(dst, tempFace, at.X, at.Y+e.px(38), pt.Temp, mapForecast, e.px(2))
	}
	return nil
}

// forecastLabels places one label per point, moving a label down while it
// sits on top of one already placed
func forecastLabels(md *weather.MapData, w, h int, e Env) []image.Point {
	boxW, boxH, step := e.px(100), e.px(32), e.px(36)
	placed := make([]image.Point, 0, len(md.Points))
	for _, pt := range md.Points {
		p := project(md.Bounds, pt.Lat, pt.Lon, w, h)
		at := image.Pt(min(p.X+e.px(16), w-e.px(160)), max(e.px(8), p.Y-e.px(24)))
		for moved := true; moved; {
			moved = false
			for _, q := range placed {
				if abs(at.X-q.X) < boxW && abs(at.Y-q.Y) < boxH {
					at.Y += step
					moved = true
				}
			}
		}
		placed = append(placed, at)
	}
	return placed
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
