package layers

import (
	"image"
	"image/color"
	"time"

	"github.com/OkinawaBoss/WeatharrStation/internal/layer"
	"github.com/OkinawaBoss/WeatharrStation/internal/render"
	"github.com/OkinawaBoss/WeatharrStation/internal/weather"
)

// Radar shows the latest reflectivity composite scaled to its bounds with
// the time it was fetched
type Radar struct {
	*layer.Base
	env Env

	source image.Image
	scaled *image.RGBA
}

// NewRadar creates the radar panel at bounds
func NewRadar(env Env, bounds image.Rectangle) *Radar {
	return &Radar{
		Base: layer.NewBase("radar", bounds, 50, time.Second),
		env:  env,
	}
}

func (r *Radar) Tick(now time.Time) []image.Rectangle {
	return r.Render(now, r.draw)
}

func (r *Radar) draw(_ time.Time, dst *image.RGBA) error {
	e := r.env
	w, h := r.Size()
	snap := e.Data.Read()
	img, _ := snap[weather.KeyRadar].(image.Image)

	if img == nil {
		render.Fill(dst, color.RGBA{24, 32, 44, 235})
		render.Text(dst, e.face(32), e.px(16), e.px(16), "Radar unavailable", colorText)
		return nil
	}
	if img != r.source || r.scaled == nil {
		r.source = img
		r.scaled = render.Scaled(img, w, h)
	}
	copy(dst.Pix, r.scaled.Pix)

	updated, ok := snap[weather.KeyUpdated].(time.Time)
	if !ok {
		return nil
	}
	label := "Radar " + e.now(updated).Format("3:04 PM")
	face := e.face(32)
	tw, th := render.Measure(face, label), render.TextHeight(face)
	padX, padY := e.px(18), e.px(12)
	x := max(e.px(16), w-tw-2*padX)
	y := max(e.px(16), h-th-2*padY)
	render.BlendRect(dst, image.Rect(x-padX, y-padY, x+tw+padX, y+th+padY), color.RGBA{8, 12, 24, 255}, 170.0/255)
	render.Text(dst, face, x, y, label, colorTextSoft)
	return nil
}
